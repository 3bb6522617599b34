package webhook

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hookbridge/hookbridge/internal/models"
)

// DeadLetter is one exhausted delivery held for inspection or replay.
type DeadLetter struct {
	Delivery *models.WebhookDelivery `json:"delivery"`
	Event    *models.WebhookEvent    `json:"event"`
	Payload  []byte                  `json:"payload"`
	AddedAt  time.Time               `json:"added_at"`
}

// DeadLetterQueue is a bounded in-process FIFO of permanently failed
// deliveries. When full, the oldest entry is evicted.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []*DeadLetter
	maxSize int
}

// NewDeadLetterQueue creates a queue bounded to maxSize entries.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add appends an exhausted delivery. Oldest entries are evicted on overflow.
func (q *DeadLetterQueue) Add(delivery *models.WebhookDelivery, event *models.WebhookEvent, payload []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, &DeadLetter{
		Delivery: delivery,
		Event:    event,
		Payload:  payload,
		AddedAt:  time.Now(),
	})
}

// GetAll returns a snapshot of all entries, oldest first.
func (q *DeadLetterQueue) GetAll() []*DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*DeadLetter, len(q.entries))
	copy(out, q.entries)
	return out
}

// GetBySubscription returns entries for one subscription, oldest first.
func (q *DeadLetterQueue) GetBySubscription(subscriptionID uuid.UUID) []*DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*DeadLetter
	for _, e := range q.entries {
		if e.Delivery.SubscriptionID == subscriptionID {
			out = append(out, e)
		}
	}
	return out
}

// Remove deletes the entry for the given delivery ID. Returns the removed
// entry, or nil if not found.
func (q *DeadLetterQueue) Remove(deliveryID string) *DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.Delivery.ID == deliveryID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e
		}
	}
	return nil
}

// Clear removes all entries and returns how many were dropped.
func (q *DeadLetterQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	q.entries = nil
	return n
}

// Len returns the current queue depth.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
