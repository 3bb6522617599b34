package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hookbridge/hookbridge/internal/config"
	"github.com/hookbridge/hookbridge/internal/database"
	"github.com/hookbridge/hookbridge/internal/models"
	apierrors "github.com/hookbridge/hookbridge/internal/pkg/errors"
)

// Deduper prevents reprocessing of already-handled events and detects sync
// loops between integration sources. Reads fail open: a store outage must
// never drop a real event. Writes surface errors, since a lost processed
// marker is a correctness problem.
type Deduper struct {
	store  StateStore
	logger *slog.Logger

	eventTTL       time.Duration
	chainTTL       time.Duration
	maxChainLength int
	now            func() time.Time
}

// NewDeduper creates a deduplication manager with the configured TTLs.
func NewDeduper(store StateStore, cfg config.SyncConfig, logger *slog.Logger) *Deduper {
	eventTTL := cfg.EventTTL
	if eventTTL <= 0 {
		eventTTL = 72 * time.Hour
	}
	chainTTL := cfg.SyncChainTTL
	if chainTTL <= 0 {
		chainTTL = 5 * time.Minute
	}
	maxChain := cfg.MaxChainLength
	if maxChain <= 0 {
		maxChain = 5
	}
	return &Deduper{
		store:          store,
		logger:         logger.With(slog.String("component", "deduper")),
		eventTTL:       eventTTL,
		chainTTL:       chainTTL,
		maxChainLength: maxChain,
		now:            time.Now,
	}
}

// DeterministicEventID derives a stable event ID from an issue's identity
// and update time, so at-least-once webhook redeliveries collapse to the
// same processed marker.
func DeterministicEventID(issueID string, updatedAt time.Time) string {
	sum := sha256.Sum256([]byte(issueID + "|" + updatedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:16])
}

// IsDuplicate reports whether the event was already processed. On store
// errors it fails open (not a duplicate) and logs.
func (d *Deduper) IsDuplicate(ctx context.Context, eventID string) bool {
	exists, err := d.store.Exists(ctx, eventKey(eventID))
	if err != nil {
		d.logger.Warn("dedup read failed, assuming not duplicate",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()))
		return false
	}
	return exists
}

// MarkProcessed writes the processed marker for an event. The metadata
// source must name a known sync source. Write failures are returned to the
// caller, never swallowed.
func (d *Deduper) MarkProcessed(ctx context.Context, eventID, eventType string, metadata map[string]string) error {
	if source, ok := metadata["source"]; ok {
		if !models.SyncSource(source).Known() {
			return apierrors.NewValidationError("source", fmt.Sprintf("unknown sync source %q", source))
		}
	}

	marker := models.ProcessedMarker{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: d.now().UTC(),
		Metadata:    metadata,
	}
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("failed to marshal processed marker: %w", err)
	}
	return d.store.SetWithTTL(ctx, eventKey(eventID), data, d.eventTTL)
}

// RecordSync appends a "{from}->{to}:{iso timestamp}" entry to the issue's
// sync chain, trims it to twice the loop-detection window and refreshes the
// short chain TTL. The chain is a rapid-loop detector, not a history log.
func (d *Deduper) RecordSync(ctx context.Context, issueID string, from, to models.SyncSource, metadata map[string]string) error {
	entry := fmt.Sprintf("%s->%s:%s", from, to, d.now().UTC().Format(time.RFC3339))
	key := syncChainKey(issueID)

	if err := d.store.ListAppend(ctx, key, entry); err != nil {
		return err
	}
	if err := d.store.ListTrim(ctx, key, int64(-2*d.maxChainLength), -1); err != nil {
		return err
	}
	return d.store.Expire(ctx, key, d.chainTTL)
}

// WouldCreateLoop reports whether syncing from->to would loop. A loop is
// declared when the same edge already appears in the chain, when the
// reverse edge appears in the last two entries (bounce), or when the chain
// has grown to the maximum length. Store read errors fail open.
func (d *Deduper) WouldCreateLoop(ctx context.Context, issueID string, from, to models.SyncSource) bool {
	entries, err := d.store.ListRange(ctx, syncChainKey(issueID), 0, -1)
	if err != nil {
		d.logger.Warn("loop check read failed, assuming no loop",
			slog.String("issue_id", issueID),
			slog.String("error", err.Error()))
		return false
	}
	if len(entries) == 0 {
		return false
	}

	forward := fmt.Sprintf("%s->%s", from, to)
	reverse := fmt.Sprintf("%s->%s", to, from)

	for _, entry := range entries {
		if strings.HasPrefix(entry, forward+":") {
			d.logger.Info("sync loop detected: edge already in chain",
				slog.String("issue_id", issueID),
				slog.String("edge", forward))
			return true
		}
	}

	// Bounce detection only looks at the most recent two entries.
	recent := entries
	if len(recent) > 2 {
		recent = recent[len(recent)-2:]
	}
	for _, entry := range recent {
		if strings.HasPrefix(entry, reverse+":") {
			d.logger.Info("sync loop detected: bounce",
				slog.String("issue_id", issueID),
				slog.String("edge", reverse))
			return true
		}
	}

	if len(entries) >= d.maxChainLength {
		d.logger.Info("sync loop detected: chain length limit",
			slog.String("issue_id", issueID),
			slog.Int("length", len(entries)))
		return true
	}
	return false
}

// ShouldProcessEvent is the single gate a sync manager calls before any
// cross-system write: not a duplicate and not loop-forming.
func (d *Deduper) ShouldProcessEvent(ctx context.Context, eventID, issueID string, from, to models.SyncSource) bool {
	if d.IsDuplicate(ctx, eventID) {
		d.logger.Debug("skipping duplicate event",
			slog.String("event_id", eventID),
			slog.String("issue_id", issueID))
		return false
	}
	if d.WouldCreateLoop(ctx, issueID, from, to) {
		return false
	}
	return true
}

// isMissing distinguishes "key absent" from store failures.
func isMissing(err error) bool {
	return errors.Is(err, database.ErrKeyNotFound)
}
