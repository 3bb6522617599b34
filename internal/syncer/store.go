// Package syncer implements the sync coordination layer: event
// deduplication, sync-loop detection, last-write-wins conflict resolution
// and the bidirectional tracker sync orchestration built on top of them.
package syncer

import (
	"context"
	"fmt"
	"time"
)

// StateStore is the distributed key/value contract the coordination layer
// consumes. The Redis wrapper in internal/database satisfies it; tests use
// an in-memory fake.
type StateStore interface {
	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	SetIfNotExists(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ListAppend(ctx context.Context, key string, value any) error
	ListTrim(ctx context.Context, key string, start, stop int64) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
}

// Key namespaces shared by every process using the same store instance.
// Changing these shapes breaks cross-process coordination.
func eventKey(eventID string) string     { return fmt.Sprintf("event:%s", eventID) }
func issueKey(issueID string) string     { return fmt.Sprintf("issue:%s", issueID) }
func syncStateKey(issueID string) string { return fmt.Sprintf("sync:issue:%s", issueID) }
func syncChainKey(issueID string) string { return fmt.Sprintf("sync_chain:%s", issueID) }
func conflictKey(issueID string) string  { return fmt.Sprintf("conflict:%s", issueID) }
func lockKey(resourceID string) string   { return fmt.Sprintf("lock:%s", resourceID) }
