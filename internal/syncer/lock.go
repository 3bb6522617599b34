package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/hookbridge/hookbridge/internal/pkg/errors"
)

// Lock is an advisory distributed lock held while syncing one issue, so
// two sync directions cannot race on the same issue. The lock is advisory:
// orchestration code wrapping a sync call is responsible for taking it.
type Lock struct {
	store  StateStore
	logger *slog.Logger
	ttl    time.Duration
}

// NewLock creates a lock manager with the given TTL (default 5 minutes).
func NewLock(store StateStore, ttl time.Duration, logger *slog.Logger) *Lock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Lock{
		store:  store,
		logger: logger.With(slog.String("component", "sync_lock")),
		ttl:    ttl,
	}
}

// Acquire attempts to take the lock for a resource. Returns a release
// token on success, empty string when the lock is already held, and an
// error only on store failure.
func (l *Lock) Acquire(ctx context.Context, resourceID string) (string, error) {
	token := uuid.NewString()
	ok, err := l.store.SetIfNotExists(ctx, lockKey(resourceID), token, l.ttl)
	if err != nil {
		return "", &apierrors.LockError{Resource: resourceID, Err: err}
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// Release frees the lock if the token still owns it. A lock whose TTL
// already expired releases as a no-op.
func (l *Lock) Release(ctx context.Context, resourceID, token string) error {
	current, err := l.store.Get(ctx, lockKey(resourceID))
	if isMissing(err) {
		return nil
	}
	if err != nil {
		return &apierrors.LockError{Resource: resourceID, Err: err}
	}
	if current != token {
		// Someone else re-acquired after our TTL lapsed; leave it alone.
		l.logger.Warn("skipping release of lock owned by another holder",
			slog.String("resource_id", resourceID))
		return nil
	}
	if err := l.store.Delete(ctx, lockKey(resourceID)); err != nil {
		return &apierrors.LockError{Resource: resourceID, Err: err}
	}
	return nil
}

// WithLock runs fn while holding the lock for resourceID. When the lock is
// already held elsewhere, fn is not run and held=false is returned.
func (l *Lock) WithLock(ctx context.Context, resourceID string, fn func(ctx context.Context) error) (held bool, err error) {
	token, err := l.Acquire(ctx, resourceID)
	if err != nil {
		return false, err
	}
	if token == "" {
		return false, nil
	}
	defer func() {
		if relErr := l.Release(ctx, resourceID, token); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return true, fn(ctx)
}
