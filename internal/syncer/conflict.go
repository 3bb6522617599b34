package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hookbridge/hookbridge/internal/config"
	"github.com/hookbridge/hookbridge/internal/models"
	apierrors "github.com/hookbridge/hookbridge/internal/pkg/errors"
)

// Resolver decides which of two competing updates to the same logical
// issue wins: strictly newer timestamps win outright, and updates within
// the tolerance window are treated as simultaneous and broken by static
// source priority.
type Resolver struct {
	store  StateStore
	logger *slog.Logger

	stateTTL    time.Duration
	conflictTTL time.Duration
	tolerance   time.Duration
	now         func() time.Time
}

// NewResolver creates a conflict resolution manager.
func NewResolver(store StateStore, cfg config.SyncConfig, logger *slog.Logger) *Resolver {
	stateTTL := cfg.SyncStateTTL
	if stateTTL <= 0 {
		stateTTL = 7 * 24 * time.Hour
	}
	conflictTTL := cfg.ConflictTTL
	if conflictTTL <= 0 {
		conflictTTL = 30 * 24 * time.Hour
	}
	tolerance := cfg.TimestampTolerance
	if tolerance <= 0 {
		tolerance = time.Second
	}
	return &Resolver{
		store:       store,
		logger:      logger.With(slog.String("component", "conflict_resolver")),
		stateTTL:    stateTTL,
		conflictTTL: conflictTTL,
		tolerance:   tolerance,
		now:         time.Now,
	}
}

// ParseTimestamp normalizes an update timestamp to UTC. Accepts RFC 3339
// with or without a trailing Z and the common fractional-second variants.
// Anything else is a typed timestamp error; the caller must not guess.
func ParseTimestamp(value string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999999999",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &apierrors.TimestampError{Value: value, Err: fmt.Errorf("unrecognized format")}
}

// ShouldApplyUpdate reports whether an incoming update for the issue should
// be applied given the last applied update recorded in the sync state.
// Infrastructure errors surface; business rejections return false, nil.
func (r *Resolver) ShouldApplyUpdate(ctx context.Context, issueID string, source models.SyncSource, updatedAt time.Time, metadata map[string]string) (bool, error) {
	prior, err := r.getState(ctx, issueID)
	if err != nil {
		return false, err
	}
	if prior == nil {
		// No prior record: first write for this issue always applies.
		return true, nil
	}

	incoming := updatedAt.UTC()
	last := prior.LastSyncedAt.UTC()
	diff := incoming.Sub(last)
	if diff < 0 {
		diff = -diff
	}

	if diff <= r.tolerance {
		// Simultaneous updates: static source priority breaks the tie.
		apply := source.Priority() > prior.SyncSource.Priority()
		r.logger.Info("simultaneous update resolved by source priority",
			slog.String("issue_id", issueID),
			slog.String("incoming", string(source)),
			slog.String("prior", string(prior.SyncSource)),
			slog.Bool("apply", apply))
		return apply, nil
	}

	if incoming.After(last) {
		return true, nil
	}

	r.logger.Debug("rejecting stale update",
		slog.String("issue_id", issueID),
		slog.String("source", string(source)),
		slog.Time("incoming", incoming),
		slog.Time("last_synced", last))
	return false, nil
}

// RecordUpdate overwrites the sync state record after an update has been
// applied. The record is the comparison baseline for the next update.
func (r *Resolver) RecordUpdate(ctx context.Context, issueID string, source models.SyncSource, updatedAt time.Time, metadata map[string]string) error {
	record := models.SyncStateRecord{
		IssueID:      issueID,
		SyncSource:   source,
		LastSyncedAt: updatedAt.UTC(),
		Metadata:     metadata,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}
	return r.store.SetWithTTL(ctx, syncStateKey(issueID), data, r.stateTTL)
}

// ResolveConflict picks the winner between two uncommitted updates with the
// same comparison rules as ShouldApplyUpdate, and unconditionally appends a
// conflict record for audit regardless of which side wins.
func (r *Resolver) ResolveConflict(ctx context.Context, issueID string, a, b models.IssueUpdate) (models.IssueUpdate, error) {
	ta := a.UpdatedAt.UTC()
	tb := b.UpdatedAt.UTC()
	diff := ta.Sub(tb)
	if diff < 0 {
		diff = -diff
	}

	var (
		winner     models.IssueUpdate
		resolution models.ConflictResolution
	)
	if diff <= r.tolerance {
		resolution = models.ResolvedByPriority
		if a.Source.Priority() >= b.Source.Priority() {
			winner = a
		} else {
			winner = b
		}
	} else {
		resolution = models.ResolvedByTimestamp
		if ta.After(tb) {
			winner = a
		} else {
			winner = b
		}
	}

	record := models.ConflictRecord{
		IssueID:    issueID,
		UpdateA:    a,
		UpdateB:    b,
		Winner:     winner.Source,
		Resolution: resolution,
		ResolvedAt: r.now().UTC(),
	}
	if err := r.appendConflict(ctx, record); err != nil {
		return models.IssueUpdate{}, err
	}

	r.logger.Info("conflict resolved",
		slog.String("issue_id", issueID),
		slog.String("winner", string(winner.Source)),
		slog.String("resolution", string(resolution)))
	return winner, nil
}

// ConflictHistory returns the audit trail of resolved conflicts for an issue.
func (r *Resolver) ConflictHistory(ctx context.Context, issueID string) ([]models.ConflictRecord, error) {
	entries, err := r.store.ListRange(ctx, conflictKey(issueID), 0, -1)
	if err != nil {
		return nil, err
	}
	records := make([]models.ConflictRecord, 0, len(entries))
	for _, entry := range entries {
		var record models.ConflictRecord
		if err := json.Unmarshal([]byte(entry), &record); err != nil {
			return nil, fmt.Errorf("failed to decode conflict record: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *Resolver) getState(ctx context.Context, issueID string) (*models.SyncStateRecord, error) {
	data, err := r.store.Get(ctx, syncStateKey(issueID))
	if isMissing(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var record models.SyncStateRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to decode sync state for %s: %w", issueID, err)
	}
	return &record, nil
}

func (r *Resolver) appendConflict(ctx context.Context, record models.ConflictRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict record: %w", err)
	}
	key := conflictKey(record.IssueID)
	if err := r.store.ListAppend(ctx, key, data); err != nil {
		return err
	}
	return r.store.Expire(ctx, key, r.conflictTTL)
}
