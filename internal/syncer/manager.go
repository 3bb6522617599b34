package syncer

import (
	"context"
	"log/slog"

	"github.com/hookbridge/hookbridge/internal/models"
	apierrors "github.com/hookbridge/hookbridge/internal/pkg/errors"
)

// TrackerClient is the per-tracker API surface a sync manager drives. One
// implementation exists per external tracker (GitHub, GitLab).
type TrackerClient interface {
	// Source identifies the tracker in sync chains and conflict records.
	Source() models.SyncSource
	GetIssue(ctx context.Context, repo, ref string) (*models.TrackerIssue, error)
	CreateIssue(ctx context.Context, repo string, issue *models.LocalIssue) (*models.TrackerIssue, error)
	UpdateIssue(ctx context.Context, repo, ref string, issue *models.LocalIssue) (*models.TrackerIssue, error)
}

// LocalIssueStore is the source-of-truth issue storage on this side of
// the sync.
type LocalIssueStore interface {
	GetIssue(ctx context.Context, id string) (*models.LocalIssue, error)
	// ApplyIssue upserts the local representation from a tracker issue and
	// returns the stored result.
	ApplyIssue(ctx context.Context, localID string, issue *models.TrackerIssue) (*models.LocalIssue, error)
}

// Manager orchestrates bidirectional issue sync against one tracker,
// using the deduper and resolver to stay loop-free and conflict-safe.
// Callers racing two sync directions on the same issue must serialize via
// the advisory Lock; the manager assumes the caller holds it.
type Manager struct {
	deduper     *Deduper
	resolver    *Resolver
	tracker     TrackerClient
	local       LocalIssueStore
	localSource models.SyncSource
	logger      *slog.Logger
}

// NewManager creates a sync manager for one tracker. localSource names
// this system's identity in sync chains (typically "linear").
func NewManager(deduper *Deduper, resolver *Resolver, tracker TrackerClient, local LocalIssueStore, localSource models.SyncSource, logger *slog.Logger) *Manager {
	return &Manager{
		deduper:     deduper,
		resolver:    resolver,
		tracker:     tracker,
		local:       local,
		localSource: localSource,
		logger: logger.With(
			slog.String("component", "sync_manager"),
			slog.String("tracker", string(tracker.Source())),
		),
	}
}

// SyncToTracker pushes a local issue to the external tracker. Returns
// (nil, nil) on business skips (duplicate, loop, stale, nothing to write);
// only infrastructure failures return an error.
func (m *Manager) SyncToTracker(ctx context.Context, localID, repo string, createIfMissing bool, existingRef string) (*models.TrackerIssue, error) {
	target := m.tracker.Source()

	issue, err := m.local.GetIssue(ctx, localID)
	if err != nil {
		return nil, m.wrap("fetch", localID, m.localSource, target, err)
	}

	eventID := DeterministicEventID(issue.ID, issue.UpdatedAt)
	if !m.deduper.ShouldProcessEvent(ctx, eventID, issue.ID, m.localSource, target) {
		syncSkipsTotal.WithLabelValues(string(target), "dedup").Inc()
		return nil, nil
	}

	apply, err := m.resolver.ShouldApplyUpdate(ctx, issue.ID, m.localSource, issue.UpdatedAt, nil)
	if err != nil {
		return nil, m.wrap("conflict_check", issue.ID, m.localSource, target, err)
	}
	if !apply {
		if err := m.deduper.MarkProcessed(ctx, eventID, "sync_skipped", map[string]string{
			"source": string(m.localSource),
			"reason": "stale_update",
		}); err != nil {
			return nil, m.wrap("mark_skipped", issue.ID, m.localSource, target, err)
		}
		syncSkipsTotal.WithLabelValues(string(target), "stale").Inc()
		return nil, nil
	}

	var remote *models.TrackerIssue
	switch {
	case existingRef != "":
		remote, err = m.tracker.UpdateIssue(ctx, repo, existingRef, issue)
	case createIfMissing:
		remote, err = m.tracker.CreateIssue(ctx, repo, issue)
	default:
		m.logger.Warn("no target ref and create disabled, skipping",
			slog.String("issue_id", issue.ID),
			slog.String("repo", repo))
		syncSkipsTotal.WithLabelValues(string(target), "no_target").Inc()
		return nil, nil
	}
	if err != nil {
		syncFailuresTotal.WithLabelValues(string(target)).Inc()
		return nil, m.wrap("write", issue.ID, m.localSource, target, err)
	}

	if err := m.recordOutcome(ctx, eventID, issue.ID, target, remote); err != nil {
		return nil, err
	}

	syncCompletedTotal.WithLabelValues(string(target)).Inc()
	m.logger.Info("synced issue to tracker",
		slog.String("issue_id", issue.ID),
		slog.String("repo", repo),
		slog.String("remote_id", remote.ID))
	return remote, nil
}

// SyncFromTracker pulls a tracker issue into the local store. Skip
// semantics mirror SyncToTracker with source and target swapped.
func (m *Manager) SyncFromTracker(ctx context.Context, localID, repo, ref string) (*models.LocalIssue, error) {
	source := m.tracker.Source()

	remote, err := m.tracker.GetIssue(ctx, repo, ref)
	if err != nil {
		return nil, m.wrap("fetch", localID, source, m.localSource, err)
	}

	eventID := DeterministicEventID(remote.ID, remote.UpdatedAt)
	if !m.deduper.ShouldProcessEvent(ctx, eventID, localID, source, m.localSource) {
		syncSkipsTotal.WithLabelValues(string(source), "dedup").Inc()
		return nil, nil
	}

	apply, err := m.resolver.ShouldApplyUpdate(ctx, localID, source, remote.UpdatedAt, nil)
	if err != nil {
		return nil, m.wrap("conflict_check", localID, source, m.localSource, err)
	}
	if !apply {
		if err := m.deduper.MarkProcessed(ctx, eventID, "sync_skipped", map[string]string{
			"source": string(source),
			"reason": "stale_update",
		}); err != nil {
			return nil, m.wrap("mark_skipped", localID, source, m.localSource, err)
		}
		syncSkipsTotal.WithLabelValues(string(source), "stale").Inc()
		return nil, nil
	}

	local, err := m.local.ApplyIssue(ctx, localID, remote)
	if err != nil {
		syncFailuresTotal.WithLabelValues(string(source)).Inc()
		return nil, m.wrap("write", localID, source, m.localSource, err)
	}

	if err := m.deduper.MarkProcessed(ctx, eventID, "sync_completed", map[string]string{
		"source":   string(source),
		"local_id": local.ID,
	}); err != nil {
		return nil, m.wrap("mark_processed", localID, source, m.localSource, err)
	}
	if err := m.deduper.RecordSync(ctx, localID, source, m.localSource, nil); err != nil {
		return nil, m.wrap("record_sync", localID, source, m.localSource, err)
	}
	// The next comparison is against when the local side last changed.
	if err := m.resolver.RecordUpdate(ctx, localID, m.localSource, local.UpdatedAt, nil); err != nil {
		return nil, m.wrap("record_update", localID, source, m.localSource, err)
	}

	syncCompletedTotal.WithLabelValues(string(source)).Inc()
	return local, nil
}

// recordOutcome persists the dedup marker, the sync edge and the new
// baseline timestamp after a successful outbound write. The baseline is
// recorded under the tracker's identity, so the next comparison answers
// "when did the target last change".
func (m *Manager) recordOutcome(ctx context.Context, eventID, issueID string, target models.SyncSource, remote *models.TrackerIssue) error {
	if err := m.deduper.MarkProcessed(ctx, eventID, "sync_completed", map[string]string{
		"source":     string(m.localSource),
		"remote_id":  remote.ID,
		"remote_url": remote.URL,
	}); err != nil {
		return m.wrap("mark_processed", issueID, m.localSource, target, err)
	}
	if err := m.deduper.RecordSync(ctx, issueID, m.localSource, target, nil); err != nil {
		return m.wrap("record_sync", issueID, m.localSource, target, err)
	}
	if err := m.resolver.RecordUpdate(ctx, issueID, target, remote.UpdatedAt, map[string]string{
		"remote_id": remote.ID,
	}); err != nil {
		return m.wrap("record_update", issueID, m.localSource, target, err)
	}
	return nil
}

func (m *Manager) wrap(op, issueID string, source, target models.SyncSource, err error) error {
	return &apierrors.SyncError{
		IssueID: issueID,
		Source:  string(source),
		Target:  string(target),
		Op:      op,
		Err:     err,
	}
}
