package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hookbridge/hookbridge/internal/models"
)

// ErrIssueNotFound is returned by GetIssue when no issue exists under the
// given ID. Callers must distinguish it from store failures: an absent
// issue may be created fresh, a failed read must never be.
var ErrIssueNotFound = errors.New("issue not found")

// RedisIssueStore keeps the local issue representations in the shared
// state store. Issues live under the issue: namespace without a TTL.
type RedisIssueStore struct {
	store StateStore
}

// NewRedisIssueStore creates a local issue store over the state store.
func NewRedisIssueStore(store StateStore) *RedisIssueStore {
	return &RedisIssueStore{store: store}
}

var _ LocalIssueStore = (*RedisIssueStore)(nil)

// GetIssue loads one local issue by ID. A missing issue is reported as
// ErrIssueNotFound; any other error is a store failure.
func (s *RedisIssueStore) GetIssue(ctx context.Context, id string) (*models.LocalIssue, error) {
	raw, err := s.store.Get(ctx, issueKey(id))
	if isMissing(err) {
		return nil, fmt.Errorf("issue %s: %w", id, ErrIssueNotFound)
	}
	if err != nil {
		return nil, err
	}

	var issue models.LocalIssue
	if err := json.Unmarshal([]byte(raw), &issue); err != nil {
		return nil, fmt.Errorf("failed to decode issue %s: %w", id, err)
	}
	return &issue, nil
}

// PutIssue stores a local issue, stamping UpdatedAt when unset.
func (s *RedisIssueStore) PutIssue(ctx context.Context, issue *models.LocalIssue) error {
	if issue.UpdatedAt.IsZero() {
		issue.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("failed to encode issue %s: %w", issue.ID, err)
	}
	return s.store.SetWithTTL(ctx, issueKey(issue.ID), data, 0)
}

// ApplyIssue upserts the local issue from a tracker issue. Existing
// cross-references are preserved and the tracker's ref is recorded. Only a
// genuinely absent issue is rebuilt from scratch; a failed read surfaces,
// since rebuilding over an unreadable issue would drop its refs.
func (s *RedisIssueStore) ApplyIssue(ctx context.Context, localID string, remote *models.TrackerIssue) (*models.LocalIssue, error) {
	issue, err := s.GetIssue(ctx, localID)
	switch {
	case errors.Is(err, ErrIssueNotFound):
		issue = &models.LocalIssue{ID: localID}
	case err != nil:
		return nil, err
	}

	issue.Title = remote.Title
	issue.Body = remote.Body
	issue.State = remote.State
	issue.Labels = remote.Labels
	issue.UpdatedAt = remote.UpdatedAt
	if issue.Refs == nil {
		issue.Refs = make(map[string]string)
	}
	issue.Refs[remote.Repo] = fmt.Sprintf("%d", remote.Number)

	if err := s.PutIssue(ctx, issue); err != nil {
		return nil, err
	}
	return issue, nil
}
