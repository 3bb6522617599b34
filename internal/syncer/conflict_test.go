package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookbridge/hookbridge/internal/config"
	"github.com/hookbridge/hookbridge/internal/models"
	apierrors "github.com/hookbridge/hookbridge/internal/pkg/errors"
)

func newTestResolver(store StateStore) *Resolver {
	return NewResolver(store, config.SyncConfig{
		SyncStateTTL:       time.Hour,
		ConflictTTL:        time.Hour,
		TimestampTolerance: time.Second,
	}, testLogger())
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		value string
		want  time.Time
	}{
		{"2025-03-14T09:26:53Z", time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)},
		{"2025-03-14T09:26:53.123456789Z", time.Date(2025, 3, 14, 9, 26, 53, 123456789, time.UTC)},
		{"2025-03-14T09:26:53", time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)},
		{"2025-03-14T04:26:53-05:00", time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseTimestamp(tc.value)
		require.NoError(t, err, tc.value)
		assert.True(t, got.Equal(tc.want), "parsed %s as %s, want %s", tc.value, got, tc.want)
		assert.Equal(t, time.UTC, got.Location())
	}
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	for _, value := range []string{"", "yesterday", "14/03/2025", "1741944413"} {
		_, err := ParseTimestamp(value)
		require.Error(t, err, value)

		var tsErr *apierrors.TimestampError
		assert.ErrorAs(t, err, &tsErr)
	}
}

func TestShouldApplyUpdateFirstWrite(t *testing.T) {
	r := newTestResolver(newMemStore())

	apply, err := r.ShouldApplyUpdate(context.Background(), "ISSUE-1", models.SourceGitHub, time.Now(), nil)
	require.NoError(t, err)
	assert.True(t, apply, "first update for an issue always applies")
}

func TestShouldApplyUpdateNewerWins(t *testing.T) {
	r := newTestResolver(newMemStore())
	ctx := context.Background()
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, r.RecordUpdate(ctx, "ISSUE-1", models.SourceGitHub, base, nil))

	apply, err := r.ShouldApplyUpdate(ctx, "ISSUE-1", models.SourceGitLab, base.Add(time.Minute), nil)
	require.NoError(t, err)
	assert.True(t, apply, "strictly newer update applies")

	apply, err = r.ShouldApplyUpdate(ctx, "ISSUE-1", models.SourceGitLab, base.Add(-time.Minute), nil)
	require.NoError(t, err)
	assert.False(t, apply, "stale update is rejected")
}

func TestShouldApplyUpdateToleranceUsesPriority(t *testing.T) {
	r := newTestResolver(newMemStore())
	ctx := context.Background()
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, r.RecordUpdate(ctx, "ISSUE-1", models.SourceGitHub, base, nil))

	// Within the 1s window, manual (priority 5) beats github (priority 3).
	apply, err := r.ShouldApplyUpdate(ctx, "ISSUE-1", models.SourceManual, base.Add(500*time.Millisecond), nil)
	require.NoError(t, err)
	assert.True(t, apply)

	// slack (priority 1) loses to github even though it is newer within tolerance.
	apply, err = r.ShouldApplyUpdate(ctx, "ISSUE-1", models.SourceSlack, base.Add(500*time.Millisecond), nil)
	require.NoError(t, err)
	assert.False(t, apply)

	// Equal priority within tolerance does not reapply.
	apply, err = r.ShouldApplyUpdate(ctx, "ISSUE-1", models.SourceGitHub, base.Add(time.Second), nil)
	require.NoError(t, err)
	assert.False(t, apply)
}

func TestResolveConflictByTimestamp(t *testing.T) {
	store := newMemStore()
	r := newTestResolver(store)
	ctx := context.Background()
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	a := models.IssueUpdate{Source: models.SourceSlack, UpdatedAt: base.Add(time.Minute)}
	b := models.IssueUpdate{Source: models.SourceManual, UpdatedAt: base}

	winner, err := r.ResolveConflict(ctx, "ISSUE-1", a, b)
	require.NoError(t, err)
	assert.Equal(t, models.SourceSlack, winner.Source, "newer timestamp beats higher priority outside tolerance")

	history, err := r.ConflictHistory(ctx, "ISSUE-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ResolvedByTimestamp, history[0].Resolution)
	assert.Equal(t, models.SourceSlack, history[0].Winner)
}

func TestResolveConflictByPriority(t *testing.T) {
	r := newTestResolver(newMemStore())
	ctx := context.Background()
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	a := models.IssueUpdate{Source: models.SourceGitLab, UpdatedAt: base}
	b := models.IssueUpdate{Source: models.SourceLinear, UpdatedAt: base.Add(300 * time.Millisecond)}

	winner, err := r.ResolveConflict(ctx, "ISSUE-1", a, b)
	require.NoError(t, err)
	assert.Equal(t, models.SourceLinear, winner.Source, "within tolerance, source priority decides")

	// Resolution is symmetric for the same inputs in either order.
	winner2, err := r.ResolveConflict(ctx, "ISSUE-1", b, a)
	require.NoError(t, err)
	assert.Equal(t, winner.Source, winner2.Source)
}

func TestResolveConflictRecordsLoserToo(t *testing.T) {
	r := newTestResolver(newMemStore())
	ctx := context.Background()
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	a := models.IssueUpdate{Source: models.SourceGitHub, UpdatedAt: base}
	b := models.IssueUpdate{Source: models.SourceGitLab, UpdatedAt: base.Add(time.Hour)}

	_, err := r.ResolveConflict(ctx, "ISSUE-9", a, b)
	require.NoError(t, err)
	_, err = r.ResolveConflict(ctx, "ISSUE-9", b, a)
	require.NoError(t, err)

	history, err := r.ConflictHistory(ctx, "ISSUE-9")
	require.NoError(t, err)
	assert.Len(t, history, 2, "every resolution is recorded, wins and losses alike")
}

func TestConflictHistoryEmpty(t *testing.T) {
	r := newTestResolver(newMemStore())

	history, err := r.ConflictHistory(context.Background(), "ISSUE-NONE")
	require.NoError(t, err)
	assert.Empty(t, history)
}
