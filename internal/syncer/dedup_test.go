package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookbridge/hookbridge/internal/config"
	"github.com/hookbridge/hookbridge/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDeduper(store StateStore) *Deduper {
	return NewDeduper(store, config.SyncConfig{
		EventTTL:       time.Hour,
		SyncChainTTL:   5 * time.Minute,
		MaxChainLength: 5,
	}, testLogger())
}

func TestDeterministicEventID(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)

	id1 := DeterministicEventID("ISSUE-42", at)
	id2 := DeterministicEventID("ISSUE-42", at)
	assert.Equal(t, id1, id2, "same inputs must produce the same ID")
	assert.Len(t, id1, 32)

	// Any change to identity or update time yields a different ID.
	assert.NotEqual(t, id1, DeterministicEventID("ISSUE-43", at))
	assert.NotEqual(t, id1, DeterministicEventID("ISSUE-42", at.Add(time.Nanosecond)))

	// Zone representation does not matter, only the instant.
	est := at.In(time.FixedZone("EST", -5*3600))
	assert.Equal(t, id1, DeterministicEventID("ISSUE-42", est))
}

func TestMarkProcessedAndIsDuplicate(t *testing.T) {
	store := newMemStore()
	d := newTestDeduper(store)
	ctx := context.Background()

	assert.False(t, d.IsDuplicate(ctx, "evt-1"))

	err := d.MarkProcessed(ctx, "evt-1", "issue_updated", map[string]string{"source": "github"})
	require.NoError(t, err)

	assert.True(t, d.IsDuplicate(ctx, "evt-1"))
	assert.False(t, d.IsDuplicate(ctx, "evt-2"))
}

func TestMarkProcessedRejectsUnknownSource(t *testing.T) {
	d := newTestDeduper(newMemStore())

	err := d.MarkProcessed(context.Background(), "evt-1", "issue_updated", map[string]string{"source": "jira"})
	require.Error(t, err)
}

func TestIsDuplicateFailsOpenOnStoreError(t *testing.T) {
	store := newMemStore()
	store.failWith = errors.New("connection refused")
	d := newTestDeduper(store)

	assert.False(t, d.IsDuplicate(context.Background(), "evt-1"))
}

func TestMarkProcessedSurfacesWriteError(t *testing.T) {
	store := newMemStore()
	store.failWith = errors.New("connection refused")
	d := newTestDeduper(store)

	err := d.MarkProcessed(context.Background(), "evt-1", "issue_updated", nil)
	require.Error(t, err)
}

func TestWouldCreateLoopSameEdge(t *testing.T) {
	store := newMemStore()
	d := newTestDeduper(store)
	ctx := context.Background()

	require.NoError(t, d.RecordSync(ctx, "ISSUE-1", models.SourceLinear, models.SourceGitHub, nil))

	assert.True(t, d.WouldCreateLoop(ctx, "ISSUE-1", models.SourceLinear, models.SourceGitHub))
}

func TestWouldCreateLoopBounce(t *testing.T) {
	store := newMemStore()
	d := newTestDeduper(store)
	ctx := context.Background()

	require.NoError(t, d.RecordSync(ctx, "ISSUE-1", models.SourceLinear, models.SourceGitHub, nil))

	// The immediate reverse edge is a bounce.
	assert.True(t, d.WouldCreateLoop(ctx, "ISSUE-1", models.SourceGitHub, models.SourceLinear))

	// A different pair is fine.
	assert.False(t, d.WouldCreateLoop(ctx, "ISSUE-1", models.SourceGitLab, models.SourceSlack))
}

func TestWouldCreateLoopBounceWindowIsTwoEntries(t *testing.T) {
	store := newMemStore()
	d := newTestDeduper(store)
	ctx := context.Background()

	// github->linear happened three syncs ago; two other edges since.
	require.NoError(t, d.RecordSync(ctx, "ISSUE-1", models.SourceGitHub, models.SourceLinear, nil))
	require.NoError(t, d.RecordSync(ctx, "ISSUE-1", models.SourceSlack, models.SourceLinear, nil))
	require.NoError(t, d.RecordSync(ctx, "ISSUE-1", models.SourceGitLab, models.SourceSlack, nil))

	// linear->github reverses only an entry outside the two-entry bounce
	// window and was never recorded as a forward edge.
	assert.False(t, d.WouldCreateLoop(ctx, "ISSUE-1", models.SourceLinear, models.SourceGitHub))
}

func TestWouldCreateLoopChainLengthLimit(t *testing.T) {
	store := newMemStore()
	d := newTestDeduper(store)
	ctx := context.Background()

	pairs := [][2]models.SyncSource{
		{models.SourceManual, models.SourceLinear},
		{models.SourceLinear, models.SourceGitHub},
		{models.SourceGitHub, models.SourceGitLab},
		{models.SourceGitLab, models.SourceSlack},
		{models.SourceSlack, models.SourceManual},
	}
	for _, p := range pairs {
		require.NoError(t, d.RecordSync(ctx, "ISSUE-1", p[0], p[1], nil))
	}

	// Chain is at max length; any further edge is refused.
	assert.True(t, d.WouldCreateLoop(ctx, "ISSUE-1", models.SourceManual, models.SourceGitHub))
}

func TestWouldCreateLoopFailsOpenOnStoreError(t *testing.T) {
	store := newMemStore()
	store.failWith = errors.New("connection refused")
	d := newTestDeduper(store)

	assert.False(t, d.WouldCreateLoop(context.Background(), "ISSUE-1", models.SourceLinear, models.SourceGitHub))
}

func TestRecordSyncTrimsChain(t *testing.T) {
	store := newMemStore()
	d := newTestDeduper(store)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, d.RecordSync(ctx, "ISSUE-1", models.SourceLinear, models.SourceGitHub, nil))
	}

	// Trimmed to twice the loop-detection window.
	assert.Equal(t, 10, store.chainLen("ISSUE-1"))
}

func TestShouldProcessEvent(t *testing.T) {
	store := newMemStore()
	d := newTestDeduper(store)
	ctx := context.Background()

	assert.True(t, d.ShouldProcessEvent(ctx, "evt-1", "ISSUE-1", models.SourceLinear, models.SourceGitHub))

	require.NoError(t, d.MarkProcessed(ctx, "evt-1", "issue_updated", nil))
	assert.False(t, d.ShouldProcessEvent(ctx, "evt-1", "ISSUE-1", models.SourceLinear, models.SourceGitHub),
		"processed event must not be reprocessed")

	require.NoError(t, d.RecordSync(ctx, "ISSUE-1", models.SourceLinear, models.SourceGitHub, nil))
	assert.False(t, d.ShouldProcessEvent(ctx, "evt-2", "ISSUE-1", models.SourceGitHub, models.SourceLinear),
		"bounce must be refused")
}
