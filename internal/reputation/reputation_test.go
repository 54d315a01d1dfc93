package reputation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-trading/sentinel/internal/storage"
	"github.com/sentinel-trading/sentinel/internal/storage/memory"
)

func newTestTracker() *Tracker {
	return NewTracker(Config{
		SurvivalThreshold: 30 * time.Minute,
		AutoFlagRugs:      2,
	}, memory.NewDeployerStore())
}

func TestScore_UnknownDeployerIsNeutral(t *testing.T) {
	tracker := newTestTracker()
	assert.Equal(t, 50.0, tracker.Score("DeployerNobody"))
	assert.False(t, tracker.IsBlocked("DeployerNobody"))
}

func TestRecordOutcome_SurvivalCountsAsSuccess(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()

	tracker.Observe(ctx, "DeployerA")
	tracker.RecordOutcome(ctx, "DeployerA", time.Hour)

	assert.Equal(t, 100.0, tracker.Score("DeployerA"))
	assert.False(t, tracker.IsBlocked("DeployerA"))
}

func TestRecordOutcome_ShortLivedCountsAsRug(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()

	tracker.RecordOutcome(ctx, "DeployerB", 2*time.Minute)
	tracker.RecordOutcome(ctx, "DeployerB", time.Hour)

	assert.Equal(t, 50.0, tracker.Score("DeployerB"))
	assert.False(t, tracker.IsBlocked("DeployerB"))
}

func TestRecordOutcome_RepeatedRugsAutoFlag(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()

	tracker.RecordOutcome(ctx, "DeployerC", time.Minute)
	assert.False(t, tracker.IsBlocked("DeployerC"))

	tracker.RecordOutcome(ctx, "DeployerC", time.Minute)
	assert.True(t, tracker.IsBlocked("DeployerC"))
	assert.Equal(t, 0.0, tracker.Score("DeployerC"))
	assert.Equal(t, int64(1), tracker.Stats().Flags)
}

func TestFlag_ManualBlock(t *testing.T) {
	tracker := newTestTracker()
	tracker.Flag(context.Background(), "DeployerD", "known serial rugger")

	assert.True(t, tracker.IsBlocked("DeployerD"))
	assert.Equal(t, 0.0, tracker.Score("DeployerD"))
}

func TestAddressesAreCaseInsensitive(t *testing.T) {
	tracker := newTestTracker()
	tracker.Flag(context.Background(), "DeployerMixedCase", "test")

	assert.True(t, tracker.IsBlocked("deployermixedcase"))
	assert.True(t, tracker.IsBlocked("DEPLOYERMIXEDCASE"))
}

func TestRestore_LoadsPersistedRecord(t *testing.T) {
	backing := memory.NewDeployerStore()
	ctx := context.Background()

	require.NoError(t, backing.Upsert(ctx, &storage.DeployerRecord{
		Address:     "deployere",
		RugCount:    3,
		Flagged:     true,
		FlagReason:  "auto: repeated rugs",
		FirstSeenAt: time.Now().Add(-24 * time.Hour),
		UpdatedAt:   time.Now(),
	}))

	tracker := NewTracker(DefaultConfig(), backing)
	assert.False(t, tracker.IsBlocked("DeployerE")) // mirror cold

	tracker.Restore(ctx, "DeployerE")
	assert.True(t, tracker.IsBlocked("DeployerE"))
	assert.Equal(t, 0.0, tracker.Score("DeployerE"))
}

func TestObserve_TracksAndPersists(t *testing.T) {
	backing := memory.NewDeployerStore()
	tracker := NewTracker(DefaultConfig(), backing)
	ctx := context.Background()

	tracker.Observe(ctx, "DeployerF")
	tracker.Observe(ctx, "DeployerF")

	rec, err := backing.Get(ctx, "deployerf")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.TokensSeen)
	assert.Equal(t, 1, tracker.Stats().Tracked)
}
