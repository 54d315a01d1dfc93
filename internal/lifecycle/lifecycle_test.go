package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-trading/sentinel/internal/storage"
	"github.com/sentinel-trading/sentinel/internal/storage/memory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(DefaultConfig(), "wallet1", memory.NewLifecycleStore())
}

func TestStore_Register(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.True(t, s.Register(ctx, "MintA", "dep1"))

	t.Run("duplicate is a no-op", func(t *testing.T) {
		assert.False(t, s.Register(ctx, "MintA", "dep1"))
	})

	t.Run("mint key is case insensitive", func(t *testing.T) {
		assert.False(t, s.Register(ctx, "MINTA", "dep1"))
	})

	asset, ok := s.Get("minta")
	require.True(t, ok)
	assert.Equal(t, StateNew, asset.State)
	assert.Equal(t, "dep1", asset.Deployer)
	assert.Equal(t, 2, asset.MaxRetries)
}

func TestStore_Transitions(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path to traded", func(t *testing.T) {
		s := newTestStore(t)
		s.Register(ctx, "MintA", "dep1")

		require.NoError(t, s.MarkPending(ctx, "MintA", "evaluating", 0))
		require.NoError(t, s.MarkTraded(ctx, "MintA", "sig123", "pos-1"))

		asset, _ := s.Get("MintA")
		assert.Equal(t, StateTraded, asset.State)
		assert.Equal(t, "sig123", asset.TxRef)
		assert.Equal(t, "pos-1", asset.PositionRef)
		assert.Nil(t, asset.PendingSince)
	})

	t.Run("traded directly from new", func(t *testing.T) {
		s := newTestStore(t)
		s.Register(ctx, "A", "d")
		require.NoError(t, s.MarkTraded(ctx, "A", "sig", "pos"))
	})

	t.Run("traded is terminal", func(t *testing.T) {
		s := newTestStore(t)
		s.Register(ctx, "MintA", "dep1")
		s.MarkPending(ctx, "MintA", "evaluating", 0)
		s.MarkTraded(ctx, "MintA", "sig", "pos")

		assert.ErrorIs(t, s.MarkPending(ctx, "MintA", "x", 0), ErrTerminalState)
		assert.ErrorIs(t, s.MarkRejected(ctx, "MintA", "x", 0), ErrTerminalState)
		assert.ErrorIs(t, s.Retry(ctx, "MintA"), ErrTerminalState)
	})

	t.Run("rejected is terminal", func(t *testing.T) {
		s := newTestStore(t)
		s.Register(ctx, "A", "d")
		require.NoError(t, s.MarkRejected(ctx, "A", "low score", 40))

		assert.ErrorIs(t, s.Retry(ctx, "A"), ErrTerminalState)
		assert.ErrorIs(t, s.MarkPending(ctx, "A", "x", 0), ErrTerminalState)
		assert.ErrorIs(t, s.MarkTraded(ctx, "A", "sig", "pos"), ErrTerminalState)

		asset, _ := s.Get("A")
		assert.Equal(t, StateRejected, asset.State)
		assert.Equal(t, "low score", asset.Reason)
	})

	t.Run("reject from new and from pending", func(t *testing.T) {
		s := newTestStore(t)
		s.Register(ctx, "A", "d")
		s.Register(ctx, "B", "d")
		s.MarkPending(ctx, "B", "evaluating", 0)

		assert.NoError(t, s.MarkRejected(ctx, "A", "low score", 40))
		assert.NoError(t, s.MarkRejected(ctx, "B", "route lost", 0))
	})

	t.Run("unknown asset", func(t *testing.T) {
		s := newTestStore(t)
		assert.ErrorIs(t, s.MarkPending(ctx, "nope", "x", 0), ErrUnknownAsset)
	})
}

func TestStore_MarkPendingRefresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	s.Register(ctx, "A", "d")
	require.NoError(t, s.MarkPending(ctx, "A", "evaluating", 2*time.Minute))

	first, _ := s.Get("A")
	require.NotNil(t, first.PendingSince)
	require.NotNil(t, first.RetryExpiry)

	// A second pending call refreshes reason and window but keeps the
	// original pending_since.
	now = now.Add(time.Minute)
	require.NoError(t, s.MarkPending(ctx, "A", "route probe", 2*time.Minute))

	second, _ := s.Get("A")
	assert.Equal(t, "route probe", second.Reason)
	assert.Equal(t, *first.PendingSince, *second.PendingSince)
	assert.True(t, second.RetryExpiry.After(*first.RetryExpiry))
}

func TestStore_CanEvaluateCanTrade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Register(ctx, "A", "d")
	assert.True(t, s.CanEvaluate("A"))
	assert.True(t, s.CanTrade("A"))

	s.MarkPending(ctx, "A", "evaluating", 0)
	assert.True(t, s.CanEvaluate("A"), "pending is not a verdict")
	assert.False(t, s.CanTrade("A"), "pending trades only via an explicit retry")

	s.MarkRejected(ctx, "A", "x", 0)
	assert.False(t, s.CanEvaluate("A"))
	assert.False(t, s.CanTrade("A"))

	assert.False(t, s.CanTrade("untracked"))
}

func TestStore_Retry(t *testing.T) {
	ctx := context.Background()

	t.Run("budget bounds pending retries", func(t *testing.T) {
		s := newTestStore(t)
		s.Register(ctx, "A", "d")

		// MaxRetries default is 2.
		require.NoError(t, s.MarkPending(ctx, "A", "transient", 0))
		require.NoError(t, s.Retry(ctx, "A"))
		require.NoError(t, s.MarkPending(ctx, "A", "transient", 0))
		require.NoError(t, s.Retry(ctx, "A"))
		require.NoError(t, s.MarkPending(ctx, "A", "transient", 0))

		assert.ErrorIs(t, s.Retry(ctx, "A"), ErrMaxRetries)

		asset, _ := s.Get("A")
		assert.Equal(t, 2, asset.Attempts)
		assert.Equal(t, StatePending, asset.State)
	})

	t.Run("window bounds pending retries", func(t *testing.T) {
		s := newTestStore(t)
		now := time.Now()
		s.SetClock(func() time.Time { return now })

		s.Register(ctx, "A", "d")
		require.NoError(t, s.MarkPending(ctx, "A", "transient", 2*time.Minute))

		now = now.Add(3 * time.Minute)
		assert.ErrorIs(t, s.Retry(ctx, "A"), ErrRetryExpired)

		asset, _ := s.Get("A")
		assert.Equal(t, StatePending, asset.State)
		assert.Equal(t, 0, asset.Attempts)
	})

	t.Run("new asset has nothing to retry", func(t *testing.T) {
		s := newTestStore(t)
		s.Register(ctx, "A", "d")
		assert.ErrorIs(t, s.Retry(ctx, "A"), ErrInvalidTransition)
	})
}

func TestStore_CleanupExpiredPending(t *testing.T) {
	ctx := context.Background()

	t.Run("elapsed window rejects", func(t *testing.T) {
		s := newTestStore(t)
		now := time.Now()
		s.SetClock(func() time.Time { return now })

		s.Register(ctx, "A", "d")
		s.Register(ctx, "B", "d")
		s.MarkPending(ctx, "A", "evaluating", 0)

		now = now.Add(6 * time.Minute) // past the 5m default window

		// Fresh pending, must survive the sweep.
		s.MarkPending(ctx, "B", "evaluating", 0)

		swept := s.CleanupExpiredPending(ctx)
		assert.Equal(t, 1, swept)

		a, _ := s.Get("A")
		assert.Equal(t, StateRejected, a.State)
		assert.Equal(t, sweepReason, a.Reason)
		b, _ := s.Get("B")
		assert.Equal(t, StatePending, b.State)

		// The sweep verdict is monotonic like any other rejection.
		assert.ErrorIs(t, s.Retry(ctx, "A"), ErrTerminalState)
	})

	t.Run("spent budget rejects inside the window", func(t *testing.T) {
		s := NewStore(Config{MaxRetries: 1, PendingExpiry: 5 * time.Minute}, "wallet1", memory.NewLifecycleStore())
		s.Register(ctx, "A", "d")
		require.NoError(t, s.MarkPending(ctx, "A", "transient", 0))
		require.NoError(t, s.Retry(ctx, "A"))
		require.NoError(t, s.MarkPending(ctx, "A", "transient", 0))

		assert.Equal(t, 1, s.CleanupExpiredPending(ctx))
		a, _ := s.Get("A")
		assert.Equal(t, StateRejected, a.State)
	})

	t.Run("idempotent", func(t *testing.T) {
		s := newTestStore(t)
		now := time.Now()
		s.SetClock(func() time.Time { return now })

		s.Register(ctx, "A", "d")
		s.MarkPending(ctx, "A", "evaluating", 0)
		now = now.Add(6 * time.Minute)

		assert.Equal(t, 1, s.CleanupExpiredPending(ctx))
		assert.Equal(t, 0, s.CleanupExpiredPending(ctx))
	})
}

func TestStore_ClearRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Register(ctx, "A", "d")
	s.Register(ctx, "B", "d")
	s.MarkRejected(ctx, "A", "x", 0)

	removed, err := s.ClearRejected(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := s.Get("A")
	assert.False(t, ok)
	_, ok = s.Get("B")
	assert.True(t, ok)
}

func TestStore_ClearTradedAndPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Register(ctx, "A", "d")
	s.Register(ctx, "B", "d")
	s.Register(ctx, "C", "d")
	require.NoError(t, s.MarkPending(ctx, "A", "evaluating", 0))
	require.NoError(t, s.MarkTraded(ctx, "A", "sig", "pos"))
	require.NoError(t, s.MarkPending(ctx, "B", "evaluating", 0))

	removed, err := s.ClearTraded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = s.ClearPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := s.Get("C")
	assert.True(t, ok)
	assert.Equal(t, 1, s.Stats().Tracked)
}

func TestStore_Restore(t *testing.T) {
	backing := memory.NewLifecycleStore()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, backing.Insert(ctx, &storage.AssetRecord{
		Owner: "wallet1", Mint: "A", State: "REJECTED", Reason: "rug",
		Attempts: 1, MaxRetries: 2, FirstSeenAt: now, UpdatedAt: now,
	}))
	require.NoError(t, backing.Insert(ctx, &storage.AssetRecord{
		Owner: "wallet1", Mint: "B", State: "NEW",
		FirstSeenAt: now, UpdatedAt: now,
	}))

	s := NewStore(DefaultConfig(), "wallet1", backing)
	require.NoError(t, s.Restore(ctx))

	a, ok := s.Get("A")
	require.True(t, ok)
	assert.Equal(t, StateRejected, a.State)
	assert.Equal(t, 1, a.Attempts)
	assert.ErrorIs(t, s.Retry(ctx, "A"), ErrTerminalState)

	assert.True(t, s.CanTrade("B"))
}

func TestStore_MirrorSurvivesPersistFailure(t *testing.T) {
	// A backing store that was never given the record: UpdateState returns
	// ErrNotFound, but the mirror transition must still stick.
	s := NewStore(DefaultConfig(), "wallet1", memory.NewLifecycleStore())
	ctx := context.Background()

	s.Register(ctx, "A", "d")

	// Sabotage: remove the persisted row out from under the mirror.
	_, err := memoryDelete(s, ctx)
	require.NoError(t, err)

	require.NoError(t, s.MarkPending(ctx, "A", "evaluating", 0))
	asset, _ := s.Get("A")
	assert.Equal(t, StatePending, asset.State)
	assert.Equal(t, int64(1), s.Stats().PersistErrs)
}

func memoryDelete(s *Store, ctx context.Context) (int64, error) {
	return s.backing.DeleteByState(ctx, "wallet1", "NEW")
}
