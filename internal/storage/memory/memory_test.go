package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-trading/sentinel/internal/storage"
)

func TestLifecycleStore_InsertAndGet(t *testing.T) {
	store := NewLifecycleStore()
	ctx := context.Background()

	rec := &storage.AssetRecord{
		Owner:       "owner1",
		Mint:        "mintA",
		State:       "new",
		FirstSeenAt: time.Now(),
	}
	require.NoError(t, store.Insert(ctx, rec))
	assert.ErrorIs(t, store.Insert(ctx, rec), storage.ErrDuplicateKey)

	got, err := store.Get(ctx, "owner1", "mintA")
	require.NoError(t, err)
	assert.Equal(t, "new", got.State)

	_, err = store.Get(ctx, "owner1", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLifecycleStore_UpdateState(t *testing.T) {
	store := NewLifecycleStore()
	ctx := context.Background()

	rec := &storage.AssetRecord{Owner: "owner1", Mint: "mintA", State: "new"}
	require.NoError(t, store.Insert(ctx, rec))

	rec.State = "rejected"
	rec.Reason = "thin liquidity"
	rec.Score = 30
	require.NoError(t, store.UpdateState(ctx, rec))

	got, err := store.Get(ctx, "owner1", "mintA")
	require.NoError(t, err)
	assert.Equal(t, "rejected", got.State)
	assert.Equal(t, "thin liquidity", got.Reason)

	missing := &storage.AssetRecord{Owner: "owner1", Mint: "ghost"}
	assert.ErrorIs(t, store.UpdateState(ctx, missing), storage.ErrNotFound)
}

func TestLifecycleStore_ListAndDeleteByState(t *testing.T) {
	store := NewLifecycleStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &storage.AssetRecord{Owner: "o", Mint: "m1", State: "rejected"}))
	require.NoError(t, store.Insert(ctx, &storage.AssetRecord{Owner: "o", Mint: "m2", State: "rejected"}))
	require.NoError(t, store.Insert(ctx, &storage.AssetRecord{Owner: "o", Mint: "m3", State: "traded"}))
	require.NoError(t, store.Insert(ctx, &storage.AssetRecord{Owner: "other", Mint: "m4", State: "rejected"}))

	rejected, err := store.ListByState(ctx, "o", "rejected")
	require.NoError(t, err)
	assert.Len(t, rejected, 2)

	removed, err := store.DeleteByState(ctx, "o", "rejected")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	// Other owner's records untouched.
	left, err := store.ListByState(ctx, "other", "rejected")
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestPositionStore_OpenCloseRoundTrip(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	rec := &storage.PositionRecord{
		ID:         "pos-1",
		Owner:      "owner1",
		Mint:       "mintA",
		EntryPrice: "0.00042",
		AmountSOL:  "0.5",
		Status:     "open",
		OpenedAt:   time.Now(),
	}
	require.NoError(t, store.Insert(ctx, rec))
	assert.ErrorIs(t, store.Insert(ctx, rec), storage.ErrDuplicateKey)

	open, err := store.ListOpen(ctx, "owner1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "pos-1", open[0].ID)

	closedAt := time.Now()
	require.NoError(t, store.Close(ctx, "pos-1", "0.00021", "-50", "emergency_exit", closedAt))

	open, err = store.ListOpen(ctx, "owner1")
	require.NoError(t, err)
	assert.Empty(t, open)

	got, err := store.GetByID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, "emergency_exit", got.Status)
	assert.Equal(t, "-50", got.PnLUSD)
	require.NotNil(t, got.ClosedAt)

	assert.ErrorIs(t, store.Close(ctx, "ghost", "", "", "closed", closedAt), storage.ErrNotFound)
}

func TestStores_ReturnCopies(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &storage.PositionRecord{ID: "pos-1", Owner: "o", Status: "open"}))

	got, err := store.GetByID(ctx, "pos-1")
	require.NoError(t, err)
	got.Status = "mutated"

	again, err := store.GetByID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, "open", again.Status)
}
