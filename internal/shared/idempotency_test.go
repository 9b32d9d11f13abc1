package shared

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore()

	require.NoError(t, store.CheckAndInsert(ctx, "k1", "sales_invoice"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "k1", "sales_invoice"), ErrIdempotencyConflict)

	require.NoError(t, store.Delete(ctx, "k1"))
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "sales_invoice"))

	require.Error(t, store.CheckAndInsert(ctx, "", "sales_invoice"))
}

func TestMemoryIdempotencyCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	require.NoError(t, store.CheckAndInsert(ctx, "old", "payment"))

	store.now = func() time.Time { return base.Add(48 * time.Hour) }
	require.NoError(t, store.Cleanup(ctx, 24*time.Hour))
	require.NoError(t, store.CheckAndInsert(ctx, "old", "payment"))
}
