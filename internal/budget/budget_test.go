package budget

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/ckoons/katra/internal/config"
	"github.com/ckoons/katra/internal/storage"
	"github.com/ckoons/katra/internal/storage/sqlite"
	"github.com/ckoons/katra/internal/types"
)

func openTestStore(t *testing.T) storage.Storage {
	t.Helper()
	dir := t.TempDir()
	s, err := sqlite.Open(context.Background(), filepath.Join(dir, "tier1.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertSessionScoped(t *testing.T, store storage.Storage, ciID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		r := &types.Record{
			CIID:          ciID,
			Content:       "session memory",
			Type:          types.TypeExperience,
			Importance:    0.2,
			Isolation:     types.IsolationPrivate,
			SessionScoped: true,
		}
		_, err := store.CreateRecord(ctx, r)
		require.NoError(t, err)
	}
}

func TestCheckNoOpBelowSoftLimit(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	insertSessionScoped(t, store, "alice", 5)

	cfg := config.BudgetConfig{SoftLimit: 10, HardLimit: 15, BatchSize: 3}
	res, err := Check(ctx, store, "alice", cfg)
	require.NoError(t, err)
	require.Equal(t, ActionNone, res.Action)

	count, err := store.CountSessionScoped(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 5, count)
}

func TestCheckHardLimitDeletesOldestBatch(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	insertSessionScoped(t, store, "alice", 16)

	cfg := config.BudgetConfig{SoftLimit: 10, HardLimit: 15, BatchSize: 3}
	res, err := Check(ctx, store, "alice", cfg)
	require.NoError(t, err)
	require.Equal(t, ActionDeleted, res.Action)
	require.Len(t, res.RecordIDs, 3)

	count, err := store.CountSessionScoped(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 13, count)
}

func TestCheckSoftLimitConvertsOldestBatch(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	insertSessionScoped(t, store, "alice", 13)

	cfg := config.BudgetConfig{SoftLimit: 10, HardLimit: 15, BatchSize: 3}
	res, err := Check(ctx, store, "alice", cfg)
	require.NoError(t, err)
	require.Equal(t, ActionConverted, res.Action)
	require.Len(t, res.RecordIDs, 3)

	count, err := store.CountSessionScoped(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 10, count)
}

func TestBudgetAcceptanceSequence(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	insertSessionScoped(t, store, "alice", 16)

	cfg := config.BudgetConfig{SoftLimit: 10, HardLimit: 15, BatchSize: 3}

	res, err := Check(ctx, store, "alice", cfg)
	require.NoError(t, err)
	require.Equal(t, ActionDeleted, res.Action)
	count, err := store.CountSessionScoped(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 13, count)

	res, err = Check(ctx, store, "alice", cfg)
	require.NoError(t, err)
	require.Equal(t, ActionConverted, res.Action)
	count, err = store.CountSessionScoped(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 10, count)

	res, err = Check(ctx, store, "alice", cfg)
	require.NoError(t, err)
	require.Equal(t, ActionNone, res.Action)
}
