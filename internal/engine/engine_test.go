package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ckoons/katra/internal/config"
	"github.com/ckoons/katra/internal/retrieval"
	"github.com/ckoons/katra/internal/types"
)

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Graph.Enabled = false
	cfg.Maintenance.Capacity = 1000
	return cfg
}

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(context.Background(), dir, testConfig(dir))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestOpenCreatesDirectoryLayout(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(context.Background(), dir, testConfig(dir))
	require.NoError(t, err)
	defer e.Close()

	for _, sub := range []string{
		filepath.Join(dir, "tier1"),
		filepath.Join(dir, "tier2", "weekly"),
		filepath.Join(dir, "tier2", "monthly"),
		filepath.Join(dir, "chat"),
	} {
		require.DirExists(t, sub)
	}
}

func TestRememberAndRecallRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	r := &types.Record{
		CIID:       "alice",
		Content:    "decided to use sqlite for tier1 storage",
		Type:       types.TypeDecision,
		Importance: 0.6,
		Isolation:  types.IsolationPrivate,
	}
	id, err := e.Remember(ctx, r)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	results, err := e.Recall(ctx, "alice", "sqlite", retrieval.Options{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestRememberRefusesLowImportanceWriteUnderCriticalHealth(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Maintenance.Capacity = 2
	cfg.Maintenance.LowFillThreshold = 0.1
	cfg.Maintenance.HighFillThreshold = 0.2
	cfg.Maintenance.CriticalWriteFloor = 0.9

	e, err := Open(ctx, dir, cfg)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Remember(ctx, &types.Record{
		CIID: "alice", Content: "first", Type: types.TypeExperience,
		Importance: 0.9, Isolation: types.IsolationPrivate,
	})
	require.NoError(t, err)

	_, err = e.Remember(ctx, &types.Record{
		CIID: "alice", Content: "second low importance", Type: types.TypeExperience,
		Importance: 0.1, Isolation: types.IsolationPrivate,
	})
	require.Error(t, err)
}

func TestSetGraphEnabledTogglesGraphIndex(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	require.Nil(t, e.Graph())
	require.NoError(t, e.SetGraphEnabled(ctx, true))
	require.NotNil(t, e.Graph())
	require.NoError(t, e.SetGraphEnabled(ctx, false))
	require.Nil(t, e.Graph())
}

func TestTickRunsMaintenanceCycle(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	result, err := e.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestCloseSucceedsOnSingleCall(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(context.Background(), dir, testConfig(dir))
	require.NoError(t, err)
	require.NoError(t, e.Close())
}
