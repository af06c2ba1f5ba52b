package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ckoons/katra/internal/storage"
	"github.com/ckoons/katra/internal/types"
)

func setupTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "tier1.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRecord(ciID, content string) *types.Record {
	return &types.Record{
		CIID:       ciID,
		Content:    content,
		Type:       types.TypeExperience,
		Importance: 0.5,
		Isolation:  types.IsolationPrivate,
	}
}

func TestCreateAndGetRecord(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := newTestRecord("agent-1", "first memory")
	r.RecordID = "rec-test0001"
	id, err := s.CreateRecord(ctx, r)
	require.NoError(t, err)
	require.Equal(t, "rec-test0001", id)

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "first memory", got.Content)
	require.Equal(t, "agent-1", got.CIID)
}

func TestCreateRecordRejectsEmptyContent(t *testing.T) {
	s := setupTestStore(t)
	r := newTestRecord("agent-1", "   ")
	r.RecordID = "rec-test0002"
	_, err := s.CreateRecord(context.Background(), r)
	require.Error(t, err)
}

func TestQueryOrdersNewestFirstWithTieBreak(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	r1 := newTestRecord("agent-1", "alpha")
	r1.RecordID = "rec-aaa00001"
	r1.Timestamp = base
	r2 := newTestRecord("agent-1", "beta")
	r2.RecordID = "rec-bbb00001"
	r2.Timestamp = base

	require.NoError(t, s.Store(ctx, r1))
	require.NoError(t, s.Store(ctx, r2))

	out, err := s.Query(ctx, storage.Filter{CIID: "agent-1"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	// same timestamp -> record_id ascending tie-break
	require.Equal(t, "rec-aaa00001", out[0].RecordID)
	require.Equal(t, "rec-bbb00001", out[1].RecordID)
}

func TestQueryTouchesLastAccessed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := newTestRecord("agent-1", "touched")
	r.RecordID = "rec-touch001"
	r.LastAccessed = time.Unix(0, 0).UTC()
	require.NoError(t, s.Store(ctx, r))

	out, err := s.Query(ctx, storage.Filter{CIID: "agent-1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.WithinDuration(t, time.Now().UTC(), out[0].LastAccessed, 5*time.Second)
}

func TestStoreDedupWindowCollapses(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "tier1.db"), time.Hour)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	r1 := newTestRecord("agent-1", "dup me")
	r1.RecordID = "rec-dup00001"
	r1.Timestamp = now
	require.NoError(t, s.Store(ctx, r1))

	r2 := newTestRecord("agent-1", "dup me")
	r2.RecordID = "rec-dup00002"
	r2.Timestamp = now.Add(time.Minute)
	require.NoError(t, s.Store(ctx, r2))

	out, err := s.Query(ctx, storage.Filter{CIID: "agent-1"})
	require.NoError(t, err)
	require.Len(t, out, 1, "second store within dedup window should be collapsed")
}

func TestUpdateMetadataMarkedImportantDominates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := newTestRecord("agent-1", "mark me")
	r.RecordID = "rec-mark0001"
	r.MarkedForgettable = true
	require.NoError(t, s.Store(ctx, r))

	important := true
	require.NoError(t, s.UpdateMetadata(ctx, r.RecordID, storage.MetadataUpdate{MarkedImportant: &important}))

	got, err := s.GetByID(ctx, r.RecordID)
	require.NoError(t, err)
	require.True(t, got.MarkedImportant)
	require.False(t, got.MarkedForgettable)
}

func TestUpdateMetadataNotFound(t *testing.T) {
	s := setupTestStore(t)
	important := true
	err := s.UpdateMetadata(context.Background(), "rec-missing01", storage.MetadataUpdate{MarkedImportant: &important})
	require.Error(t, err)
}

func TestDeleteRecords(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := newTestRecord("agent-1", "delete me")
	r.RecordID = "rec-del00001"
	require.NoError(t, s.Store(ctx, r))

	require.NoError(t, s.DeleteRecords(ctx, []string{r.RecordID}))
	_, err := s.GetByID(ctx, r.RecordID)
	require.Error(t, err)
}

func TestSessionScopedBudgetHelpers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		r := newTestRecord("agent-1", "session memory")
		r.RecordID = "rec-sess000" + string(rune('1'+i))
		r.SessionScoped = true
		r.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Store(ctx, r))
	}

	count, err := s.CountSessionScoped(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, 3, count)

	oldest, err := s.OldestSessionScoped(ctx, "agent-1", 2)
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	require.Equal(t, "rec-sess0001", oldest[0])

	require.NoError(t, s.ConvertToNonSessionScoped(ctx, oldest))
	count, err = s.CountSessionScoped(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestFlush(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Flush(context.Background()))
}
