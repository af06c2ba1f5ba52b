package vectorindex

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/ckoons/katra/internal/types"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(dir, "vec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHashEmbedderDeterministic(t *testing.T) {
	h := NewHashEmbedder(64)
	v1, err := h.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	v2, err := h.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Len(t, v1, 64)
}

func TestCosineSimilaritySelfIsOne(t *testing.T) {
	v := Vector{1, 2, 3}
	sim := cosineSimilarity(v, v)
	require.InDelta(t, 1.0, sim, 1e-9)
}

func TestCosineSimilarityMismatchedLengthIsZero(t *testing.T) {
	require.Equal(t, 0.0, cosineSimilarity(Vector{1, 2}, Vector{1, 2, 3}))
}

func TestIndexStoreAndSearchHash(t *testing.T) {
	db := openTestDB(t)
	idx, err := NewIndex(context.Background(), db, NewHashEmbedder(128))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, idx.Store(ctx, "agent-1", "rec-1", "golang concurrency patterns"))
	require.NoError(t, idx.Store(ctx, "agent-1", "rec-2", "baking sourdough bread"))

	results, err := idx.Search(ctx, "agent-1", "golang concurrency", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "rec-1", results[0].RecordID)
}

func TestIndexClearRemovesEmbeddings(t *testing.T) {
	db := openTestDB(t)
	idx, err := NewIndex(context.Background(), db, NewHashEmbedder(32))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.Store(ctx, "agent-1", "rec-1", "hello world"))
	require.NoError(t, idx.Clear(ctx, "agent-1"))

	results, err := idx.Search(ctx, "agent-1", "hello", 5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestTFIDFRegenerateAllTwoPass(t *testing.T) {
	db := openTestDB(t)
	idx, err := NewIndex(context.Background(), db, NewTFIDFEmbedder())
	require.NoError(t, err)
	ctx := context.Background()

	records := []*types.Record{
		{RecordID: "rec-1", Content: "the fox jumps over the lazy dog"},
		{RecordID: "rec-2", Content: "the dog barks at the moon"},
	}
	require.NoError(t, idx.RegenerateAll(ctx, "agent-1", records))

	results, err := idx.Search(ctx, "agent-1", "fox jumps", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "rec-1", results[0].RecordID)
}

func TestTFIDFEmbedEmptyVocabReturnsEmptyVector(t *testing.T) {
	e := NewTFIDFEmbedder()
	v, err := e.Embed(context.Background(), "anything")
	require.NoError(t, err)
	require.Empty(t, v)
}
