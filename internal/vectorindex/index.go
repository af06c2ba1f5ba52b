package vectorindex

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"sort"
	"sync"

	"github.com/ckoons/katra/internal/katraerr"
	"github.com/ckoons/katra/internal/types"
)

// SearchResult is one hit from Search, per spec §4.2's
// (record_id, similarity) pair.
type SearchResult struct {
	RecordID   string
	Similarity float64
}

// Index maps record_id -> embedding for one agent's Tier-1 content,
// persisted in the same SQLite database as the Tier-1 store (spec §4.2).
type Index struct {
	db       *sql.DB
	mu       sync.RWMutex
	embedder Embedder
}

// NewIndex returns an Index backed by db, using embedder for all Embed
// calls. Callers choose the concrete Embedder (HashEmbedder,
// TFIDFEmbedder, ExternalEmbedder) per the configured scheme.
func NewIndex(ctx context.Context, db *sql.DB, embedder Embedder) (*Index, error) {
	if err := EnsureSchema(ctx, db); err != nil {
		return nil, err
	}
	return &Index{db: db, embedder: embedder}, nil
}

// Scheme reports the active embedding scheme name.
func (idx *Index) Scheme() string { return idx.embedder.Scheme() }

// Store computes content's embedding under the current scheme and
// persists it for recordID, replacing any prior embedding for the same
// (record_id, scheme) pair.
func (idx *Index) Store(ctx context.Context, ciID, recordID, content string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	v, err := idx.embedder.Embed(ctx, content)
	if err != nil {
		return katraerr.Wrap(katraerr.KindSystemMemory, "embed content", err)
	}
	return idx.persist(ctx, ciID, recordID, v)
}

func (idx *Index) persist(ctx context.Context, ciID, recordID string, v Vector) error {
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO vectors (record_id, ci_id, scheme, dims, vector)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(record_id, scheme) DO UPDATE SET
			ci_id = excluded.ci_id,
			dims = excluded.dims,
			vector = excluded.vector
	`, recordID, ciID, idx.embedder.Scheme(), len(v), encodeVector(v))
	if err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "persist embedding", err)
	}
	return nil
}

// Search computes queryText's embedding and returns the top-k most
// cosine-similar records for ciID, descending by similarity, per spec
// §4.2.
func (idx *Index) Search(ctx context.Context, ciID, queryText string, topK int) ([]SearchResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	queryVec, err := idx.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, katraerr.Wrap(katraerr.KindSystemMemory, "embed query", err)
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT record_id, vector FROM vectors WHERE ci_id = ? AND scheme = ?
	`, ciID, idx.embedder.Scheme())
	if err != nil {
		return nil, katraerr.Wrap(katraerr.KindSystemFile, "query vectors", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var recordID string
		var blob []byte
		if err := rows.Scan(&recordID, &blob); err != nil {
			return nil, katraerr.Wrap(katraerr.KindSystemFile, "scan vector", err)
		}
		v := decodeVector(blob)
		sim := cosineSimilarity(queryVec, v)
		if math.IsNaN(sim) {
			sim = 0
		}
		results = append(results, SearchResult{RecordID: recordID, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, katraerr.Wrap(katraerr.KindSystemFile, "iterate vectors", err)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].RecordID < results[j].RecordID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// RegenerateAll rebuilds every embedding for ciID's records under the
// current scheme. For Regenerable embedders (tfidf) this is the two-pass
// process of spec §4.2: pass 1 accumulates corpus statistics across all
// content, pass 2 embeds each record against the frozen statistics. For
// non-regenerable embedders (hash, external) it simply recomputes each
// record's embedding directly, since those schemes carry no corpus state
// to refresh.
func (idx *Index) RegenerateAll(ctx context.Context, ciID string, records []*types.Record) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if regen, ok := idx.embedder.(Regenerable); ok {
		regen.BeginRegeneration()
		for _, r := range records {
			if r.Content == "" {
				continue
			}
			regen.Accumulate(r.Content)
		}
		regen.FreezeStats()
	}

	for _, r := range records {
		if r.Content == "" {
			continue
		}
		v, err := idx.embedder.Embed(ctx, r.Content)
		if err != nil {
			return katraerr.Wrap(katraerr.KindSystemMemory, "embed during regenerate_all", err)
		}
		if err := idx.persist(ctx, ciID, r.RecordID, v); err != nil {
			return err
		}
	}
	return nil
}

// Clear erases all persisted embeddings for ciID under the current
// scheme, per spec §4.2.
func (idx *Index) Clear(ctx context.Context, ciID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, err := idx.db.ExecContext(ctx, `DELETE FROM vectors WHERE ci_id = ? AND scheme = ?`, ciID, idx.embedder.Scheme())
	if err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "clear vectors", err)
	}
	return nil
}

func encodeVector(v Vector) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(len(v) * 8)
	for _, x := range v {
		binary.Write(buf, binary.LittleEndian, x)
	}
	return buf.Bytes()
}

func decodeVector(data []byte) Vector {
	n := len(data) / 8
	v := make(Vector, n)
	r := bytes.NewReader(data)
	for i := 0; i < n; i++ {
		binary.Read(r, binary.LittleEndian, &v[i])
	}
	return v
}
