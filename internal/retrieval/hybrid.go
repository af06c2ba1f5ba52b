// Package retrieval implements the hybrid keyword+vector search of spec
// §4.5: a keyword phase (case-insensitive substring match) and a vector
// phase (cosine similarity above a threshold), merged by record_id taking
// the max score. Grounded on the teacher's internal/query staged
// lexer/parser/evaluator pipeline idiom (tokenize, then evaluate against
// a predicate), scaled down from a general query DSL to the simpler
// two-phase merge spec.md's Non-goals call for.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ckoons/katra/internal/storage"
	"github.com/ckoons/katra/internal/types"
	"github.com/ckoons/katra/internal/vectorindex"
)

// Result is one hybrid search hit, per spec §4.5's merged-by-record_id
// contract.
type Result struct {
	RecordID     string
	Content      string
	Score        float64
	FromKeyword  bool
	FromSemantic bool
	Timestamp    time.Time
}

// Options tunes one hybrid search call.
type Options struct {
	TopK              int
	SemanticThreshold float64
	VectorEnabled     bool
}

// Search walks ciID's Tier-1 records for topic, per spec §4.5: a keyword
// substring phase (score 1.0) and, if enabled, a vector phase (score =
// cosine similarity, kept only when >= opts.SemanticThreshold). Results
// are merged by record_id taking the max score, each carrying
// from_keyword/from_semantic flags, ordered score descending then
// timestamp descending.
func Search(ctx context.Context, store storage.Storage, index *vectorindex.Index, ciID, topic string, opts Options) ([]Result, error) {
	records, err := store.Query(ctx, storage.Filter{CIID: ciID})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Result)
	lowerTopic := strings.ToLower(topic)

	for _, r := range records {
		if strings.Contains(strings.ToLower(r.Content), lowerTopic) {
			byID[r.RecordID] = &Result{
				RecordID:    r.RecordID,
				Content:     r.Content,
				Score:       1.0,
				FromKeyword: true,
				Timestamp:   r.Timestamp,
			}
		}
	}

	if opts.VectorEnabled && index != nil {
		hits, err := index.Search(ctx, ciID, topic, opts.TopK)
		if err != nil {
			return nil, err
		}
		contentByID := make(map[string]*types.Record, len(records))
		for _, r := range records {
			contentByID[r.RecordID] = r
		}
		for _, h := range hits {
			if h.Similarity < opts.SemanticThreshold {
				continue
			}
			rec, ok := contentByID[h.RecordID]
			if !ok {
				continue
			}
			if existing, ok := byID[h.RecordID]; ok {
				existing.FromSemantic = true
				if h.Similarity > existing.Score {
					existing.Score = h.Similarity
				}
				continue
			}
			byID[h.RecordID] = &Result{
				RecordID:     h.RecordID,
				Content:      rec.Content,
				Score:        h.Similarity,
				FromSemantic: true,
				Timestamp:    rec.Timestamp,
			}
		}
	}

	out := make([]Result, 0, len(byID))
	for _, r := range byID {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if opts.TopK > 0 && len(out) > opts.TopK {
		out = out[:opts.TopK]
	}
	return out, nil
}
