// Package llmembed defines the external embedding collaborator named in
// spec.md §4.2's "external" vector scheme. No default network
// implementation ships here — the retrieval pack has no embeddings-capable
// client to ground one on, so hash/tfidf remain the always-available
// local schemes and Provider is left for a host application to supply.
package llmembed

import "context"

// Provider computes a dense embedding for a piece of text. Implementations
// are expected to return vectors of one fixed dimensionality for the
// lifetime of a Provider instance.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}
