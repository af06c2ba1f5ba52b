package vectorindex

import (
	"context"

	"github.com/ckoons/katra/internal/llmembed"
)

// ExternalEmbedder adapts a caller-supplied llmembed.Provider to the
// Embedder interface for the "external" scheme, per spec §4.2.
type ExternalEmbedder struct {
	provider llmembed.Provider
}

// NewExternalEmbedder wraps provider as an Embedder.
func NewExternalEmbedder(provider llmembed.Provider) *ExternalEmbedder {
	return &ExternalEmbedder{provider: provider}
}

func (e *ExternalEmbedder) Scheme() string  { return "external" }
func (e *ExternalEmbedder) Dimensions() int { return e.provider.Dimensions() }

func (e *ExternalEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	v, err := e.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return Vector(v), nil
}
