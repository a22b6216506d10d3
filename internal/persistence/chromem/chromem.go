// Package chromem adapts github.com/philippgille/chromem-go's embedding
// functions to state.Embedder's narrow Embed(ctx, text) interface —
// chromem-go's EmbeddingFunc already matches it field-for-field.
package chromem

import (
	"context"

	chromem "github.com/philippgille/chromem-go"
)

// Embedder wraps a chromem-go EmbeddingFunc so it satisfies
// state.Embedder.
type Embedder struct {
	fn chromem.EmbeddingFunc
}

// New wraps an arbitrary chromem-go embedding function.
func New(fn chromem.EmbeddingFunc) *Embedder {
	return &Embedder{fn: fn}
}

// NewOpenAIEmbedder builds an Embedder backed by chromem-go's OpenAI
// embedding function, authenticated with apiKey. An empty model selects
// text-embedding-3-small.
func NewOpenAIEmbedder(apiKey, model string) *Embedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return New(chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI(model)))
}

// Embed implements state.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.fn(ctx, text)
}
