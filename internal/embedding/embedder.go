// Package embedding turns chunk text into vectors via an OpenAI-compatible
// embeddings API.
package embedding

import "context"

// Embedder produces embedding vectors for text. EmbedBatch preserves input
// order: result[i] is always the vector for texts[i].
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}
