package embeddings

import "context"

// Vector is a fixed-dimension embedding.
type Vector []float32

// Embedder turns text into a vector. Implementations must be deterministic:
// the same text always maps to the same vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
}
