package adapter

import "context"

// EmbeddingProvider turns text into a vector. Implementations return
// domain.TaskError values so callers can tell transient from terminal failures.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimensions() int
}
