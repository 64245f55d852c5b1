package adapter

import "notes-embedding-worker/internal/domain/model"

// Chunker splits an article body into overlapping segments with heading context.
type Chunker interface {
	Chunk(title, body string) ([]model.Chunk, error)
}
