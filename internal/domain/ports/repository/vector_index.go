package repository

import "context"

// ChunkVector is one embedded chunk keyed by (ArticleID, ChunkIndex).
type ChunkVector struct {
	ArticleID   string
	ChunkIndex  int
	Vector      []float32
	Text        string
	HeadingPath string
}

// VectorIndex stores chunk vectors. Upsert must be idempotent.
type VectorIndex interface {
	Upsert(ctx context.Context, v ChunkVector) error
	DeleteAllForArticle(ctx context.Context, articleID string) error
	// DeleteChunksFrom removes chunks with index >= fromIndex (left over after an article shrank).
	DeleteChunksFrom(ctx context.Context, articleID string, fromIndex int) error
	ArticlesWithVectors(ctx context.Context) (map[string]struct{}, error)
}
