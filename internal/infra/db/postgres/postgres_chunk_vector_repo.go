package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"notes-embedding-worker/internal/domain/ports/repository"
)

var _ repository.VectorIndex = (*chunkVectorRepo)(nil)

// chunkVectorRepo stores chunk embeddings as REAL[] keyed by (article_id, chunk_index).
type chunkVectorRepo struct {
	pool *pgxpool.Pool
}

func NewChunkVectorRepo(pool *pgxpool.Pool) *chunkVectorRepo {
	return &chunkVectorRepo{pool: pool}
}

func (r *chunkVectorRepo) Upsert(ctx context.Context, v repository.ChunkVector) error {
	defer observe("vector_upsert", time.Now())
	const q = `
INSERT INTO article_chunks (article_id, chunk_index, heading_path, content, embedding, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (article_id, chunk_index) DO UPDATE SET
  heading_path = EXCLUDED.heading_path,
  content = EXCLUDED.content,
  embedding = EXCLUDED.embedding,
  updated_at = now();`
	_, err := execSQL(ctx, r.pool, repository.NoTX, q, v.ArticleID, v.ChunkIndex, v.HeadingPath, v.Text, v.Vector)
	return err
}

func (r *chunkVectorRepo) DeleteAllForArticle(ctx context.Context, articleID string) error {
	defer observe("vector_delete_article", time.Now())
	_, err := execSQL(ctx, r.pool, repository.NoTX, `DELETE FROM article_chunks WHERE article_id = $1;`, articleID)
	return err
}

func (r *chunkVectorRepo) DeleteChunksFrom(ctx context.Context, articleID string, fromIndex int) error {
	defer observe("vector_delete_tail", time.Now())
	_, err := execSQL(ctx, r.pool, repository.NoTX,
		`DELETE FROM article_chunks WHERE article_id = $1 AND chunk_index >= $2;`, articleID, fromIndex)
	return err
}

func (r *chunkVectorRepo) ArticlesWithVectors(ctx context.Context) (map[string]struct{}, error) {
	defer observe("vector_articles", time.Now())
	rows, err := queryRows(ctx, r.pool, repository.NoTX, `SELECT DISTINCT article_id FROM article_chunks;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}
