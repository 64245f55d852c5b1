package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/repository"
)

var _ repository.ArticleReader = (*articleRepo)(nil)

// articleRepo reads the article table owned by the notes application.
type articleRepo struct {
	pool *pgxpool.Pool
}

func NewArticleRepo(pool *pgxpool.Pool) *articleRepo {
	return &articleRepo{pool: pool}
}

func (r *articleRepo) ReadArticleContent(ctx context.Context, articleID string) (*model.ArticleContent, error) {
	defer observe("article_read", time.Now())
	row, err := pickRow(ctx, r.pool, repository.NoTX,
		`SELECT id, slug, title, body FROM articles WHERE id = $1 AND deleted_at IS NULL;`, articleID)
	if err != nil {
		return nil, err
	}
	var a model.ArticleContent
	if err := row.Scan(&a.ID, &a.Slug, &a.Title, &a.Body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &a, nil
}

func (r *articleRepo) ListArticles(ctx context.Context) ([]model.ArticleRef, error) {
	defer observe("article_list", time.Now())
	rows, err := queryRows(ctx, r.pool, repository.NoTX,
		`SELECT id, slug, title FROM articles WHERE deleted_at IS NULL ORDER BY created_at, id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ArticleRef
	for rows.Next() {
		var a model.ArticleRef
		if err := rows.Scan(&a.ID, &a.Slug, &a.Title); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveArticle upserts an article row; used by seeding and tests.
func (r *articleRepo) SaveArticle(ctx context.Context, a *model.ArticleContent) error {
	const q = `
INSERT INTO articles (id, slug, title, body)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
  slug = EXCLUDED.slug, title = EXCLUDED.title, body = EXCLUDED.body, updated_at = now();`
	_, err := execSQL(ctx, r.pool, repository.NoTX, q, a.ID, a.Slug, a.Title, a.Body)
	return err
}
