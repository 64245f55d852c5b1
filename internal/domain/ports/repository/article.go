package repository

import (
	"context"

	"notes-embedding-worker/internal/domain/model"
)

// ArticleReader is the read side of the article storage the queue depends on.
type ArticleReader interface {
	// ReadArticleContent returns domain.ErrNotFound for unknown or deleted articles.
	ReadArticleContent(ctx context.Context, articleID string) (*model.ArticleContent, error)
	ListArticles(ctx context.Context) ([]model.ArticleRef, error)
}
