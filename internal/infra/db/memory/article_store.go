package memory

import (
	"context"
	"sort"
	"sync"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/repository"
)

var (
	_ repository.ArticleReader = (*ArticleStore)(nil)
	_ repository.VectorIndex   = (*VectorIndex)(nil)
)

type ArticleStore struct {
	mu       sync.Mutex
	articles map[string]model.ArticleContent
	order    []string
}

func NewArticleStore() *ArticleStore {
	return &ArticleStore{articles: make(map[string]model.ArticleContent)}
}

func (s *ArticleStore) Put(a model.ArticleContent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.articles[a.ID]; !ok {
		s.order = append(s.order, a.ID)
	}
	s.articles[a.ID] = a
}

func (s *ArticleStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.articles, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *ArticleStore) ReadArticleContent(ctx context.Context, articleID string) (*model.ArticleContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.articles[articleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (s *ArticleStore) ListArticles(ctx context.Context) ([]model.ArticleRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ArticleRef, 0, len(s.order))
	for _, id := range s.order {
		a := s.articles[id]
		out = append(out, model.ArticleRef{ID: a.ID, Slug: a.Slug, Title: a.Title})
	}
	return out, nil
}

type VectorIndex struct {
	mu     sync.Mutex
	chunks map[string]map[int]repository.ChunkVector
}

func NewVectorIndex() *VectorIndex {
	return &VectorIndex{chunks: make(map[string]map[int]repository.ChunkVector)}
}

func (v *VectorIndex) Upsert(ctx context.Context, c repository.ChunkVector) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, ok := v.chunks[c.ArticleID]
	if !ok {
		m = make(map[int]repository.ChunkVector)
		v.chunks[c.ArticleID] = m
	}
	m[c.ChunkIndex] = c
	return nil
}

func (v *VectorIndex) DeleteAllForArticle(ctx context.Context, articleID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.chunks, articleID)
	return nil
}

func (v *VectorIndex) DeleteChunksFrom(ctx context.Context, articleID string, fromIndex int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	m := v.chunks[articleID]
	for idx := range m {
		if idx >= fromIndex {
			delete(m, idx)
		}
	}
	if len(m) == 0 {
		delete(v.chunks, articleID)
	}
	return nil
}

func (v *VectorIndex) ArticlesWithVectors(ctx context.Context) (map[string]struct{}, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]struct{}, len(v.chunks))
	for id := range v.chunks {
		out[id] = struct{}{}
	}
	return out, nil
}

// Chunks returns the stored chunks of one article ordered by index.
func (v *VectorIndex) Chunks(articleID string) []repository.ChunkVector {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []repository.ChunkVector
	for _, c := range v.chunks[articleID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}
