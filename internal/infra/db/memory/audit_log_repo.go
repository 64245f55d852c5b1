package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/repository"
)

var _ repository.AuditLogRepository = (*AuditLogRepo)(nil)

type AuditLogRepo struct {
	mu      sync.Mutex
	entries []*model.AuditLogEntry
}

func NewAuditLogRepo() *AuditLogRepo { return &AuditLogRepo{} }

func (r *AuditLogRepo) Insert(ctx context.Context, e *model.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	c := *e
	r.entries = append(r.entries, &c)
	return nil
}

func (r *AuditLogRepo) Query(ctx context.Context, f model.AuditLogFilter, page, pageSize int) (*model.Page[*model.AuditLogEntry], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	page, pageSize, offset := model.NormalizePage(page, pageSize)
	var all []*model.AuditLogEntry
	for _, e := range r.entries {
		if f.From != nil && e.Timestamp.Before(*f.From) ||
			f.To != nil && e.Timestamp.After(*f.To) ||
			f.Level != "" && e.Level != f.Level ||
			f.Category != "" && e.Category != f.Category ||
			f.TaskID != "" && e.TaskID != f.TaskID ||
			f.ArticleID != "" && e.ArticleID != f.ArticleID ||
			f.OperationID != "" && e.OperationID != f.OperationID {
			continue
		}
		all = append(all, e)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	var items []*model.AuditLogEntry
	for i := offset; i < len(all) && i < offset+pageSize; i++ {
		c := *all[i]
		items = append(items, &c)
	}
	return model.NewPage(items, len(all), page, pageSize), nil
}

func (r *AuditLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	n := 0
	for _, e := range r.entries {
		if e.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return n, nil
}

// All returns a snapshot in insertion order.
func (r *AuditLogRepo) All() []model.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AuditLogEntry, len(r.entries))
	for i, e := range r.entries {
		out[i] = *e
	}
	return out
}
