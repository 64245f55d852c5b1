package repository

import (
	"context"
	"time"

	"notes-embedding-worker/internal/domain/model"
)

type AuditLogRepository interface {
	Insert(ctx context.Context, entry *model.AuditLogEntry) error
	Query(ctx context.Context, filter model.AuditLogFilter, page, pageSize int) (*model.Page[*model.AuditLogEntry], error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
