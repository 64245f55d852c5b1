package model

import "time"

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

type LogCategory string

const (
	CategoryTaskLifecycle   LogCategory = "task_lifecycle"
	CategoryWorkerStatus    LogCategory = "worker_status"
	CategoryQueueOperations LogCategory = "queue_operations"
	CategoryPerformance     LogCategory = "performance"
	CategoryErrorHandling   LogCategory = "error_handling"
	CategoryBulkOperations  LogCategory = "bulk_operations"
)

func (c LogCategory) Valid() bool {
	switch c {
	case CategoryTaskLifecycle, CategoryWorkerStatus, CategoryQueueOperations,
		CategoryPerformance, CategoryErrorHandling, CategoryBulkOperations:
		return true
	}
	return false
}

// AuditLogEntry is an append-only fact about the queue.
type AuditLogEntry struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Level       LogLevel          `json:"level"`
	Category    LogCategory       `json:"category"`
	Message     string            `json:"message"`
	TaskID      string            `json:"taskId,omitempty"`
	ArticleID   string            `json:"articleId,omitempty"`
	OperationID string            `json:"operationId,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Duration    *time.Duration    `json:"duration,omitempty"`
	Error       string            `json:"error,omitempty"`
}

type AuditLogFilter struct {
	From        *time.Time
	To          *time.Time
	Level       LogLevel
	Category    LogCategory
	TaskID      string
	ArticleID   string
	OperationID string
}
