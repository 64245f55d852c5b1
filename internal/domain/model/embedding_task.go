package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"notes-embedding-worker/internal/domain"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusProcessing,
	TaskStatusCompleted,
	TaskStatusFailed,
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// Active reports whether a task in this status still occupies its article.
func (s TaskStatus) Active() bool {
	return s == TaskStatusPending || s == TaskStatusProcessing
}

type TaskOperation string

const (
	TaskOperationCreate TaskOperation = "create"
	TaskOperationUpdate TaskOperation = "update"
	TaskOperationDelete TaskOperation = "delete"
)

func (o TaskOperation) Valid() bool {
	switch o {
	case TaskOperationCreate, TaskOperationUpdate, TaskOperationDelete:
		return true
	}
	return false
}

type TaskPriority string

const (
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityNormal TaskPriority = "normal"
	TaskPriorityLow    TaskPriority = "low"
)

var AllTaskPriorities = []TaskPriority{TaskPriorityHigh, TaskPriorityNormal, TaskPriorityLow}

func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityHigh, TaskPriorityNormal, TaskPriorityLow:
		return true
	}
	return false
}

// Rank orders priorities for claiming: lower rank is claimed first.
func (p TaskPriority) Rank() int {
	switch p {
	case TaskPriorityHigh:
		return 0
	case TaskPriorityNormal:
		return 1
	default:
		return 2
	}
}

// Well-known metadata keys.
const (
	MetaReason      = "reason"
	MetaOperationID = "operationId"
	MetaSource      = "source"
)

// TaskMetadata is the free-form key/value bag attached to a task.
// It is stored as JSONB.
type TaskMetadata map[string]string

func (m TaskMetadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *TaskMetadata) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*m = TaskMetadata{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("task metadata: unsupported type %T", src)
	}
	out := TaskMetadata{}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &out); err != nil {
			return err
		}
	}
	*m = out
	return nil
}

func (m TaskMetadata) Clone() TaskMetadata {
	out := make(TaskMetadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type EmbeddingTask struct {
	ID           string        `json:"id"`
	ArticleID    string        `json:"articleId"`
	Slug         string        `json:"slug"`
	Operation    TaskOperation `json:"operation"`
	Priority     TaskPriority  `json:"priority"`
	Status       TaskStatus    `json:"status"`
	Attempts     int           `json:"attempts"`
	MaxAttempts  int           `json:"maxAttempts"`
	CreatedAt    time.Time     `json:"createdAt"`
	ScheduledAt  time.Time     `json:"scheduledAt"`
	ProcessedAt  *time.Time    `json:"processedAt,omitempty"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	Metadata     TaskMetadata  `json:"metadata"`
}

// NewEmbeddingTask builds a pending task. ID is assigned by the repository when empty.
func NewEmbeddingTask(articleID, slug string, op TaskOperation, priority TaskPriority, maxAttempts int, scheduledAt, now time.Time, meta TaskMetadata) (*EmbeddingTask, error) {
	if articleID == "" {
		return nil, fmt.Errorf("%w: article id is required", domain.ErrInvalidArgument)
	}
	if !op.Valid() {
		return nil, fmt.Errorf("%w: operation %q", domain.ErrInvalidArgument, op)
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: priority %q", domain.ErrInvalidArgument, priority)
	}
	if maxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be >= 1, got %d", domain.ErrInvalidArgument, maxAttempts)
	}
	if scheduledAt.IsZero() {
		scheduledAt = now
	}
	return &EmbeddingTask{
		ArticleID:   articleID,
		Slug:        slug,
		Operation:   op,
		Priority:    priority,
		Status:      TaskStatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		ScheduledAt: scheduledAt,
		Metadata:    meta.Clone(),
	}, nil
}

// Claimable reports whether the task may be picked up at now.
func (t *EmbeddingTask) Claimable(now time.Time) bool {
	return t.Status == TaskStatusPending && !t.ScheduledAt.After(now)
}

// Terminal reports whether the task will never run again on its own.
func (t *EmbeddingTask) Terminal() bool {
	return t.Status == TaskStatusCompleted ||
		(t.Status == TaskStatusFailed && t.Attempts >= t.MaxAttempts)
}

// Retryable reports whether RetryFailedTasks may move the task back to pending.
func (t *EmbeddingTask) Retryable() bool {
	return t.Status == TaskStatusFailed && t.Attempts < t.MaxAttempts
}

func (t *EmbeddingTask) OperationID() string {
	if t.Metadata == nil {
		return ""
	}
	return t.Metadata[MetaOperationID]
}

// ProcessingTime is completedAt - processedAt for completed tasks.
func (t *EmbeddingTask) ProcessingTime() (time.Duration, bool) {
	if t.Status != TaskStatusCompleted || t.ProcessedAt == nil || t.CompletedAt == nil {
		return 0, false
	}
	return t.CompletedAt.Sub(*t.ProcessedAt), true
}

// BackoffDelay returns base * 2^(attempts-1). Attempts below 1 use the base delay.
func BackoffDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	exp := attempts - 1
	if exp > 30 {
		exp = 30
	}
	d := float64(base) * math.Pow(2, float64(exp))
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// TaskFilter narrows admin listings.
type TaskFilter struct {
	Status    TaskStatus
	Priority  TaskPriority
	ArticleID string
}
