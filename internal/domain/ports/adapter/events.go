package adapter

import (
	"context"
	"time"
)

// TaskEvent is published when a task reaches an outcome.
type TaskEvent struct {
	TaskID      string    `json:"taskId"`
	ArticleID   string    `json:"articleId"`
	Slug        string    `json:"slug"`
	Operation   string    `json:"operation"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	Terminal    bool      `json:"terminal"`
	Error       string    `json:"error,omitempty"`
	OperationID string    `json:"operationId,omitempty"`
	Chunks      int       `json:"chunks"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// EventPublisher fans task outcomes out to interested consumers.
type EventPublisher interface {
	PublishTaskEvent(ctx context.Context, evt TaskEvent) error
}
