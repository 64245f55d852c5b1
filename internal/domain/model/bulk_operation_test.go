//go:build !integration

package model

import (
	"math"
	"reflect"
	"testing"
	"time"
)

func bulkTask(status TaskStatus, attempts int, errMsg string, created time.Time) *EmbeddingTask {
	return &EmbeddingTask{
		Status:       status,
		Attempts:     attempts,
		MaxAttempts:  3,
		ErrorMessage: errMsg,
		CreatedAt:    created,
	}
}

func TestSummarizeBulkOperation(t *testing.T) {
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		tasks       []*EmbeddingTask
		status      BulkOperationStatus
		completed   int
		failed      int
		successRate float64
		errors      []string
	}{
		{
			name: "should report failed when every task failed terminally",
			tasks: []*EmbeddingTask{
				bulkTask(TaskStatusFailed, 3, "article not found", base),
				bulkTask(TaskStatusFailed, 3, "empty article", base.Add(time.Second)),
			},
			status:      BulkStatusFailed,
			failed:      2,
			successRate: 0,
			errors:      []string{"article not found", "empty article"},
		},
		{
			name: "should report zero success rate before anything finished",
			tasks: []*EmbeddingTask{
				bulkTask(TaskStatusPending, 0, "", base),
				bulkTask(TaskStatusProcessing, 1, "", base),
			},
			status:      BulkStatusProcessing,
			successRate: 0,
			errors:      []string{},
		},
		{
			name: "should list a repeated error message once",
			tasks: []*EmbeddingTask{
				bulkTask(TaskStatusFailed, 3, "rate limited", base),
				bulkTask(TaskStatusFailed, 3, "rate limited", base),
				bulkTask(TaskStatusFailed, 3, "timeout", base),
				bulkTask(TaskStatusFailed, 3, "rate limited", base),
				bulkTask(TaskStatusCompleted, 1, "", base),
			},
			status:      BulkStatusCompleted,
			completed:   1,
			failed:      4,
			successRate: 20,
			errors:      []string{"rate limited", "timeout"},
		},
		{
			name: "should keep processing while a failed task can still retry",
			tasks: []*EmbeddingTask{
				bulkTask(TaskStatusFailed, 1, "connection reset", base),
			},
			status:      BulkStatusProcessing,
			failed:      1,
			successRate: 0,
			errors:      []string{"connection reset"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := SummarizeBulkOperation("op-1", tt.tasks)

			if s.Status != tt.status {
				t.Errorf("expected status %q, got %q", tt.status, s.Status)
			}
			if s.CompletedTasks != tt.completed || s.FailedTasks != tt.failed {
				t.Errorf("expected %d completed and %d failed, got %d and %d",
					tt.completed, tt.failed, s.CompletedTasks, s.FailedTasks)
			}
			if math.Abs(s.SuccessRate-tt.successRate) > 1e-9 {
				t.Errorf("expected success rate %v, got %v", tt.successRate, s.SuccessRate)
			}
			if !reflect.DeepEqual(s.Errors, tt.errors) {
				t.Errorf("expected errors %v, got %v", tt.errors, s.Errors)
			}
			if s.TotalTasks != len(tt.tasks) {
				t.Errorf("expected %d total tasks, got %d", len(tt.tasks), s.TotalTasks)
			}
			if !s.StartedAt.Equal(base) {
				t.Errorf("expected startedAt %v, got %v", base, s.StartedAt)
			}
		})
	}
}

func TestSuccessRate(t *testing.T) {
	t.Run("should be zero when nothing finished", func(t *testing.T) {
		if got := SuccessRate(0, 0); got != 0 {
			t.Errorf("expected 0, got %v", got)
		}
	})

	t.Run("should be a percentage of finished tasks", func(t *testing.T) {
		if got := SuccessRate(3, 1); got != 75 {
			t.Errorf("expected 75, got %v", got)
		}
	})
}
