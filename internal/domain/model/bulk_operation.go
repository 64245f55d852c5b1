package model

import "time"

type BulkOperationStatus string

const (
	BulkStatusProcessing BulkOperationStatus = "processing"
	BulkStatusCompleted  BulkOperationStatus = "completed"
	BulkStatusFailed     BulkOperationStatus = "failed"
)

// BulkProgress is one snapshot sent while a bulk enqueue walks the article list.
type BulkProgress struct {
	OperationID string `json:"operationId"`
	Processed   int    `json:"processed"`
	Total       int    `json:"total"`
	Queued      int    `json:"queued"`
	Skipped     int    `json:"skipped"`
	Errors      int    `json:"errors"`
	CurrentSlug string `json:"currentSlug"`
}

type BulkEnqueueResult struct {
	OperationID     string   `json:"operationId"`
	TotalArticles   int      `json:"totalArticles"`
	QueuedTasks     int      `json:"queuedTasks"`
	SkippedArticles int      `json:"skippedArticles"`
	Errors          []string `json:"errors"`
}

type BulkOperationSummary struct {
	OperationID           string              `json:"operationId"`
	Status                BulkOperationStatus `json:"status"`
	StartedAt             time.Time           `json:"startedAt"`
	CompletedAt           *time.Time          `json:"completedAt,omitempty"`
	TotalTasks            int                 `json:"totalTasks"`
	CompletedTasks        int                 `json:"completedTasks"`
	FailedTasks           int                 `json:"failedTasks"`
	PendingTasks          int                 `json:"pendingTasks"`
	ProcessingTasks       int                 `json:"processingTasks"`
	SuccessRate           float64             `json:"successRate"`
	AverageProcessingTime *time.Duration      `json:"averageProcessingTime,omitempty"`
	Errors                []string            `json:"errors"`
}

// SuccessRate is completed / (completed + failed) * 100, or 0 when both are 0.
func SuccessRate(completed, failed int) float64 {
	if completed+failed == 0 {
		return 0
	}
	return float64(completed) / float64(completed+failed) * 100
}

// SummarizeBulkOperation aggregates the tasks tagged with one operation id.
// The caller guarantees tasks is non-empty.
func SummarizeBulkOperation(operationID string, tasks []*EmbeddingTask) *BulkOperationSummary {
	s := &BulkOperationSummary{
		OperationID: operationID,
		TotalTasks:  len(tasks),
		Errors:      []string{},
	}

	var (
		totalProcessing time.Duration
		timedTasks      int
		allTerminal     = true
		lastFinished    time.Time
		seenErrors      = map[string]struct{}{}
	)
	for i, t := range tasks {
		if i == 0 || t.CreatedAt.Before(s.StartedAt) {
			s.StartedAt = t.CreatedAt
		}
		switch t.Status {
		case TaskStatusCompleted:
			s.CompletedTasks++
			if d, ok := t.ProcessingTime(); ok {
				totalProcessing += d
				timedTasks++
			}
		case TaskStatusFailed:
			s.FailedTasks++
			if t.ErrorMessage != "" {
				if _, dup := seenErrors[t.ErrorMessage]; !dup {
					seenErrors[t.ErrorMessage] = struct{}{}
					s.Errors = append(s.Errors, t.ErrorMessage)
				}
			}
		case TaskStatusPending:
			s.PendingTasks++
		case TaskStatusProcessing:
			s.ProcessingTasks++
		}
		if !t.Terminal() {
			allTerminal = false
		}
		for _, ts := range []*time.Time{t.CompletedAt, t.ProcessedAt} {
			if ts != nil && ts.After(lastFinished) {
				lastFinished = *ts
			}
		}
	}

	s.SuccessRate = SuccessRate(s.CompletedTasks, s.FailedTasks)
	if timedTasks > 0 {
		avg := totalProcessing / time.Duration(timedTasks)
		s.AverageProcessingTime = &avg
	}

	switch {
	case allTerminal && s.CompletedTasks == 0:
		s.Status = BulkStatusFailed
	case allTerminal:
		s.Status = BulkStatusCompleted
	default:
		s.Status = BulkStatusProcessing
	}
	if allTerminal && !lastFinished.IsZero() {
		s.CompletedAt = &lastFinished
	}
	return s
}
