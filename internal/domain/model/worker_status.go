package model

import "time"

// WorkerStatus is the persisted snapshot of the single embedding worker.
type WorkerStatus struct {
	InstanceID     string     `json:"instanceId"`
	IsRunning      bool       `json:"isRunning"`
	LastHeartbeat  *time.Time `json:"lastHeartbeat,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	StoppedAt      *time.Time `json:"stoppedAt,omitempty"`
	TasksProcessed int64      `json:"tasksProcessed"`
	TasksSucceeded int64      `json:"tasksSucceeded"`
	TasksFailed    int64      `json:"tasksFailed"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Stale reports a worker that claims to be running but has not sent a
// heartbeat within threshold, i.e. one that most likely crashed.
func (s *WorkerStatus) Stale(now time.Time, threshold time.Duration) bool {
	if s == nil || !s.IsRunning {
		return false
	}
	if s.LastHeartbeat == nil {
		return true
	}
	return now.Sub(*s.LastHeartbeat) > threshold
}

// Uptime is zero for a stopped worker.
func (s *WorkerStatus) Uptime(now time.Time) time.Duration {
	if s == nil || !s.IsRunning || s.StartedAt == nil {
		return 0
	}
	return now.Sub(*s.StartedAt)
}

// SuccessRate in percent; 0 when nothing was processed.
func (s *WorkerStatus) SuccessRate() float64 {
	if s == nil || s.TasksProcessed == 0 {
		return 0
	}
	return float64(s.TasksSucceeded) / float64(s.TasksProcessed) * 100
}
