package model

// QueueStats counts tasks by status and priority.
// Total always equals the sum of ByStatusPriority.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`

	ByPriority       map[TaskPriority]int                `json:"byPriority"`
	ByStatusPriority map[TaskStatus]map[TaskPriority]int `json:"byStatusPriority"`
}

// StatusPriorityCount is one GROUP BY cell.
type StatusPriorityCount struct {
	Status   TaskStatus
	Priority TaskPriority
	Count    int
}

// NewQueueStats folds grouped counts into QueueStats.
func NewQueueStats(cells []StatusPriorityCount) *QueueStats {
	s := &QueueStats{
		ByPriority:       make(map[TaskPriority]int, len(AllTaskPriorities)),
		ByStatusPriority: make(map[TaskStatus]map[TaskPriority]int, len(AllTaskStatuses)),
	}
	for _, st := range AllTaskStatuses {
		s.ByStatusPriority[st] = make(map[TaskPriority]int, len(AllTaskPriorities))
		for _, p := range AllTaskPriorities {
			s.ByStatusPriority[st][p] = 0
		}
	}
	for _, p := range AllTaskPriorities {
		s.ByPriority[p] = 0
	}
	for _, c := range cells {
		if _, ok := s.ByStatusPriority[c.Status]; !ok {
			s.ByStatusPriority[c.Status] = map[TaskPriority]int{}
		}
		s.ByStatusPriority[c.Status][c.Priority] += c.Count
		s.ByPriority[c.Priority] += c.Count
		switch c.Status {
		case TaskStatusPending:
			s.Pending += c.Count
		case TaskStatusProcessing:
			s.Processing += c.Count
		case TaskStatusCompleted:
			s.Completed += c.Count
		case TaskStatusFailed:
			s.Failed += c.Count
		}
		s.Total += c.Count
	}
	return s
}

// StuckResult reports what a stuck-task sweep did.
type StuckResult struct {
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
}

func (r StuckResult) Total() int { return r.Requeued + r.Failed }
