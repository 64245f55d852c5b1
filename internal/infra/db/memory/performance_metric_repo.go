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

var _ repository.PerformanceMetricRepository = (*MetricRepo)(nil)

type MetricRepo struct {
	mu      sync.Mutex
	metrics []*model.PerformanceMetric
}

func NewMetricRepo() *MetricRepo { return &MetricRepo{} }

func (r *MetricRepo) Insert(ctx context.Context, m *model.PerformanceMetric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	c := *m
	r.metrics = append(r.metrics, &c)
	return nil
}

func (r *MetricRepo) match(f model.MetricFilter, m *model.PerformanceMetric) bool {
	return !(f.From != nil && m.Timestamp.Before(*f.From) ||
		f.To != nil && m.Timestamp.After(*f.To) ||
		f.MetricType != "" && m.MetricType != f.MetricType ||
		f.TaskID != "" && m.TaskID != f.TaskID ||
		f.OperationID != "" && m.OperationID != f.OperationID)
}

func (r *MetricRepo) Query(ctx context.Context, f model.MetricFilter, page, pageSize int) (*model.Page[*model.PerformanceMetric], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	page, pageSize, offset := model.NormalizePage(page, pageSize)
	var all []*model.PerformanceMetric
	for _, m := range r.metrics {
		if r.match(f, m) {
			all = append(all, m)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	var items []*model.PerformanceMetric
	for i := offset; i < len(all) && i < offset+pageSize; i++ {
		c := *all[i]
		items = append(items, &c)
	}
	return model.NewPage(items, len(all), page, pageSize), nil
}

func (r *MetricRepo) Stats(ctx context.Context, metricType model.MetricType, from, to time.Time) (*model.MetricStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &model.MetricStats{MetricType: metricType}
	sum := 0.0
	for _, m := range r.metrics {
		if !r.match(model.MetricFilter{From: &from, To: &to, MetricType: metricType}, m) {
			continue
		}
		if s.Count == 0 || m.Value < s.Min {
			s.Min = m.Value
		}
		if s.Count == 0 || m.Value > s.Max {
			s.Max = m.Value
		}
		sum += m.Value
		s.Count++
	}
	if s.Count > 0 {
		s.Average = sum / float64(s.Count)
	}
	return s, nil
}

func (r *MetricRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.metrics[:0]
	n := 0
	for _, m := range r.metrics {
		if m.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, m)
	}
	r.metrics = kept
	return n, nil
}
