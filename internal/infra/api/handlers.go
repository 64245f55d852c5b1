package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/infra/redis"
	"notes-embedding-worker/internal/usecase"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type enqueueRequest struct {
	ArticleID   string             `json:"articleId"`
	Slug        string             `json:"slug"`
	Operation   string             `json:"operation"`
	Priority    string             `json:"priority"`
	MaxAttempts int                `json:"maxAttempts"`
	ScheduledAt *time.Time         `json:"scheduledAt"`
	Metadata    model.TaskMetadata `json:"metadata"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := usecase.EnqueueRequest{
		ArticleID:   body.ArticleID,
		Slug:        body.Slug,
		Operation:   model.TaskOperation(body.Operation),
		Priority:    model.TaskPriority(body.Priority),
		MaxAttempts: body.MaxAttempts,
		Metadata:    body.Metadata,
	}
	if body.ScheduledAt != nil {
		req.ScheduledAt = body.ScheduledAt.UTC()
	}

	enqueue := s.deps.Queue.Enqueue
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("if_idle")); ok {
		enqueue = s.deps.Queue.EnqueueIfIdle
	}
	id, err := enqueue(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Queue.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func pageParams(r *http.Request) (int, int) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("pageSize"))
	return page, size
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.TaskFilter{
		Status:    model.TaskStatus(q.Get("status")),
		Priority:  model.TaskPriority(q.Get("priority")),
		ArticleID: q.Get("articleId"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", filter.Status))
		return
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown priority %q", filter.Priority))
		return
	}
	page, size := pageParams(r)
	res, err := s.deps.Queue.ListTasks(r.Context(), filter, page, size)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.GetQueueStats(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Queue.RetryFailedTasks(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"retried": n})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	days := s.deps.RetentionDays
	if v := r.URL.Query().Get("days"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = d
	}
	n, err := s.deps.Queue.ClearCompletedTasks(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n, "retentionDays": days})
}

func (s *Server) handleRecoverStuck(w http.ResponseWriter, r *http.Request) {
	maxTime := s.deps.MaxProcessingTime
	if v := r.URL.Query().Get("maxProcessingMs"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			writeError(w, http.StatusBadRequest, "maxProcessingMs must be a positive integer")
			return
		}
		maxTime = time.Duration(ms) * time.Millisecond
	}
	if maxTime <= 0 {
		writeError(w, http.StatusBadRequest, "maxProcessingMs is required")
		return
	}
	res, err := s.deps.Queue.RecoverStuckTasks(r.Context(), maxTime)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleNeeding(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Queue.IdentifyArticlesNeedingEmbedding(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if list == nil {
		list = []model.ArticleNeedingEmbedding{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(list), "articles": list})
}

type bulkRequest struct {
	Priority string `json:"priority"`
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var body bulkRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	priority := model.TaskPriority(body.Priority)
	if priority == "" {
		priority = model.TaskPriorityLow
	}

	if s.deps.Limiter != nil {
		key := redis.AdminActionKey(subjectFrom(r.Context()), "bulk")
		ok, err := s.deps.Limiter.Allow(r.Context(), key, s.deps.BulkLimit, s.deps.BulkWindow)
		if err != nil {
			s.log.Warn().Err(err).Msg("rate limiter unavailable; allowing bulk request")
		} else if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(s.deps.BulkWindow.Seconds())))
			writeError(w, http.StatusTooManyRequests, "bulk update rate limit exceeded")
			return
		}
	}

	res, err := s.deps.Queue.QueueBulkEmbeddingUpdate(r.Context(), priority, nil)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBulkSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Queue.GetBulkOperationSummary(r.Context(), chi.URLParam(r, "operationID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type workerStatusResponse struct {
	State         string              `json:"state"`
	Healthy       bool                `json:"healthy"`
	UptimeSeconds float64             `json:"uptimeSeconds"`
	SuccessRate   float64             `json:"successRate"`
	Status        *model.WorkerStatus `json:"status,omitempty"`
}

func (s *Server) handleWorkerStatus(w http.ResponseWriter, r *http.Request) {
	resp := workerStatusResponse{State: "unknown"}
	if s.deps.Worker != nil {
		resp.State = s.deps.Worker.State().String()
	}

	status, err := s.deps.Statuses.Load(r.Context())
	switch {
	case err == nil:
		now := s.deps.Now()
		resp.Status = status
		resp.Healthy = status.IsRunning && !status.Stale(now, 3*s.deps.HeartbeatInterval)
		resp.UptimeSeconds = status.Uptime(now).Seconds()
		resp.SuccessRate = status.SuccessRate()
	case errors.Is(err, domain.ErrNotFound):
		if s.deps.Worker == nil {
			resp.State = "never_started"
		}
	default:
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%w: time %q must be RFC3339", domain.ErrInvalidArgument, v)
	}
	return &t, nil
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.AuditLogFilter{
		Level:       model.LogLevel(q.Get("level")),
		Category:    model.LogCategory(q.Get("category")),
		TaskID:      q.Get("taskId"),
		ArticleID:   q.Get("articleId"),
		OperationID: q.Get("operationId"),
	}
	if filter.Level != "" && !filter.Level.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown level %q", filter.Level))
		return
	}
	if filter.Category != "" && !filter.Category.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", filter.Category))
		return
	}
	var err error
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	page, size := pageParams(r)
	res, err := s.deps.Audit.Query(r.Context(), filter, page, size)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// window reads ?hours=N (default 24) and returns [now-N h, now].
func (s *Server) window(r *http.Request) (time.Time, time.Time, error) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h <= 0 {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: hours must be a positive integer", domain.ErrInvalidArgument)
		}
		hours = h
	}
	to := s.deps.Now()
	return to.Add(-time.Duration(hours) * time.Hour), to, nil
}

func (s *Server) handleMetricStats(w http.ResponseWriter, r *http.Request) {
	mt := model.MetricType(r.URL.Query().Get("type"))
	if !mt.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown metric type %q", mt))
		return
	}
	from, to, err := s.window(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	stats, err := s.deps.Perf.Stats(r.Context(), mt, from, to)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMetricSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.window(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	sum, err := s.deps.Perf.Summary(r.Context(), from, to)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
