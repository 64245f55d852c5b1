package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/repository"
	"notes-embedding-worker/internal/infra/metrics"
	red "notes-embedding-worker/internal/infra/redis"
)

var _ repository.WorkerStatusRepository = (*workerStatusCacheDecorator)(nil)

const workerStatusCacheKey = "embedding_queue:worker:status"

// workerStatusCacheDecorator serves status reads from Redis. Writes go to the
// inner repository first and then refresh or drop the cached copy.
type workerStatusCacheDecorator struct {
	inner repository.WorkerStatusRepository
	cache red.RedisClient
	ttl   time.Duration
	log   zerolog.Logger
}

func NewWorkerStatusCacheDecorator(inner repository.WorkerStatusRepository, cache red.RedisClient, ttl time.Duration, log zerolog.Logger) repository.WorkerStatusRepository {
	return &workerStatusCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   log.With().Str("component", "worker_status_cache").Logger(),
	}
}

func (d *workerStatusCacheDecorator) Load(ctx context.Context) (*model.WorkerStatus, error) {
	val, err := d.cache.Get(ctx, workerStatusCacheKey)
	if err == nil {
		var s model.WorkerStatus
		if json.Unmarshal([]byte(val), &s) == nil {
			metrics.IncCacheRequest("worker_status", "hit")
			return &s, nil
		}
	} else if !red.IsNil(err) {
		metrics.IncCacheRequest("worker_status", "error")
		d.log.Warn().Err(err).Msg("worker status cache read failed")
	}

	metrics.IncCacheRequest("worker_status", "miss")
	s, err := d.inner.Load(ctx)
	if err != nil {
		return nil, err
	}
	d.store(ctx, s)
	return s, nil
}

func (d *workerStatusCacheDecorator) Save(ctx context.Context, s *model.WorkerStatus) error {
	if err := d.inner.Save(ctx, s); err != nil {
		return err
	}
	d.store(ctx, s)
	return nil
}

func (d *workerStatusCacheDecorator) Heartbeat(ctx context.Context, at time.Time) error {
	if err := d.inner.Heartbeat(ctx, at); err != nil {
		return err
	}
	if err := d.cache.Del(ctx, workerStatusCacheKey); err != nil {
		d.log.Warn().Err(err).Msg("worker status cache invalidation failed")
	}
	return nil
}

func (d *workerStatusCacheDecorator) store(ctx context.Context, s *model.WorkerStatus) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, workerStatusCacheKey, data, d.ttl); err != nil {
		d.log.Warn().Err(err).Msg("worker status cache write failed")
	}
}
