//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
)

func TestWorkerStatusCacheDecorator(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	status := &model.WorkerStatus{InstanceID: "w-1", IsRunning: true, LastHeartbeat: &now, TasksProcessed: 3}
	statusJSON, _ := json.Marshal(status)

	t.Run("Load should return from cache on hit", func(t *testing.T) {
		// Arrange
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				return string(statusJSON), nil
			},
		}
		innerCalled := false
		inner := &mockInnerWorkerStatusRepo{
			LoadFunc: func(ctx context.Context) (*model.WorkerStatus, error) {
				innerCalled = true
				return nil, nil
			},
		}
		d := NewWorkerStatusCacheDecorator(inner, mockRedis, time.Minute, zerolog.Nop())

		// Act
		got, err := d.Load(ctx)

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if innerCalled {
			t.Error("inner repository should not be called on a cache hit")
		}
		if got.InstanceID != "w-1" || got.TasksProcessed != 3 {
			t.Errorf("unexpected status from cache: %+v", got)
		}
	})

	t.Run("Load should fall through and populate on miss", func(t *testing.T) {
		// Arrange
		var setKey string
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) { return "", goredis.Nil },
			SetFunc: func(ctx context.Context, key string, value interface{}, exp time.Duration) error {
				setKey = key
				return nil
			},
		}
		inner := &mockInnerWorkerStatusRepo{
			LoadFunc: func(ctx context.Context) (*model.WorkerStatus, error) { return status, nil },
		}
		d := NewWorkerStatusCacheDecorator(inner, mockRedis, time.Minute, zerolog.Nop())

		// Act
		got, err := d.Load(ctx)

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got != status {
			t.Error("expected the inner status to be returned")
		}
		if setKey != workerStatusCacheKey {
			t.Errorf("expected cache to be populated under %q, got %q", workerStatusCacheKey, setKey)
		}
	})

	t.Run("Load should propagate not found without caching", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) { return "", goredis.Nil },
			SetFunc: func(ctx context.Context, key string, value interface{}, exp time.Duration) error {
				t.Error("nothing should be cached")
				return nil
			},
		}
		inner := &mockInnerWorkerStatusRepo{
			LoadFunc: func(ctx context.Context) (*model.WorkerStatus, error) { return nil, domain.ErrNotFound },
		}
		d := NewWorkerStatusCacheDecorator(inner, mockRedis, time.Minute, zerolog.Nop())

		if _, err := d.Load(ctx); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Heartbeat should invalidate the cache", func(t *testing.T) {
		// Arrange
		var deleted []string
		mockRedis := &mockRedisClient{
			DelFunc: func(ctx context.Context, keys ...string) error {
				deleted = append(deleted, keys...)
				return nil
			},
		}
		inner := &mockInnerWorkerStatusRepo{
			HeartbeatFunc: func(ctx context.Context, at time.Time) error { return nil },
		}
		d := NewWorkerStatusCacheDecorator(inner, mockRedis, time.Minute, zerolog.Nop())

		// Act
		err := d.Heartbeat(ctx, now)

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(deleted) != 1 || deleted[0] != workerStatusCacheKey {
			t.Fatalf("expected status key to be deleted, got %v", deleted)
		}
	})

	t.Run("Save should not touch the cache when the store fails", func(t *testing.T) {
		mockRedis := &mockRedisClient{}
		inner := &mockInnerWorkerStatusRepo{
			SaveFunc: func(ctx context.Context, s *model.WorkerStatus) error { return errors.New("db down") },
		}
		d := NewWorkerStatusCacheDecorator(inner, mockRedis, time.Minute, zerolog.Nop())

		if err := d.Save(ctx, status); err == nil {
			t.Fatal("expected store error")
		}
	})
}
