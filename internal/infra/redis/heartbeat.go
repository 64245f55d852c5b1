package redis

import (
	"context"
	"encoding/json"
	"time"

	"notes-embedding-worker/internal/domain/model"
)

const heartbeatKey = "embedding_queue:worker:heartbeat"

// HeartbeatMirror keeps a short-lived copy of the worker status so other
// processes can check liveness without touching Postgres. The key expires
// when heartbeats stop.
type HeartbeatMirror struct {
	client RedisClient
	ttl    time.Duration
}

func NewHeartbeatMirror(client RedisClient, ttl time.Duration) *HeartbeatMirror {
	return &HeartbeatMirror{client: client, ttl: ttl}
}

func (m *HeartbeatMirror) Publish(ctx context.Context, status *model.WorkerStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, heartbeatKey, data, m.ttl)
}

// Latest returns (nil, nil) when no heartbeat is live.
func (m *HeartbeatMirror) Latest(ctx context.Context) (*model.WorkerStatus, error) {
	data, err := m.client.Get(ctx, heartbeatKey)
	if err != nil {
		if IsNil(err) {
			return nil, nil
		}
		return nil, err
	}
	var s model.WorkerStatus
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *HeartbeatMirror) Clear(ctx context.Context) error {
	return m.client.Del(ctx, heartbeatKey)
}
