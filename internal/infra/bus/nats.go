package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"notes-embedding-worker/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.EventPublisher = (*TaskEvents)(nil)

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
}

type Client struct{ nc *nats.Conn }

func Connect(url string, logger *zerolog.Logger) (*Client, error) {
	l := logger.With().Str("component", "nats").Logger()
	nc, err := nats.Connect(url,
		nats.Name("notes-embedding-worker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.Warn().Err(err).Msg("disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) Conn() *nats.Conn { return c.nc }

// SubscribeTaskEvents decodes every event under prefix and hands it to fn.
func (c *Client) SubscribeTaskEvents(prefix string, fn func(ctx context.Context, evt adapter.TaskEvent)) (*nats.Subscription, error) {
	return c.nc.Subscribe(prefix+".>", func(msg *nats.Msg) {
		var evt adapter.TaskEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		fn(ctx, evt)
	})
}

// TaskEvents publishes task outcomes as JSON on "<prefix>.<status>".
type TaskEvents struct {
	conn   conn
	prefix string
}

func NewTaskEvents(c *Client, prefix string) *TaskEvents {
	return newTaskEvents(c.nc, prefix)
}

func newTaskEvents(c conn, prefix string) *TaskEvents {
	return &TaskEvents{conn: c, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject an event with status is published on.
func (p *TaskEvents) Subject(status string) string {
	return p.prefix + "." + status
}

func (p *TaskEvents) PublishTaskEvent(ctx context.Context, evt adapter.TaskEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode task event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(evt.Status), b); err != nil {
		return fmt.Errorf("publish task event: %w", err)
	}
	return nil
}
