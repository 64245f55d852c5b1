package embedding

import (
	"context"
	"time"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/ports/adapter"
	"notes-embedding-worker/internal/infra/metrics"
)

// Compile-time check
var _ adapter.EmbeddingProvider = (*limitedEmbedder)(nil)

type limitedEmbedder struct {
	inner    adapter.EmbeddingProvider
	provider string
	sem      chan struct{}
	timeout  time.Duration
}

// NewLimited bounds concurrent calls to inner, applies a per-call timeout and
// records call latency. maxConcurrent <= 0 means unbounded.
func NewLimited(inner adapter.EmbeddingProvider, provider string, maxConcurrent int, timeout time.Duration) adapter.EmbeddingProvider {
	l := &limitedEmbedder{inner: inner, provider: provider, timeout: timeout}
	if maxConcurrent > 0 {
		l.sem = make(chan struct{}, maxConcurrent)
	}
	return l
}

func (l *limitedEmbedder) Model() string   { return l.inner.Model() }
func (l *limitedEmbedder) Dimensions() int { return l.inner.Dimensions() }

func (l *limitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
			defer func() { <-l.sem }()
		case <-ctx.Done():
			return nil, domain.Transient("embed_wait", ctx.Err())
		}
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	vec, err := l.inner.Embed(ctx, text)
	metrics.ObserveEmbeddingCall(l.provider, l.inner.Model(), int(time.Since(start).Milliseconds()), err == nil)
	return vec, err
}
