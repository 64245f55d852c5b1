package embedding

import (
	"context"
	"fmt"
	"strings"

	"notes-embedding-worker/internal/config"
	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/ports/adapter"
)

// New builds the configured provider wrapped with the concurrency limit,
// per-call timeout and latency metrics.
func New(ctx context.Context, cfg config.EmbeddingConfig) (adapter.EmbeddingProvider, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	var (
		inner adapter.EmbeddingProvider
		err   error
	)
	switch provider {
	case "openai":
		inner, err = NewOpenAIEmbedder(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.Model, cfg.Dimensions, cfg.Timeout())
	case "gemini":
		inner, err = NewGeminiEmbedder(ctx, cfg.GeminiKey, cfg.GeminiURL, cfg.Model, cfg.Dimensions)
	case "noop", "":
		provider = "noop"
		inner = NewNoopEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", domain.ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s embedder: %w", provider, err)
	}
	return NewLimited(inner, provider, cfg.ConcurrentLimit, cfg.Timeout()), nil
}
