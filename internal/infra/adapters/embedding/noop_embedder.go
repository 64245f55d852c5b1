package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"notes-embedding-worker/internal/domain/ports/adapter"
)

var _ adapter.EmbeddingProvider = (*NoopEmbedder)(nil)

// NoopEmbedder derives a deterministic unit vector from the text's words.
// It is meant for local runs and the demo; equal texts always embed equally.
type NoopEmbedder struct {
	dimensions int
}

func NewNoopEmbedder(dimensions int) *NoopEmbedder {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &NoopEmbedder{dimensions: dimensions}
}

func (n *NoopEmbedder) Model() string   { return "noop-embedding" }
func (n *NoopEmbedder) Dimensions() int { return n.dimensions }

func (n *NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, n.dimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum64()
		idx := int(sum % uint64(n.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
