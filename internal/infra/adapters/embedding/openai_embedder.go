package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.EmbeddingProvider = (*OpenAIEmbedder)(nil)

// OpenAIEmbedder calls the OpenAI embeddings endpoint (or any compatible gateway).
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions int, timeout time.Duration) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// the queue owns retries
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}, nil
}

func (o *OpenAIEmbedder) Model() string   { return o.model }
func (o *OpenAIEmbedder) Dimensions() int { return o.dimensions }

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:          openai.EmbeddingModel(o.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if o.dimensions > 0 {
		params.Dimensions = openai.Int(int64(o.dimensions))
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, classify("openai_embed", apiErr.StatusCode, err)
		}
		return nil, classify("openai_embed", 0, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, domain.Terminal("openai_embed", domain.ErrEmptyEmbedding)
	}

	raw := resp.Data[0].Embedding
	if o.dimensions > 0 && len(raw) != o.dimensions {
		return nil, domain.Terminal("openai_embed", fmt.Errorf("expected %d dimensions, got %d", o.dimensions, len(raw)))
	}
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}
