package embedding

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/ports/adapter"
)

var _ adapter.EmbeddingProvider = (*GeminiEmbedder)(nil)

type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGeminiEmbedder creates an embedder backed by the official Gemini SDK.
func NewGeminiEmbedder(ctx context.Context, apiKey, baseURL, model string, dimensions int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if model == "" {
		model = "text-embedding-004"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiEmbedder{client: c, model: model, dimensions: dimensions}, nil
}

func (g *GeminiEmbedder) Model() string   { return g.model }
func (g *GeminiEmbedder) Dimensions() int { return g.dimensions }

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	cfg := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	if g.dimensions > 0 {
		d := int32(g.dimensions)
		cfg.OutputDimensionality = &d
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, genai.Text(text), cfg)
	if err != nil {
		return nil, classify("gemini_embed", geminiStatus(err), err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, domain.Terminal("gemini_embed", domain.ErrEmptyEmbedding)
	}
	vals := resp.Embeddings[0].Values
	if g.dimensions > 0 && len(vals) != g.dimensions {
		return nil, domain.Terminal("gemini_embed", fmt.Errorf("expected %d dimensions, got %d", g.dimensions, len(vals)))
	}
	return vals, nil
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}
