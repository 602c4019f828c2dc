package encoder

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const geminiEmbeddingModel = "gemini-embedding-001"

// GeminiEncoder computes text embeddings through the Gemini API. Like the
// OpenAI backend it only covers the text side.
type GeminiEncoder struct {
	client *genai.Client
	model  string
	dim    int
}

// NewGeminiEncoder creates a new Gemini embedding backend
func NewGeminiEncoder(ctx context.Context, apiKey string, dim int) (*GeminiEncoder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key not configured")
	}
	if dim <= 0 {
		dim = 512
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiEncoder{
		client: client,
		model:  geminiEmbeddingModel,
		dim:    dim,
	}, nil
}

func (p *GeminiEncoder) Name() string  { return "gemini" }
func (p *GeminiEncoder) Model() string { return p.model }
func (p *GeminiEncoder) Dim() int      { return p.dim }

// EncodeImage is not supported by the Gemini embedding API
func (p *GeminiEncoder) EncodeImage(ctx context.Context, imageData []byte) ([]float32, error) {
	return nil, &EncodingUnavailableError{Model: p.model, Reason: "backend has no image encoder"}
}

// EncodeText computes a text embedding
func (p *GeminiEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	dim := int32(p.dim)
	contents := []*genai.Content{
		{Parts: []*genai.Part{{Text: text}}},
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini returned no embeddings")
	}

	return resp.Embeddings[0].Values, nil
}

// Verify interface compliance
var _ Encoder = (*GeminiEncoder)(nil)
