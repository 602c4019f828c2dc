package encoder

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openaiEmbeddingModel = "text-embedding-3-small"

// OpenAIEncoder computes text embeddings through the OpenAI API. It has no
// image tower, so it only serves text search against projects whose
// canonical model matches; image encoding reports unavailable.
type OpenAIEncoder struct {
	client openai.Client
	model  string
	dim    int
}

// NewOpenAIEncoder creates a new OpenAI embedding backend
func NewOpenAIEncoder(apiKey string, dim int) (*OpenAIEncoder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}
	if dim <= 0 {
		dim = 512
	}
	return &OpenAIEncoder{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  openaiEmbeddingModel,
		dim:    dim,
	}, nil
}

func (p *OpenAIEncoder) Name() string  { return "openai" }
func (p *OpenAIEncoder) Model() string { return p.model }
func (p *OpenAIEncoder) Dim() int      { return p.dim }

// EncodeImage is not supported by the OpenAI embedding API
func (p *OpenAIEncoder) EncodeImage(ctx context.Context, imageData []byte) ([]float32, error) {
	return nil, &EncodingUnavailableError{Model: p.model, Reason: "backend has no image encoder"}
}

// EncodeText computes a text embedding
func (p *OpenAIEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Dimensions: openai.Int(int64(p.dim)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding request: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai returned no embeddings")
	}

	vector := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}

// Verify interface compliance
var _ Encoder = (*OpenAIEncoder)(nil)
