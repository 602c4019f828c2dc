package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

const (
	defaultCLIPURL   = "http://localhost:8000"
	defaultCLIPModel = "clip-vit-b32"
	defaultCLIPDim   = 512
)

// CLIPEncoder computes image and text embeddings using the CLIP sidecar
// server. The sidecar holds the model on GPU and exposes multipart HTTP
// endpoints; it is the only backend with a shared image/text vector space.
type CLIPEncoder struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// NewCLIPEncoder creates a new CLIP sidecar client
func NewCLIPEncoder(baseURL, model string, dim int) *CLIPEncoder {
	if baseURL == "" {
		baseURL = defaultCLIPURL
	}
	if model == "" {
		model = defaultCLIPModel
	}
	if dim <= 0 {
		dim = defaultCLIPDim
	}
	return &CLIPEncoder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		dim:     dim,
		client:  &http.Client{},
	}
}

func (c *CLIPEncoder) Name() string  { return "clip" }
func (c *CLIPEncoder) Model() string { return c.model }
func (c *CLIPEncoder) Dim() int      { return c.dim }

// embedResponse represents a single embedding from the sidecar
type embedResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// embedBatchResponse represents the batch endpoint response
type embedBatchResponse struct {
	Dim        int         `json:"dim"`
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model"`
}

// postMultipartImages constructs a multipart form with the image data and
// posts it to the given endpoint. Each part carries an explicit Content-Type
// based on magic byte detection.
func (c *CLIPEncoder) postMultipartImages(ctx context.Context, endpoint string, images [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for i, imageData := range images {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="image-%d.jpg"`, i))
		h.Set("Content-Type", detectMIMEType(imageData))
		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(imageData); err != nil {
			return nil, fmt.Errorf("failed to write image data: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &EncodingUnavailableError{Model: c.model, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if isOOMResponse(resp.StatusCode, body) {
		return nil, ErrOutOfMemory
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("encoder error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// EncodeImage computes the embedding for a single image
func (c *CLIPEncoder) EncodeImage(ctx context.Context, imageData []byte) ([]float32, error) {
	body, err := c.postMultipartImages(ctx, "/embed/image", [][]byte{imageData})
	if err != nil {
		return nil, err
	}

	var embResp embedResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(embResp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return embResp.Embedding, nil
}

// EncodeImageBatch encodes several images in one request
func (c *CLIPEncoder) EncodeImageBatch(ctx context.Context, images [][]byte) ([][]float32, error) {
	if len(images) == 0 {
		return nil, nil
	}
	body, err := c.postMultipartImages(ctx, "/embed/batch", images)
	if err != nil {
		return nil, err
	}

	var batchResp embedBatchResponse
	if err := json.Unmarshal(body, &batchResp); err != nil {
		return nil, fmt.Errorf("failed to parse batch response: %w", err)
	}
	if len(batchResp.Embeddings) != len(images) {
		return nil, fmt.Errorf("batch returned %d embeddings for %d images", len(batchResp.Embeddings), len(images))
	}
	return batchResp.Embeddings, nil
}

// EncodeText computes the embedding for a text query
func (c *CLIPEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal text request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed/text", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &EncodingUnavailableError{Model: c.model, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("encoder error (status %d): %s", resp.StatusCode, string(body))
	}

	var embResp embedResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(embResp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return embResp.Embedding, nil
}

// FreeMemory asks the sidecar to run garbage collection and drop its CUDA
// cache. Called between out-of-memory retries.
func (c *CLIPEncoder) FreeMemory(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/gc", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("free memory request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("free memory failed with status %d", resp.StatusCode)
	}
	return nil
}

// Health probes the sidecar. A failure means the model is unavailable.
func (c *CLIPEncoder) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &EncodingUnavailableError{Model: c.model, Reason: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &EncodingUnavailableError{Model: c.model, Reason: fmt.Sprintf("health check returned status %d", resp.StatusCode)}
	}
	return nil
}

// isOOMResponse recognizes an out-of-memory failure in the sidecar reply.
func isOOMResponse(status int, body []byte) bool {
	if status == http.StatusInsufficientStorage {
		return true
	}
	if status >= 500 {
		msg := strings.ToLower(string(body))
		return strings.Contains(msg, "out of memory") || strings.Contains(msg, "cuda oom")
	}
	return false
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}

// Verify interface compliance
var _ Encoder = (*CLIPEncoder)(nil)
var _ BatchImageEncoder = (*CLIPEncoder)(nil)
