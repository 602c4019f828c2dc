package encoder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCLIPEncodeImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/embed/image" {
			t.Errorf("Unexpected path %s", req.URL.Path)
		}
		if err := req.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Expected multipart form: %v", err)
		}
		json.NewEncoder(w).Encode(embedResponse{
			Dim:       4,
			Embedding: []float32{0.5, 0.5, 0.5, 0.5},
			Model:     "clip-vit-b32",
		})
	}))
	defer server.Close()

	enc := NewCLIPEncoder(server.URL, "clip-vit-b32", 4)
	emb, err := enc.EncodeImage(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0x01, 0x02, 0x03, 0x04, 0x05})
	if err != nil {
		t.Fatalf("EncodeImage failed: %v", err)
	}
	if len(emb) != 4 {
		t.Errorf("Expected 4 components, got %d", len(emb))
	}
}

func TestCLIPEncodeImageBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/embed/batch" {
			t.Errorf("Unexpected path %s", req.URL.Path)
		}
		json.NewEncoder(w).Encode(embedBatchResponse{
			Dim:        4,
			Embeddings: [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
			Model:      "clip-vit-b32",
		})
	}))
	defer server.Close()

	enc := NewCLIPEncoder(server.URL, "clip-vit-b32", 4)
	embs, err := enc.EncodeImageBatch(context.Background(), [][]byte{{1, 2, 3, 4, 5, 6, 7, 8}, {9, 10, 11, 12, 13, 14, 15, 16}})
	if err != nil {
		t.Fatalf("EncodeImageBatch failed: %v", err)
	}
	if len(embs) != 2 {
		t.Fatalf("Expected 2 embeddings, got %d", len(embs))
	}
}

func TestCLIPBatchCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(embedBatchResponse{Dim: 4, Embeddings: [][]float32{{1, 0, 0, 0}}})
	}))
	defer server.Close()

	enc := NewCLIPEncoder(server.URL, "clip-vit-b32", 4)
	_, err := enc.EncodeImageBatch(context.Background(), [][]byte{{1}, {2}})
	if err == nil {
		t.Error("Expected error on embedding count mismatch")
	}
}

func TestCLIPOutOfMemoryDetection(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		isOOM  bool
	}{
		{"insufficient storage", http.StatusInsufficientStorage, "", true},
		{"cuda message", http.StatusInternalServerError, "CUDA out of memory. Tried to allocate 2.0 GiB", true},
		{"plain 500", http.StatusInternalServerError, "model crashed", false},
		{"bad request", http.StatusBadRequest, "invalid image", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			enc := NewCLIPEncoder(server.URL, "clip-vit-b32", 4)
			_, err := enc.EncodeImage(context.Background(), []byte{1, 2, 3, 4, 5, 6, 7, 8})
			if err == nil {
				t.Fatal("Expected error")
			}
			if errors.Is(err, ErrOutOfMemory) != tc.isOOM {
				t.Errorf("OOM detection = %v for status %d body %q", errors.Is(err, ErrOutOfMemory), tc.status, tc.body)
			}
		})
	}
}

func TestCLIPEncodeText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/embed/text" {
			t.Errorf("Unexpected path %s", req.URL.Path)
		}
		var payload map[string]string
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if payload["text"] != "sunset over the sea" {
			t.Errorf("Unexpected text %q", payload["text"])
		}
		json.NewEncoder(w).Encode(embedResponse{Dim: 4, Embedding: []float32{0, 0, 1, 0}})
	}))
	defer server.Close()

	enc := NewCLIPEncoder(server.URL, "clip-vit-b32", 4)
	emb, err := enc.EncodeText(context.Background(), "sunset over the sea")
	if err != nil {
		t.Fatalf("EncodeText failed: %v", err)
	}
	if len(emb) != 4 {
		t.Errorf("Expected 4 components, got %d", len(emb))
	}
}

func TestCLIPUnreachableServer(t *testing.T) {
	enc := NewCLIPEncoder("http://127.0.0.1:1", "clip-vit-b32", 4)
	_, err := enc.EncodeImage(context.Background(), []byte{1, 2, 3, 4, 5, 6, 7, 8})
	var unavail *EncodingUnavailableError
	if !errors.As(err, &unavail) {
		t.Fatalf("Expected EncodingUnavailableError, got %v", err)
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"gif", []byte{0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0, 0}, "image/gif"},
		{"webp", []byte{0x52, 0x49, 0x46, 0x46, 0, 0, 0, 0, 0x57, 0x45, 0x42, 0x50}, "image/webp"},
		{"unknown", []byte{0, 1, 2, 3, 4, 5, 6, 7}, "application/octet-stream"},
		{"too short", []byte{0xFF}, "application/octet-stream"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectMIMEType(tc.data); got != tc.expected {
				t.Errorf("detectMIMEType = %s; want %s", got, tc.expected)
			}
		})
	}
}
