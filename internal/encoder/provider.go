package encoder

import (
	"context"
	"errors"
	"fmt"
)

// Encoder defines the interface for embedding backends.
type Encoder interface {
	// Name identifies the backend ("clip", "openai", "gemini").
	Name() string
	// Model is the model identifier stored with every embedding. All
	// embeddings of a project must come from the same model.
	Model() string
	// Dim is the output dimensionality of the model.
	Dim() int
	// EncodeImage computes the embedding for a single image.
	EncodeImage(ctx context.Context, imageData []byte) ([]float32, error)
	// EncodeText computes the embedding for a text query, used for
	// text-to-image search. Backends without a text tower return
	// EncodingUnavailableError.
	EncodeText(ctx context.Context, text string) ([]float32, error)
}

// BatchImageEncoder is implemented by backends that can encode several
// images in one request.
type BatchImageEncoder interface {
	Encoder
	// EncodeImageBatch encodes images in one round trip. The result has
	// one embedding per input, in order.
	EncodeImageBatch(ctx context.Context, images [][]byte) ([][]float32, error)
	// FreeMemory asks the backend to release GPU memory after an
	// out-of-memory failure, before the batch is retried smaller.
	FreeMemory(ctx context.Context) error
}

// ErrOutOfMemory signals that the encoding backend ran out of memory for
// the requested batch. The batch encoder reacts by shrinking the batch.
var ErrOutOfMemory = errors.New("encoder out of memory")

// EncodingUnavailableError is returned when a model cannot be loaded or the
// backend is unreachable. The registry caches it so repeated requests for a
// broken model fail fast instead of re-probing.
type EncodingUnavailableError struct {
	Model  string
	Reason string
}

func (e *EncodingUnavailableError) Error() string {
	return fmt.Sprintf("encoding unavailable for model %q: %s", e.Model, e.Reason)
}

// OOMRetryExhaustedError is returned for a single image that still fails
// with out-of-memory after the batch was shrunk to one and retried.
type OOMRetryExhaustedError struct {
	PhotoID  int64
	Attempts int
}

func (e *OOMRetryExhaustedError) Error() string {
	return fmt.Sprintf("out of memory encoding photo %d after %d attempts", e.PhotoID, e.Attempts)
}
