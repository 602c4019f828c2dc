package encoder

import (
	"context"
	"errors"
	"fmt"
)

// oomRetriesPerImage bounds how often a single image is retried at batch
// size one before its slot is given up.
const oomRetriesPerImage = 3

// BatchItem is one image queued for encoding.
type BatchItem struct {
	PhotoID int64
	Image   []byte
}

// BatchResult is the outcome for one queued image. Exactly one result is
// produced per input item, failed or not.
type BatchResult struct {
	PhotoID   int64
	Embedding []float32
	Err       error
}

// BatchEncoder drives a batch-capable backend with adaptive sizing: the
// batch starts at the configured size, halves on every out-of-memory
// failure down to one, and recovers back up after successful chunks.
type BatchEncoder struct {
	enc       BatchImageEncoder
	batchSize int

	// Progress is called after every finished item when set.
	Progress func(done, total int)
}

// NewBatchEncoder creates a batch encoder with the given initial batch size
func NewBatchEncoder(enc BatchImageEncoder, batchSize int) *BatchEncoder {
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchEncoder{enc: enc, batchSize: batchSize}
}

// EncodeAll encodes every queued item, adapting the batch size to memory
// pressure. It returns one result per input in input order; an item is only
// marked failed after the backoff bottomed out at batch size one.
func (b *BatchEncoder) EncodeAll(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	results := make([]BatchResult, len(items))
	size := b.batchSize
	done := 0

	for start := 0; start < len(items); {
		if err := ctx.Err(); err != nil {
			// Unprocessed items carry the cancellation error so no
			// input silently disappears.
			for i := start; i < len(items); i++ {
				results[i] = BatchResult{PhotoID: items[i].PhotoID, Err: err}
			}
			return results, err
		}

		end := min(start+size, len(items))
		chunk := items[start:end]

		images := make([][]byte, len(chunk))
		for i, item := range chunk {
			images[i] = item.Image
		}

		embeddings, err := b.enc.EncodeImageBatch(ctx, images)
		if errors.Is(err, ErrOutOfMemory) {
			if freeErr := b.enc.FreeMemory(ctx); freeErr != nil {
				fmt.Printf("Warning: failed to free encoder memory: %v\n", freeErr)
			}
			if size > 1 {
				size = max(size/2, 1)
				continue // retry the same chunk smaller
			}

			// Already at one image; retry it a few times, then give up
			// on this item only.
			res := b.encodeSingleWithRetry(ctx, chunk[0])
			results[start] = res
			done++
			b.reportProgress(done, len(items))
			start++
			continue
		}
		if err != nil {
			// Non-OOM batch failure: fall back to per-item encoding so
			// one broken image cannot fail the whole chunk.
			for i, item := range chunk {
				emb, itemErr := b.enc.EncodeImage(ctx, item.Image)
				results[start+i] = BatchResult{PhotoID: item.PhotoID, Embedding: emb, Err: itemErr}
				done++
				b.reportProgress(done, len(items))
			}
			start = end
			continue
		}

		for i, item := range chunk {
			results[start+i] = BatchResult{PhotoID: item.PhotoID, Embedding: embeddings[i]}
			done++
			b.reportProgress(done, len(items))
		}
		start = end

		// Grow back towards the configured size after a clean chunk.
		if size < b.batchSize {
			size = min(size*2, b.batchSize)
		}
	}

	return results, nil
}

// encodeSingleWithRetry retries one image at batch size one until the OOM
// retry limit is reached.
func (b *BatchEncoder) encodeSingleWithRetry(ctx context.Context, item BatchItem) BatchResult {
	var lastErr error
	for attempt := 1; attempt <= oomRetriesPerImage; attempt++ {
		emb, err := b.enc.EncodeImage(ctx, item.Image)
		if err == nil {
			return BatchResult{PhotoID: item.PhotoID, Embedding: emb}
		}
		lastErr = err
		if !errors.Is(err, ErrOutOfMemory) {
			return BatchResult{PhotoID: item.PhotoID, Err: err}
		}
		if freeErr := b.enc.FreeMemory(ctx); freeErr != nil {
			fmt.Printf("Warning: failed to free encoder memory: %v\n", freeErr)
		}
	}
	if errors.Is(lastErr, ErrOutOfMemory) {
		return BatchResult{PhotoID: item.PhotoID, Err: &OOMRetryExhaustedError{PhotoID: item.PhotoID, Attempts: oomRetriesPerImage}}
	}
	return BatchResult{PhotoID: item.PhotoID, Err: lastErr}
}

func (b *BatchEncoder) reportProgress(done, total int) {
	if b.Progress != nil {
		b.Progress(done, total)
	}
}
