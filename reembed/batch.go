package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/podhub/ai"
	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/embedding"
	"github.com/poiesic/podhub/storage"
)

// BatchProcessor re-embeds batches of chunks and stores them under a new
// model version.
type BatchProcessor struct {
	vectors        storage.VectorStore
	embedder       ai.Embedder
	modelVersion   string
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts for each embedding call
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(vectors storage.VectorStore, embedder ai.Embedder, modelVersion string, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		vectors:        vectors,
		embedder:       embedder,
		modelVersion:   modelVersion,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds the chunks' content in one call, normalizes the vectors and
// upserts each chunk stamped with the processor's model version.
func (bp *BatchProcessor) Process(ctx context.Context, chunks []*core.VectorChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	var vectors [][]float32
	err := embedding.RetryWithBackoff(ctx, func() error {
		var err error
		vectors, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}

	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(chunks), len(vectors))
	}

	for i, chunk := range chunks {
		if len(vectors[i]) == 0 {
			return fmt.Errorf("chunk %s: %w", chunk.ID, embedding.ErrEmptyEmbedding)
		}
		updated := *chunk
		updated.Vector = NormalizeVector(vectors[i])
		updated.ModelVersion = bp.modelVersion
		updated.UpdatedAt = time.Now().UTC()
		if err := bp.vectors.SaveChunk(ctx, &updated); err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", chunk.ID, err)
		}
	}
	return nil
}
