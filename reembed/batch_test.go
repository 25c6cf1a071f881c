package reembed

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbedder for testing
type mockEmbedder struct {
	embedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (m *mockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if m.embedTextsFunc != nil {
		return m.embedTextsFunc(ctx, texts)
	}
	// Default: unnormalized vectors, magnitude 3
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{1.0, 2.0, 2.0}
	}
	return result, nil
}

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestBatchProcessor_Process(t *testing.T) {
	vectors := setupTestStore(t)
	seedChunks(t, vectors, "pod", 3, "old")
	ctx := context.Background()

	chunks, err := vectors.FindByPod(ctx, "pod")
	require.NoError(t, err)

	bp := NewBatchProcessor(vectors, &mockEmbedder{}, "new", 3, time.Millisecond)
	require.NoError(t, bp.Process(ctx, chunks))

	for _, original := range chunks {
		stored, err := vectors.GetChunk(ctx, original.ID)
		require.NoError(t, err)
		assert.Equal(t, "new", stored.ModelVersion)
		assert.Equal(t, original.Content, stored.Content)
		assert.InDelta(t, 1.0, magnitude(stored.Vector), 1e-5)
		assert.InDeltaSlice(t, []float32{1.0 / 3, 2.0 / 3, 2.0 / 3}, stored.Vector, 1e-5)
	}

	// The caller's chunks are left alone
	assert.Equal(t, "old", chunks[0].ModelVersion)
}

func TestBatchProcessor_EmptyBatch(t *testing.T) {
	called := false
	embedder := &mockEmbedder{embedTextsFunc: func(context.Context, []string) ([][]float32, error) {
		called = true
		return nil, nil
	}}

	bp := NewBatchProcessor(setupTestStore(t), embedder, "new", 3, time.Millisecond)
	require.NoError(t, bp.Process(context.Background(), nil))
	assert.False(t, called)
}

func TestBatchProcessor_EmbeddingError(t *testing.T) {
	vectors := setupTestStore(t)
	seedChunks(t, vectors, "pod", 2, "old")
	ctx := context.Background()
	chunks, err := vectors.FindByPod(ctx, "pod")
	require.NoError(t, err)

	boom := errors.New("embedding service down")
	embedder := &mockEmbedder{embedTextsFunc: func(context.Context, []string) ([][]float32, error) {
		return nil, boom
	}}

	bp := NewBatchProcessor(vectors, embedder, "new", 2, time.Millisecond)
	err = bp.Process(ctx, chunks)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "after 2 attempts")

	stored, err := vectors.GetChunk(ctx, chunks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "old", stored.ModelVersion)
}

func TestBatchProcessor_Retry(t *testing.T) {
	vectors := setupTestStore(t)
	seedChunks(t, vectors, "pod", 2, "old")
	ctx := context.Background()
	chunks, err := vectors.FindByPod(ctx, "pod")
	require.NoError(t, err)

	attempts := 0
	embedder := &mockEmbedder{}
	embedder.embedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		embedder.embedTextsFunc = nil
		return embedder.EmbedTexts(ctx, texts)
	}

	bp := NewBatchProcessor(vectors, embedder, "new", 3, time.Millisecond)
	require.NoError(t, bp.Process(ctx, chunks))
	assert.Equal(t, 3, attempts)
}

func TestBatchProcessor_CountMismatch(t *testing.T) {
	vectors := setupTestStore(t)
	seedChunks(t, vectors, "pod", 3, "old")
	ctx := context.Background()
	chunks, err := vectors.FindByPod(ctx, "pod")
	require.NoError(t, err)

	embedder := &mockEmbedder{embedTextsFunc: func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{1, 0}}, nil
	}}

	err = NewBatchProcessor(vectors, embedder, "new", 1, time.Millisecond).Process(ctx, chunks)
	assert.ErrorContains(t, err, "embedding count mismatch")
}

func TestBatchProcessor_EmptyVector(t *testing.T) {
	vectors := setupTestStore(t)
	seedChunks(t, vectors, "pod", 1, "old")
	ctx := context.Background()
	chunks, err := vectors.FindByPod(ctx, "pod")
	require.NoError(t, err)

	embedder := &mockEmbedder{embedTextsFunc: func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{}}, nil
	}}

	err = NewBatchProcessor(vectors, embedder, "new", 1, time.Millisecond).Process(ctx, chunks)
	assert.ErrorIs(t, err, embedding.ErrEmptyEmbedding)
}

func TestBatchProcessor_ContextCancellation(t *testing.T) {
	vectors := setupTestStore(t)
	chunks := []*core.VectorChunk{{PodID: "pod", ItemID: "a", Content: "a"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	embedder := &mockEmbedder{embedTextsFunc: func(ctx context.Context, _ []string) ([][]float32, error) {
		return nil, ctx.Err()
	}}

	err := NewBatchProcessor(vectors, embedder, "new", 5, 50*time.Millisecond).Process(ctx, chunks)
	assert.ErrorIs(t, err, context.Canceled)
}
