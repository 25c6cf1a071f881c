package reembed

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		BatchSize:      3,
		ReportInterval: 3,
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
	}
}

func TestReembedder_Run(t *testing.T) {
	vectors := setupTestStore(t)
	seedChunks(t, vectors, "pod", 10, "old")
	seedChunks(t, vectors, "other", 2, "old")
	ctx := context.Background()

	var buf bytes.Buffer
	r, err := NewReembedder(vectors, &mockEmbedder{}, "new", testConfig(), &buf)
	require.NoError(t, err)

	result, err := r.Run(ctx, "pod")
	require.NoError(t, err)
	assert.Equal(t, 10, result.Total)
	assert.Equal(t, 10, result.Reembedded)
	assert.Zero(t, result.Skipped)

	chunks, err := vectors.FindByPod(ctx, "pod")
	require.NoError(t, err)
	for _, c := range chunks {
		assert.Equal(t, "new", c.ModelVersion, "chunk %s", c.ID)
		assert.InDelta(t, 1.0, magnitude(c.Vector), 1e-5)
	}

	// Other pods are untouched
	others, err := vectors.FindByPod(ctx, "other")
	require.NoError(t, err)
	for _, c := range others {
		assert.Equal(t, "old", c.ModelVersion)
	}

	assert.Contains(t, buf.String(), "Re-embedding 10 chunks of pod pod")
	assert.Contains(t, buf.String(), "Re-embedding complete")
}

func TestReembedder_SkipsCurrentChunks(t *testing.T) {
	vectors := setupTestStore(t)
	seedChunks(t, vectors, "pod", 4, "new")

	calls := 0
	embedder := &mockEmbedder{}
	embedder.embedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		calls++
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{0, 3, 4}
		}
		return out, nil
	}

	r, err := NewReembedder(vectors, embedder, "new", testConfig(), nil)
	require.NoError(t, err)

	result, err := r.Run(context.Background(), "pod")
	require.NoError(t, err)
	assert.Equal(t, 4, result.Skipped)
	assert.Zero(t, result.Reembedded)
	assert.Zero(t, calls)
}

func TestReembedder_Force(t *testing.T) {
	vectors := setupTestStore(t)
	seedChunks(t, vectors, "pod", 4, "new")

	config := testConfig()
	config.Force = true
	r, err := NewReembedder(vectors, &mockEmbedder{}, "new", config, nil)
	require.NoError(t, err)

	result, err := r.Run(context.Background(), "pod")
	require.NoError(t, err)
	assert.Equal(t, 4, result.Reembedded)
	assert.Zero(t, result.Skipped)

	chunks, err := vectors.FindByPod(context.Background(), "pod")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1.0 / 3, 2.0 / 3, 2.0 / 3}, chunks[0].Vector, 1e-5)
}

func TestReembedder_EmptyPod(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewReembedder(setupTestStore(t), &mockEmbedder{}, "new", testConfig(), &buf)
	require.NoError(t, err)

	result, err := r.Run(context.Background(), "empty")
	require.NoError(t, err)
	assert.Zero(t, result.Total)
	assert.Contains(t, buf.String(), "No chunks found")
}

func TestReembedder_ContextCancellation(t *testing.T) {
	vectors := setupTestStore(t)
	seedChunks(t, vectors, "pod", 10, "old")

	ctx, cancel := context.WithCancel(context.Background())
	embedder := &mockEmbedder{}
	embedder.embedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		cancel()
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 0, 0}
		}
		return out, nil
	}

	r, err := NewReembedder(vectors, embedder, "new", testConfig(), nil)
	require.NoError(t, err)

	result, err := r.Run(ctx, "pod")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, result.Reembedded)
}

func TestReembedder_EmbeddingError(t *testing.T) {
	vectors := setupTestStore(t)
	seedChunks(t, vectors, "pod", 5, "old")

	boom := errors.New("model unavailable")
	embedder := &mockEmbedder{embedTextsFunc: func(context.Context, []string) ([][]float32, error) {
		return nil, boom
	}}

	r, err := NewReembedder(vectors, embedder, "new", testConfig(), nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "pod")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed to process batch")
}

func TestReembedder_ModelVersionRequired(t *testing.T) {
	_, err := NewReembedder(setupTestStore(t), &mockEmbedder{}, "", nil, nil)
	assert.ErrorIs(t, err, ErrModelVersionRequired)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 100, config.BatchSize)
	assert.Equal(t, 100, config.ReportInterval)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, time.Second, config.RetryDelay)
	assert.False(t, config.Force)
}

func TestReembedder_ProgressTracking(t *testing.T) {
	vectors := setupTestStore(t)
	seedChunks(t, vectors, "pod", 9, "old")

	var buf bytes.Buffer
	r, err := NewReembedder(vectors, &mockEmbedder{}, "new", testConfig(), &buf)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "pod")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "9/9")
	assert.Contains(t, buf.String(), "100.0%")
}
