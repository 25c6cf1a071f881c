package badger

import (
	"context"
	"testing"

	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveChunk(t *testing.T, repos *Repositories, podID, itemID string, vector ...float32) {
	t.Helper()
	err := repos.Vectors.SaveChunk(context.Background(), &core.VectorChunk{
		PodID:        podID,
		ItemID:       itemID,
		Content:      "content of " + itemID,
		Vector:       vector,
		ModelVersion: "test-model",
	})
	require.NoError(t, err)
}

func TestSaveChunk_Upsert(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()
	ctx := context.Background()

	saveChunk(t, repos, "pod-1", "item-1", 1, 0)
	saveChunk(t, repos, "pod-1", "item-1", 0, 1)

	count, err := repos.Vectors.CountByPod(ctx, "pod-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	chunk, err := repos.Vectors.GetChunk(ctx, core.ChunkID("pod-1", "item-1"))
	require.NoError(t, err)
	assert.Equal(t, "pod-1:item-1", chunk.ID)
	assert.Equal(t, []float32{0, 1}, chunk.Vector)
}

func TestGetChunk_NotFound(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()

	_, err := repos.Vectors.GetChunk(context.Background(), "pod-1:missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFindByPod(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()

	saveChunk(t, repos, "pod-1", "a", 1, 0)
	saveChunk(t, repos, "pod-1", "b", 0, 1)
	saveChunk(t, repos, "pod-2", "c", 1, 1)

	chunks, err := repos.Vectors.FindByPod(context.Background(), "pod-1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Equal(t, "pod-1", c.PodID)
	}
}

func TestFindSimilarInPod(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()

	saveChunk(t, repos, "pod-1", "near", 1.0, 0.0, 0.0)
	saveChunk(t, repos, "pod-1", "mid", 0.7, 0.3, 0.0)
	saveChunk(t, repos, "pod-1", "far", 0.0, 0.0, 1.0)
	saveChunk(t, repos, "pod-1", "novector")
	saveChunk(t, repos, "pod-1", "otherdim", 1.0, 0.0)
	// Exact match in another pod must not be returned
	saveChunk(t, repos, "pod-2", "exact", 1.0, 0.0, 0.0)

	results, err := repos.Vectors.FindSimilarInPod(context.Background(), "pod-1", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "near", results[0].Chunk.ItemID)
	assert.Equal(t, "mid", results[1].Chunk.ItemID)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-6)
	assert.LessOrEqual(t, results[0].Distance, results[1].Distance)
	for _, r := range results {
		assert.Equal(t, "pod-1", r.Chunk.PodID)
	}
}

func TestFindSimilarInPod_NoChunks(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()

	results, err := repos.Vectors.FindSimilarInPod(context.Background(), "empty", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPodScopeIgnoresSharedKeyPrefix(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()
	ctx := context.Background()

	// pod "a" is a key prefix of pod "a:b"
	saveChunk(t, repos, "a", "i1", 1.0, 0.0)
	saveChunk(t, repos, "a:b", "i2", 1.0, 0.0)

	results, err := repos.Vectors.FindSimilarInPod(ctx, "a", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a:i1", results[0].Chunk.ID)

	chunks, err := repos.Vectors.FindByPod(ctx, "a")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a", chunks[0].PodID)

	count, err := repos.Vectors.CountByPod(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = repos.Vectors.CountByPod(ctx, "a:b")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFindSimilar_InvalidLimit(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()

	_, err := repos.Vectors.FindSimilarInPod(context.Background(), "pod-1", []float32{1}, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestFindSimilarGlobal(t *testing.T) {
	repos, cleanup := setupRepos(t)
	defer cleanup()

	saveChunk(t, repos, "pod-1", "a", 0.0, 1.0)
	saveChunk(t, repos, "pod-2", "b", 1.0, 0.0)

	results, err := repos.Vectors.FindSimilarGlobal(context.Background(), []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "pod-2", results[0].Chunk.PodID)
}
