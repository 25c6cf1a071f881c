package badger

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/storage"
)

// VectorRepository implements storage.VectorStore for BadgerDB.
// Similarity search is a brute-force scan, scoped by key prefix.
type VectorRepository struct {
	backend *Backend
}

var _ storage.VectorStore = (*VectorRepository)(nil)

// NewVectorRepository creates a new VectorRepository.
func NewVectorRepository(backend *Backend) storage.VectorStore {
	return &VectorRepository{
		backend: backend,
	}
}

// Close is a no-op; the backend is owned by the caller.
func (r *VectorRepository) Close() error {
	return nil
}

// SaveChunk inserts or replaces the chunk with the same ID.
func (r *VectorRepository) SaveChunk(ctx context.Context, chunk *core.VectorChunk) error {
	chunk.ID = core.ChunkID(chunk.PodID, chunk.ItemID)
	if chunk.UpdatedAt.IsZero() {
		chunk.UpdatedAt = time.Now().UTC()
	}
	return r.backend.update(func(tx *badger.Txn) error {
		return tx.Set(makeChunkKey(chunk.ID), storage.MarshalChunk(chunk))
	})
}

// GetChunk retrieves a chunk by ID.
func (r *VectorRepository) GetChunk(ctx context.Context, chunkID string) (*core.VectorChunk, error) {
	var chunk *core.VectorChunk
	err := r.backend.view(func(tx *badger.Txn) error {
		var err error
		chunk, err = readValue(tx, makeChunkKey(chunkID), storage.UnmarshalChunk)
		return err
	})
	return chunk, err
}

// FindByPod returns every chunk of a pod.
func (r *VectorRepository) FindByPod(ctx context.Context, podID string) ([]*core.VectorChunk, error) {
	var chunks []*core.VectorChunk
	err := r.backend.view(func(tx *badger.Txn) error {
		return scanPrefix(tx, makePartialChunkKey(podID), storage.UnmarshalChunk, func(c *core.VectorChunk) bool {
			if c.PodID == podID {
				chunks = append(chunks, c)
			}
			return true
		})
	})
	return chunks, err
}

// CountByPod returns the number of chunks stored for a pod.
func (r *VectorRepository) CountByPod(ctx context.Context, podID string) (int, error) {
	count := 0
	err := r.backend.view(func(tx *badger.Txn) error {
		return scanPrefix(tx, makePartialChunkKey(podID), storage.UnmarshalChunk, func(c *core.VectorChunk) bool {
			if c.PodID == podID {
				count++
			}
			return true
		})
	})
	return count, err
}

// FindSimilarInPod returns the chunks of a pod nearest to vector.
func (r *VectorRepository) FindSimilarInPod(ctx context.Context, podID string, vector []float32, limit int) ([]*core.SimilarChunk, error) {
	return r.findSimilar(ctx, makePartialChunkKey(podID), vector, limit, func(c *core.VectorChunk) bool {
		return c.PodID == podID
	})
}

// FindSimilarGlobal returns the chunks of any pod nearest to vector.
func (r *VectorRepository) FindSimilarGlobal(ctx context.Context, vector []float32, limit int) ([]*core.SimilarChunk, error) {
	return r.findSimilar(ctx, append([]byte(chunkPrefix), ':'), vector, limit, func(*core.VectorChunk) bool {
		return true
	})
}

// findSimilar scans prefix and ranks the chunks accepted by match. The key
// prefix of pod "a" also covers pod "a:b", so pod-scoped callers must match
// on the stored PodID.
func (r *VectorRepository) findSimilar(ctx context.Context, prefix []byte, vector []float32, limit int, match func(*core.VectorChunk) bool) ([]*core.SimilarChunk, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}

	var results []*core.SimilarChunk
	err := r.backend.view(func(tx *badger.Txn) error {
		return scanPrefix(tx, prefix, storage.UnmarshalChunk, func(c *core.VectorChunk) bool {
			// Chunks from a different model or dimension are not comparable
			if len(c.Vector) == 0 || len(c.Vector) != len(vector) || !match(c) {
				return true
			}
			results = append(results, &core.SimilarChunk{
				Chunk:    c,
				Distance: euclideanDistance(vector, c.Vector),
			})
			return ctx.Err() == nil
		})
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Sort by distance ascending
	slices.SortFunc(results, func(a, b *core.SimilarChunk) int {
		if a.Distance < b.Distance {
			return -1
		}
		if a.Distance > b.Distance {
			return 1
		}
		return 0
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// euclideanDistance calculates the L2 distance between two vectors of equal length.
func euclideanDistance(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}
