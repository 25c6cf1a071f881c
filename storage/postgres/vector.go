package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/storage"
)

const chunkColumns = `id, pod_id, item_id, content, embedding, model_version, updated_at`

// VectorRepository implements storage.VectorStore with pgvector's
// Euclidean distance operator.
type VectorRepository struct {
	db *DB
}

var _ storage.VectorStore = (*VectorRepository)(nil)

// NewVectorRepository returns a storage.VectorStore backed by db.
func NewVectorRepository(db *DB) storage.VectorStore {
	return &VectorRepository{db: db}
}

// Close is a no-op; the pool is owned by DB.
func (r *VectorRepository) Close() error {
	return nil
}

// SaveChunk inserts or replaces the chunk with the same ID.
func (r *VectorRepository) SaveChunk(ctx context.Context, chunk *core.VectorChunk) error {
	chunk.ID = core.ChunkID(chunk.PodID, chunk.ItemID)
	if chunk.UpdatedAt.IsZero() {
		chunk.UpdatedAt = time.Now().UTC()
	}

	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO vector_chunks (`+chunkColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE
		    SET content = EXCLUDED.content,
		        embedding = EXCLUDED.embedding,
		        model_version = EXCLUDED.model_version,
		        updated_at = EXCLUDED.updated_at`,
		chunk.ID, chunk.PodID, chunk.ItemID, chunk.Content,
		pgvector.NewVector(chunk.Vector), chunk.ModelVersion, chunk.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return nil
}

func (r *VectorRepository) GetChunk(ctx context.Context, chunkID string) (*core.VectorChunk, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+chunkColumns+` FROM vector_chunks WHERE id = $1`, chunkID)
	chunk, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return chunk, nil
}

func (r *VectorRepository) FindByPod(ctx context.Context, podID string) ([]*core.VectorChunk, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+chunkColumns+` FROM vector_chunks WHERE pod_id = $1`, podID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*core.VectorChunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (r *VectorRepository) CountByPod(ctx context.Context, podID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM vector_chunks WHERE pod_id = $1`, podID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// FindSimilarInPod returns the chunks of a pod nearest to vector.
func (r *VectorRepository) FindSimilarInPod(ctx context.Context, podID string, vector []float32, limit int) ([]*core.SimilarChunk, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	return r.querySimilar(ctx,
		`SELECT `+chunkColumns+`, embedding <-> $1 AS distance
		   FROM vector_chunks
		  WHERE pod_id = $3 AND vector_dims(embedding) = $4
		  ORDER BY embedding <-> $1
		  LIMIT $2`,
		pgvector.NewVector(vector), limit, podID, len(vector))
}

// FindSimilarGlobal returns the chunks of any pod nearest to vector.
func (r *VectorRepository) FindSimilarGlobal(ctx context.Context, vector []float32, limit int) ([]*core.SimilarChunk, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	return r.querySimilar(ctx,
		`SELECT `+chunkColumns+`, embedding <-> $1 AS distance
		   FROM vector_chunks
		  WHERE vector_dims(embedding) = $3
		  ORDER BY embedding <-> $1
		  LIMIT $2`,
		pgvector.NewVector(vector), limit, len(vector))
}

func (r *VectorRepository) querySimilar(ctx context.Context, sql string, args ...any) ([]*core.SimilarChunk, error) {
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var results []*core.SimilarChunk
	for rows.Next() {
		var (
			chunk     core.VectorChunk
			embedding pgvector.Vector
			distance  float64
		)
		err := rows.Scan(&chunk.ID, &chunk.PodID, &chunk.ItemID, &chunk.Content,
			&embedding, &chunk.ModelVersion, &chunk.UpdatedAt, &distance)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunk.Vector = embedding.Slice()
		chunk.UpdatedAt = chunk.UpdatedAt.UTC()
		results = append(results, &core.SimilarChunk{Chunk: &chunk, Distance: float32(distance)})
	}
	return results, rows.Err()
}

func scanChunk(row pgx.Row) (*core.VectorChunk, error) {
	var (
		chunk     core.VectorChunk
		embedding pgvector.Vector
	)
	err := row.Scan(&chunk.ID, &chunk.PodID, &chunk.ItemID, &chunk.Content,
		&embedding, &chunk.ModelVersion, &chunk.UpdatedAt)
	if err != nil {
		return nil, err
	}
	chunk.Vector = embedding.Slice()
	chunk.UpdatedAt = chunk.UpdatedAt.UTC()
	return &chunk, nil
}
