package storage

import (
	"context"
	"time"

	"github.com/poiesic/podhub/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Close closes the repository and releases resources.
	// Repositories sharing a backend do not close the backend itself.
	Close() error
}

// ItemCursor streams the items of a pod in append order without loading
// them all at once. Callers must call Close on every exit path.
type ItemCursor interface {
	// Next advances to the next item. Returns false when exhausted or on error.
	Next() bool

	// Item returns the current item. Only valid after Next returned true.
	Item() *core.DataItem

	// Err returns the first error encountered while iterating.
	Err() error

	// Close releases resources held by the cursor. Safe to call more than once.
	Close() error
}

// PodRepository manages pods and their append-only items.
type PodRepository interface {
	Repository

	// CreatePod stores a new pod. Assigns an ID and CreatedAt if not set.
	CreatePod(ctx context.Context, pod *core.Pod) (*core.Pod, error)

	// GetPod retrieves a pod by ID.
	// Returns ErrNotFound if the pod doesn't exist.
	GetPod(ctx context.Context, podID string) (*core.Pod, error)

	// ListPods returns all pods ordered by creation time.
	ListPods(ctx context.Context) ([]*core.Pod, error)

	// AddItems appends items to a pod. Assigns IDs, sequence numbers and
	// CreatedAt where missing. Returns ErrNotFound if the pod doesn't exist.
	AddItems(ctx context.Context, podID string, items ...*core.DataItem) ([]*core.DataItem, error)

	// GetItem retrieves a single item of a pod.
	// Returns ErrNotFound if the item doesn't exist.
	GetItem(ctx context.Context, podID, itemID string) (*core.DataItem, error)

	// CountItems returns the number of items stored in a pod.
	CountItems(ctx context.Context, podID string) (int, error)

	// StreamItems opens a lazy cursor over the pod's items in append order.
	StreamItems(ctx context.Context, podID string) (ItemCursor, error)
}

// JobRepository persists indexing jobs and enforces their lifecycle.
type JobRepository interface {
	Repository

	// SaveJob stores a new job.
	SaveJob(ctx context.Context, job *core.IndexingJob) error

	// GetJob retrieves a job by ID.
	// Returns ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, jobID string) (*core.IndexingJob, error)

	// ListJobs returns all jobs of a pod ordered by creation time.
	ListJobs(ctx context.Context, podID string) ([]*core.IndexingJob, error)

	// ListStaleJobs returns PENDING jobs created before the cutoff.
	ListStaleJobs(ctx context.Context, cutoff time.Time) ([]*core.IndexingJob, error)

	// UpdateJobStatus atomically moves a job from expected to next and
	// reports whether the change was applied. A job whose current status
	// differs from expected is left untouched and false is returned.
	// Moving to RUNNING stamps StartedAt.
	// Returns ErrNotFound if the job doesn't exist.
	UpdateJobStatus(ctx context.Context, jobID string, expected, next core.JobStatus) (bool, error)

	// MarkJobCompleted moves a RUNNING job to COMPLETED and stamps FinishedAt.
	// Returns false if the job was not RUNNING.
	MarkJobCompleted(ctx context.Context, jobID string) (bool, error)

	// MarkJobFailed moves a PENDING or RUNNING job to FAILED, records the
	// message and stamps FinishedAt. Returns false if the job was already terminal.
	MarkJobFailed(ctx context.Context, jobID, message string) (bool, error)
}

// VectorStore persists embedded chunks and answers similarity queries.
// Distances are Euclidean; smaller is closer.
type VectorStore interface {
	Repository

	// SaveChunk inserts or replaces the chunk with the same ID.
	SaveChunk(ctx context.Context, chunk *core.VectorChunk) error

	// GetChunk retrieves a chunk by ID.
	// Returns ErrNotFound if the chunk doesn't exist.
	GetChunk(ctx context.Context, chunkID string) (*core.VectorChunk, error)

	// FindByPod returns every chunk of a pod, in no particular order.
	FindByPod(ctx context.Context, podID string) ([]*core.VectorChunk, error)

	// CountByPod returns the number of chunks stored for a pod.
	CountByPod(ctx context.Context, podID string) (int, error)

	// FindSimilarInPod returns up to limit chunks of the pod nearest to vector,
	// closest first. Chunks of other pods are never returned.
	FindSimilarInPod(ctx context.Context, podID string, vector []float32, limit int) ([]*core.SimilarChunk, error)

	// FindSimilarGlobal returns up to limit chunks across all pods nearest to
	// vector, closest first.
	FindSimilarGlobal(ctx context.Context, vector []float32, limit int) ([]*core.SimilarChunk, error)
}

// PodIndexRepository stores the plain-text fallback aggregate of each pod.
type PodIndexRepository interface {
	Repository

	// SavePodIndex inserts or replaces the index of a pod.
	SavePodIndex(ctx context.Context, index *core.PodIndex) error

	// GetPodIndex retrieves the index of a pod.
	// Returns ErrNotFound if none was built yet.
	GetPodIndex(ctx context.Context, podID string) (*core.PodIndex, error)
}

// DeadLetterRepository archives messages that could not be processed.
type DeadLetterRepository interface {
	Repository

	// SaveDeadLetter stores a dead letter. Assigns an ID and CreatedAt if not set.
	SaveDeadLetter(ctx context.Context, letter *core.DeadLetter) (*core.DeadLetter, error)

	// GetDeadLetter retrieves a dead letter by ID.
	// Returns ErrNotFound if it doesn't exist.
	GetDeadLetter(ctx context.Context, id string) (*core.DeadLetter, error)

	// ListDeadLetters returns up to limit dead letters, oldest first.
	// A limit <= 0 returns all of them.
	ListDeadLetters(ctx context.Context, limit int) ([]*core.DeadLetter, error)

	// DeleteDeadLetter removes a dead letter.
	// Returns ErrNotFound if it doesn't exist.
	DeleteDeadLetter(ctx context.Context, id string) error
}
