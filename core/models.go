package core

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// ContentHash is a 64-bit digest of text content.
type ContentHash uint64

// HashContent returns a deterministic BLAKE2b digest of the text.
// Identical text always produces the identical hash.
func HashContent(text string) ContentHash {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ContentHash(binary.LittleEndian.Uint64(sum))
}

// NewID returns a new identifier for pods, items, jobs and dead letters.
// IDs are UUIDv7, so their string form sorts by creation time.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ChunkID derives the vector chunk identifier for an item of a pod.
// The result depends only on its inputs, so redelivered work overwrites
// the same chunk.
func ChunkID(podID, itemID string) string {
	return podID + ":" + itemID
}

// Pod is a named collection of data items owned by a user.
type Pod struct {
	ID          string
	Name        string
	OwnerUserID string
	CreatedAt   time.Time
}

// DataItem is a single immutable piece of free text belonging to a pod.
type DataItem struct {
	ID        string
	PodID     string
	Seq       uint64 // Append position within the pod
	Content   string
	CreatedAt time.Time
}

// JobStatus is the lifecycle state of an IndexingJob.
type JobStatus int

const (
	JobStatusPending JobStatus = iota + 1
	JobStatusRunning
	JobStatusCompleted
	JobStatusFailed
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "PENDING"
	case JobStatusRunning:
		return "RUNNING"
	case JobStatusCompleted:
		return "COMPLETED"
	case JobStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IndexingJob tracks one request to index a pod.
type IndexingJob struct {
	ID           string
	PodID        string
	Status       JobStatus
	CreatedAt    time.Time
	StartedAt    time.Time // Zero until the job is claimed
	FinishedAt   time.Time // Zero until the job reaches a terminal status
	ErrorMessage string
}

// Duration returns the time from creation to completion, or zero if unfinished.
func (j *IndexingJob) Duration() time.Duration {
	if j.FinishedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.CreatedAt)
}

// VectorChunk is the embedded form of one data item.
type VectorChunk struct {
	ID           string // Always ChunkID(PodID, ItemID)
	PodID        string
	ItemID       string
	Content      string
	Vector       []float32
	ModelVersion string
	UpdatedAt    time.Time
}

// SimilarChunk is a similarity search hit. Smaller distances are closer.
type SimilarChunk struct {
	Chunk    *VectorChunk
	Distance float32
}

// PodIndex is the plain-text aggregate of a pod used when retrieval fails.
type PodIndex struct {
	PodID        string
	CombinedText string
	CreatedAt    time.Time
}

// DeadLetter is an archived message that could not be processed.
type DeadLetter struct {
	ID        string
	Topic     string
	Key       string
	Payload   string
	Reason    string
	CreatedAt time.Time
}
