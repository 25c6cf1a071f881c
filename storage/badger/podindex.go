package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/storage"
)

// PodIndexRepository implements storage.PodIndexRepository for BadgerDB.
type PodIndexRepository struct {
	backend *Backend
}

var _ storage.PodIndexRepository = (*PodIndexRepository)(nil)

// NewPodIndexRepository creates a new PodIndexRepository.
func NewPodIndexRepository(backend *Backend) storage.PodIndexRepository {
	return &PodIndexRepository{
		backend: backend,
	}
}

// Close is a no-op; the backend is owned by the caller.
func (r *PodIndexRepository) Close() error {
	return nil
}

// SavePodIndex inserts or replaces the index of a pod.
func (r *PodIndexRepository) SavePodIndex(ctx context.Context, index *core.PodIndex) error {
	if index.CreatedAt.IsZero() {
		index.CreatedAt = time.Now().UTC()
	}
	return r.backend.update(func(tx *badger.Txn) error {
		return tx.Set(makePodIndexKey(index.PodID), storage.MarshalPodIndex(index))
	})
}

// GetPodIndex retrieves the index of a pod.
func (r *PodIndexRepository) GetPodIndex(ctx context.Context, podID string) (*core.PodIndex, error) {
	var index *core.PodIndex
	err := r.backend.view(func(tx *badger.Txn) error {
		var err error
		index, err = readValue(tx, makePodIndexKey(podID), storage.UnmarshalPodIndex)
		return err
	})
	return index, err
}
