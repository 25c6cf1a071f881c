package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/storage"
)

// DeadLetterRepository implements storage.DeadLetterRepository for BadgerDB.
// Dead letter IDs sort by creation time, so key order is arrival order.
type DeadLetterRepository struct {
	backend *Backend
}

var _ storage.DeadLetterRepository = (*DeadLetterRepository)(nil)

// NewDeadLetterRepository creates a new DeadLetterRepository.
func NewDeadLetterRepository(backend *Backend) storage.DeadLetterRepository {
	return &DeadLetterRepository{
		backend: backend,
	}
}

// Close is a no-op; the backend is owned by the caller.
func (r *DeadLetterRepository) Close() error {
	return nil
}

// SaveDeadLetter stores a dead letter.
func (r *DeadLetterRepository) SaveDeadLetter(ctx context.Context, letter *core.DeadLetter) (*core.DeadLetter, error) {
	if letter.ID == "" {
		letter.ID = core.NewID()
	}
	if letter.CreatedAt.IsZero() {
		letter.CreatedAt = time.Now().UTC()
	}
	err := r.backend.update(func(tx *badger.Txn) error {
		return tx.Set(makeDeadLetterKey(letter.ID), storage.MarshalDeadLetter(letter))
	})
	if err != nil {
		return nil, err
	}
	return letter, nil
}

// GetDeadLetter retrieves a dead letter by ID.
func (r *DeadLetterRepository) GetDeadLetter(ctx context.Context, id string) (*core.DeadLetter, error) {
	var letter *core.DeadLetter
	err := r.backend.view(func(tx *badger.Txn) error {
		var err error
		letter, err = readValue(tx, makeDeadLetterKey(id), storage.UnmarshalDeadLetter)
		return err
	})
	return letter, err
}

// ListDeadLetters returns up to limit dead letters, oldest first.
func (r *DeadLetterRepository) ListDeadLetters(ctx context.Context, limit int) ([]*core.DeadLetter, error) {
	var letters []*core.DeadLetter
	err := r.backend.view(func(tx *badger.Txn) error {
		return scanPrefix(tx, append([]byte(deadLetterPrefix), ':'), storage.UnmarshalDeadLetter, func(l *core.DeadLetter) bool {
			letters = append(letters, l)
			return limit <= 0 || len(letters) < limit
		})
	})
	return letters, err
}

// DeleteDeadLetter removes a dead letter.
func (r *DeadLetterRepository) DeleteDeadLetter(ctx context.Context, id string) error {
	return r.backend.update(func(tx *badger.Txn) error {
		key := makeDeadLetterKey(id)
		if _, err := tx.Get(key); err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return tx.Delete(key)
	})
}
