package badger

import (
	"context"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/storage"
)

// PodRepository implements storage.PodRepository for BadgerDB.
type PodRepository struct {
	backend *Backend
	itemSeq *badger.Sequence
}

var _ storage.PodRepository = (*PodRepository)(nil)

// NewPodRepository creates a new PodRepository.
func NewPodRepository(backend *Backend) (storage.PodRepository, error) {
	return newPodRepository(backend)
}

func newPodRepository(backend *Backend) (*PodRepository, error) {
	itemSeq, err := backend.GetSequence(podItemSeq)
	if err != nil {
		return nil, err
	}

	return &PodRepository{
		backend: backend,
		itemSeq: itemSeq,
	}, nil
}

// Close releases the item sequence.
func (r *PodRepository) Close() error {
	return r.itemSeq.Release()
}

// CreatePod stores a new pod.
func (r *PodRepository) CreatePod(ctx context.Context, pod *core.Pod) (*core.Pod, error) {
	if err := core.ValidatePod(pod); err != nil {
		return nil, err
	}
	if pod.ID == "" {
		pod.ID = core.NewID()
	}
	if pod.CreatedAt.IsZero() {
		pod.CreatedAt = time.Now().UTC()
	}

	err := r.backend.update(func(tx *badger.Txn) error {
		return tx.Set(makePodKey(pod.ID), storage.MarshalPod(pod))
	})
	if err != nil {
		return nil, err
	}
	return pod, nil
}

// GetPod retrieves a pod by ID.
func (r *PodRepository) GetPod(ctx context.Context, podID string) (*core.Pod, error) {
	var pod *core.Pod
	err := r.backend.view(func(tx *badger.Txn) error {
		var err error
		pod, err = readValue(tx, makePodKey(podID), storage.UnmarshalPod)
		return err
	})
	return pod, err
}

// ListPods returns all pods ordered by creation time.
func (r *PodRepository) ListPods(ctx context.Context) ([]*core.Pod, error) {
	var pods []*core.Pod
	err := r.backend.view(func(tx *badger.Txn) error {
		return scanPrefix(tx, append([]byte(podPrefix), ':'), storage.UnmarshalPod, func(p *core.Pod) bool {
			pods = append(pods, p)
			return true
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(pods, func(a, b *core.Pod) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return pods, nil
}

// AddItems appends items to a pod.
func (r *PodRepository) AddItems(ctx context.Context, podID string, items ...*core.DataItem) ([]*core.DataItem, error) {
	for _, item := range items {
		if err := core.ValidateDataItem(item); err != nil {
			return nil, err
		}
	}

	err := r.backend.update(func(tx *badger.Txn) error {
		if _, err := tx.Get(makePodKey(podID)); err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}

		now := time.Now().UTC()
		for _, item := range items {
			seq, err := r.itemSeq.Next()
			if err != nil {
				return err
			}
			// BadgerDB sequences can return 0 on first call, so we skip it
			if seq == 0 {
				seq, err = r.itemSeq.Next()
				if err != nil {
					return err
				}
			}
			item.Seq = seq
			item.PodID = podID
			if item.ID == "" {
				item.ID = core.NewID()
			}
			if item.CreatedAt.IsZero() {
				item.CreatedAt = now
			}

			key := makeItemKey(podID, seq)
			if err := tx.Set(key, storage.MarshalDataItem(item)); err != nil {
				return err
			}
			if err := tx.Set(makeItemIDKey(podID, item.ID), key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// GetItem retrieves a single item of a pod.
func (r *PodRepository) GetItem(ctx context.Context, podID, itemID string) (*core.DataItem, error) {
	var result *core.DataItem
	err := r.backend.view(func(tx *badger.Txn) error {
		ref, err := tx.Get(makeItemIDKey(podID, itemID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		key, err := ref.ValueCopy(nil)
		if err != nil {
			return err
		}
		result, err = readValue(tx, key, storage.UnmarshalDataItem)
		return err
	})
	return result, err
}

// CountItems returns the number of items stored in a pod.
func (r *PodRepository) CountItems(ctx context.Context, podID string) (int, error) {
	count := 0
	err := r.backend.view(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialItemKey(podID)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// StreamItems opens a lazy cursor over the pod's items in append order.
// The cursor reads from a snapshot taken when it is opened; items appended
// afterwards are not visible to it.
func (r *PodRepository) StreamItems(ctx context.Context, podID string) (storage.ItemCursor, error) {
	if _, err := r.GetPod(ctx, podID); err != nil {
		return nil, err
	}

	tx := r.backend.newReadTx()
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialItemKey(podID)
	opts.PrefetchSize = 32

	return &itemCursor{
		ctx:  ctx,
		tx:   tx,
		iter: tx.NewIterator(opts),
	}, nil
}

// itemCursor walks a badger iterator one item at a time.
type itemCursor struct {
	ctx     context.Context
	tx      *badger.Txn
	iter    *badger.Iterator
	started bool
	closed  bool
	current *core.DataItem
	err     error
}

var _ storage.ItemCursor = (*itemCursor)(nil)

func (c *itemCursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}

	if !c.started {
		c.iter.Rewind()
		c.started = true
	} else {
		c.iter.Next()
	}
	if !c.iter.Valid() {
		c.current = nil
		return false
	}

	err := c.iter.Item().Value(func(val []byte) error {
		var decodeErr error
		c.current, decodeErr = storage.UnmarshalDataItem(val)
		return decodeErr
	})
	if err != nil {
		c.err = err
		c.current = nil
		return false
	}
	return true
}

func (c *itemCursor) Item() *core.DataItem {
	return c.current
}

func (c *itemCursor) Err() error {
	return c.err
}

func (c *itemCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.iter.Close()
	c.tx.Discard()
	return nil
}
