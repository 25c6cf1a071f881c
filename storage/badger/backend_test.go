package badger

import (
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/podhub/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := t.TempDir() + "/nested/db"
	backend, err := OpenBackend(tmpDir, false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	err = backend.view(func(tx *badger.Txn) error { return nil })
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	err = backend.update(func(tx *badger.Txn) error { return tx.Set([]byte("k"), []byte("v")) })
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestBackendUpdate_RetriesConflicts(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	key := []byte("counter")
	increment := func(tx *badger.Txn) error {
		var n byte
		item, err := tx.Get(key)
		switch {
		case err == nil:
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			n = val[0]
		case err != badger.ErrKeyNotFound:
			return err
		}
		return tx.Set(key, []byte{n + 1})
	}

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, backend.update(increment))
		}()
	}
	wg.Wait()

	err = backend.view(func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		assert.Equal(t, byte(workers), val[0])
		return nil
	})
	require.NoError(t, err)
}

func TestEuclideanDistance(t *testing.T) {
	assert.InDelta(t, 0.0, euclideanDistance([]float32{1, 2}, []float32{1, 2}), 1e-6)
	assert.InDelta(t, 5.0, euclideanDistance([]float32{0, 0}, []float32{3, 4}), 1e-6)
}
