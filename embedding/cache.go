package embedding

import (
	"slices"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/poiesic/podhub/core"
)

// DefaultCacheMaxCost bounds the cache at 64 MiB of vector data.
const DefaultCacheMaxCost = 64 << 20

// vectorCache maps content hashes to embeddings. Cost is the vector size in bytes.
type vectorCache struct {
	cache *ristretto.Cache[uint64, []float32]
}

func newVectorCache(maxCost int64) (*vectorCache, error) {
	if maxCost <= 0 {
		maxCost = DefaultCacheMaxCost
	}
	// About ten counters per expected entry; 768-dim vectors cost 3 KiB each.
	counters := max(maxCost/3072*10, 1000)
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, []float32]{
		NumCounters:        counters,
		MaxCost:            maxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &vectorCache{cache: cache}, nil
}

func (c *vectorCache) get(key core.ContentHash) ([]float32, bool) {
	vec, ok := c.cache.Get(uint64(key))
	if !ok {
		return nil, false
	}
	return slices.Clone(vec), true
}

// put stores vec and waits for the write to become visible.
func (c *vectorCache) put(key core.ContentHash, vec []float32) {
	if c.cache.Set(uint64(key), slices.Clone(vec), int64(len(vec)*4)) {
		c.cache.Wait()
	}
}

func (c *vectorCache) close() {
	c.cache.Close()
}
