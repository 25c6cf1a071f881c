// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reembed

import (
	"context"
	"slices"
	"strings"

	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/storage"
)

const (
	// DefaultBatchSize is the default number of chunks handed to fn at once
	DefaultBatchSize = 100
)

// ChunkIterator iterates over the chunks of one pod in batches.
type ChunkIterator struct {
	vectors   storage.VectorStore
	batchSize int
}

// NewChunkIterator creates a new chunk iterator.
// batchSize: number of chunks per batch (defaults when <= 0)
func NewChunkIterator(vectors storage.VectorStore, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ChunkIterator{
		vectors:   vectors,
		batchSize: batchSize,
	}
}

// ForEach calls fn with successive batches of the pod's chunks, ordered by ID.
// Iteration stops on the first error from fn. Context cancellation is checked
// between batches.
func (it *ChunkIterator) ForEach(ctx context.Context, podID string, fn func([]*core.VectorChunk) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chunks, err := it.vectors.FindByPod(ctx, podID)
	if err != nil {
		return err
	}
	slices.SortFunc(chunks, func(a, b *core.VectorChunk) int {
		return strings.Compare(a.ID, b.ID)
	})

	for batch := range slices.Chunk(chunks, it.batchSize) {
		if err := fn(batch); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
