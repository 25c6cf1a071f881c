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
	"fmt"
	"io"
	"time"

	"github.com/poiesic/podhub/ai"
	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunks to embed in each call
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for each embedding call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// Force re-embeds chunks already stamped with the target model version
	Force bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Result summarizes one run.
type Result struct {
	Total      int
	Reembedded int
	Skipped    int
	Elapsed    time.Duration
}

// Reembedder migrates the chunks of a pod to modelVersion.
type Reembedder struct {
	vectors   storage.VectorStore
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *ChunkIterator
	version   string
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(vectors storage.VectorStore, embedder ai.Embedder, modelVersion string, config *Config, progress io.Writer) (*Reembedder, error) {
	if modelVersion == "" {
		return nil, ErrModelVersionRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		vectors:   vectors,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(vectors, embedder, modelVersion, config.MaxRetries, config.RetryDelay),
		iterator:  NewChunkIterator(vectors, config.BatchSize),
		version:   modelVersion,
	}, nil
}

// Run re-embeds every chunk of podID not yet at the target model version.
func (r *Reembedder) Run(ctx context.Context, podID string) (*Result, error) {
	total, err := r.vectors.CountByPod(ctx, podID)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	result := &Result{Total: total}
	if total == 0 {
		fmt.Fprintf(r.progress, "No chunks found for pod %s\n", podID)
		return result, nil
	}

	fmt.Fprintf(r.progress, "Re-embedding %d chunks of pod %s with %s (batch size: %d)\n",
		total, podID, r.version, r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	err = r.iterator.ForEach(ctx, podID, func(chunks []*core.VectorChunk) error {
		pending := chunks[:0:0]
		for _, chunk := range chunks {
			if !r.config.Force && chunk.ModelVersion == r.version {
				result.Skipped++
				continue
			}
			pending = append(pending, chunk)
		}

		if err := r.processor.Process(ctx, pending); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		result.Reembedded += len(pending)
		tracker.Increment(len(chunks))
		return nil
	})
	if err != nil {
		return result, err
	}

	tracker.Finish()
	result.Elapsed = tracker.Elapsed()
	fmt.Fprintf(r.progress, "Re-embedding complete. %d re-embedded, %d already current, in %v\n",
		result.Reembedded, result.Skipped, result.Elapsed.Round(time.Millisecond))
	return result, nil
}
