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


// Package metrics holds the indexing pipeline's counters, running-jobs
// gauge and job duration histogram. All operations are lock-free and safe
// for concurrent use.
package metrics

import (
	"time"

	"go.uber.org/atomic"
)

// Metric names, as reported in snapshots and logs.
const (
	JobsStartedName      = "indexing.jobs.started"
	JobsCompletedName    = "indexing.jobs.completed"
	JobsFailedName       = "indexing.jobs.failed"
	ChunksProcessedName  = "indexing.chunks.processed"
	ChunksFailedName     = "indexing.chunks.failed"
	ChunksRetriedName    = "indexing.chunks.retries"
	RunningJobsName      = "indexing.jobs.running"
	IndexingDurationName = "indexing.duration"
)

// DefaultBuckets are the upper bounds of the duration histogram.
var DefaultBuckets = []time.Duration{
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
	30 * time.Second,
	time.Minute,
	5 * time.Minute,
}

// Registry holds every pipeline metric.
type Registry struct {
	JobsStarted     *atomic.Int64
	JobsCompleted   *atomic.Int64
	JobsFailed      *atomic.Int64
	ChunksProcessed *atomic.Int64
	ChunksFailed    *atomic.Int64
	ChunksRetried   *atomic.Int64
	RunningJobs     *atomic.Int64

	IndexingDuration *Histogram
}

// NewRegistry creates a Registry with all metrics at zero.
func NewRegistry() *Registry {
	return &Registry{
		JobsStarted:      atomic.NewInt64(0),
		JobsCompleted:    atomic.NewInt64(0),
		JobsFailed:       atomic.NewInt64(0),
		ChunksProcessed:  atomic.NewInt64(0),
		ChunksFailed:     atomic.NewInt64(0),
		ChunksRetried:    atomic.NewInt64(0),
		RunningJobs:      atomic.NewInt64(0),
		IndexingDuration: NewHistogram(DefaultBuckets),
	}
}

// Snapshot is a point-in-time copy of a Registry.
type Snapshot struct {
	JobsStarted     int64 `json:"jobsStarted"`
	JobsCompleted   int64 `json:"jobsCompleted"`
	JobsFailed      int64 `json:"jobsFailed"`
	ChunksProcessed int64 `json:"chunksProcessed"`
	ChunksFailed    int64 `json:"chunksFailed"`
	ChunksRetried   int64 `json:"chunksRetried"`
	RunningJobs     int64 `json:"runningJobs"`

	IndexingDuration HistogramSnapshot `json:"indexingDuration"`
}

// Snapshot copies the current values. Individual values are read
// atomically; the snapshot as a whole is not.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		JobsStarted:      r.JobsStarted.Load(),
		JobsCompleted:    r.JobsCompleted.Load(),
		JobsFailed:       r.JobsFailed.Load(),
		ChunksProcessed:  r.ChunksProcessed.Load(),
		ChunksFailed:     r.ChunksFailed.Load(),
		ChunksRetried:    r.ChunksRetried.Load(),
		RunningJobs:      r.RunningJobs.Load(),
		IndexingDuration: r.IndexingDuration.Snapshot(),
	}
}

// Values returns the snapshot as name/value pairs suitable for slog.
func (s Snapshot) Values() []any {
	return []any{
		JobsStartedName, s.JobsStarted,
		JobsCompletedName, s.JobsCompleted,
		JobsFailedName, s.JobsFailed,
		ChunksProcessedName, s.ChunksProcessed,
		ChunksFailedName, s.ChunksFailed,
		ChunksRetriedName, s.ChunksRetried,
		RunningJobsName, s.RunningJobs,
		IndexingDurationName + ".count", s.IndexingDuration.Count,
		IndexingDurationName + ".avg", s.IndexingDuration.Average,
	}
}
