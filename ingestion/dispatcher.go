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


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/metrics"
	"github.com/poiesic/podhub/queue"
	"github.com/poiesic/podhub/storage"
)

// Dispatcher starts indexing jobs.
type Dispatcher struct {
	pods      storage.PodRepository
	jobs      storage.JobRepository
	publisher queue.Publisher
	topic     string
	metrics   *metrics.Registry
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher publishing to topic.
func NewDispatcher(pods storage.PodRepository, jobs storage.JobRepository, publisher queue.Publisher,
	topic string, registry *metrics.Registry, logger *slog.Logger) (*Dispatcher, error) {
	if pods == nil {
		return nil, ErrPodRepositoryRequired
	}
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if publisher == nil {
		return nil, ErrBrokerRequired
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		pods:      pods,
		jobs:      jobs,
		publisher: publisher,
		topic:     topic,
		metrics:   registry,
		logger:    logger.With("component", "dispatcher"),
	}, nil
}

// StartIndexing creates a PENDING job for the pod and publishes its
// job-start message.
//
// The job is persisted before publishing. If the publish fails the job is
// returned still PENDING with a nil error; such jobs are found with
// JobRepository.ListStaleJobs.
func (d *Dispatcher) StartIndexing(ctx context.Context, podID string) (*core.IndexingJob, error) {
	if _, err := d.pods.GetPod(ctx, podID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrPodNotFound, podID)
		}
		return nil, err
	}

	job := &core.IndexingJob{
		ID:        core.NewID(),
		PodID:     podID,
		Status:    core.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	msg := JobStartMessage{JobID: job.ID, PodID: podID, TraceID: core.NewID()}
	logger := d.logger.With("jobId", job.ID, "podId", podID, "traceId", msg.TraceID)

	payload, err := msg.Encode()
	if err == nil {
		err = d.publisher.Publish(ctx, d.topic, podID, payload)
	}
	if err != nil {
		logger.Error("failed to publish job start message; job left pending", "err", err)
		return job, nil
	}

	d.metrics.JobsStarted.Inc()
	d.metrics.RunningJobs.Inc()
	logger.Info("indexing job dispatched")
	return job, nil
}

// GetJob returns a job by ID, or core.ErrJobNotFound.
func (d *Dispatcher) GetJob(ctx context.Context, jobID string) (*core.IndexingJob, error) {
	job, err := d.jobs.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	return job, err
}

// ListJobs returns the jobs of a pod, oldest first.
func (d *Dispatcher) ListJobs(ctx context.Context, podID string) ([]*core.IndexingJob, error) {
	return d.jobs.ListJobs(ctx, podID)
}
