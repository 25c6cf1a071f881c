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


package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/storage"
)

// JobRepository implements storage.JobRepository for BadgerDB.
// Status transitions read and write the job inside one transaction; badger
// rejects the commit of a transaction whose read set changed, which makes
// the compare-and-set atomic across concurrent callers.
type JobRepository struct {
	backend *Backend
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) storage.JobRepository {
	return &JobRepository{
		backend: backend,
	}
}

// Close is a no-op; the backend is owned by the caller.
func (r *JobRepository) Close() error {
	return nil
}

// SaveJob stores a new job.
func (r *JobRepository) SaveJob(ctx context.Context, job *core.IndexingJob) error {
	if job.ID == "" {
		job.ID = core.NewID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == 0 {
		job.Status = core.JobStatusPending
	}

	return r.backend.update(func(tx *badger.Txn) error {
		if err := tx.Set(makeJobKey(job.ID), storage.MarshalJob(job)); err != nil {
			return err
		}
		return tx.Set(makePodJobKey(job.PodID, job.ID), []byte(job.ID))
	})
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*core.IndexingJob, error) {
	var job *core.IndexingJob
	err := r.backend.view(func(tx *badger.Txn) error {
		var err error
		job, err = readValue(tx, makeJobKey(jobID), storage.UnmarshalJob)
		return err
	})
	return job, err
}

// ListJobs returns all jobs of a pod ordered by creation time.
func (r *JobRepository) ListJobs(ctx context.Context, podID string) ([]*core.IndexingJob, error) {
	var jobs []*core.IndexingJob
	err := r.backend.view(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialPodJobKey(podID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			jobID, err := iter.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			job, err := readValue(tx, makeJobKey(string(jobID)), storage.UnmarshalJob)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	return jobs, err
}

// ListStaleJobs returns PENDING jobs created before the cutoff.
func (r *JobRepository) ListStaleJobs(ctx context.Context, cutoff time.Time) ([]*core.IndexingJob, error) {
	var jobs []*core.IndexingJob
	err := r.backend.view(func(tx *badger.Txn) error {
		return scanPrefix(tx, append([]byte(jobPrefix), ':'), storage.UnmarshalJob, func(job *core.IndexingJob) bool {
			if job.Status == core.JobStatusPending && job.CreatedAt.Before(cutoff) {
				jobs = append(jobs, job)
			}
			return true
		})
	})
	return jobs, err
}

// UpdateJobStatus atomically moves a job from expected to next.
func (r *JobRepository) UpdateJobStatus(ctx context.Context, jobID string, expected, next core.JobStatus) (bool, error) {
	if err := core.ValidateJobTransition(expected, next); err != nil {
		return false, err
	}
	return r.transition(jobID, func(job *core.IndexingJob) bool {
		if job.Status != expected {
			return false
		}
		job.Status = next
		return true
	})
}

// MarkJobCompleted moves a RUNNING job to COMPLETED.
func (r *JobRepository) MarkJobCompleted(ctx context.Context, jobID string) (bool, error) {
	return r.transition(jobID, func(job *core.IndexingJob) bool {
		if job.Status != core.JobStatusRunning {
			return false
		}
		job.Status = core.JobStatusCompleted
		return true
	})
}

// MarkJobFailed moves a non-terminal job to FAILED with the given message.
func (r *JobRepository) MarkJobFailed(ctx context.Context, jobID, message string) (bool, error) {
	return r.transition(jobID, func(job *core.IndexingJob) bool {
		if job.Status.IsTerminal() {
			return false
		}
		job.Status = core.JobStatusFailed
		job.ErrorMessage = message
		return true
	})
}

// transition applies mutate to the stored job and persists it when mutate
// reports a change. Timestamps follow the resulting status.
func (r *JobRepository) transition(jobID string, mutate func(job *core.IndexingJob) bool) (bool, error) {
	applied := false
	err := r.backend.update(func(tx *badger.Txn) error {
		applied = false
		job, err := readValue(tx, makeJobKey(jobID), storage.UnmarshalJob)
		if err != nil {
			return err
		}
		if !mutate(job) {
			return nil
		}

		now := time.Now().UTC()
		switch {
		case job.Status == core.JobStatusRunning:
			job.StartedAt = now
		case job.Status.IsTerminal():
			job.FinishedAt = now
		}

		applied = true
		return tx.Set(makeJobKey(jobID), storage.MarshalJob(job))
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
