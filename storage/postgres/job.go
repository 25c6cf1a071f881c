package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/storage"
)

const jobColumns = `id, pod_id, status, created_at, started_at, finished_at, error_message`

// JobRepository implements storage.JobRepository on PostgreSQL.
// Status transitions are single UPDATE statements guarded by the expected
// status, so the database serializes competing claims.
type JobRepository struct {
	db *DB
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository returns a storage.JobRepository backed by db.
func NewJobRepository(db *DB) storage.JobRepository {
	return &JobRepository{db: db}
}

// Close is a no-op; the pool is owned by DB.
func (r *JobRepository) Close() error {
	return nil
}

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

	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO indexing_jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.PodID, int16(job.Status), job.CreatedAt,
		nullTime(job.StartedAt), nullTime(job.FinishedAt), job.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*core.IndexingJob, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM indexing_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) ListJobs(ctx context.Context, podID string) ([]*core.IndexingJob, error) {
	return r.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM indexing_jobs WHERE pod_id = $1 ORDER BY created_at, id`, podID)
}

func (r *JobRepository) ListStaleJobs(ctx context.Context, cutoff time.Time) ([]*core.IndexingJob, error) {
	return r.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM indexing_jobs WHERE status = $1 AND created_at < $2 ORDER BY created_at`,
		int16(core.JobStatusPending), cutoff)
}

func (r *JobRepository) UpdateJobStatus(ctx context.Context, jobID string, expected, next core.JobStatus) (bool, error) {
	if err := core.ValidateJobTransition(expected, next); err != nil {
		return false, err
	}

	now := time.Now().UTC()
	var startedAt, finishedAt pgtype.Timestamptz
	if next == core.JobStatusRunning {
		startedAt = nullTime(now)
	}
	if next.IsTerminal() {
		finishedAt = nullTime(now)
	}

	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE indexing_jobs
		    SET status = $3,
		        started_at = COALESCE($4, started_at),
		        finished_at = COALESCE($5, finished_at)
		  WHERE id = $1 AND status = $2`,
		jobID, int16(expected), int16(next), startedAt, finishedAt)
	if err != nil {
		return false, fmt.Errorf("failed to update job status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, jobID)
}

func (r *JobRepository) MarkJobCompleted(ctx context.Context, jobID string) (bool, error) {
	return r.UpdateJobStatus(ctx, jobID, core.JobStatusRunning, core.JobStatusCompleted)
}

func (r *JobRepository) MarkJobFailed(ctx context.Context, jobID, message string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE indexing_jobs
		    SET status = $2, finished_at = $3, error_message = $4
		  WHERE id = $1 AND status IN ($5, $6)`,
		jobID, int16(core.JobStatusFailed), time.Now().UTC(), message,
		int16(core.JobStatusPending), int16(core.JobStatusRunning))
	if err != nil {
		return false, fmt.Errorf("failed to mark job failed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, jobID)
}

// ensureExists distinguishes a lost race from a missing job.
func (r *JobRepository) ensureExists(ctx context.Context, jobID string) error {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM indexing_jobs WHERE id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check job: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return nil
}

func (r *JobRepository) queryJobs(ctx context.Context, sql string, args ...any) ([]*core.IndexingJob, error) {
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*core.IndexingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*core.IndexingJob, error) {
	var (
		job                   core.IndexingJob
		status                int16
		startedAt, finishedAt pgtype.Timestamptz
	)
	err := row.Scan(&job.ID, &job.PodID, &status, &job.CreatedAt, &startedAt, &finishedAt, &job.ErrorMessage)
	if err != nil {
		return nil, err
	}
	job.Status = core.JobStatus(status)
	job.CreatedAt = job.CreatedAt.UTC()
	if startedAt.Valid {
		job.StartedAt = startedAt.Time.UTC()
	}
	if finishedAt.Valid {
		job.FinishedAt = finishedAt.Time.UTC()
	}
	return &job, nil
}

func nullTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
