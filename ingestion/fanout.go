package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/metrics"
	"github.com/poiesic/podhub/queue"
	"github.com/poiesic/podhub/storage"
)

// FanoutProcessor consumes job-start messages. It claims the job, publishes
// one item message per data item, saves the pod index and completes the job.
type FanoutProcessor struct {
	pods         storage.PodRepository
	jobs         storage.JobRepository
	podIndexes   storage.PodIndexRepository
	publisher    queue.Publisher
	itemTopic    string
	modelVersion string
	metrics      *metrics.Registry
	logger       *slog.Logger
}

// NewFanoutProcessor creates a FanoutProcessor publishing to itemTopic.
func NewFanoutProcessor(pods storage.PodRepository, jobs storage.JobRepository, podIndexes storage.PodIndexRepository,
	publisher queue.Publisher, itemTopic, modelVersion string, registry *metrics.Registry, logger *slog.Logger) (*FanoutProcessor, error) {
	if pods == nil {
		return nil, ErrPodRepositoryRequired
	}
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if podIndexes == nil {
		return nil, ErrPodIndexRepositoryRequired
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
	return &FanoutProcessor{
		pods:         pods,
		jobs:         jobs,
		podIndexes:   podIndexes,
		publisher:    publisher,
		itemTopic:    itemTopic,
		modelVersion: modelVersion,
		metrics:      registry,
		logger:       logger.With("component", "fanout"),
	}, nil
}

// Handle processes one job-start message. The message is always acked; a
// job that fails is marked FAILED rather than redelivered.
func (f *FanoutProcessor) Handle(ctx context.Context, msg queue.Message) {
	defer ack(f.logger, msg)

	m, err := ParseJobStartMessage(msg.Value())
	if err != nil {
		f.logger.Warn("dropping malformed job message", "key", msg.Key(), "err", err)
		return
	}
	logger := f.logger.With("jobId", m.JobID, "podId", m.PodID, "traceId", m.TraceID)

	job, err := f.jobs.GetJob(ctx, m.JobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = core.ErrJobNotFound
		}
		logger.Warn("skipping job message", "err", err)
		return
	}

	claimed, err := f.jobs.UpdateJobStatus(ctx, job.ID, core.JobStatusPending, core.JobStatusRunning)
	if err != nil {
		logger.Error("failed to claim job", "err", err)
		return
	}
	if !claimed {
		logger.Info("skipping job message", "err", core.ErrDuplicateDelivery)
		return
	}

	count, err := f.fanOut(ctx, job)
	if err != nil {
		f.fail(ctx, job, err, logger)
		return
	}

	completed, err := f.jobs.MarkJobCompleted(ctx, job.ID)
	if err != nil || !completed {
		if err == nil {
			err = fmt.Errorf("job %s left RUNNING unexpectedly", job.ID)
		}
		f.fail(ctx, job, err, logger)
		return
	}

	duration := time.Since(job.CreatedAt)
	if done, err := f.jobs.GetJob(ctx, job.ID); err == nil && !done.FinishedAt.IsZero() {
		duration = done.Duration()
	}
	f.metrics.JobsCompleted.Inc()
	f.metrics.RunningJobs.Dec()
	f.metrics.IndexingDuration.Observe(duration)
	logger.Info("indexing job completed", "items", count, "duration", duration)
}

// fanOut publishes every item of the job's pod and saves the pod index.
func (f *FanoutProcessor) fanOut(ctx context.Context, job *core.IndexingJob) (int, error) {
	cursor, err := f.pods.StreamItems(ctx, job.PodID)
	if err != nil {
		return 0, fmt.Errorf("stream items: %w", err)
	}
	defer cursor.Close()

	var combined strings.Builder
	count := 0
	for cursor.Next() {
		item := cursor.Item()
		payload, err := ItemMessage{
			PodID:        job.PodID,
			DataItemID:   item.ID,
			Content:      item.Content,
			ModelVersion: f.modelVersion,
		}.Encode()
		if err != nil {
			return count, fmt.Errorf("encode item %s: %w", item.ID, err)
		}
		if err := f.publisher.Publish(ctx, f.itemTopic, item.ID, payload); err != nil {
			return count, fmt.Errorf("publish item %s: %w", item.ID, err)
		}
		combined.WriteString(item.Content)
		combined.WriteByte('\n')
		count++
	}
	if err := cursor.Err(); err != nil {
		return count, fmt.Errorf("stream items: %w", err)
	}

	index := &core.PodIndex{
		PodID:        job.PodID,
		CombinedText: combined.String(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := f.podIndexes.SavePodIndex(ctx, index); err != nil {
		return count, fmt.Errorf("save pod index: %w", err)
	}
	return count, nil
}

func (f *FanoutProcessor) fail(ctx context.Context, job *core.IndexingJob, cause error, logger *slog.Logger) {
	logger.Error("indexing job failed", "err", cause)

	// Record the failure even if the handler context was cancelled.
	ctx = context.WithoutCancel(ctx)
	if _, err := f.jobs.MarkJobFailed(ctx, job.ID, cause.Error()); err != nil {
		logger.Error("failed to mark job failed", "err", err)
	}
	f.metrics.JobsFailed.Inc()
	f.metrics.RunningJobs.Dec()
}

func ack(logger *slog.Logger, msg queue.Message) {
	if err := msg.Ack(); err != nil {
		logger.Warn("failed to ack message", "topic", msg.Topic(), "key", msg.Key(), "err", err)
	}
}
