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


// Package podhub wires storage, the message broker, the AI provider and the
// indexing pipeline into a single Hub.
package podhub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/podhub/ai"
	"github.com/poiesic/podhub/ai/ollama"
	"github.com/poiesic/podhub/ai/openai"
	"github.com/poiesic/podhub/config"
	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/embedding"
	"github.com/poiesic/podhub/ingestion"
	"github.com/poiesic/podhub/metrics"
	"github.com/poiesic/podhub/queue"
	"github.com/poiesic/podhub/queue/memory"
	"github.com/poiesic/podhub/queue/natsq"
	"github.com/poiesic/podhub/reembed"
	"github.com/poiesic/podhub/search"
	"github.com/poiesic/podhub/storage"
	"github.com/poiesic/podhub/storage/badger"
	"github.com/poiesic/podhub/storage/postgres"
	"golang.org/x/time/rate"
)

// DefaultPollInterval is how often WaitForJob re-reads a job.
const DefaultPollInterval = 100 * time.Millisecond

// Providers maps provider names to their constructors.
var Providers = map[string]ai.ProviderFactory{
	ai.ProviderOpenAI: openai.NewProvider,
	ai.ProviderOllama: ollama.NewProvider,
}

// Hub is an opened podhub instance.
type Hub struct {
	config   *config.Config
	repos    *badger.Repositories
	pg       *postgres.DB
	stores   ingestion.Stores
	broker   queue.Broker
	provider ai.AIProvider
	client   *embedding.Client
	pipeline *ingestion.Pipeline
	searcher *search.Searcher
	metrics  *metrics.Registry
	logger   *slog.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	provider ai.AIProvider
	broker   queue.Broker
	logger   *slog.Logger
}

// WithProvider uses provider instead of building one from the AI config.
// The Hub takes ownership and closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithBroker uses broker instead of building one from the broker config.
// The Hub takes ownership and closes it.
func WithBroker(broker queue.Broker) Option {
	return func(o *options) {
		o.broker = broker
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open validates cfg and opens every component it names. The returned Hub
// has its topics created but its pipeline stopped; call Start to consume.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (hub *Hub, err error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Hub{
		config:   cfg,
		provider: o.provider,
		broker:   o.broker,
		metrics:  metrics.NewRegistry(),
		logger:   o.logger.With("component", "hub"),
	}
	defer func() {
		if err != nil {
			h.Close()
		}
	}()

	if err := h.openStorage(ctx); err != nil {
		return nil, err
	}
	if h.provider == nil {
		if h.provider, err = ai.Open(&cfg.AI, Providers); err != nil {
			return nil, err
		}
	}
	if h.broker == nil {
		if h.broker, err = openBroker(cfg, o.logger); err != nil {
			return nil, err
		}
	}
	if h.client, err = h.newEmbeddingClient(o.logger); err != nil {
		return nil, err
	}

	h.pipeline, err = ingestion.NewPipeline(h.stores, h.broker, h.client,
		ingestion.WithLogger(o.logger),
		ingestion.WithJobConcurrency(cfg.Pipeline.JobConcurrency),
		ingestion.WithItemConcurrency(cfg.Pipeline.ItemConcurrency),
		ingestion.WithItemTimeout(cfg.Pipeline.ItemTimeout.Std()),
		ingestion.WithTopics(cfg.Topics),
		ingestion.WithModelVersion(h.provider.ModelVersion()),
		ingestion.WithMetrics(h.metrics),
	)
	if err != nil {
		return nil, err
	}
	if err := h.pipeline.CreateTopics(ctx); err != nil {
		return nil, fmt.Errorf("create topics: %w", err)
	}

	h.searcher, err = search.NewSearcher(h.stores.Pods, h.stores.Vectors, h.stores.PodIndexes, h.client,
		search.WithAnswerer(h.provider.Answerer()),
		search.WithLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}

	h.logger.Info("podhub opened",
		"storage", cfg.Storage.Backend,
		"broker", cfg.Broker.Kind,
		"provider", cfg.AI.Provider,
		"modelVersion", h.provider.ModelVersion())
	return h, nil
}

func (h *Hub) openStorage(ctx context.Context) error {
	repos, err := badger.OpenRepositories(h.config.Storage.Path, h.config.Storage.InMemory)
	if err != nil {
		return err
	}
	h.repos = repos
	h.stores = ingestion.Stores{
		Pods:        repos.Pods,
		Jobs:        repos.Jobs,
		Vectors:     repos.Vectors,
		PodIndexes:  repos.PodIndexes,
		DeadLetters: repos.DeadLetters,
	}
	if h.config.Storage.Backend != config.StoragePostgres {
		return nil
	}

	db, err := postgres.Open(ctx, h.config.Storage.PostgresURL)
	if err != nil {
		return err
	}
	h.pg = db
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	h.stores.Jobs = postgres.NewJobRepository(db)
	h.stores.Vectors = postgres.NewVectorRepository(db)
	return nil
}

func openBroker(cfg *config.Config, logger *slog.Logger) (queue.Broker, error) {
	delay := cfg.Broker.RedeliveryDelay.Std()
	if cfg.Broker.Kind == config.BrokerNATS {
		ackWait := max(natsq.DefaultAckWait, 2*cfg.Pipeline.ItemTimeout.Std())
		return natsq.Connect(cfg.Broker.URL,
			natsq.WithRedeliveryDelay(delay),
			natsq.WithAckWait(ackWait),
			natsq.WithLogger(logger))
	}
	return memory.NewBroker(memory.WithRedeliveryDelay(delay), memory.WithLogger(logger)), nil
}

func (h *Hub) newEmbeddingClient(logger *slog.Logger) (*embedding.Client, error) {
	ec := h.config.Embedding
	opts := []embedding.Option{
		embedding.WithCallTimeout(ec.CallTimeout.Std()),
		embedding.WithRetry(ec.MaxAttempts, ec.RetryDelay.Std()),
		embedding.WithBreaker(embedding.NewBreaker(ec.FailureThreshold, ec.Cooldown.Std(),
			embedding.WithBreakerLogger(logger))),
		embedding.WithCacheMaxCost(ec.CacheMaxCost),
		embedding.WithMetrics(h.metrics),
		embedding.WithLogger(logger),
	}
	if ec.RateLimit > 0 {
		opts = append(opts, embedding.WithRateLimiter(rate.NewLimiter(rate.Limit(ec.RateLimit), max(ec.RateBurst, 1))))
	}
	if ec.MaxTokens > 0 {
		truncator, err := embedding.NewTruncator(ec.Encoding, ec.MaxTokens)
		if err != nil {
			return nil, err
		}
		opts = append(opts, embedding.WithTruncator(truncator))
	}
	return embedding.NewClient(h.provider.Embedder(), opts...)
}

// Close stops the pipeline and releases every component.
func (h *Hub) Close() error {
	var errs []error
	if h.pipeline != nil {
		h.pipeline.Stop()
	}
	if h.client != nil {
		h.client.Close()
	}
	if h.broker != nil {
		errs = append(errs, h.broker.Close())
	}
	if h.provider != nil {
		errs = append(errs, h.provider.Close())
	}
	if h.pg != nil {
		h.pg.Close()
	}
	if h.repos != nil {
		errs = append(errs, h.repos.Close())
	}
	err := errors.Join(errs...)
	if err != nil {
		h.logger.Error("error closing podhub", "err", err)
	}
	return err
}

// Start subscribes the indexing pipeline to the broker.
func (h *Hub) Start(ctx context.Context) error {
	return h.pipeline.Start(ctx)
}

// Stop unsubscribes the indexing pipeline and waits for in-flight handlers.
func (h *Hub) Stop() {
	h.pipeline.Stop()
}

// Config returns the configuration the Hub was opened with.
func (h *Hub) Config() *config.Config { return h.config }

// Stores returns the repositories in use.
func (h *Hub) Stores() ingestion.Stores { return h.stores }

// Searcher returns the pod searcher.
func (h *Hub) Searcher() *search.Searcher { return h.searcher }

// Metrics returns the pipeline and embedding metrics.
func (h *Hub) Metrics() *metrics.Registry { return h.metrics }

// Breaker returns the embedding circuit breaker.
func (h *Hub) Breaker() *embedding.Breaker { return h.client.Breaker() }

// CreatePod validates and stores a new pod.
func (h *Hub) CreatePod(ctx context.Context, name, owner string) (*core.Pod, error) {
	pod := &core.Pod{Name: name, OwnerUserID: owner}
	if err := core.ValidatePod(pod); err != nil {
		return nil, err
	}
	return h.stores.Pods.CreatePod(ctx, pod)
}

// GetPod returns a pod, or core.ErrPodNotFound.
func (h *Hub) GetPod(ctx context.Context, podID string) (*core.Pod, error) {
	pod, err := h.stores.Pods.GetPod(ctx, podID)
	if err != nil {
		return nil, podError(podID, err)
	}
	return pod, nil
}

// ListPods returns every pod, oldest first.
func (h *Hub) ListPods(ctx context.Context) ([]*core.Pod, error) {
	return h.stores.Pods.ListPods(ctx)
}

// AddItems appends one item per content string to a pod.
func (h *Hub) AddItems(ctx context.Context, podID string, contents ...string) ([]*core.DataItem, error) {
	items := make([]*core.DataItem, len(contents))
	for i, content := range contents {
		items[i] = &core.DataItem{PodID: podID, Content: content}
		if err := core.ValidateDataItem(items[i]); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	added, err := h.stores.Pods.AddItems(ctx, podID, items...)
	if err != nil {
		return nil, podError(podID, err)
	}
	return added, nil
}

// CountItems returns the number of items in a pod.
func (h *Hub) CountItems(ctx context.Context, podID string) (int, error) {
	return h.stores.Pods.CountItems(ctx, podID)
}

// CountChunks returns the number of indexed chunks of a pod.
func (h *Hub) CountChunks(ctx context.Context, podID string) (int, error) {
	return h.stores.Vectors.CountByPod(ctx, podID)
}

// StartIndexing creates an indexing job for the pod and publishes it.
func (h *Hub) StartIndexing(ctx context.Context, podID string) (*core.IndexingJob, error) {
	return h.pipeline.Dispatcher().StartIndexing(ctx, podID)
}

// GetJob returns an indexing job, or core.ErrJobNotFound.
func (h *Hub) GetJob(ctx context.Context, jobID string) (*core.IndexingJob, error) {
	return h.pipeline.Dispatcher().GetJob(ctx, jobID)
}

// ListJobs returns the jobs of a pod, oldest first.
func (h *Hub) ListJobs(ctx context.Context, podID string) ([]*core.IndexingJob, error) {
	return h.pipeline.Dispatcher().ListJobs(ctx, podID)
}

// StaleJobs returns PENDING jobs created more than olderThan ago. Such jobs
// were stored but their start message was never consumed.
func (h *Hub) StaleJobs(ctx context.Context, olderThan time.Duration) ([]*core.IndexingJob, error) {
	return h.stores.Jobs.ListStaleJobs(ctx, time.Now().UTC().Add(-olderThan))
}

// WaitForJob polls a job until it reaches a terminal state or ctx is done.
func (h *Hub) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (*core.IndexingJob, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := h.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Retrieve gathers pod-scoped context for question.
func (h *Hub) Retrieve(ctx context.Context, podID, question string, limit int) (*search.Retrieval, error) {
	return h.searcher.Retrieve(ctx, podID, question, limit)
}

// Ask answers question from the content of a pod.
func (h *Hub) Ask(ctx context.Context, podID, question string, limit int) (*search.Answer, error) {
	return h.searcher.Ask(ctx, podID, question, limit)
}

// DeadLetters returns up to limit archived messages, oldest first.
func (h *Hub) DeadLetters(ctx context.Context, limit int) ([]*core.DeadLetter, error) {
	return h.pipeline.Archiver().List(ctx, limit)
}

// ReplayDeadLetter republishes an archived message to its topic.
func (h *Hub) ReplayDeadLetter(ctx context.Context, id string) error {
	return h.pipeline.Archiver().Replay(ctx, id)
}

// ReplayDeadLetters republishes every archived message.
func (h *Hub) ReplayDeadLetters(ctx context.Context) (int, error) {
	return h.pipeline.Archiver().ReplayAll(ctx)
}

// Reembed re-embeds the chunks of a pod with the Hub's embedding model.
// Progress is written to progress when non-nil.
func (h *Hub) Reembed(ctx context.Context, podID string, cfg *reembed.Config, progress io.Writer) (*reembed.Result, error) {
	if _, err := h.GetPod(ctx, podID); err != nil {
		return nil, err
	}
	r, err := reembed.NewReembedder(h.stores.Vectors, h.provider.Embedder(), h.provider.ModelVersion(), cfg, progress)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, podID)
}

func podError(podID string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", core.ErrPodNotFound, podID)
	}
	return err
}
