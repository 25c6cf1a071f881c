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
	"sync"
	"time"

	"github.com/poiesic/podhub/metrics"
	"github.com/poiesic/podhub/queue"
	"github.com/poiesic/podhub/storage"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultJobConcurrency  = 3
	DefaultItemConcurrency = 5
)

// Stores groups the repositories the pipeline reads and writes.
type Stores struct {
	Pods        storage.PodRepository
	Jobs        storage.JobRepository
	Vectors     storage.VectorStore
	PodIndexes  storage.PodIndexRepository
	DeadLetters storage.DeadLetterRepository
}

// Pipeline wires the indexing processors to a broker.
type Pipeline struct {
	stores          Stores
	broker          queue.Broker
	embedder        Embedder
	topics          queue.Topics
	jobConcurrency  int
	itemConcurrency int
	modelVersion    string
	itemTimeout     time.Duration
	metrics         *metrics.Registry
	logger          *slog.Logger

	dispatcher *Dispatcher
	fanout     *FanoutProcessor
	items      *ItemProcessor
	archiver   *DeadLetterArchiver

	mu   sync.Mutex
	subs []queue.Subscription
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithJobConcurrency bounds concurrent job-start handlers. Default is 3.
func WithJobConcurrency(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("job concurrency must be at least 1, got %d", n)
		}
		p.jobConcurrency = n
		return nil
	}
}

// WithItemConcurrency bounds concurrent item handlers. Default is 5.
func WithItemConcurrency(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("item concurrency must be at least 1, got %d", n)
		}
		p.itemConcurrency = n
		return nil
	}
}

// WithTopics overrides the topic layout.
func WithTopics(topics queue.Topics) Option {
	return func(p *Pipeline) error {
		for _, t := range topics.All() {
			if t.Name == "" {
				return errors.New("topic names must not be empty")
			}
		}
		p.topics = topics
		return nil
	}
}

// WithModelVersion sets the model version stamped on item messages.
func WithModelVersion(version string) Option {
	return func(p *Pipeline) error {
		p.modelVersion = version
		return nil
	}
}

// WithItemTimeout bounds the processing of one item message.
func WithItemTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		p.itemTimeout = d
		return nil
	}
}

// WithMetrics sets the metrics registry. Default is a fresh registry.
func WithMetrics(r *metrics.Registry) Option {
	return func(p *Pipeline) error {
		if r != nil {
			p.metrics = r
		}
		return nil
	}
}

// NewPipeline creates a pipeline. It does not consume until Start.
func NewPipeline(stores Stores, broker queue.Broker, embedder Embedder, opts ...Option) (*Pipeline, error) {
	if broker == nil {
		return nil, ErrBrokerRequired
	}

	p := &Pipeline{
		stores:          stores,
		broker:          broker,
		embedder:        embedder,
		topics:          queue.DefaultTopics(),
		jobConcurrency:  DefaultJobConcurrency,
		itemConcurrency: DefaultItemConcurrency,
		itemTimeout:     DefaultItemTimeout,
		metrics:         metrics.NewRegistry(),
		logger:          slog.Default(),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	// Create processors after options are applied (so they get final config)
	var err error
	p.dispatcher, err = NewDispatcher(stores.Pods, stores.Jobs, broker, p.topics.Jobs.Name, p.metrics, p.logger)
	if err != nil {
		return nil, err
	}
	p.fanout, err = NewFanoutProcessor(stores.Pods, stores.Jobs, stores.PodIndexes, broker,
		p.topics.Items.Name, p.modelVersion, p.metrics, p.logger)
	if err != nil {
		return nil, err
	}
	p.items, err = NewItemProcessor(embedder, stores.Vectors, broker,
		p.topics.DeadLetter.Name, p.itemTimeout, p.metrics, p.logger)
	if err != nil {
		return nil, err
	}
	p.archiver, err = NewDeadLetterArchiver(stores.DeadLetters, broker, p.topics.Items.Name, p.logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Dispatcher returns the job dispatcher.
func (p *Pipeline) Dispatcher() *Dispatcher { return p.dispatcher }

// Archiver returns the dead-letter archiver.
func (p *Pipeline) Archiver() *DeadLetterArchiver { return p.archiver }

// Metrics returns the metrics registry.
func (p *Pipeline) Metrics() *metrics.Registry { return p.metrics }

// Topics returns the topic layout.
func (p *Pipeline) Topics() queue.Topics { return p.topics }

// CreateTopics creates every pipeline topic on the broker.
func (p *Pipeline) CreateTopics(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range p.topics.All() {
		g.Go(func() error {
			return p.broker.CreateTopic(ctx, t)
		})
	}
	return g.Wait()
}

// Start creates the topics and subscribes the processors. Handlers run until
// Stop is called or ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.subs) > 0 {
		return ErrPipelineRunning
	}

	if err := p.CreateTopics(ctx); err != nil {
		return fmt.Errorf("create topics: %w", err)
	}

	bindings := []struct {
		topic       queue.Topic
		concurrency int
		handler     queue.Handler
	}{
		{p.topics.Jobs, p.jobConcurrency, p.fanout.Handle},
		{p.topics.Items, p.itemConcurrency, p.items.Handle},
		{p.topics.DeadLetter, 1, p.archiver.Handle},
	}
	for _, b := range bindings {
		sub, err := p.broker.Subscribe(ctx, b.topic.Name, b.concurrency, b.handler)
		if err != nil {
			p.stopLocked()
			return fmt.Errorf("subscribe to %s: %w", b.topic.Name, err)
		}
		p.subs = append(p.subs, sub)
	}

	p.logger.Info("indexing pipeline started",
		"jobConcurrency", p.jobConcurrency,
		"itemConcurrency", p.itemConcurrency,
		"modelVersion", p.modelVersion)
	return nil
}

// Stop closes the subscriptions and waits for in-flight handlers.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Pipeline) stopLocked() {
	if len(p.subs) == 0 {
		return
	}
	for _, sub := range p.subs {
		if err := sub.Close(); err != nil {
			p.logger.Warn("error closing subscription", "err", err)
		}
	}
	p.subs = nil
	p.logger.Info("indexing pipeline stopped", p.metrics.Snapshot().Values()...)
}
