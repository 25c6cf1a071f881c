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

// DefaultItemTimeout bounds the processing of one item message.
const DefaultItemTimeout = 30 * time.Second

// Embedder produces the vector for a text. embedding.Client implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ItemProcessor consumes item messages, embeds their content and upserts
// the resulting chunk. Messages it cannot process go to the dead-letter topic.
type ItemProcessor struct {
	embedder        Embedder
	vectors         storage.VectorStore
	publisher       queue.Publisher
	deadLetterTopic string
	timeout         time.Duration
	metrics         *metrics.Registry
	logger          *slog.Logger
}

// NewItemProcessor creates an ItemProcessor that dead-letters to deadLetterTopic.
// A non-positive timeout selects DefaultItemTimeout.
func NewItemProcessor(embedder Embedder, vectors storage.VectorStore, publisher queue.Publisher,
	deadLetterTopic string, timeout time.Duration, registry *metrics.Registry, logger *slog.Logger) (*ItemProcessor, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if publisher == nil {
		return nil, ErrBrokerRequired
	}
	if timeout <= 0 {
		timeout = DefaultItemTimeout
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ItemProcessor{
		embedder:        embedder,
		vectors:         vectors,
		publisher:       publisher,
		deadLetterTopic: deadLetterTopic,
		timeout:         timeout,
		metrics:         registry,
		logger:          logger.With("component", "item-processor"),
	}, nil
}

// Handle processes one item message. It acks after a successful upsert or
// after the message was dead-lettered. If the dead-letter publish fails, or
// ctx is cancelled while the item is in flight, the message is left unacked
// for redelivery.
func (p *ItemProcessor) Handle(ctx context.Context, msg queue.Message) {
	m, err := ParseItemMessage(msg.Value())
	if err != nil {
		p.deadLetter(ctx, msg, err, p.logger)
		return
	}
	logger := p.logger.With("podId", m.PodID, "itemId", m.DataItemID)

	if err := p.process(ctx, m); err != nil {
		// Shutdown is not a processing failure
		if ctx.Err() != nil {
			logger.Warn("item processing interrupted; leaving message for redelivery", "err", err)
			return
		}
		p.deadLetter(ctx, msg, err, logger)
		return
	}

	p.metrics.ChunksProcessed.Inc()
	logger.Debug("item indexed")
	ack(logger, msg)
}

func (p *ItemProcessor) process(ctx context.Context, m *ItemMessage) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	vector, err := p.embedder.Embed(ctx, m.Content)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, core.ErrProcessingTimeout) {
			err = fmt.Errorf("%w: %w", core.ErrProcessingTimeout, err)
		}
		return fmt.Errorf("embed item: %w", err)
	}

	chunk := &core.VectorChunk{
		ID:           core.ChunkID(m.PodID, m.DataItemID),
		PodID:        m.PodID,
		ItemID:       m.DataItemID,
		Content:      m.Content,
		Vector:       vector,
		ModelVersion: m.ModelVersion,
	}
	if err := p.vectors.SaveChunk(ctx, chunk); err != nil {
		return fmt.Errorf("save chunk %s: %w", chunk.ID, err)
	}
	return nil
}

func (p *ItemProcessor) deadLetter(ctx context.Context, msg queue.Message, cause error, logger *slog.Logger) {
	logger.Error("failed to process item message, sending to dead letter topic", "key", msg.Key(), "err", cause)

	if err := p.publisher.Publish(context.WithoutCancel(ctx), p.deadLetterTopic, msg.Key(), msg.Value()); err != nil {
		logger.Error("failed to publish dead letter; leaving message for redelivery", "key", msg.Key(), "err", err)
		return
	}
	p.metrics.ChunksFailed.Inc()
	ack(logger, msg)
}
