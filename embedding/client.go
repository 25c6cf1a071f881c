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


package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/podhub/ai"
	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/metrics"
	"golang.org/x/time/rate"
)

const (
	DefaultCallTimeout = 10 * time.Second
	DefaultRetryDelay  = 200 * time.Millisecond
)

// Client wraps an ai.Embedder with a content-hash cache, a circuit breaker,
// per-call timeouts and optional retry, rate limiting and truncation.
//
// Every error returned by Embed wraps core.ErrEmbeddingUnavailable.
type Client struct {
	embedder    ai.Embedder
	cache       *vectorCache
	cacheCost   int64
	breaker     *Breaker
	callTimeout time.Duration
	maxAttempts int
	retryDelay  time.Duration
	limiter     *rate.Limiter
	truncator   *Truncator
	metrics     *metrics.Registry
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCacheMaxCost bounds the cache in bytes of vector data.
func WithCacheMaxCost(maxCost int64) Option {
	return func(c *Client) {
		c.cacheCost = maxCost
	}
}

// WithBreaker replaces the default breaker.
func WithBreaker(b *Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// WithCallTimeout bounds each remote attempt.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithRetry allows up to maxAttempts remote attempts per Embed, backing off
// from baseDelay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			c.retryDelay = baseDelay
		}
	}
}

// WithRateLimiter throttles remote calls.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithTruncator bounds input text before hashing and embedding.
func WithTruncator(t *Truncator) Option {
	return func(c *Client) {
		c.truncator = t
	}
}

// WithMetrics records retries in r.
func WithMetrics(r *metrics.Registry) Option {
	return func(c *Client) {
		c.metrics = r
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With("component", "embedding-client")
	}
}

// NewClient creates a Client around embedder.
func NewClient(embedder ai.Embedder, opts ...Option) (*Client, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	c := &Client{
		embedder:    embedder,
		callTimeout: DefaultCallTimeout,
		maxAttempts: 1,
		retryDelay:  DefaultRetryDelay,
		logger:      slog.Default().With("component", "embedding-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = NewBreaker(DefaultFailureThreshold, DefaultCooldown, WithBreakerLogger(c.logger))
	}
	if c.metrics == nil {
		c.metrics = metrics.NewRegistry()
	}

	cache, err := newVectorCache(c.cacheCost)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

// Breaker returns the client's circuit breaker.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// Embed returns the embedding for text, from cache when possible.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.truncator != nil {
		text = c.truncator.Truncate(text)
	}

	key := core.HashContent(text)
	if vec, ok := c.cache.get(key); ok {
		return vec, nil
	}

	var result []float32
	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			c.metrics.ChunksRetried.Inc()
		}
		vec, err := c.call(ctx, text)
		if err != nil {
			return err
		}
		result = vec
		return nil
	}
	retryable := func(err error) bool {
		return !errors.Is(err, ErrCircuitOpen) && ctx.Err() == nil
	}

	if err := RetryIf(ctx, operation, c.maxAttempts, c.retryDelay, retryable); err != nil {
		c.logger.Debug("embedding unavailable", "attempts", attempt, "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
	}

	c.cache.put(key, result)
	return result, nil
}

// call makes one remote attempt through the limiter and breaker.
func (c *Client) call(ctx context.Context, text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if !c.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	vec, err := c.embedder.EmbedText(callCtx, text)
	switch {
	case err == nil && len(vec) == 0:
		c.breaker.Failure()
		return nil, ErrEmptyEmbedding
	case err == nil:
		c.breaker.Success()
		return vec, nil
	case ctx.Err() != nil:
		// The caller gave up; the service is not to blame.
		c.breaker.Abort()
		return nil, ctx.Err()
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		c.breaker.Failure()
		return nil, fmt.Errorf("%w after %s: %w", core.ErrProcessingTimeout, c.callTimeout, err)
	default:
		c.breaker.Failure()
		return nil, err
	}
}

// Close releases the cache.
func (c *Client) Close() {
	c.cache.close()
}
