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


// Package memory is an in-process queue.Broker.
//
// Each partition is a FIFO drained by one goroutine, which hands each message
// to the subscription's ants pool and waits for the handler before moving on.
// Ordering within a partition is preserved and concurrency across partitions
// is bounded by the pool size. An unacked message stays at the head of its
// partition and is redelivered after the redelivery delay.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/podhub/queue"
	"go.uber.org/atomic"
)

// DefaultRedeliveryDelay is the pause before an unacked message is redelivered.
const DefaultRedeliveryDelay = time.Second

// Broker is an in-memory queue.Broker. Messages do not survive the process.
type Broker struct {
	redeliveryDelay time.Duration
	logger          *slog.Logger

	mu     sync.Mutex
	topics map[string]*topic
	subs   map[*subscription]struct{}
	closed bool
}

var _ queue.Broker = (*Broker)(nil)

// Option configures a Broker.
type Option func(*Broker)

// WithRedeliveryDelay sets the pause before an unacked message is redelivered.
func WithRedeliveryDelay(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.redeliveryDelay = d
		}
	}
}

// WithLogger sets the broker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = logger.With("component", "memory-broker")
	}
}

// NewBroker creates an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		redeliveryDelay: DefaultRedeliveryDelay,
		logger:          slog.Default().With("component", "memory-broker"),
		topics:          make(map[string]*topic),
		subs:            make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type topic struct {
	name       string
	partitions []*partition
	subscribed bool
}

type partition struct {
	mu     sync.Mutex
	queue  []*message
	notify chan struct{}
}

func (p *partition) push(m *message) {
	p.mu.Lock()
	p.queue = append(p.queue, m)
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// head blocks until the partition has a message or ctx is done.
func (p *partition) head(ctx context.Context) (*message, bool) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			m := p.queue[0]
			p.mu.Unlock()
			return m, true
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-p.notify:
		}
	}
}

func (p *partition) pop() {
	p.mu.Lock()
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.mu.Unlock()
}

func (p *partition) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

type message struct {
	topic     string
	key       string
	value     []byte
	partition int
	acked     *atomic.Bool
}

func (m *message) Topic() string  { return m.topic }
func (m *message) Key() string    { return m.key }
func (m *message) Value() []byte  { return m.value }
func (m *message) Partition() int { return m.partition }

func (m *message) Ack() error {
	m.acked.Store(true)
	return nil
}

// CreateTopic creates t if it does not exist. An existing topic keeps its
// partition count.
func (b *Broker) CreateTopic(_ context.Context, t queue.Topic) error {
	if t.Name == "" {
		return fmt.Errorf("topic name is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return queue.ErrClosed
	}
	if _, ok := b.topics[t.Name]; ok {
		return nil
	}
	n := max(t.Partitions, 1)
	tp := &topic{name: t.Name, partitions: make([]*partition, n)}
	for i := range tp.partitions {
		tp.partitions[i] = &partition{notify: make(chan struct{}, 1)}
	}
	b.topics[t.Name] = tp
	return nil
}

func (b *Broker) topic(name string) (*topic, error) {
	if b.closed {
		return nil, queue.ErrClosed
	}
	tp, ok := b.topics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrUnknownTopic, name)
	}
	return tp, nil
}

// Publish appends value to the partition chosen by key.
func (b *Broker) Publish(ctx context.Context, topicName, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	tp, err := b.topic(topicName)
	b.mu.Unlock()
	if err != nil {
		return err
	}

	idx := queue.Partition(key, len(tp.partitions))
	tp.partitions[idx].push(&message{
		topic:     topicName,
		key:       key,
		value:     slices.Clone(value),
		partition: idx,
		acked:     atomic.NewBool(false),
	})
	return nil
}

// Pending returns the number of undelivered or unacked messages on a topic.
func (b *Broker) Pending(topicName string) int {
	b.mu.Lock()
	tp, err := b.topic(topicName)
	b.mu.Unlock()
	if err != nil {
		return 0
	}
	total := 0
	for _, p := range tp.partitions {
		total += p.len()
	}
	return total
}

type subscription struct {
	broker  *Broker
	topic   *topic
	handler queue.Handler
	pool    *ants.Pool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
	logger  *slog.Logger
}

// Subscribe starts one delivery goroutine per partition. Handlers run on an
// ants pool of size concurrency.
func (b *Broker) Subscribe(ctx context.Context, topicName string, concurrency int, handler queue.Handler) (queue.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tp, err := b.topic(topicName)
	if err != nil {
		return nil, err
	}
	if tp.subscribed {
		return nil, fmt.Errorf("%w: %s", queue.ErrAlreadySubscribed, topicName)
	}

	logger := b.logger.With("topic", topicName)
	pool, err := ants.NewPool(max(concurrency, 1), ants.WithPanicHandler(func(p any) {
		logger.Error("handler panicked", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		broker:  b,
		topic:   tp,
		handler: handler,
		pool:    pool,
		cancel:  cancel,
		logger:  logger,
	}
	tp.subscribed = true
	b.subs[s] = struct{}{}

	for _, p := range tp.partitions {
		s.wg.Add(1)
		go s.consume(subCtx, p)
	}
	return s, nil
}

func (s *subscription) consume(ctx context.Context, p *partition) {
	defer s.wg.Done()
	for {
		msg, ok := p.head(ctx)
		if !ok {
			return
		}
		for !s.deliver(ctx, msg) {
			s.logger.Debug("message not acked, redelivering", "key", msg.key, "partition", msg.partition)
			timer := time.NewTimer(s.broker.redeliveryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		p.pop()
	}
}

// deliver runs the handler on the pool and reports whether the message was acked.
func (s *subscription) deliver(ctx context.Context, msg *message) bool {
	done := make(chan struct{})
	err := s.pool.Submit(func() {
		defer close(done)
		s.handler(ctx, msg)
	})
	if err != nil {
		s.logger.Error("failed to submit message", "err", err)
		return false
	}
	<-done
	return msg.acked.Load()
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.pool.Release()

		b := s.broker
		b.mu.Lock()
		s.topic.subscribed = false
		delete(b.subs, s)
		b.mu.Unlock()
	})
	return nil
}

// Close stops every subscription. Queued messages are discarded.
func (b *Broker) Close() error {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
