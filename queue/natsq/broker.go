// Package natsq implements queue.Broker on NATS JetStream.
//
// Each topic is a stream whose subjects are "{topic}.{partition}". A
// subscription creates one durable consumer per partition with explicit acks
// and MaxAckPending of one, which keeps delivery within a partition in order.
// The record key travels in a message header.
package natsq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/podhub/queue"
	"go.uber.org/atomic"
)

// KeyHeader carries the record key.
const KeyHeader = "Podhub-Key"

const (
	DefaultRedeliveryDelay = time.Second

	// DefaultAckWait is how long the server waits for an ack before
	// redelivering. It must outlast the slowest handler.
	DefaultAckWait = 2 * time.Minute

	defaultDurablePrefix = "podhub"
)

// Broker is a JetStream-backed queue.Broker.
type Broker struct {
	nc              *nats.Conn
	js              jetstream.JetStream
	ownsConn        bool
	redeliveryDelay time.Duration
	ackWait         time.Duration
	durablePrefix   string
	logger          *slog.Logger

	mu         sync.Mutex
	partitions map[string]int
	subs       map[*subscription]struct{}
}

var _ queue.Broker = (*Broker)(nil)

// Option configures a Broker.
type Option func(*Broker)

// WithRedeliveryDelay sets the delay before an unacked message is redelivered.
func WithRedeliveryDelay(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.redeliveryDelay = d
		}
	}
}

// WithAckWait sets how long an unacknowledged in-flight message is held
// before the server redelivers it. Set it above the handler timeout.
func WithAckWait(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.ackWait = d
		}
	}
}

// WithDurablePrefix names the durable consumers. Processes sharing a prefix
// share the work.
func WithDurablePrefix(prefix string) Option {
	return func(b *Broker) {
		if prefix != "" {
			b.durablePrefix = prefix
		}
	}
}

// WithLogger sets the broker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = logger.With("component", "nats-broker")
	}
}

// Connect dials url and returns a broker that owns the connection.
func Connect(url string, opts ...Option) (*Broker, error) {
	nc, err := nats.Connect(url, nats.Name("podhub"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	b, err := NewBroker(nc, opts...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	b.ownsConn = true
	return b, nil
}

// NewBroker wraps an existing connection.
func NewBroker(nc *nats.Conn, opts ...Option) (*Broker, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	b := &Broker{
		nc:              nc,
		js:              js,
		redeliveryDelay: DefaultRedeliveryDelay,
		ackWait:         DefaultAckWait,
		durablePrefix:   defaultDurablePrefix,
		logger:          slog.Default().With("component", "nats-broker"),
		partitions:      make(map[string]int),
		subs:            make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func subject(topic string, partition int) string {
	return topic + "." + strconv.Itoa(partition)
}

// CreateTopic creates or updates the stream backing t.
func (b *Broker) CreateTopic(ctx context.Context, t queue.Topic) error {
	if t.Name == "" {
		return errors.New("topic name is required")
	}
	n := max(t.Partitions, 1)
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      t.Name,
		Subjects:  []string{t.Name + ".*"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", t.Name, err)
	}

	b.mu.Lock()
	b.partitions[t.Name] = n
	b.mu.Unlock()
	b.logger.Debug("topic ready", "topic", t.Name, "partitions", n)
	return nil
}

func (b *Broker) partitionCount(topic string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.partitions[topic]
	if !ok {
		return 0, fmt.Errorf("%w: %s", queue.ErrUnknownTopic, topic)
	}
	return n, nil
}

// Publish sends value to the partition subject chosen by key and waits for
// the stream acknowledgement.
func (b *Broker) Publish(ctx context.Context, topic, key string, value []byte) error {
	n, err := b.partitionCount(topic)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(subject(topic, queue.Partition(key, n)))
	msg.Header.Set(KeyHeader, key)
	msg.Data = value
	if _, err := b.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

type subscription struct {
	broker   *Broker
	consumes []jetstream.ConsumeContext
	pool     *ants.Pool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once

	mu     sync.Mutex
	closed bool
}

// track registers an in-flight message. It returns false once Close has
// started, so the WaitGroup is never added to while Close waits on it.
func (s *subscription) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// Subscribe creates a durable consumer per partition and dispatches their
// messages to handler on an ants pool of size concurrency.
func (b *Broker) Subscribe(ctx context.Context, topic string, concurrency int, handler queue.Handler) (queue.Subscription, error) {
	n, err := b.partitionCount(topic)
	if err != nil {
		return nil, err
	}

	logger := b.logger.With("topic", topic)
	pool, err := ants.NewPool(max(concurrency, 1), ants.WithPanicHandler(func(p any) {
		logger.Error("handler panicked", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{broker: b, pool: pool, cancel: cancel}

	for p := 0; p < n; p++ {
		cons, err := b.js.CreateOrUpdateConsumer(ctx, topic, jetstream.ConsumerConfig{
			Durable:       fmt.Sprintf("%s-%s-%d", b.durablePrefix, topic, p),
			FilterSubject: subject(topic, p),
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       b.ackWait,
			MaxAckPending: 1,
		})
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("create consumer for %s partition %d: %w", topic, p, err)
		}

		partition := p
		cc, err := cons.Consume(func(m jetstream.Msg) {
			if !s.track() {
				_ = m.NakWithDelay(b.redeliveryDelay)
				return
			}
			err := pool.Submit(func() {
				defer s.wg.Done()
				s.handle(subCtx, topic, partition, m, handler, logger)
			})
			if err != nil {
				s.wg.Done()
				logger.Error("failed to submit message", "err", err)
				_ = m.NakWithDelay(b.redeliveryDelay)
			}
		})
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("consume %s partition %d: %w", topic, p, err)
		}
		s.consumes = append(s.consumes, cc)
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

func (s *subscription) handle(ctx context.Context, topic string, partition int, m jetstream.Msg, handler queue.Handler, logger *slog.Logger) {
	msg := &message{
		topic:     topic,
		key:       m.Headers().Get(KeyHeader),
		partition: partition,
		raw:       m,
		acked:     atomic.NewBool(false),
	}
	defer func() {
		if !msg.acked.Load() {
			if err := m.NakWithDelay(s.broker.redeliveryDelay); err != nil {
				logger.Warn("failed to nak message", "key", msg.key, "err", err)
			}
		}
	}()
	handler(ctx, msg)
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		for _, cc := range s.consumes {
			cc.Stop()
		}
		s.cancel()
		s.wg.Wait()
		s.pool.Release()

		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
	})
	return nil
}

// Close stops all subscriptions and, for brokers created by Connect, drains
// the connection.
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
	if b.ownsConn {
		return b.nc.Drain()
	}
	return nil
}

type message struct {
	topic     string
	key       string
	partition int
	raw       jetstream.Msg
	acked     *atomic.Bool
}

func (m *message) Topic() string  { return m.topic }
func (m *message) Key() string    { return m.key }
func (m *message) Value() []byte  { return m.raw.Data() }
func (m *message) Partition() int { return m.partition }

func (m *message) Ack() error {
	if err := m.raw.Ack(); err != nil {
		return err
	}
	m.acked.Store(true)
	return nil
}
