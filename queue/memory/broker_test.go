package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/podhub/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func newTestBroker(t *testing.T, topics ...queue.Topic) *Broker {
	t.Helper()
	b := NewBroker(WithRedeliveryDelay(10 * time.Millisecond))
	for _, tp := range topics {
		require.NoError(t, b.CreateTopic(context.Background(), tp))
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBroker_PublishSubscribe(t *testing.T) {
	b := newTestBroker(t, queue.Topic{Name: "events", Partitions: 3})
	ctx := context.Background()

	var mu sync.Mutex
	received := make(map[string]string)
	_, err := b.Subscribe(ctx, "events", 2, func(ctx context.Context, msg queue.Message) {
		mu.Lock()
		received[msg.Key()] = string(msg.Value())
		mu.Unlock()
		_ = msg.Ack()
	})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, b.Publish(ctx, "events", fmt.Sprintf("k%d", i), []byte(fmt.Sprintf("v%d", i))))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 20
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "v7", received["k7"])
	assert.Zero(t, b.Pending("events"))
}

func TestBroker_PublishBeforeSubscribe(t *testing.T) {
	b := newTestBroker(t, queue.Topic{Name: "events", Partitions: 1})
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, "events", "k", []byte("early")))
	assert.Equal(t, 1, b.Pending("events"))

	got := make(chan string, 1)
	_, err := b.Subscribe(ctx, "events", 1, func(ctx context.Context, msg queue.Message) {
		_ = msg.Ack()
		got <- string(msg.Value())
	})
	require.NoError(t, err)

	select {
	case v := <-got:
		assert.Equal(t, "early", v)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBroker_OrderWithinPartition(t *testing.T) {
	b := newTestBroker(t, queue.Topic{Name: "ordered", Partitions: 4})
	ctx := context.Background()

	var mu sync.Mutex
	var order []int
	_, err := b.Subscribe(ctx, "ordered", 4, func(ctx context.Context, msg queue.Message) {
		var n int
		fmt.Sscanf(string(msg.Value()), "%d", &n)
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
		_ = msg.Ack()
	})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, b.Publish(ctx, "ordered", "same-key", []byte(fmt.Sprint(i))))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 50
	}, 2*time.Second, 5*time.Millisecond)
	for i, n := range order {
		assert.Equal(t, i, n)
	}
}

func TestBroker_RedeliversUnacked(t *testing.T) {
	b := newTestBroker(t, queue.Topic{Name: "retry", Partitions: 1})
	ctx := context.Background()

	deliveries := atomic.NewInt32(0)
	_, err := b.Subscribe(ctx, "retry", 1, func(ctx context.Context, msg queue.Message) {
		if deliveries.Inc() < 3 {
			return
		}
		_ = msg.Ack()
	})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "retry", "k", []byte("x")))

	require.Eventually(t, func() bool {
		return b.Pending("retry") == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), deliveries.Load())
}

func TestBroker_PanicIsRedelivered(t *testing.T) {
	b := newTestBroker(t, queue.Topic{Name: "panic", Partitions: 1})
	ctx := context.Background()

	deliveries := atomic.NewInt32(0)
	_, err := b.Subscribe(ctx, "panic", 1, func(ctx context.Context, msg queue.Message) {
		if deliveries.Inc() == 1 {
			panic("boom")
		}
		_ = msg.Ack()
	})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "panic", "k", []byte("x")))

	require.Eventually(t, func() bool {
		return b.Pending("panic") == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), deliveries.Load())
}

func TestBroker_ConcurrencyBound(t *testing.T) {
	b := newTestBroker(t, queue.Topic{Name: "bounded", Partitions: 8})
	ctx := context.Background()

	running := atomic.NewInt32(0)
	peak := atomic.NewInt32(0)
	done := atomic.NewInt32(0)
	_, err := b.Subscribe(ctx, "bounded", 2, func(ctx context.Context, msg queue.Message) {
		n := running.Inc()
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Dec()
		done.Inc()
		_ = msg.Ack()
	})
	require.NoError(t, err)

	for i := 0; i < 32; i++ {
		require.NoError(t, b.Publish(ctx, "bounded", fmt.Sprint(i), nil))
	}
	require.Eventually(t, func() bool { return done.Load() == 32 }, 5*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestBroker_Errors(t *testing.T) {
	b := newTestBroker(t, queue.Topic{Name: "t", Partitions: 1})
	ctx := context.Background()

	err := b.Publish(ctx, "missing", "k", nil)
	assert.ErrorIs(t, err, queue.ErrUnknownTopic)

	_, err = b.Subscribe(ctx, "missing", 1, func(context.Context, queue.Message) {})
	assert.ErrorIs(t, err, queue.ErrUnknownTopic)

	sub, err := b.Subscribe(ctx, "t", 1, func(context.Context, queue.Message) {})
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "t", 1, func(context.Context, queue.Message) {})
	assert.ErrorIs(t, err, queue.ErrAlreadySubscribed)

	require.NoError(t, sub.Close())
	sub2, err := b.Subscribe(ctx, "t", 1, func(context.Context, queue.Message) {})
	require.NoError(t, err)
	require.NoError(t, sub2.Close())

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(ctx, "t", "k", nil), queue.ErrClosed)
	assert.ErrorIs(t, b.CreateTopic(ctx, queue.Topic{Name: "x"}), queue.ErrClosed)
}

func TestBroker_CreateTopicIdempotent(t *testing.T) {
	b := newTestBroker(t, queue.Topic{Name: "t", Partitions: 2})
	require.NoError(t, b.CreateTopic(context.Background(), queue.Topic{Name: "t", Partitions: 9}))
	assert.Len(t, b.topics["t"].partitions, 2)
	assert.Error(t, b.CreateTopic(context.Background(), queue.Topic{}))
}
