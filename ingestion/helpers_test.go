package ingestion

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/metrics"
	"github.com/poiesic/podhub/storage"
	"github.com/poiesic/podhub/storage/badger"
	"github.com/stretchr/testify/require"
)

const (
	testJobTopic  = "jobs"
	testItemTopic = "items"
	testDLQTopic  = "dlq"
)

// testMessage implements queue.Message.
type testMessage struct {
	topic string
	key   string
	value []byte

	mu    sync.Mutex
	acked bool
}

func newTestMessage(topic, key string, value []byte) *testMessage {
	return &testMessage{topic: topic, key: key, value: value}
}

func (m *testMessage) Topic() string  { return m.topic }
func (m *testMessage) Key() string    { return m.key }
func (m *testMessage) Value() []byte  { return m.value }
func (m *testMessage) Partition() int { return 0 }

func (m *testMessage) Ack() error {
	m.mu.Lock()
	m.acked = true
	m.mu.Unlock()
	return nil
}

func (m *testMessage) isAcked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked
}

type published struct {
	topic string
	key   string
	value []byte
}

// testPublisher records publishes and fails for the topics in failTopics.
type testPublisher struct {
	mu         sync.Mutex
	messages   []published
	failTopics map[string]error
}

func newTestPublisher() *testPublisher {
	return &testPublisher{failTopics: make(map[string]error)}
}

func (p *testPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failTopics[topic]; ok {
		return err
	}
	p.messages = append(p.messages, published{topic: topic, key: key, value: slices.Clone(value)})
	return nil
}

func (p *testPublisher) failOn(topic string) {
	p.mu.Lock()
	p.failTopics[topic] = errors.New("broker unavailable")
	p.mu.Unlock()
}

func (p *testPublisher) on(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// stubEmbedder implements Embedder with an optional override.
type stubEmbedder struct {
	embedFunc func(ctx context.Context, text string) ([]float32, error)

	mu    sync.Mutex
	calls int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.embedFunc != nil {
		return e.embedFunc(ctx, text)
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (e *stubEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func setupRepos(t *testing.T) *badger.Repositories {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func storesOf(repos *badger.Repositories) Stores {
	return Stores{
		Pods:        repos.Pods,
		Jobs:        repos.Jobs,
		Vectors:     repos.Vectors,
		PodIndexes:  repos.PodIndexes,
		DeadLetters: repos.DeadLetters,
	}
}

func createPod(t *testing.T, pods storage.PodRepository, contents ...string) (*core.Pod, []*core.DataItem) {
	t.Helper()
	ctx := context.Background()
	pod, err := pods.CreatePod(ctx, &core.Pod{Name: "notes", OwnerUserID: "user-1"})
	require.NoError(t, err)

	if len(contents) == 0 {
		return pod, nil
	}
	items := make([]*core.DataItem, len(contents))
	for i, c := range contents {
		items[i] = &core.DataItem{Content: c}
	}
	added, err := pods.AddItems(ctx, pod.ID, items...)
	require.NoError(t, err)
	return pod, added
}

func newPendingJob(t *testing.T, jobs storage.JobRepository, podID string) *core.IndexingJob {
	t.Helper()
	job := &core.IndexingJob{ID: core.NewID(), PodID: podID, Status: core.JobStatusPending}
	require.NoError(t, jobs.SaveJob(context.Background(), job))
	return job
}

func jobMessage(t *testing.T, job *core.IndexingJob) *testMessage {
	t.Helper()
	payload, err := JobStartMessage{JobID: job.ID, PodID: job.PodID, TraceID: core.NewID()}.Encode()
	require.NoError(t, err)
	return newTestMessage(testJobTopic, job.PodID, payload)
}

func itemMessage(t *testing.T, podID, itemID, content string) *testMessage {
	t.Helper()
	payload, err := ItemMessage{PodID: podID, DataItemID: itemID, Content: content, ModelVersion: "v1"}.Encode()
	require.NoError(t, err)
	return newTestMessage(testItemTopic, itemID, payload)
}

// runningRegistry returns a registry that already counts one running job,
// as the dispatcher would have left it.
func runningRegistry() *metrics.Registry {
	r := metrics.NewRegistry()
	r.JobsStarted.Inc()
	r.RunningJobs.Inc()
	return r
}
