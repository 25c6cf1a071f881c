package search

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/poiesic/podhub/ai/mock"
	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns a fixed vector per text, or err when set.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

type fixture struct {
	repos    *badger.Repositories
	embedder *stubEmbedder
	searcher *Searcher
	podID    string
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	pod, err := repos.Pods.CreatePod(context.Background(), &core.Pod{Name: "notes", OwnerUserID: "user-1"})
	require.NoError(t, err)

	embedder := &stubEmbedder{vectors: map[string][]float32{}}
	searcher, err := NewSearcher(repos.Pods, repos.Vectors, repos.PodIndexes, embedder, opts...)
	require.NoError(t, err)

	return &fixture{repos: repos, embedder: embedder, searcher: searcher, podID: pod.ID}
}

func (f *fixture) chunk(t *testing.T, podID, itemID, content string, vector ...float32) {
	t.Helper()
	require.NoError(t, f.repos.Vectors.SaveChunk(context.Background(), &core.VectorChunk{
		PodID:        podID,
		ItemID:       itemID,
		Content:      content,
		Vector:       vector,
		ModelVersion: "test",
	}))
}

func (f *fixture) index(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, f.repos.PodIndexes.SavePodIndex(context.Background(), &core.PodIndex{
		PodID:        f.podID,
		CombinedText: text,
	}))
}

func TestNewSearcher(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()
	embedder := &stubEmbedder{}

	t.Run("valid configuration", func(t *testing.T) {
		searcher, err := NewSearcher(repos.Pods, repos.Vectors, repos.PodIndexes, embedder)
		require.NoError(t, err)
		assert.Equal(t, DefaultLimit, searcher.limit)
	})

	t.Run("with nil logger falls back to default", func(t *testing.T) {
		searcher, err := NewSearcher(repos.Pods, repos.Vectors, repos.PodIndexes, embedder, WithLogger(nil))
		require.NoError(t, err)
		assert.NotNil(t, searcher.logger)
	})

	t.Run("with custom limit", func(t *testing.T) {
		searcher, err := NewSearcher(repos.Pods, repos.Vectors, repos.PodIndexes, embedder,
			WithLogger(slog.Default()), WithDefaultLimit(2))
		require.NoError(t, err)
		assert.Equal(t, 2, searcher.limit)
	})

	t.Run("invalid limit", func(t *testing.T) {
		_, err := NewSearcher(repos.Pods, repos.Vectors, repos.PodIndexes, embedder, WithDefaultLimit(0))
		assert.Error(t, err)
	})

	t.Run("missing dependencies", func(t *testing.T) {
		_, err := NewSearcher(nil, repos.Vectors, repos.PodIndexes, embedder)
		assert.Equal(t, ErrPodRepositoryRequired, err)
		_, err = NewSearcher(repos.Pods, nil, repos.PodIndexes, embedder)
		assert.Equal(t, ErrVectorStoreRequired, err)
		_, err = NewSearcher(repos.Pods, repos.Vectors, nil, embedder)
		assert.Equal(t, ErrPodIndexRepositoryRequired, err)
		_, err = NewSearcher(repos.Pods, repos.Vectors, repos.PodIndexes, nil)
		assert.Equal(t, ErrEmbedderRequired, err)
	})
}

func TestRetrieve_NearestChunksOfPod(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.chunk(t, f.podID, "far", "the weather was mild", 10, 10, 10)
	f.chunk(t, f.podID, "near", "the invoice is due friday", 1, 0, 0)
	f.chunk(t, f.podID, "nearer", "payment terms are net 30", 1, 0.1, 0)
	f.chunk(t, "other-pod", "closest", "should never leak", 1, 0.05, 0)
	f.embedder.vectors["when is payment due"] = []float32{1, 0.08, 0}

	retrieval, err := f.searcher.Retrieve(ctx, f.podID, "when is payment due", 2)
	require.NoError(t, err)

	assert.False(t, retrieval.Fallback)
	require.Len(t, retrieval.Chunks, 2)
	assert.Equal(t, []string{
		core.ChunkID(f.podID, "nearer"),
		core.ChunkID(f.podID, "near"),
	}, retrieval.UsedIDs)
	assert.Equal(t, "payment terms are net 30\nthe invoice is due friday", retrieval.Context)
	for _, hit := range retrieval.Chunks {
		assert.Equal(t, f.podID, hit.Chunk.PodID)
	}
}

func TestRetrieve_DefaultLimit(t *testing.T) {
	f := setup(t, WithDefaultLimit(2))
	for _, id := range []string{"a", "b", "c", "d"} {
		f.chunk(t, f.podID, id, "content "+id, 1, 0, 0)
	}

	retrieval, err := f.searcher.Retrieve(context.Background(), f.podID, "anything", 0)
	require.NoError(t, err)
	assert.Len(t, retrieval.Chunks, 2)
}

func TestRetrieve_KeywordHitsFirst(t *testing.T) {
	f := setup(t)
	f.chunk(t, f.podID, "close", "quarterly numbers look fine", 1, 0, 0)
	f.chunk(t, f.podID, "verbatim", "The Lantern project ships in May.", 2, 0, 0)
	f.embedder.vectors["When does the lantern project ship?"] = []float32{1, 0, 0}

	monitor := &recordingMonitor{}
	retrieval, err := f.searcher.RetrieveWithMonitor(context.Background(), f.podID, "When does the lantern project ship?", 5, monitor)
	require.NoError(t, err)

	// "ship" is not in the chunk, so no keyword match, order stays by distance
	assert.Equal(t, core.ChunkID(f.podID, "close"), retrieval.UsedIDs[0])

	f.embedder.vectors["lantern project"] = []float32{1, 0, 0}
	retrieval, err = f.searcher.RetrieveWithMonitor(context.Background(), f.podID, "lantern project", 5, monitor)
	require.NoError(t, err)
	assert.Equal(t, core.ChunkID(f.podID, "verbatim"), retrieval.UsedIDs[0])
	assert.Equal(t, []string{core.ChunkID(f.podID, "verbatim")}, monitor.keywordHits)
}

func TestRetrieve_FallbackOnEmbeddingError(t *testing.T) {
	f := setup(t)
	f.chunk(t, f.podID, "a", "indexed content", 1, 0, 0)
	f.index(t, "line one\nline two\n")
	f.embedder.err = errors.New("embedding service down")

	monitor := &recordingMonitor{}
	retrieval, err := f.searcher.RetrieveWithMonitor(context.Background(), f.podID, "what is here", 5, monitor)
	require.NoError(t, err)

	assert.True(t, retrieval.Fallback)
	assert.Equal(t, []string{FallbackID}, retrieval.UsedIDs)
	assert.Equal(t, "line one\nline two\n", retrieval.Context)
	assert.Empty(t, retrieval.Chunks)
	assert.ErrorIs(t, monitor.fallbackReason, f.embedder.err)
	assert.True(t, monitor.finished)
}

func TestRetrieve_FallbackOnNoChunks(t *testing.T) {
	f := setup(t)
	f.index(t, "combined text\n")

	retrieval, err := f.searcher.Retrieve(context.Background(), f.podID, "anything", 5)
	require.NoError(t, err)
	assert.True(t, retrieval.Fallback)
	assert.Equal(t, "combined text\n", retrieval.Context)
}

func TestRetrieve_FallbackWithoutIndex(t *testing.T) {
	f := setup(t)

	retrieval, err := f.searcher.Retrieve(context.Background(), f.podID, "anything", 5)
	require.NoError(t, err)
	assert.True(t, retrieval.Fallback)
	assert.Equal(t, []string{FallbackID}, retrieval.UsedIDs)
	assert.Empty(t, retrieval.Context)
}

func TestRetrieve_Errors(t *testing.T) {
	f := setup(t)

	_, err := f.searcher.Retrieve(context.Background(), "missing", "anything", 5)
	assert.ErrorIs(t, err, core.ErrPodNotFound)

	_, err = f.searcher.Retrieve(context.Background(), f.podID, "   ", 5)
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAsk(t *testing.T) {
	answerer := mock.NewMockAnswerer()
	f := setup(t, WithAnswerer(answerer))
	f.chunk(t, f.podID, "a", "the office is in Lisbon", 1, 0, 0)

	answer, err := f.searcher.Ask(context.Background(), f.podID, "where is the office", 5)
	require.NoError(t, err)

	assert.Equal(t, "answer: where is the office", answer.Text)
	require.Len(t, answerer.Prompts(), 1)
	assert.Equal(t, "Context:\nthe office is in Lisbon\n\nQuestion:\nwhere is the office\n", answerer.Prompts()[0])
	assert.Equal(t, []string{core.ChunkID(f.podID, "a")}, answer.Retrieval.UsedIDs)
}

func TestAsk_Errors(t *testing.T) {
	t.Run("no answerer", func(t *testing.T) {
		f := setup(t)
		_, err := f.searcher.Ask(context.Background(), f.podID, "question", 5)
		assert.ErrorIs(t, err, ErrAnswererRequired)
	})

	t.Run("answer failure", func(t *testing.T) {
		boom := errors.New("model overloaded")
		answerer := &mock.MockAnswerer{AnswerFunc: func(context.Context, string) (string, error) {
			return "", boom
		}}
		f := setup(t, WithAnswerer(answerer))
		_, err := f.searcher.Ask(context.Background(), f.podID, "question", 5)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("unknown pod", func(t *testing.T) {
		f := setup(t, WithAnswerer(mock.NewMockAnswerer()))
		_, err := f.searcher.Ask(context.Background(), "missing", "question", 5)
		assert.ErrorIs(t, err, core.ErrPodNotFound)
	})
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"lantern", "project", "ship"}, keywords("When does the Lantern project ship?"))
	assert.Empty(t, keywords("what is the"))
	assert.True(t, containsAll("The Lantern project ships.", []string{"lantern", "project"}))
	assert.False(t, containsAll("The Lantern project ships.", []string{"lantern", "ship"}))
	assert.False(t, containsAll("anything", nil))
}

type recordingMonitor struct {
	noopMonitor
	keywordHits    []string
	fallbackReason error
	finished       bool
}

func (m *recordingMonitor) KeywordHit(chunk *core.VectorChunk) {
	m.keywordHits = append(m.keywordHits, chunk.ID)
}

func (m *recordingMonitor) Fallback(reason error) { m.fallbackReason = reason }

func (m *recordingMonitor) Finish(*Retrieval) { m.finished = true }
