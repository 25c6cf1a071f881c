package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/podhub/ai"
	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/storage"
)

const (
	// DefaultLimit is the number of chunks retrieved when none is requested.
	DefaultLimit = 5

	// FallbackID is the only used ID reported when the pod index served as context.
	FallbackID = "fallback:pod-index"
)

var errNoChunks = errors.New("pod has no indexed chunks")

// Embedder turns a question into a vector. embedding.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retrieval is the context gathered for one question.
type Retrieval struct {
	PodID    string
	Question string

	// Context is the text handed to the answerer.
	Context string

	// UsedIDs are the chunk IDs that make up Context, or FallbackID.
	UsedIDs []string

	// Chunks are the similarity hits in context order. Empty on fallback.
	Chunks []*core.SimilarChunk

	// Fallback is set when Context came from the pod index.
	Fallback bool
}

// Answer is a generated reply and the retrieval it was based on.
type Answer struct {
	Text      string
	Retrieval *Retrieval
}

// Searcher retrieves pod-scoped context for questions.
type Searcher struct {
	pods       storage.PodRepository
	vectors    storage.VectorStore
	podIndexes storage.PodIndexRepository
	embedder   Embedder
	answerer   ai.Answerer
	limit      int
	logger     *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithAnswerer enables Ask.
func WithAnswerer(answerer ai.Answerer) Option {
	return func(s *Searcher) error {
		s.answerer = answerer
		return nil
	}
}

// WithDefaultLimit sets the limit used when a caller passes zero.
func WithDefaultLimit(limit int) Option {
	return func(s *Searcher) error {
		if limit <= 0 {
			return fmt.Errorf("default limit must be positive, got %d", limit)
		}
		s.limit = limit
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(
	pods storage.PodRepository,
	vectors storage.VectorStore,
	podIndexes storage.PodIndexRepository,
	embedder Embedder,
	opts ...Option,
) (*Searcher, error) {
	if pods == nil {
		return nil, ErrPodRepositoryRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if podIndexes == nil {
		return nil, ErrPodIndexRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		pods:       pods,
		vectors:    vectors,
		podIndexes: podIndexes,
		embedder:   embedder,
		limit:      DefaultLimit,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "searcher")

	return s, nil
}

// Retrieve gathers context for question from the chunks of podID.
// Returns up to limit chunks, or DefaultLimit when limit is not positive.
func (s *Searcher) Retrieve(ctx context.Context, podID, question string, limit int) (*Retrieval, error) {
	return s.RetrieveWithMonitor(ctx, podID, question, limit, nil)
}

// RetrieveWithMonitor is Retrieve with a monitor receiving callbacks at each
// stage of the retrieval.
func (s *Searcher) RetrieveWithMonitor(ctx context.Context, podID, question string, limit int, monitor Monitor) (*Retrieval, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if limit <= 0 {
		limit = s.limit
	}

	if _, err := s.pods.GetPod(ctx, podID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrPodNotFound, podID)
		}
		return nil, err
	}

	monitor.Start(podID, question)
	logger := s.logger.With("podID", podID)

	hits, err := s.similar(ctx, podID, question, limit, monitor)
	if err != nil {
		logger.Warn("similarity search failed, falling back to pod index", "err", err)
		return s.fallback(ctx, podID, question, err, monitor)
	}
	if len(hits) == 0 {
		logger.Debug("no chunks found, falling back to pod index")
		return s.fallback(ctx, podID, question, errNoChunks, monitor)
	}

	hits = s.promoteKeywordHits(hits, question, monitor)
	retrieval := &Retrieval{
		PodID:    podID,
		Question: question,
		UsedIDs:  make([]string, len(hits)),
		Chunks:   hits,
	}
	contents := make([]string, len(hits))
	for i, hit := range hits {
		retrieval.UsedIDs[i] = hit.Chunk.ID
		contents[i] = hit.Chunk.Content
	}
	retrieval.Context = strings.Join(contents, "\n")

	monitor.Finish(retrieval)
	return retrieval, nil
}

func (s *Searcher) similar(ctx context.Context, podID, question string, limit int, monitor Monitor) ([]*core.SimilarChunk, error) {
	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	monitor.AfterEmbedding(len(vector))

	hits, err := s.vectors.FindSimilarInPod(ctx, podID, vector, limit)
	if err != nil {
		return nil, err
	}
	monitor.AfterSimilaritySearch(hits)
	return hits, nil
}

// promoteKeywordHits moves chunks containing every keyword of the question
// ahead of the rest. Relative order within each group is kept.
func (s *Searcher) promoteKeywordHits(hits []*core.SimilarChunk, question string, monitor Monitor) []*core.SimilarChunk {
	words := keywords(question)
	matched := make(map[string]bool, len(hits))
	for _, hit := range hits {
		if containsAll(hit.Chunk.Content, words) {
			matched[hit.Chunk.ID] = true
			monitor.KeywordHit(hit.Chunk)
		}
	}
	if len(matched) == 0 {
		return hits
	}

	ranked := slices.Clone(hits)
	slices.SortStableFunc(ranked, func(a, b *core.SimilarChunk) int {
		switch {
		case matched[a.Chunk.ID] == matched[b.Chunk.ID]:
			return 0
		case matched[a.Chunk.ID]:
			return -1
		default:
			return 1
		}
	})
	return ranked
}

func (s *Searcher) fallback(ctx context.Context, podID, question string, reason error, monitor Monitor) (*Retrieval, error) {
	monitor.Fallback(reason)

	retrieval := &Retrieval{
		PodID:    podID,
		Question: question,
		UsedIDs:  []string{FallbackID},
		Fallback: true,
	}

	index, err := s.podIndexes.GetPodIndex(ctx, podID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Debug("pod has no index yet", "podID", podID)
	case err != nil:
		return nil, fmt.Errorf("failed to load pod index: %w", errors.Join(err, reason))
	default:
		retrieval.Context = index.CombinedText
	}

	monitor.Finish(retrieval)
	return retrieval, nil
}

// Ask retrieves context for question and generates an answer from it.
func (s *Searcher) Ask(ctx context.Context, podID, question string, limit int) (*Answer, error) {
	if s.answerer == nil {
		return nil, ErrAnswererRequired
	}

	retrieval, err := s.Retrieve(ctx, podID, question, limit)
	if err != nil {
		return nil, err
	}

	text, err := s.answerer.Answer(ctx, BuildPrompt(retrieval.Context, question))
	if err != nil {
		s.logger.Error("error generating answer", "podID", podID, "err", err)
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	return &Answer{Text: text, Retrieval: retrieval}, nil
}

// BuildPrompt formats the context and question for an answerer.
func BuildPrompt(contextText, question string) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s\n", contextText, question)
}
