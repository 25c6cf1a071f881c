package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an empty vector if the service produced none.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Answerer generates a natural-language answer for a prepared prompt.
// Implementations must be thread-safe for concurrent use.
type Answerer interface {
	// Answer returns the model's completion for prompt.
	Answer(ctx context.Context, prompt string) (string, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Answerer returns the answer generation service.
	Answerer() Answerer

	// ModelVersion identifies the embedding model. It is stamped on every
	// stored chunk so vectors from different models are never mixed.
	ModelVersion() string

	// Close releases resources held by the provider and its services.
	Close() error
}
