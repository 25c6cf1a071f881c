package ollama

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/poiesic/podhub/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// ErrEmptyCompletion is returned when the model produced no choices.
var ErrEmptyCompletion = errors.New("model returned no completion")

// Answerer implements ai.Answerer against an Ollama server.
type Answerer struct {
	client *ollama.LLM
	logger *slog.Logger
}

func newAnswerer(config *ai.Config) (*Answerer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := ollama.New(
		ollama.WithServerURL(config.AnswerHost),
		ollama.WithModel(config.AnswerModel),
	)
	if err != nil {
		return nil, err
	}

	return &Answerer{
		client: client,
		logger: slog.Default().With("component", "ollama-answerer"),
	}, nil
}

// NewAnswerer creates a new answerer using the provided configuration.
func NewAnswerer(config *ai.Config) (ai.Answerer, error) {
	return newAnswerer(config)
}

// Answer returns the model's completion for prompt.
func (a *Answerer) Answer(ctx context.Context, prompt string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ai.AnswerSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	response, err := a.client.GenerateContent(ctx, content, llms.WithTemperature(0))
	if err != nil {
		a.logger.Error("failed to generate answer", "err", err)
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return strings.TrimSpace(response.Choices[0].Content), nil
}
