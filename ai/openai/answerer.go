package openai

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/poiesic/podhub/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrEmptyCompletion is returned when the model produced no choices.
var ErrEmptyCompletion = errors.New("model returned no completion")

// Answerer implements ai.Answerer using OpenAI-compatible chat APIs.
type Answerer struct {
	client *openai.LLM
	logger *slog.Logger
}

// newAnswerer is an internal constructor that returns the concrete type.
func newAnswerer(config *ai.Config) (*Answerer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.AnswerHost),
		openai.WithToken(config.Token()),
		openai.WithModel(config.AnswerModel),
	)
	if err != nil {
		return nil, err
	}

	return &Answerer{
		client: client,
		logger: slog.Default().With("component", "openai-answerer"),
	}, nil
}

// NewAnswerer creates a new answerer using the provided configuration.
//
// Returns ai.Answerer interface to enforce abstraction.
func NewAnswerer(config *ai.Config) (ai.Answerer, error) {
	return newAnswerer(config)
}

// Answer sends prompt to the chat model with a fixed system prompt and
// returns the first choice.
func (a *Answerer) Answer(ctx context.Context, prompt string) (string, error) {
	a.logger.Debug("generating answer", "length", len(prompt))

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
