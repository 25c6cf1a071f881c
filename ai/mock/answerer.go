package mock

import (
	"context"
	"strings"
	"sync"
)

// MockAnswerer is a test double for ai.Answerer.
type MockAnswerer struct {
	// AnswerFunc is called by Answer if set.
	AnswerFunc func(ctx context.Context, prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

// NewMockAnswerer creates a mock answerer that echoes the last prompt line.
func NewMockAnswerer() *MockAnswerer {
	return &MockAnswerer{}
}

// Answer records prompt and returns the injected or default answer.
func (m *MockAnswerer) Answer(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.AnswerFunc != nil {
		return m.AnswerFunc(ctx, prompt)
	}
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	return "answer: " + lines[len(lines)-1], nil
}

// Prompts returns every prompt received so far.
func (m *MockAnswerer) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
