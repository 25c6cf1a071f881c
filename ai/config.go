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


package ai

import (
	"errors"
	"fmt"
	"strings"
)

// Supported provider names.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config holds configuration for AI service providers.
type Config struct {
	// Provider selects the client implementation: "openai" or "ollama".
	// The openai provider also serves OpenAI-compatible servers (LocalAI, vLLM).
	Provider string `toml:"provider"`

	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for a local OpenAI-compatible server,
	// "http://localhost:11434" for the native Ollama API.
	EmbeddingHost string `toml:"embedding_host"`

	// AnswerHost is the base URL for the answer generation service API.
	AnswerHost string `toml:"answer_host"`

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "nomic-embed-text", "text-embedding-3-small"
	EmbeddingModel string `toml:"embedding_model"`

	// AnswerModel is the model identifier to use for answers.
	// Example: "qwen2.5:3b", "gpt-4o-mini"
	AnswerModel string `toml:"answer_model"`

	// APIKey is sent as the bearer token. Local services accept any value.
	APIKey string `toml:"api_key"`
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithProvider sets the provider name.
func WithProvider(provider string) ConfigOption {
	return func(c *Config) {
		c.Provider = provider
	}
}

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithAnswerHost sets the answer service host URL.
func WithAnswerHost(host string) ConfigOption {
	return func(c *Config) {
		c.AnswerHost = host
	}
}

// WithHost sets both embedding and answer hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.AnswerHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithAnswerModel sets the answer model identifier.
func WithAnswerModel(model string) ConfigOption {
	return func(c *Config) {
		c.AnswerModel = model
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// DefaultConfig returns a Config with sensible defaults for a local Ollama
// server reached through its native API.
func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434"
	return &Config{
		Provider:       ProviderOllama,
		EmbeddingHost:  defaultHost,
		AnswerHost:     defaultHost,
		EmbeddingModel: "nomic-embed-text",
		AnswerModel:    "qwen2.5:3b",
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//   cfg := NewConfig(
//       WithProvider(ProviderOpenAI),
//       WithHost("http://localhost:8080/v1"),
//       WithEmbeddingModel("text-embedding-3-small"),
//   )
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// For the openai provider it adds the /v1 suffix to hosts if missing, which
// is required by most OpenAI-compatible APIs. The native Ollama API is
// served from the root, so trailing /v1 is removed instead.
func (c *Config) Normalize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.AnswerHost == "" {
		c.AnswerHost = c.EmbeddingHost
	}
	c.EmbeddingHost = c.normalizeHost(c.EmbeddingHost)
	c.AnswerHost = c.normalizeHost(c.AnswerHost)
}

func (c *Config) normalizeHost(host string) string {
	if host == "" {
		return host
	}
	// Remove trailing slash before adjusting the suffix
	host = strings.TrimSuffix(host, "/")
	switch c.Provider {
	case ProviderOpenAI:
		if !strings.HasSuffix(host, "/v1") {
			host += "/v1"
		}
	case ProviderOllama:
		host = strings.TrimSuffix(host, "/v1")
	}
	return host
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.Provider != ProviderOpenAI && c.Provider != ProviderOllama {
		return fmt.Errorf("ai config: unknown provider %q", c.Provider)
	}
	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.AnswerModel == "" {
		return errors.New("ai config: AnswerModel is required")
	}
	return nil
}

// Token returns the bearer token to send, defaulting to "none" for local
// services that don't require authentication.
func (c *Config) Token() string {
	if c.APIKey == "" {
		return "none"
	}
	return c.APIKey
}
