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


// Package config loads podhub settings from defaults, an optional TOML file,
// an optional .env file and PODHUB_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/podhub/ai"
	"github.com/poiesic/podhub/queue"
)

// Storage backends.
const (
	StorageBadger   = "badger"
	StoragePostgres = "postgres"
)

// Broker kinds.
const (
	BrokerMemory = "memory"
	BrokerNATS   = "nats"
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// StorageConfig selects where pods, jobs and vectors live.
type StorageConfig struct {
	// Path is the badger directory. Pods, pod indexes and dead letters are
	// always kept in badger.
	Path string `toml:"path"`

	// InMemory keeps badger data in memory only.
	InMemory bool `toml:"in_memory"`

	// Backend is "badger" or "postgres". With postgres, jobs and vectors
	// are stored in PostgresURL.
	Backend     string `toml:"backend"`
	PostgresURL string `toml:"postgres_url"`
}

// BrokerConfig selects the message broker.
type BrokerConfig struct {
	Kind            string   `toml:"kind"`
	URL             string   `toml:"url"`
	RedeliveryDelay Duration `toml:"redelivery_delay"`
}

// EmbeddingConfig tunes the embedding client.
type EmbeddingConfig struct {
	CallTimeout      Duration `toml:"call_timeout"`
	MaxAttempts      int      `toml:"max_attempts"`
	RetryDelay       Duration `toml:"retry_delay"`
	FailureThreshold int      `toml:"failure_threshold"`
	Cooldown         Duration `toml:"cooldown"`
	CacheMaxCost     int64    `toml:"cache_max_cost"`

	// RateLimit is calls per second; zero disables limiting.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`

	// MaxTokens truncates input text; zero disables truncation.
	MaxTokens int    `toml:"max_tokens"`
	Encoding  string `toml:"encoding"`
}

// PipelineConfig sizes the worker pools.
type PipelineConfig struct {
	JobConcurrency  int      `toml:"job_concurrency"`
	ItemConcurrency int      `toml:"item_concurrency"`
	ItemTimeout     Duration `toml:"item_timeout"`
}

// LogConfig controls the default slog handler.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the complete podhub configuration.
type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Broker    BrokerConfig    `toml:"broker"`
	Topics    queue.Topics    `toml:"topics"`
	AI        ai.Config       `toml:"ai"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Log       LogConfig       `toml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:    "./podhub_db",
			Backend: StorageBadger,
		},
		Broker: BrokerConfig{
			Kind:            BrokerMemory,
			URL:             "nats://127.0.0.1:4222",
			RedeliveryDelay: Duration(time.Second),
		},
		Topics: queue.DefaultTopics(),
		AI:     *ai.DefaultConfig(),
		Embedding: EmbeddingConfig{
			CallTimeout:      Duration(10 * time.Second),
			MaxAttempts:      1,
			RetryDelay:       Duration(200 * time.Millisecond),
			FailureThreshold: 5,
			Cooldown:         Duration(30 * time.Second),
			CacheMaxCost:     64 << 20,
			RateBurst:        1,
			Encoding:         "cl100k_base",
		},
		Pipeline: PipelineConfig{
			JobConcurrency:  3,
			ItemConcurrency: 5,
			ItemTimeout:     Duration(30 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from the defaults, the TOML file at path and the
// .env file at envFile, then applies PODHUB_* environment overrides.
// Missing files are skipped; an empty path skips that source.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.AI.Normalize()
	return cfg, nil
}

// Write stores cfg as TOML at path.
func Write(cfg *Config, path string) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case StorageBadger:
	case StoragePostgres:
		if c.Storage.PostgresURL == "" {
			errs = append(errs, fmt.Errorf("%w: storage.postgres_url is required for the postgres backend", ErrInvalidConfig))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend))
	}
	if c.Storage.Path == "" && !c.Storage.InMemory {
		errs = append(errs, fmt.Errorf("%w: storage.path is required", ErrInvalidConfig))
	}

	switch c.Broker.Kind {
	case BrokerMemory:
	case BrokerNATS:
		if c.Broker.URL == "" {
			errs = append(errs, fmt.Errorf("%w: broker.url is required for nats", ErrInvalidConfig))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown broker kind %q", ErrInvalidConfig, c.Broker.Kind))
	}

	for _, topic := range c.Topics.All() {
		if topic.Name == "" || topic.Partitions <= 0 {
			errs = append(errs, fmt.Errorf("%w: topic %q needs a name and at least one partition", ErrInvalidConfig, topic.Name))
		}
	}

	if c.Embedding.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("%w: embedding.max_attempts must be positive", ErrInvalidConfig))
	}
	if c.Embedding.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("%w: embedding.failure_threshold must be positive", ErrInvalidConfig))
	}
	if c.Embedding.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: embedding.call_timeout must be positive", ErrInvalidConfig))
	}
	if c.Pipeline.JobConcurrency <= 0 || c.Pipeline.ItemConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("%w: pipeline concurrency must be positive", ErrInvalidConfig))
	}

	if err := c.AI.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
