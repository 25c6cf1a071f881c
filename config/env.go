package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "PODHUB_"

// envBinding maps one environment variable onto a Config field.
type envBinding struct {
	name string
	set  func(c *Config, value string) error
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func duration(field func(*Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = Duration(d)
		return nil
	}
}

var envBindings = []envBinding{
	{"DB_PATH", str(func(c *Config) *string { return &c.Storage.Path })},
	{"STORAGE_BACKEND", str(func(c *Config) *string { return &c.Storage.Backend })},
	{"POSTGRES_URL", str(func(c *Config) *string { return &c.Storage.PostgresURL })},
	{"IN_MEMORY", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		c.Storage.InMemory = b
		return err
	}},
	{"BROKER", str(func(c *Config) *string { return &c.Broker.Kind })},
	{"NATS_URL", str(func(c *Config) *string { return &c.Broker.URL })},
	{"REDELIVERY_DELAY", duration(func(c *Config) *Duration { return &c.Broker.RedeliveryDelay })},
	{"AI_PROVIDER", str(func(c *Config) *string { return &c.AI.Provider })},
	{"AI_HOST", func(c *Config, v string) error {
		c.AI.EmbeddingHost, c.AI.AnswerHost = v, v
		return nil
	}},
	{"EMBEDDING_HOST", str(func(c *Config) *string { return &c.AI.EmbeddingHost })},
	{"EMBEDDING_MODEL", str(func(c *Config) *string { return &c.AI.EmbeddingModel })},
	{"ANSWER_HOST", str(func(c *Config) *string { return &c.AI.AnswerHost })},
	{"ANSWER_MODEL", str(func(c *Config) *string { return &c.AI.AnswerModel })},
	{"API_KEY", str(func(c *Config) *string { return &c.AI.APIKey })},
	{"EMBEDDING_TIMEOUT", duration(func(c *Config) *Duration { return &c.Embedding.CallTimeout })},
	{"EMBEDDING_MAX_ATTEMPTS", integer(func(c *Config) *int { return &c.Embedding.MaxAttempts })},
	{"EMBEDDING_MAX_TOKENS", integer(func(c *Config) *int { return &c.Embedding.MaxTokens })},
	{"EMBEDDING_RATE_LIMIT", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		c.Embedding.RateLimit = f
		return err
	}},
	{"JOB_CONCURRENCY", integer(func(c *Config) *int { return &c.Pipeline.JobConcurrency })},
	{"ITEM_CONCURRENCY", integer(func(c *Config) *int { return &c.Pipeline.ItemConcurrency })},
	{"ITEM_TIMEOUT", duration(func(c *Config) *Duration { return &c.Pipeline.ItemTimeout })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
}

// applyEnv overrides cfg with every PODHUB_* variable that is set.
func applyEnv(cfg *Config) error {
	for _, b := range envBindings {
		value, ok := os.LookupEnv(EnvPrefix + b.name)
		if !ok || value == "" {
			continue
		}
		if err := b.set(cfg, value); err != nil {
			return fmt.Errorf("%w: %s%s=%q: %w", ErrInvalidConfig, EnvPrefix, b.name, value, err)
		}
	}
	return nil
}
