// Package config loads the application configuration from YAML with
// environment-aware defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Server     ServerConfig     `yaml:"server"`
}

// StorageConfig configures the record store.
type StorageConfig struct {
	Path        string `yaml:"path"`         // sqlite database file
	OnDuplicate string `yaml:"on_duplicate"` // skip|reject
}

// EmbeddingConfig configures the embedding provider adapter.
type EmbeddingConfig struct {
	Model             string  `yaml:"model"`
	APIKeyEnv         string  `yaml:"api_key_env"` // env var holding the key
	MaxInputRunes     int     `yaml:"max_input_runes"`
	MaxRetries        int     `yaml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// GenerationConfig fixes the sampling parameters for text generation.
type GenerationConfig struct {
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	DefaultTopK int     `yaml:"default_top_k"`
	RelatedTopK int     `yaml:"related_top_k"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:        "data/lore.db",
			OnDuplicate: "skip",
		},
		Embedding: EmbeddingConfig{
			Model:             "text-embedding-3-small",
			APIKeyEnv:         "OPENAI_API_KEY",
			MaxInputRunes:     8000,
			MaxRetries:        3,
			RequestsPerSecond: 5,
		},
		Generation: GenerationConfig{
			Model:       "gpt-4",
			Temperature: 0.7,
			MaxTokens:   300,
			DefaultTopK: 5,
			RelatedTopK: 3,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: invalid YAML in %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("config: storage.path cannot be empty")
	}
	if c.Storage.OnDuplicate != "skip" && c.Storage.OnDuplicate != "reject" {
		return fmt.Errorf("config: storage.on_duplicate must be skip or reject, got %q", c.Storage.OnDuplicate)
	}
	if c.Embedding.MaxInputRunes < 0 {
		return fmt.Errorf("config: embedding.max_input_runes cannot be negative")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("config: generation.temperature must be in [0, 2]")
	}
	if c.Generation.MaxTokens < 0 {
		return fmt.Errorf("config: generation.max_tokens cannot be negative")
	}
	if c.Generation.DefaultTopK < 1 {
		return fmt.Errorf("config: generation.default_top_k must be at least 1")
	}
	return nil
}

// APIKey resolves the provider API key from the configured environment
// variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.Embedding.APIKeyEnv)
}
