// Package config provides configuration loading and structs for the shiru server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Search    SearchConfig    `yaml:"search"`
	Answer    AnswerConfig    `yaml:"answer"`
	Loader    LoaderConfig    `yaml:"loader"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host                  string   `yaml:"host" validate:"required"`
	Port                  int      `yaml:"port" validate:"gte=1,lte=65535"`
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds" validate:"gt=0"`
	CORSOrigins           []string `yaml:"cors_origins,omitempty"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// URL returns the base URL clients use to reach the server.
func (s ServerConfig) URL() string {
	return "http://" + s.Addr()
}

// StorageConfig holds where the index lives. Each embedding model gets its own subdirectory.
type StorageConfig struct {
	IndexDir string `yaml:"index_dir" validate:"required"`
}

// EmbeddingConfig selects and configures the embedder.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider" validate:"oneof=mock onnx openai"`
	Model             string  `yaml:"model" validate:"required_if=Provider openai"`
	ModelPath         string  `yaml:"model_path" validate:"required_if=Provider onnx"`
	LibraryPath       string  `yaml:"library_path"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	APIKey            string  `yaml:"-"`
	Dimensions        int     `yaml:"dimensions" validate:"gte=0"`
	MaxTokens         int     `yaml:"max_tokens" validate:"gte=0"`
	BatchSize         int     `yaml:"batch_size" validate:"gt=0"`
	TimeoutSeconds    int     `yaml:"timeout_seconds" validate:"gt=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// Timeout returns the per-request timeout.
func (e EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// ChunkingConfig holds the chunk window, counted in characters.
type ChunkingConfig struct {
	Size       int      `yaml:"size" validate:"gt=0"`
	Overlap    int      `yaml:"overlap" validate:"gte=0,ltfield=Size"`
	Separators []string `yaml:"separators,omitempty"`
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	DefaultK      int     `yaml:"default_k" validate:"gt=0"`
	MaxK          int     `yaml:"max_k" validate:"gtefield=DefaultK"`
	KeywordWeight float64 `yaml:"keyword_weight" validate:"gte=0"`
	VectorWeight  float64 `yaml:"vector_weight" validate:"gte=0"`
	Candidates    int     `yaml:"candidates" validate:"gte=0"`
	Fuzzy         bool    `yaml:"fuzzy"`
	Fuzziness     int     `yaml:"fuzziness" validate:"gte=0,lte=2"`
}

// AnswerConfig selects and configures the answerer.
type AnswerConfig struct {
	Provider          string  `yaml:"provider" validate:"oneof=extractive openai"`
	Model             string  `yaml:"model" validate:"required_if=Provider openai"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	APIKey            string  `yaml:"-"`
	TimeoutSeconds    int     `yaml:"timeout_seconds" validate:"gt=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	MaxRetries        int     `yaml:"max_retries" validate:"gte=0"`
}

// Timeout returns the per-request timeout.
func (a AnswerConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// LoaderConfig holds document loading settings.
type LoaderConfig struct {
	Extensions         []string `yaml:"extensions,omitempty"`
	HTTPTimeoutSeconds int      `yaml:"http_timeout_seconds" validate:"gt=0"`
	MaxBytes           int64    `yaml:"max_bytes" validate:"gt=0"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories    []string `yaml:"directories,omitempty"`
	Extensions     []string `yaml:"extensions,omitempty"`
	Recursive      *bool    `yaml:"recursive,omitempty"`
	DebounceMillis int      `yaml:"debounce_millis" validate:"gte=0"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths and environment variables,
// applies defaults and validates the result. A .env file next to the config or in the working
// directory is loaded first; variables already set in the environment win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load(".env")

	ApplyDefaults(&cfg)

	cfg.Storage.IndexDir = expandPath(os.ExpandEnv(cfg.Storage.IndexDir), configDir)
	cfg.Embedding.ModelPath = expandPath(os.ExpandEnv(cfg.Embedding.ModelPath), configDir)
	if cfg.Embedding.LibraryPath != "" {
		cfg.Embedding.LibraryPath = expandPath(os.ExpandEnv(cfg.Embedding.LibraryPath), configDir)
	}
	cfg.Embedding.BaseURL = os.ExpandEnv(cfg.Embedding.BaseURL)
	cfg.Answer.BaseURL = os.ExpandEnv(cfg.Answer.BaseURL)
	cfg.Embedding.APIKey = os.Getenv(cfg.Embedding.APIKeyEnv)
	cfg.Answer.APIKey = os.Getenv(cfg.Answer.APIKeyEnv)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
// API keys are never written.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. "~" is the home directory, paths starting with "./"
// are relative to configDir, and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	home, homeErr := os.UserHomeDir()
	if path == "~" || strings.HasPrefix(path, "~/") {
		if homeErr == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if homeErr == nil {
		return filepath.Join(home, path)
	}
	return path
}
