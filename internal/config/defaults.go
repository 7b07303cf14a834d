package config

import "github.com/hyperjump/shiru/internal/loader"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeoutSeconds == 0 {
		cfg.Server.RequestTimeoutSeconds = 120
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = "/usr/local/var/shiru/data/index"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Provider == "onnx" && cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/shiru/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Provider == "onnx" && cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}

	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 1000
	}
	if cfg.Chunking.Overlap == 0 && cfg.Chunking.Size > 200 {
		cfg.Chunking.Overlap = 200
	}

	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 5
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Search.KeywordWeight == 0 && cfg.Search.VectorWeight == 0 {
		cfg.Search.KeywordWeight = 0.3
		cfg.Search.VectorWeight = 0.7
	}
	if cfg.Search.Candidates == 0 {
		cfg.Search.Candidates = 50
	}
	if cfg.Search.Fuzzy && cfg.Search.Fuzziness == 0 {
		cfg.Search.Fuzziness = 1
	}

	if cfg.Answer.Provider == "" {
		cfg.Answer.Provider = "extractive"
	}
	if cfg.Answer.APIKeyEnv == "" {
		cfg.Answer.APIKeyEnv = cfg.Embedding.APIKeyEnv
	}
	if cfg.Answer.TimeoutSeconds == 0 {
		cfg.Answer.TimeoutSeconds = 60
	}

	if cfg.Loader.Extensions == nil {
		cfg.Loader.Extensions = append([]string(nil), loader.DefaultExtensions...)
	}
	if cfg.Loader.HTTPTimeoutSeconds == 0 {
		cfg.Loader.HTTPTimeoutSeconds = 30
	}
	if cfg.Loader.MaxBytes == 0 {
		cfg.Loader.MaxBytes = loader.DefaultMaxBytes
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = append([]string(nil), cfg.Loader.Extensions...)
	}
	if cfg.Watch.DebounceMillis == 0 {
		cfg.Watch.DebounceMillis = 500
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
