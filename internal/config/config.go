// Package config provides configuration loading and structs for the kotae
// server and pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Index      IndexConfig      `yaml:"index"`
	Query      QueryConfig      `yaml:"query"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the chunk store location and the persisted index
// artifact paths. The three artifact paths form one logical unit.
type StorageConfig struct {
	StoreType string `yaml:"store_type"`
	ChunkPath string `yaml:"chunk_path"`
	IndexPath string `yaml:"index_path"`
	MetaPath  string `yaml:"meta_path"`
	InfoPath  string `yaml:"info_path"`
}

// ChunkingConfig holds token bounds for the chunker.
type ChunkingConfig struct {
	MaxTokens int `yaml:"max_tokens"`
	MinTokens int `yaml:"min_tokens"`
}

// EmbeddingConfig holds embedding provider settings. The API key comes from
// the OPENAI_API_KEY environment variable, never from the file.
type EmbeddingConfig struct {
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CacheSize      int    `yaml:"cache_size"`
}

// GenerationConfig holds generation provider settings.
type GenerationConfig struct {
	Model          string  `yaml:"model"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float32 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// IndexConfig holds index build settings.
type IndexConfig struct {
	BatchSize int `yaml:"batch_size"`
	Workers   int `yaml:"workers"`
}

// QueryConfig holds retrieval and response shaping settings.
type QueryConfig struct {
	DefaultTopK    int `yaml:"default_top_k"`
	MaxTopK        int `yaml:"max_top_k"`
	SnippetChars   int `yaml:"snippet_chars"`
	MaxResultChars int `yaml:"max_result_chars"`
}

// WatchConfig holds chunk-directory watch settings.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMS int  `yaml:"debounce_ms"`
}

// Load reads and parses the config file at path, expands paths, and applies
// defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.ChunkPath = expandPath(cfg.Storage.ChunkPath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Storage.MetaPath = expandPath(cfg.Storage.MetaPath, configDir)
	cfg.Storage.InfoPath = expandPath(cfg.Storage.InfoPath, configDir)

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths are relative to the home
// directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
