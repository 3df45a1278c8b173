// Package config provides configuration loading and structs for the kura pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug           bool                  `yaml:"debug"`
	Server          ServerConfig          `yaml:"server"`
	Storage         StorageConfig         `yaml:"storage"`
	Chunking        ChunkingConfig        `yaml:"chunking"`
	Extraction      ExtractionConfig      `yaml:"extraction"`
	Fetch           FetchConfig           `yaml:"fetch"`
	YouTube         YouTubeConfig         `yaml:"youtube"`
	LLM             LLMConfig             `yaml:"llm"`
	Embedding       EmbeddingConfig       `yaml:"embedding"`
	Transcription   TranscriptionConfig   `yaml:"transcription"`
	Transformations TransformationsConfig `yaml:"transformations"`
	ObjectStore     ObjectStoreConfig     `yaml:"object_store"`
	Search          SearchConfig          `yaml:"search"`
	Watch           WatchConfig           `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadMB    int64         `yaml:"max_upload_mb"`
}

// StorageConfig selects the storage backend and where its files live.
type StorageConfig struct {
	Driver         string `yaml:"driver"` // sqlite or postgres
	DatabasePath   string `yaml:"database_path"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// ChunkSpec is a chunk size and overlap, both in tokens.
type ChunkSpec struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// ChunkingConfig holds the independently tunable chunk settings.
type ChunkingConfig struct {
	Encoding  string    `yaml:"encoding"`
	Embedding ChunkSpec `yaml:"embedding"`
	Summary   ChunkSpec `yaml:"summary"`
	// SummaryOverlapRatio is used when Summary.Overlap is zero.
	SummaryOverlapRatio float64 `yaml:"summary_overlap_ratio"`
}

// ExtractionConfig holds format extractor limits and tool paths.
type ExtractionConfig struct {
	Workers             int    `yaml:"workers"`
	AudioSegmentMinutes int    `yaml:"audio_segment_minutes"`
	MaxTableRows        int    `yaml:"max_table_rows"`
	MaxTableCols        int    `yaml:"max_table_cols"`
	FFmpegPath          string `yaml:"ffmpeg_path"`
	FFprobePath         string `yaml:"ffprobe_path"`
	TempDir             string `yaml:"temp_dir"`
}

// AudioSegment returns the configured segment length.
func (e *ExtractionConfig) AudioSegment() time.Duration {
	return time.Duration(e.AudioSegmentMinutes) * time.Minute
}

// FetchConfig controls URL fetching for articles.
type FetchConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	UserAgent      string        `yaml:"user_agent"`
	FallbackURL    string        `yaml:"fallback_url"`
	FallbackAPIKey string        `yaml:"fallback_api_key"`
}

// YouTubeConfig holds transcript preferences.
type YouTubeConfig struct {
	Languages []string      `yaml:"languages"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LLMConfig selects the LLM provider used by transformations.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // onnx, gemini, openai, mock
	Model      string `yaml:"model"`
	ModelPath  string `yaml:"model_path"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// TranscriptionConfig configures the speech-to-text service.
type TranscriptionConfig struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TransformationsConfig bounds the fan-out engine.
type TransformationsConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	Timeout      time.Duration `yaml:"timeout"`
	Instructions string        `yaml:"instructions"`
}

// SearchConfig holds query limits and hybrid fusion weights.
type SearchConfig struct {
	DefaultLimit      int     `yaml:"default_limit"`
	MaxLimit          int     `yaml:"max_limit"`
	TopKCandidates    int     `yaml:"top_k_candidates"`
	KeywordWeight     float64 `yaml:"keyword_weight"`
	SemanticWeight    float64 `yaml:"semantic_weight"`
	KeywordTitleBoost float64 `yaml:"keyword_title_boost"`
}

// ObjectStoreConfig configures S3 staging for s3:// file paths.
type ObjectStoreConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Region    string        `yaml:"region"`
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	Timeout   time.Duration `yaml:"timeout"`
}

// WatchConfig holds inbox directory settings.
type WatchConfig struct {
	Directories  []string `yaml:"directories"`
	Extensions   []string `yaml:"extensions"`
	Recursive    *bool    `yaml:"recursive"`
	DeleteSource bool     `yaml:"delete_source"`
	Embed        bool     `yaml:"embed"`
	NotebookID   string   `yaml:"notebook_id"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, applies defaults and then
// environment overrides. Returns an error if the file cannot be read or parsed.
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
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := ApplyEnv(&cfg, filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with only defaults and environment overrides applied.
// Used when no config file exists.
func Default() (*Config, error) {
	var cfg Config
	ApplyDefaults(&cfg)
	if err := ApplyEnv(&cfg, ".env"); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
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

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
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
