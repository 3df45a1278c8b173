package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 15 * time.Minute
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 200
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kura/data/db/kura.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/kura/data/indices/bleve"
	}

	if cfg.Chunking.Encoding == "" {
		cfg.Chunking.Encoding = "cl100k_base"
	}
	if cfg.Chunking.Embedding.Size == 0 {
		cfg.Chunking.Embedding.Size = 1000
	}
	if cfg.Chunking.Embedding.Overlap == 0 {
		cfg.Chunking.Embedding.Overlap = 50
	}
	if cfg.Chunking.Summary.Size == 0 {
		cfg.Chunking.Summary.Size = 8000
	}
	if cfg.Chunking.SummaryOverlapRatio == 0 {
		cfg.Chunking.SummaryOverlapRatio = 0.15
	}
	if cfg.Chunking.Summary.Overlap == 0 {
		cfg.Chunking.Summary.Overlap = int(float64(cfg.Chunking.Summary.Size) * cfg.Chunking.SummaryOverlapRatio)
	}

	if cfg.Extraction.Workers == 0 {
		cfg.Extraction.Workers = 4
	}
	if cfg.Extraction.AudioSegmentMinutes == 0 {
		cfg.Extraction.AudioSegmentMinutes = 15
	}
	if cfg.Extraction.MaxTableRows == 0 {
		cfg.Extraction.MaxTableRows = 500
	}
	if cfg.Extraction.MaxTableCols == 0 {
		cfg.Extraction.MaxTableCols = 30
	}
	if cfg.Extraction.FFmpegPath == "" {
		cfg.Extraction.FFmpegPath = "ffmpeg"
	}
	if cfg.Extraction.FFprobePath == "" {
		cfg.Extraction.FFprobePath = "ffprobe"
	}

	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = 30 * time.Second
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = "Mozilla/5.0 (compatible; kura/1.0)"
	}
	if cfg.Fetch.FallbackURL == "" {
		cfg.Fetch.FallbackURL = "https://r.jina.ai/"
	}

	if len(cfg.YouTube.Languages) == 0 {
		cfg.YouTube.Languages = []string{"en", "es", "pt"}
	}
	if cfg.YouTube.Timeout == 0 {
		cfg.YouTube.Timeout = 30 * time.Second
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 2
	}
	if cfg.LLM.RetryBackoff == 0 {
		cfg.LLM.RetryBackoff = time.Second
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Provider == "onnx" && cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/kura/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}

	if cfg.Transcription.Provider == "" {
		cfg.Transcription.Provider = "openai"
	}
	if cfg.Transcription.Model == "" {
		cfg.Transcription.Model = "whisper-1"
	}
	if cfg.Transcription.BaseURL == "" {
		cfg.Transcription.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Transcription.Timeout == 0 {
		cfg.Transcription.Timeout = 10 * time.Minute
	}

	if cfg.Transformations.Concurrency == 0 {
		cfg.Transformations.Concurrency = 4
	}
	if cfg.Transformations.Timeout == 0 {
		cfg.Transformations.Timeout = 2 * time.Minute
	}

	if cfg.ObjectStore.Timeout == 0 {
		cfg.ObjectStore.Timeout = 2 * time.Minute
	}

	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.TopKCandidates == 0 {
		cfg.Search.TopKCandidates = 50
	}
	if cfg.Search.KeywordWeight == 0 && cfg.Search.SemanticWeight == 0 {
		cfg.Search.KeywordWeight = 0.5
		cfg.Search.SemanticWeight = 0.5
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".pdf", ".epub", ".docx", ".xlsx", ".pptx", ".odt", ".ods", ".odp", ".rtf", ".mp3", ".m4a", ".wav", ".mp4", ".mov", ".mkv"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
