package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ApplyEnv loads envFile when it exists (without overriding variables already set) and then
// overlays secrets and a few operational settings from the environment.
func ApplyEnv(cfg *Config, envFile string) error {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("failed to load env file: %w", err)
			}
		}
	}

	setString(&cfg.LLM.APIKey, "KURA_LLM_API_KEY", providerKey(cfg.LLM.Provider))
	setString(&cfg.LLM.BaseURL, "KURA_LLM_BASE_URL")
	setString(&cfg.LLM.Model, "KURA_LLM_MODEL")
	setString(&cfg.Embedding.APIKey, "KURA_EMBEDDING_API_KEY", providerKey(cfg.Embedding.Provider))
	setString(&cfg.Transcription.APIKey, "KURA_TRANSCRIPTION_API_KEY", "OPENAI_API_KEY")
	setString(&cfg.Fetch.FallbackAPIKey, "KURA_FETCH_FALLBACK_API_KEY", "JINA_API_KEY")
	setString(&cfg.Storage.PostgresDSN, "KURA_POSTGRES_DSN", "DATABASE_URL")
	setString(&cfg.ObjectStore.AccessKey, "KURA_S3_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	setString(&cfg.ObjectStore.SecretKey, "KURA_S3_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")
	setString(&cfg.ObjectStore.Region, "KURA_S3_REGION", "AWS_REGION")

	if v := os.Getenv("KURA_YOUTUBE_LANGUAGES"); v != "" {
		var langs []string
		for _, l := range strings.Split(v, ",") {
			if l = strings.TrimSpace(l); l != "" {
				langs = append(langs, l)
			}
		}
		if len(langs) > 0 {
			cfg.YouTube.Languages = langs
		}
	}
	if v := os.Getenv("KURA_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid KURA_DEBUG: %w", err)
		}
		cfg.Debug = b
	}
	return nil
}

// setString assigns the first non-empty variable among keys. Empty keys are skipped.
func setString(dst *string, keys ...string) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if v := os.Getenv(k); v != "" {
			*dst = v
			return
		}
	}
}

func providerKey(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	}
	return ""
}
