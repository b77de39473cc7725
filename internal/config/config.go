// Package config loads callsight configuration from defaults, an optional
// .env file, and CALLSIGHT_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Pipeline   PipelineConfig
	Storage    StorageConfig
	Transcribe TranscribeConfig
	Embed      EmbedConfig
	LLM        LLMConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type PipelineConfig struct {
	// DataDir is where the scraper drops audio recordings.
	DataDir string
	// LedgerDir holds the per-stage checkpoint journals.
	LedgerDir string
	// Workers bounds the per-artifact pool; AnalyzeWorkers bounds the
	// record-level analyze fan-out.
	Workers        int
	AnalyzeWorkers int
	// PollInterval is the delay between pipeline passes in serve mode.
	PollInterval time.Duration
	// TranscribeAttempts and RetryDelay shape the transcription retry
	// policy.
	TranscribeAttempts int
	RetryDelay         time.Duration
}

type StorageConfig struct {
	// DataDir holds the SQLite database.
	DataDir string
}

type TranscribeConfig struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
}

type EmbedConfig struct {
	BaseURL    string
	Model      string
	Dimensions int
}

type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4800,
		},
		Pipeline: PipelineConfig{
			DataDir:            "data",
			LedgerDir:          "ledger",
			Workers:            4,
			AnalyzeWorkers:     8,
			PollInterval:       30 * time.Second,
			TranscribeAttempts: 2,
			RetryDelay:         time.Second,
		},
		Storage: StorageConfig{
			DataDir: "db",
		},
		Transcribe: TranscribeConfig{
			BaseURL:  "https://api.groq.com/openai/v1",
			Model:    "whisper-large-v3",
			Language: "en",
		},
		Embed: EmbedConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "all-minilm",
			Dimensions: 384,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "llama-3.3-70b-versatile",
		},
	}
}

// Load reads configuration. A .env file in the working directory is applied
// first when present; CALLSIGHT_* environment variables override everything.
// The shared GROQ_API_KEY is honored as a fallback for both the
// transcription and LLM keys.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	cfg.Server.Port = getEnvInt("CALLSIGHT_PORT", cfg.Server.Port)
	cfg.Server.Token = getEnv("CALLSIGHT_API_TOKEN", cfg.Server.Token)

	cfg.Pipeline.DataDir = getEnv("CALLSIGHT_DATA_DIR", cfg.Pipeline.DataDir)
	cfg.Pipeline.LedgerDir = getEnv("CALLSIGHT_LEDGER_DIR", cfg.Pipeline.LedgerDir)
	cfg.Pipeline.Workers = getEnvInt("CALLSIGHT_WORKERS", cfg.Pipeline.Workers)
	cfg.Pipeline.AnalyzeWorkers = getEnvInt("CALLSIGHT_ANALYZE_WORKERS", cfg.Pipeline.AnalyzeWorkers)
	cfg.Pipeline.TranscribeAttempts = getEnvInt("CALLSIGHT_TRANSCRIBE_ATTEMPTS", cfg.Pipeline.TranscribeAttempts)

	var err error
	if cfg.Pipeline.PollInterval, err = getEnvDuration("CALLSIGHT_POLL_INTERVAL", cfg.Pipeline.PollInterval); err != nil {
		return Config{}, err
	}
	if cfg.Pipeline.RetryDelay, err = getEnvDuration("CALLSIGHT_RETRY_DELAY", cfg.Pipeline.RetryDelay); err != nil {
		return Config{}, err
	}

	cfg.Storage.DataDir = getEnv("CALLSIGHT_DB_DIR", cfg.Storage.DataDir)

	groqKey := os.Getenv("GROQ_API_KEY")

	cfg.Transcribe.BaseURL = getEnv("CALLSIGHT_TRANSCRIBE_URL", cfg.Transcribe.BaseURL)
	cfg.Transcribe.APIKey = getEnv("CALLSIGHT_TRANSCRIBE_API_KEY", groqKey)
	cfg.Transcribe.Model = getEnv("CALLSIGHT_TRANSCRIBE_MODEL", cfg.Transcribe.Model)
	cfg.Transcribe.Language = getEnv("CALLSIGHT_TRANSCRIBE_LANGUAGE", cfg.Transcribe.Language)

	cfg.Embed.BaseURL = getEnv("CALLSIGHT_EMBED_URL", cfg.Embed.BaseURL)
	cfg.Embed.Model = getEnv("CALLSIGHT_EMBED_MODEL", cfg.Embed.Model)
	cfg.Embed.Dimensions = getEnvInt("CALLSIGHT_EMBED_DIMENSIONS", cfg.Embed.Dimensions)

	cfg.LLM.BaseURL = getEnv("CALLSIGHT_LLM_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = getEnv("CALLSIGHT_LLM_API_KEY", groqKey)
	cfg.LLM.Model = getEnv("CALLSIGHT_LLM_MODEL", cfg.LLM.Model)

	return cfg, nil
}

// ValidateServices checks the credentials the pipeline needs to reach its
// external services.
func (c Config) ValidateServices() error {
	if c.Transcribe.APIKey == "" {
		return fmt.Errorf("missing transcription API key: set CALLSIGHT_TRANSCRIBE_API_KEY or GROQ_API_KEY")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("missing LLM API key: set CALLSIGHT_LLM_API_KEY or GROQ_API_KEY")
	}
	return nil
}

// ValidateServer checks what serve mode additionally requires.
func (c Config) ValidateServer() error {
	if c.Server.Token == "" {
		return fmt.Errorf("missing ingest API token: set CALLSIGHT_API_TOKEN")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
