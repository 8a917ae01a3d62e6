package graphagent

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/graphagent/agent"
	"github.com/brunobiangulo/graphagent/chunker"
	"github.com/brunobiangulo/graphagent/ingest"
	"github.com/brunobiangulo/graphagent/llm"
)

var configValidate = validator.New()

// Config holds all configuration for the engine.
type Config struct {
	// LLM providers. Extraction falls back to Chat when its provider is empty.
	Chat       LLMConfig `json:"chat" yaml:"chat"`
	Extraction LLMConfig `json:"extraction" yaml:"extraction"`

	// Chunking
	MaxChunkTokens int `json:"max_chunk_tokens" yaml:"max_chunk_tokens" validate:"gte=16"`
	ChunkOverlap   int `json:"chunk_overlap" yaml:"chunk_overlap" validate:"gte=0,ltfield=MaxChunkTokens"`

	// Ingestion
	IngestConcurrency   int `json:"ingest_concurrency" yaml:"ingest_concurrency" validate:"gte=1,lte=64"`
	ChunkTimeoutSeconds int `json:"chunk_timeout_seconds" yaml:"chunk_timeout_seconds" validate:"gte=1"`

	// Agent
	RouteMode             string `json:"route_mode" yaml:"route_mode" validate:"oneof=llm heuristic always never"`
	MaxKeywords           int    `json:"max_keywords" yaml:"max_keywords" validate:"gte=1,lte=20"`
	MaxEntitiesPerKeyword int    `json:"max_entities_per_keyword" yaml:"max_entities_per_keyword" validate:"gte=1,lte=20"`
	MaxNeighbors          int    `json:"max_neighbors" yaml:"max_neighbors" validate:"gte=1,lte=20"`
	MaxHistoryTurns       int    `json:"max_history_turns" yaml:"max_history_turns" validate:"gte=1"`

	// JournalPath is the sqlite journal file. Empty disables the journal.
	JournalPath string `json:"journal_path" yaml:"journal_path"`

	// WatchDir, when set, is watched for new files to ingest into the
	// current project.
	WatchDir        string   `json:"watch_dir" yaml:"watch_dir"`
	WatchExtensions []string `json:"watch_extensions" yaml:"watch_extensions"`

	LogLevel string `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider          string  `json:"provider" yaml:"provider" validate:"omitempty,oneof=ollama lmstudio openrouter openai groq xai gemini minimax custom"`
	Model             string  `json:"model" yaml:"model"`
	BaseURL           string  `json:"base_url" yaml:"base_url" validate:"omitempty,url"`
	APIKey            string  `json:"api_key" yaml:"api_key"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	MaxRetries        int     `json:"max_retries" yaml:"max_retries"`
	TimeoutSeconds    int     `json:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=0"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
func DefaultConfig() Config {
	ic := ingest.DefaultConfig()
	ac := agent.DefaultConfig()
	return Config{
		Chat: LLMConfig{
			Provider:       "ollama",
			Model:          "llama3.1:8b",
			BaseURL:        "http://localhost:11434",
			TimeoutSeconds: 120,
		},
		MaxChunkTokens:        ic.Chunking.MaxTokens,
		ChunkOverlap:          ic.Chunking.Overlap,
		IngestConcurrency:     ic.Concurrency,
		ChunkTimeoutSeconds:   int(ic.ChunkTimeout / time.Second),
		RouteMode:             string(ac.RouteMode),
		MaxKeywords:           ac.MaxKeywords,
		MaxEntitiesPerKeyword: ac.MaxEntitiesPerKeyword,
		MaxNeighbors:          ac.MaxNeighbors,
		MaxHistoryTurns:       ac.MaxHistoryTurns,
		WatchExtensions:       []string{".txt", ".md", ".pdf", ".docx", ".xlsx"},
		LogLevel:              "info",
	}
}

// LoadConfig reads a YAML (.yaml, .yml) or JSON config file over the
// defaults and then applies GRAPHAGENT_* environment overrides. An empty
// path loads only defaults and environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &cfg)
		default:
			err = json.Unmarshal(data, &cfg)
		}
		if err != nil {
			return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, filepath.Base(path), err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from GRAPHAGENT_* environment variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"GRAPHAGENT_CHAT_PROVIDER":       &c.Chat.Provider,
		"GRAPHAGENT_CHAT_MODEL":          &c.Chat.Model,
		"GRAPHAGENT_CHAT_BASE_URL":       &c.Chat.BaseURL,
		"GRAPHAGENT_CHAT_API_KEY":        &c.Chat.APIKey,
		"GRAPHAGENT_EXTRACTION_PROVIDER": &c.Extraction.Provider,
		"GRAPHAGENT_EXTRACTION_MODEL":    &c.Extraction.Model,
		"GRAPHAGENT_EXTRACTION_BASE_URL": &c.Extraction.BaseURL,
		"GRAPHAGENT_EXTRACTION_API_KEY":  &c.Extraction.APIKey,
		"GRAPHAGENT_ROUTE_MODE":          &c.RouteMode,
		"GRAPHAGENT_JOURNAL_PATH":        &c.JournalPath,
		"GRAPHAGENT_WATCH_DIR":           &c.WatchDir,
		"GRAPHAGENT_LOG_LEVEL":           &c.LogLevel,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"GRAPHAGENT_MAX_CHUNK_TOKENS":   &c.MaxChunkTokens,
		"GRAPHAGENT_CHUNK_OVERLAP":      &c.ChunkOverlap,
		"GRAPHAGENT_INGEST_CONCURRENCY": &c.IngestConcurrency,
		"GRAPHAGENT_MAX_KEYWORDS":       &c.MaxKeywords,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v)
		}
		*dst = n
	}

	// Fallback: well-known provider env vars for API keys.
	for _, l := range []*LLMConfig{&c.Chat, &c.Extraction} {
		if l.APIKey != "" {
			continue
		}
		switch l.Provider {
		case "openai":
			l.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			l.APIKey = os.Getenv("GROQ_API_KEY")
		case "openrouter":
			l.APIKey = os.Getenv("OPENROUTER_API_KEY")
		}
	}
	return nil
}

// Validate checks field constraints. Errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if c.Chat.Provider == "" {
		return fmt.Errorf("%w: chat.provider is required", ErrInvalidConfig)
	}
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c Config) chatLLM() llm.Config {
	return c.Chat.provider()
}

func (c Config) extractionLLM() llm.Config {
	if c.Extraction.Provider == "" {
		return c.Chat.provider()
	}
	return c.Extraction.provider()
}

func (l LLMConfig) provider() llm.Config {
	return llm.Config{
		Provider:          l.Provider,
		Model:             l.Model,
		BaseURL:           l.BaseURL,
		APIKey:            l.APIKey,
		RequestsPerSecond: l.RequestsPerSecond,
		MaxRetries:        l.MaxRetries,
		Timeout:           time.Duration(l.TimeoutSeconds) * time.Second,
	}
}

func (c Config) ingestConfig() ingest.Config {
	return ingest.Config{
		Chunking:       chunker.Config{MaxTokens: c.MaxChunkTokens, Overlap: c.ChunkOverlap},
		Concurrency:    c.IngestConcurrency,
		ChunkTimeout:   time.Duration(c.ChunkTimeoutSeconds) * time.Second,
		MinChunkTokens: ingest.DefaultMinChunkTokens,
	}
}

func (c Config) agentConfig() agent.Config {
	ac := agent.DefaultConfig()
	ac.RouteMode = agent.RouteMode(c.RouteMode)
	ac.MaxKeywords = c.MaxKeywords
	ac.MaxEntitiesPerKeyword = c.MaxEntitiesPerKeyword
	ac.MaxNeighbors = c.MaxNeighbors
	ac.MaxHistoryTurns = c.MaxHistoryTurns
	ac.Model = c.Chat.Model
	return ac
}
