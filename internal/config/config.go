package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Chunking  ChunkingConfig  `toml:"chunking"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Graph     GraphConfig     `toml:"graph"`
	Observer  ObserverConfig  `toml:"observer"`
}

type StorageConfig struct {
	// Engine selects the persistence backend: "jsonfile", "sqlite", or
	// "postgres".
	Engine string `toml:"engine"`
	// Dir is the data directory for the jsonfile engine.
	Dir string `toml:"dir"`
	// Path is the database file for the sqlite engine.
	Path string `toml:"path"`
	// PostgresURL is the connection string for the postgres engine.
	PostgresURL string `toml:"postgres_url"`
}

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
}

type EmbeddingConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
}

type ChunkingConfig struct {
	// Strategy is "two-tier" (parents + indexed children) or "flat".
	Strategy             string `toml:"strategy"`
	MinChunk             int    `toml:"min_chunk"`
	MaxChunk             int    `toml:"max_chunk"`
	BufferSize           int    `toml:"buffer_size"`
	BreakpointPercentile int    `toml:"breakpoint_percentile"`
	ChildSize            int    `toml:"child_size"`
	ChildOverlap         int    `toml:"child_overlap"`
}

type RetrievalConfig struct {
	TopK int `toml:"top_k"`
}

type GraphConfig struct {
	BatchSize int `toml:"batch_size"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Storage:   StorageConfig{Engine: "jsonfile", Dir: "strata-data", Path: "strata.db"},
		LLM:       LLMConfig{Provider: "openai", Model: "gpt-4o-mini"},
		Embedding: EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small"},
		Chunking: ChunkingConfig{
			Strategy:             "two-tier",
			MinChunk:             100,
			MaxChunk:             2000,
			BufferSize:           3,
			BreakpointPercentile: 25,
			ChildSize:            512,
			ChildOverlap:         64,
		},
		Retrieval: RetrievalConfig{TopK: 5},
		Graph:     GraphConfig{BatchSize: 10},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "strata.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("STRATA_STORAGE_ENGINE"); v != "" {
		cfg.Storage.Engine = v
	}
	if v := os.Getenv("STRATA_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("STRATA_POSTGRES_URL"); v != "" {
		cfg.Storage.PostgresURL = v
	}
	if v := os.Getenv("STRATA_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("STRATA_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("STRATA_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("STRATA_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if os.Getenv("STRATA_OBSERVER_ENABLED") == "true" || os.Getenv("STRATA_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = cfg.LLM.Provider
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = cfg.LLM.BaseURL
	}

	return cfg
}
