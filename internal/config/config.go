// Package config loads inkwell configuration from the vault's .inkwell.yaml
// with environment overrides. Env vars win over file values so a shell
// session can retarget the embedder or API endpoint without editing config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the per-vault config file, stored at the vault root.
const ConfigFileName = ".inkwell.yaml"

// Config is the complete inkwell configuration.
type Config struct {
	Vault      VaultConfig      `yaml:"vault"`
	Index      IndexConfig      `yaml:"index"`
	Search     SearchConfig     `yaml:"search"`
	Generation GenerationConfig `yaml:"generation"`
	Server     ServerConfig     `yaml:"server"`
}

// VaultConfig names the vault and the standing context files inside it.
type VaultConfig struct {
	// Path is the vault root directory.
	Path string `yaml:"path"`

	// StoryBiblePath is the story bible note, relative to the vault root.
	StoryBiblePath string `yaml:"story_bible_path"`

	// ExtractionsPath is the accumulated character extractions note.
	ExtractionsPath string `yaml:"extractions_path"`

	// SlidingWindowPath is the recent-prose window note.
	SlidingWindowPath string `yaml:"sliding_window_path"`

	// PreviousBookPath is the prior book manuscript used as canon.
	PreviousBookPath string `yaml:"previous_book_path"`

	// CharacterFolder holds one note per character.
	CharacterFolder string `yaml:"character_folder"`
}

// IndexConfig configures the search index and embedder.
type IndexConfig struct {
	// Dir is the index directory. Empty means <vault>/.inkwell.
	Dir string `yaml:"dir"`

	// Backend selects the embedder: "ollama" (default) or "static".
	Backend string `yaml:"backend"`

	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`

	// OllamaModel is the embedding model name. Empty auto-detects.
	OllamaModel string `yaml:"ollama_model"`

	// CacheSize is the embedding cache entry count.
	CacheSize int `yaml:"cache_size"`

	// WatchDebounce coalesces rapid note saves, e.g. "200ms".
	WatchDebounce string `yaml:"watch_debounce"`
}

// SearchConfig configures the retrieval pipeline.
type SearchConfig struct {
	// MaxResults is the default result count per search.
	MaxResults int `yaml:"max_results"`

	// MMRLambda balances relevance against diversity (0.0-1.0).
	MMRLambda float64 `yaml:"mmr_lambda"`

	// RRFK is the Reciprocal Rank Fusion constant.
	RRFK int `yaml:"rrf_k"`

	// RerankEndpoint enables cross-encoder reranking when set, e.g.
	// "http://localhost:9931".
	RerankEndpoint string `yaml:"rerank_endpoint"`
}

// GenerationConfig configures the chat-completion client.
type GenerationConfig struct {
	// APIKey authenticates against the completion endpoint. Usually set
	// via INKWELL_API_KEY or OPENAI_API_KEY instead of the file.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the endpoint for OpenAI-compatible servers.
	BaseURL string `yaml:"base_url"`

	// Model is the chat model name.
	Model string `yaml:"model"`

	// MaxTokens caps completion length.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls sampling.
	Temperature float64 `yaml:"temperature"`

	// WordCount is the default chapter target.
	WordCount int `yaml:"word_count"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return &Config{
		Vault: VaultConfig{
			StoryBiblePath:    "bible/story-bible.md",
			ExtractionsPath:   "bible/extractions.md",
			SlidingWindowPath: "bible/sliding-window.md",
			PreviousBookPath:  "bible/previous-book.md",
			CharacterFolder:   "characters",
		},
		Index: IndexConfig{
			Backend:       "ollama",
			OllamaHost:    "http://localhost:11434",
			CacheSize:     1000,
			WatchDebounce: "200ms",
		},
		Search: SearchConfig{
			MaxResults: 10,
			MMRLambda:  0.7,
			RRFK:       60,
		},
		Generation: GenerationConfig{
			Model:       "gpt-4o",
			MaxTokens:   4000,
			Temperature: 0.7,
			WordCount:   2000,
		},
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8000,
			LogLevel: "info",
		},
	}
}

// Load builds the configuration for a vault: defaults, then the vault's
// .inkwell.yaml if present, then environment overrides.
func Load(vaultPath string) (*Config, error) {
	cfg := NewConfig()
	cfg.Vault.Path = vaultPath

	path := filepath.Join(vaultPath, ConfigFileName)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if cfg.Vault.Path == "" {
			cfg.Vault.Path = vaultPath
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("INKWELL_API_KEY"); v != "" {
		c.Generation.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Generation.APIKey == "" {
		c.Generation.APIKey = v
	}
	if v := os.Getenv("INKWELL_BASE_URL"); v != "" {
		c.Generation.BaseURL = v
	}
	if v := os.Getenv("INKWELL_MODEL"); v != "" {
		c.Generation.Model = v
	}
	if v := os.Getenv("INKWELL_EMBEDDER"); v != "" {
		c.Index.Backend = v
	}
	if v := os.Getenv("INKWELL_OLLAMA_HOST"); v != "" {
		c.Index.OllamaHost = v
	}
	if v := os.Getenv("INKWELL_OLLAMA_MODEL"); v != "" {
		c.Index.OllamaModel = v
	}
	if v := os.Getenv("INKWELL_RERANK_ENDPOINT"); v != "" {
		c.Search.RerankEndpoint = v
	}
	if v := os.Getenv("INKWELL_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("INKWELL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// IndexDir resolves the index directory.
func (c *Config) IndexDir() string {
	if c.Index.Dir != "" {
		return c.Index.Dir
	}
	return filepath.Join(c.Vault.Path, ".inkwell")
}

// DebounceWindow parses the watch debounce duration, falling back to 200ms.
func (c *Config) DebounceWindow() time.Duration {
	d, err := time.ParseDuration(c.Index.WatchDebounce)
	if err != nil || d <= 0 {
		return 200 * time.Millisecond
	}
	return d
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	if c.Vault.Path == "" {
		return fmt.Errorf("vault path is required")
	}
	if c.Search.MMRLambda < 0 || c.Search.MMRLambda > 1 {
		return fmt.Errorf("search.mmr_lambda must be in [0.0, 1.0], got %v", c.Search.MMRLambda)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	if c.Search.RRFK <= 0 {
		return fmt.Errorf("search.rrf_k must be positive, got %d", c.Search.RRFK)
	}
	switch c.Index.Backend {
	case "ollama", "static":
	default:
		return fmt.Errorf("index.backend must be \"ollama\" or \"static\", got %q", c.Index.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	return nil
}

// WriteYAML writes the configuration to a file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
