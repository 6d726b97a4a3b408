package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"documind/internal/models"
)

const (
	ProviderRemote  = "remote"
	ProviderLocal   = "local"
	ProviderOffline = "offline"

	BackendChromem  = "chromem"
	BackendPostgres = "postgres"
)

type Config struct {
	LogLevel string         `yaml:"log_level"`
	LogJSON  bool           `yaml:"log_json"`
	EmbedLLM EmbedConfig    `yaml:"embed_llm"`
	ChatLLM  LLMConfig      `yaml:"chat_llm"`
	RAG      RAGConfig      `yaml:"rag"`
	VectorDB VectorDBConfig `yaml:"vector_db"`
	Database DatabaseConfig `yaml:"database"`
}

// LLMConfig describes how to reach a model provider. Key is never read from
// the file; it is resolved from KeyEnv.
type LLMConfig struct {
	Provider      string        `yaml:"provider"`
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	Key           string        `yaml:"-"`
	KeyEnv        string        `yaml:"key_env"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

type EmbedConfig struct {
	LLMConfig `yaml:",inline"`
	BatchSize int `yaml:"batch_size"`
	Dimension int `yaml:"dimension"`
	CacheSize int `yaml:"cache_size"`
	// OfflineFallback switches to the hashing embedder when the configured
	// provider cannot be constructed. Answers produced that way are marked
	// degraded.
	OfflineFallback bool `yaml:"offline_fallback"`
}

type RAGConfig struct {
	ChunkSize       int     `yaml:"chunk_size"`
	ChunkOverlap    int     `yaml:"chunk_overlap"`
	MaxTableRows    int     `yaml:"max_table_rows"`
	TopK            int     `yaml:"top_k"`
	MinScore        float64 `yaml:"min_score"`
	MaxContextChars int     `yaml:"max_context_chars"`
	EncryptionKey   string  `yaml:"encryption_key"`
}

type VectorDBConfig struct {
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	Compress   bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"-"`
	// PasswordEnv names the environment variable holding the password.
	PasswordEnv string `yaml:"password_env"`
	Debug       bool   `yaml:"debug"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads the YAML file at path, applies defaults, resolves secrets
// from the environment and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.resolveSecrets()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.EmbedLLM.Provider == "" {
		c.EmbedLLM.Provider = ProviderRemote
	}
	switch c.EmbedLLM.Provider {
	case ProviderLocal:
		setDefault(&c.EmbedLLM.BaseURL, "http://localhost:11434")
		setDefault(&c.EmbedLLM.Model, "nomic-embed-text")
		if c.EmbedLLM.Dimension == 0 {
			c.EmbedLLM.Dimension = 768
		}
	case ProviderOffline:
		if c.EmbedLLM.Dimension == 0 {
			c.EmbedLLM.Dimension = 1024
		}
	default:
		setDefault(&c.EmbedLLM.BaseURL, "https://api.openai.com/v1")
		setDefault(&c.EmbedLLM.Model, "text-embedding-3-small")
		setDefault(&c.EmbedLLM.KeyEnv, "OPENAI_API_KEY")
		if c.EmbedLLM.Dimension == 0 {
			c.EmbedLLM.Dimension = 1536
		}
	}
	if c.EmbedLLM.Timeout <= 0 {
		c.EmbedLLM.Timeout = 30 * time.Second
	}
	if c.EmbedLLM.BatchSize <= 0 {
		c.EmbedLLM.BatchSize = 64
	}
	if c.EmbedLLM.CacheSize < 0 {
		c.EmbedLLM.CacheSize = 0
	}

	if c.ChatLLM.Provider == "" {
		c.ChatLLM.Provider = ProviderRemote
	}
	if c.ChatLLM.Provider == ProviderLocal {
		setDefault(&c.ChatLLM.BaseURL, "http://localhost:11434")
		setDefault(&c.ChatLLM.Model, "llama3.2")
	} else {
		setDefault(&c.ChatLLM.BaseURL, "https://api.openai.com/v1")
		setDefault(&c.ChatLLM.Model, "gpt-4o-mini")
		setDefault(&c.ChatLLM.KeyEnv, "OPENAI_API_KEY")
	}
	if c.ChatLLM.Timeout <= 0 {
		c.ChatLLM.Timeout = 60 * time.Second
	}
	if c.ChatLLM.RetryAttempts <= 0 {
		c.ChatLLM.RetryAttempts = 2
	}
	if c.ChatLLM.RetryBackoff <= 0 {
		c.ChatLLM.RetryBackoff = 500 * time.Millisecond
	}

	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = 900
		if c.RAG.ChunkOverlap == 0 {
			c.RAG.ChunkOverlap = 150
		}
	}
	if c.RAG.MaxTableRows <= 0 {
		c.RAG.MaxTableRows = models.MaxTableRows
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = 5
	}
	if c.RAG.MaxContextChars <= 0 {
		c.RAG.MaxContextChars = 6000
	}

	setDefault(&c.VectorDB.Backend, BackendChromem)
	setDefault(&c.VectorDB.Path, "./chromemdb")
	setDefault(&c.VectorDB.Collection, "documents")

	setDefault(&c.Database.PasswordEnv, "DATABASE_PASSWORD")
}

func (c *Config) resolveSecrets() {
	if c.EmbedLLM.Key == "" && c.EmbedLLM.KeyEnv != "" {
		c.EmbedLLM.Key = os.Getenv(c.EmbedLLM.KeyEnv)
	}
	if c.ChatLLM.Key == "" && c.ChatLLM.KeyEnv != "" {
		c.ChatLLM.Key = os.Getenv(c.ChatLLM.KeyEnv)
	}
	if c.Database.Password == "" && c.Database.PasswordEnv != "" {
		c.Database.Password = os.Getenv(c.Database.PasswordEnv)
	}
}

// Validate checks the invariants the pipeline relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.RAG.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize))
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d", c.RAG.ChunkOverlap))
	}
	if c.RAG.TopK < models.MinTopK || c.RAG.TopK > models.MaxTopK {
		errs = append(errs, fmt.Errorf("rag.top_k must be in [%d, %d], got %d", models.MinTopK, models.MaxTopK, c.RAG.TopK))
	}
	if c.RAG.MinScore < -1 || c.RAG.MinScore > 1 {
		errs = append(errs, fmt.Errorf("rag.min_score must be in [-1, 1], got %g", c.RAG.MinScore))
	}
	if c.ChatLLM.RetryAttempts < 1 || c.ChatLLM.RetryAttempts > models.MaxChatAttempts {
		errs = append(errs, fmt.Errorf("chat_llm.retry_attempts must be in [1, %d], got %d", models.MaxChatAttempts, c.ChatLLM.RetryAttempts))
	}
	switch c.EmbedLLM.Provider {
	case ProviderRemote, ProviderLocal, ProviderOffline:
	default:
		errs = append(errs, fmt.Errorf("unknown embed_llm.provider %q", c.EmbedLLM.Provider))
	}
	switch c.ChatLLM.Provider {
	case ProviderRemote, ProviderLocal:
	default:
		errs = append(errs, fmt.Errorf("unknown chat_llm.provider %q", c.ChatLLM.Provider))
	}
	switch c.VectorDB.Backend {
	case BackendChromem:
	case BackendPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vector_db.backend %q", c.VectorDB.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", models.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
