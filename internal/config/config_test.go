package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"documind/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("ShouldApplyDefaults", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")
		cfg, err := LoadConfig(writeConfig(t, "log_level: debug\n"))
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 900, cfg.RAG.ChunkSize)
		assert.Equal(t, 150, cfg.RAG.ChunkOverlap)
		assert.Equal(t, 5, cfg.RAG.TopK)
		assert.Equal(t, models.MaxTableRows, cfg.RAG.MaxTableRows)
		assert.Equal(t, ProviderRemote, cfg.EmbedLLM.Provider)
		assert.Equal(t, "sk-test", cfg.EmbedLLM.Key)
		assert.Equal(t, "sk-test", cfg.ChatLLM.Key)
		assert.Equal(t, 2, cfg.ChatLLM.RetryAttempts)
		assert.Equal(t, BackendChromem, cfg.VectorDB.Backend)
		assert.False(t, cfg.EmbedLLM.OfflineFallback)
	})

	t.Run("ShouldParseDurationsAndLocalProviders", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, `
embed_llm:
  provider: local
  timeout: 5s
chat_llm:
  provider: local
  timeout: 2m
rag:
  chunk_size: 400
  chunk_overlap: 40
  top_k: 8
`))
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, cfg.EmbedLLM.Timeout)
		assert.Equal(t, 2*time.Minute, cfg.ChatLLM.Timeout)
		assert.Equal(t, "http://localhost:11434", cfg.EmbedLLM.BaseURL)
		assert.Equal(t, 768, cfg.EmbedLLM.Dimension)
		assert.Equal(t, 400, cfg.RAG.ChunkSize)
		assert.Equal(t, 40, cfg.RAG.ChunkOverlap)
		assert.Equal(t, 8, cfg.RAG.TopK)
	})

	t.Run("ShouldRejectOverlapNotSmallerThanSize", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "rag:\n  chunk_size: 100\n  chunk_overlap: 100\n"))
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrInvalidConfig)
	})

	t.Run("ShouldRejectTopKOutOfRange", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "rag:\n  top_k: 21\n"))
		assert.ErrorIs(t, err, models.ErrInvalidConfig)
	})

	t.Run("ShouldRejectUnboundedChatRetries", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "chat_llm:\n  retry_attempts: 5\n"))
		assert.ErrorIs(t, err, models.ErrInvalidConfig)

		cfg, err := LoadConfig(writeConfig(t, "chat_llm:\n  retry_attempts: 1\n"))
		require.NoError(t, err)
		assert.Equal(t, 1, cfg.ChatLLM.RetryAttempts)
	})

	t.Run("ShouldRequireDSNForPostgres", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "vector_db:\n  backend: postgres\n"))
		assert.ErrorIs(t, err, models.ErrInvalidConfig)
	})

	t.Run("ShouldFailOnMissingFile", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestDefault(t *testing.T) {
	t.Run("ShouldBeValid", func(t *testing.T) {
		assert.NoError(t, Default().Validate())
	})
}
