package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"documind/internal/config"
	"documind/internal/models"
)

// Provider turns text into vectors. Documents and queries must be embedded by
// the same provider for their similarities to be meaningful.
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

// Degradable is implemented by providers that may be running on the offline
// fallback.
type Degradable interface {
	Degraded() bool
}

// IsDegraded reports whether p runs on the offline fallback.
func IsDegraded(p Provider) bool {
	d, ok := p.(Degradable)
	return ok && d.Degraded()
}

// New selects the provider named by cfg. When cfg.OfflineFallback is set the
// remote or local provider is checked with one query embedding; if it cannot
// be built or does not answer, the offline embedder is returned instead and
// reported as degraded.
func New(ctx context.Context, cfg *config.EmbedConfig) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case config.ProviderOffline:
		p = NewHashEmbedder(cfg.Dimension)
	case config.ProviderLocal:
		p, err = NewOllamaEmbedder(cfg)
	case config.ProviderRemote:
		p, err = NewEmbedder(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", models.ErrInvalidConfig, cfg.Provider)
	}
	if err == nil && cfg.OfflineFallback && cfg.Provider != config.ProviderOffline {
		err = ping(ctx, p)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}
	if err != nil {
		if !cfg.OfflineFallback {
			return nil, err
		}
		log.Warn().Err(err).
			Str("provider", cfg.Provider).
			Msg("Embedding provider unavailable, falling back to offline hashing embedder; answers will be marked degraded")
		p = &degraded{Provider: NewHashEmbedder(cfg.Dimension)}
	}
	if cfg.CacheSize > 0 {
		return NewCached(p, cfg.CacheSize)
	}
	return p, nil
}

// ping embeds a short text under the provider's own call timeout.
func ping(ctx context.Context, p Provider) error {
	if _, err := p.EmbedQuery(ctx, "ping"); err != nil {
		return fmt.Errorf("%s embedder unreachable: %w", p.Name(), err)
	}
	return nil
}

// NewEmbedder creates an embedder backed by an OpenAI-compatible API.
func NewEmbedder(cfg *config.EmbedConfig) (*Adapter, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating remote embedder")

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: init remote embedder: %w", models.ErrEmbeddingError, err)
	}
	return wrap(config.ProviderRemote, llm, cfg)
}

// NewOllamaEmbedder creates an embedder backed by a local Ollama server.
func NewOllamaEmbedder(cfg *config.EmbedConfig) (*Adapter, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating local embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: init local embedder: %w", models.ErrEmbeddingError, err)
	}
	return wrap(config.ProviderLocal, llm, cfg)
}

func wrap(name string, client embeddings.EmbedderClient, cfg *config.EmbedConfig) (*Adapter, error) {
	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(cfg.BatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingError, err)
	}
	return NewAdapter(name, embedder, cfg.Dimension, cfg.Timeout), nil
}

// Adapter bounds every call of a langchaingo embedder with a timeout and maps
// its failures onto models.ErrEmbeddingError.
type Adapter struct {
	name      string
	impl      embeddings.Embedder
	dimension int
	timeout   time.Duration
}

func NewAdapter(name string, impl embeddings.Embedder, dimension int, timeout time.Duration) *Adapter {
	return &Adapter{name: name, impl: impl, dimension: dimension, timeout: timeout}
}

func (a *Adapter) Name() string   { return a.name }
func (a *Adapter) Dimension() int { return a.dimension }

func (a *Adapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	vectors, err := a.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, WrapError(ctx, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: received %d embeddings for %d texts", models.ErrEmbeddingError, len(vectors), len(texts))
	}
	return vectors, nil
}

func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	vector, err := a.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, WrapError(ctx, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", models.ErrEmbeddingError)
	}
	return vector, nil
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

// WrapError maps err onto models.ErrEmbeddingError, adding models.ErrTimeout
// when the deadline of ctx was hit.
func WrapError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %w", models.ErrEmbeddingError, models.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", models.ErrEmbeddingError, err)
}

type degraded struct {
	Provider
}

func (d *degraded) Degraded() bool { return true }
