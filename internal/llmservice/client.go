package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"documind/internal/config"
	"documind/internal/models"
)

// ChatProvider generates a completion for a system instruction and a user
// prompt.
type ChatProvider interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Name() string
}

var thinkRe = regexp.MustCompile(models.ThinkTag)

// Client calls a langchaingo model with a per-attempt timeout and bounded
// retries.
type Client struct {
	name     string
	llm      llms.Model
	timeout  time.Duration
	attempts int
	backoff  time.Duration
}

// New builds the chat provider named by cfg.Provider.
func New(cfg *config.LLMConfig) (*Client, error) {
	log.Debug().Interface("llmConfig", map[string]string{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating chat client")

	var (
		llm llms.Model
		err error
	)
	switch cfg.Provider {
	case config.ProviderRemote:
		llm, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
	case config.ProviderLocal:
		llm, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("%w: unknown chat provider %q", models.ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: init %s chat client: %w", models.ErrModelUnavailable, cfg.Provider, err)
	}
	return NewClient(cfg.Provider, llm, cfg), nil
}

func NewClient(name string, llm llms.Model, cfg *config.LLMConfig) *Client {
	attempts := min(cfg.RetryAttempts, models.MaxChatAttempts)
	if attempts <= 0 {
		attempts = 1
	}
	return &Client{
		name:     name,
		llm:      llm,
		timeout:  cfg.Timeout,
		attempts: attempts,
		backoff:  cfg.RetryBackoff,
	}
}

func (c *Client) Name() string { return c.name }

// Complete sends system and prompt as a two-message conversation and returns
// the text of the first choice.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	res, err := c.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(thinkRe.ReplaceAllString(res.Choices[0].Content, "")), nil
}

// GenerateContent calls the model. Timeouts and transient failures are
// retried with exponential backoff up to the configured attempt count;
// authentication and malformed requests fail immediately.
func (c *Client) GenerateContent(ctx context.Context, messages []llms.MessageContent) (*llms.ContentResponse, error) {
	base := c.backoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(uint64(c.attempts-1), retry.NewExponential(base)) // #nosec G115 -- attempts >= 1

	attempt := 0
	var res *llms.ContentResponse
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := c.withTimeout(ctx)
		defer cancel()

		var callErr error
		res, callErr = c.llm.GenerateContent(attemptCtx, messages)
		if callErr == nil && (res == nil || len(res.Choices) == 0) {
			callErr = errors.New("empty response from model")
		}
		if callErr == nil {
			return nil
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			callErr = fmt.Errorf("%w: %w", models.ErrTimeout, callErr)
		}
		retryable := ctx.Err() == nil && isRetryableError(callErr)
		log.Debug().Err(callErr).
			Str("provider", c.name).
			Int("attempt", attempt).
			Bool("retryable", retryable).
			Msg("Chat request failed")
		if retryable {
			return retry.RetryableError(callErr)
		}
		return callErr
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, models.ErrTimeout) {
			err = fmt.Errorf("%w: %w", models.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %s after %d attempt(s): %w", models.ErrModelUnavailable, c.name, attempt, err)
	}
	return res, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
