package answer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperjump/shiru/internal/models"
	"github.com/hyperjump/shiru/pkg/utils"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig configures a chat completions answerer. Any OpenAI-compatible server works,
// including Ollama at "http://localhost:11434/v1".
type OpenAIConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
	RetryDelay        time.Duration
}

// OpenAI answers through a chat completions endpoint.
type OpenAI struct {
	client  *openai.Client
	cfg     OpenAIConfig
	limiter *utils.RateLimiter
	logger  *zap.Logger
}

// Option configures an OpenAI answerer.
type Option func(*OpenAI)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *OpenAI) { a.logger = logger }
}

// NewOpenAI creates an answerer from cfg.
func NewOpenAI(cfg OpenAIConfig, opts ...Option) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, errors.New("openai answerer: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	a := &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		limiter: utils.NewRateLimiter(cfg.RequestsPerSecond, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = utils.OrNop(a.logger)
	return a, nil
}

// Answer sends the prompt built from chunks and question and returns the model's reply.
// Server errors and rate limiting are retried up to MaxRetries times with exponential
// backoff starting at RetryDelay.
func (a *OpenAI) Answer(ctx context.Context, chunks []*models.SearchResult, question string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: a.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(chunks, question)},
		},
	}
	var text string
	op := func() error {
		var err error
		text, err = a.complete(ctx, req)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		a.logger.Warn("chat completion failed, retrying",
			zap.String("model", a.cfg.Model),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, a.retryPolicy(ctx), notify); err != nil {
		return "", err
	}
	return text, nil
}

func (a *OpenAI) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = a.cfg.RetryDelay
	exp.MaxInterval = 30 * a.cfg.RetryDelay
	exp.MaxElapsedTime = 0
	retries := a.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

func (a *OpenAI) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	started := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion with %s failed: %w", a.cfg.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion with %s returned no choices", a.cfg.Model)
	}
	a.logger.Debug("chat completion",
		zap.String("model", a.cfg.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("took", time.Since(started)),
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// retryable reports whether err is a server-side or transport failure.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= http.StatusInternalServerError || apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= http.StatusInternalServerError || reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}
