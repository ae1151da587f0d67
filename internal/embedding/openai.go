package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/draftbay/corpus/internal/domain"
	"github.com/draftbay/corpus/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = 500 * time.Millisecond
)

// Client is an embedding provider using the OpenAI-compatible API
// (OpenAI, Nebius, vLLM and friends).
type Client struct {
	client      *openai.Client
	model       openai.EmbeddingModel
	dimensions  int
	provider    string
	maxAttempts int
	retryBase   time.Duration
	logger      *zap.Logger
}

// Config holds the embedding provider settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Provider   string
	// MaxAttempts bounds request attempts per batch, including the first.
	MaxAttempts int
	// RetryBase is the initial backoff delay; it doubles per attempt.
	RetryBase time.Duration
	Logger    *zap.Logger
}

// New creates an OpenAI-compatible embedding client.
func New(cfg *Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       openai.EmbeddingModel(cfg.Model),
		dimensions:  cfg.Dimensions,
		provider:    cfg.Provider,
		maxAttempts: maxAttempts,
		retryBase:   retryBase,
		logger:      logger,
	}
}

// EmbedBatch embeds all texts in a single API request, retrying transient
// failures with exponential backoff. The returned slice is index-aligned with
// texts regardless of the order the provider answered in.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out [][]float32
	err := c.withRetry(ctx, func() error {
		var embErr error
		out, embErr = c.embedBatch(ctx, texts)
		return embErr
	})
	return out, err
}

// EmbedOne embeds a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          c.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if c.dimensions > 0 {
		req.Dimensions = c.dimensions
	}

	start := time.Now()

	resp, err := c.client.CreateEmbeddings(ctx, req)

	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(c.provider, string(c.model), "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(c.provider, string(c.model), "api_error").Inc()
		return nil, parseAPIError(err)
	}

	if len(resp.Data) != len(texts) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(c.provider, string(c.model), "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(c.provider, string(c.model), "count_mismatch").Inc()
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors: %w",
			len(texts), len(resp.Data), domain.ErrEmbeddingProviderError)
	}

	// The API may answer out of order; realign by the Index field.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			metrics.EmbeddingErrorsTotal.WithLabelValues(c.provider, string(c.model), "bad_index").Inc()
			return nil, fmt.Errorf("embedding response index %d out of range: %w",
				d.Index, domain.ErrEmbeddingProviderError)
		}
		out[d.Index] = d.Embedding
	}
	for i, vec := range out {
		if vec == nil {
			metrics.EmbeddingErrorsTotal.WithLabelValues(c.provider, string(c.model), "bad_index").Inc()
			return nil, fmt.Errorf("embedding response missing vector for input %d: %w",
				i, domain.ErrEmbeddingProviderError)
		}
		if c.dimensions > 0 && len(vec) != c.dimensions {
			metrics.EmbeddingErrorsTotal.WithLabelValues(c.provider, string(c.model), "dim_mismatch").Inc()
			return nil, fmt.Errorf("embedding for input %d has %d dimensions, expected %d: %w",
				i, len(vec), c.dimensions, domain.ErrVectorDimMismatch)
		}
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(c.provider, string(c.model), "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(c.provider, string(c.model)).Observe(duration.Seconds())

	if resp.Usage.TotalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(c.provider, string(c.model), "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(c.provider, string(c.model), "total").Add(float64(resp.Usage.TotalTokens))
	}

	return out, nil
}

// withRetry runs fn up to maxAttempts times, backing off exponentially between
// attempts. Permanent errors stop the loop immediately.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	delay := c.retryBase

	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt == c.maxAttempts {
			return err
		}

		metrics.EmbeddingRetriesTotal.WithLabelValues(c.provider, string(c.model)).Inc()
		c.logger.Warn("embedding request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// isTransient reports whether the error is worth retrying. Dimension
// mismatches and client-side API errors (except 429) are permanent.
func isTransient(err error) bool {
	if errors.Is(err, domain.ErrVectorDimMismatch) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}

	// Network-level failures carry no status code; retry them.
	return true
}

func retryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 || code == 0
}

// parseAPIError extracts a human-readable error from the API response. The
// original typed error stays in the chain so retry classification still sees
// the HTTP status; ErrEmbeddingProviderError rides along for error mapping.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return fmt.Errorf("embedding API error %d: %s: %w: %w",
			reqErr.HTTPStatusCode, detail, err, domain.ErrEmbeddingProviderError)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w: %w",
			apiErr.HTTPStatusCode, apiErr.Message, err, domain.ErrEmbeddingProviderError)
	}

	return fmt.Errorf("embedding request failed: %w: %w", err, domain.ErrEmbeddingProviderError)
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
