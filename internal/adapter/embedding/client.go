package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/V4T54L/argos/internal/domain"
)

// Config configures the HTTP embedding provider client.
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	// Dims is the vector length the engine stores. Shorter provider vectors
	// are zero-padded; longer ones are rejected.
	Dims           int
	Timeout        time.Duration
	RPS            float64
	Burst          int
	MaxConcurrency int
}

// Client calls an HTTP embedding provider. Requests are rate limited and
// the number in flight is bounded.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	logger  *slog.Logger
}

type embedRequest struct {
	Model    string `json:"model,omitempty"`
	Input    string `json:"input"`
	Language string `json:"language,omitempty"`
}

// embedResponse accepts the common provider shapes: a single vector, an
// ollama-style list of vectors, or an openai-style data array.
type embedResponse struct {
	Embedding  []float64   `json:"embedding"`
	Embeddings [][]float64 `json:"embeddings"`
	Data       []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (r *embedResponse) vector() []float64 {
	switch {
	case len(r.Embedding) > 0:
		return r.Embedding
	case len(r.Embeddings) > 0:
		return r.Embeddings[0]
	case len(r.Data) > 0:
		return r.Data[0].Embedding
	}
	return nil
}

// NewClient creates a new embedding Client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger:  logger.With("component", "embedding_client"),
	}
}

// Text is the string an event is embedded as.
func Text(event domain.RawEvent) string {
	parts := []string{
		event.Headline,
		event.Summary,
		strings.Join(event.PrimaryActors, " "),
		event.LocationName,
		string(event.EventType),
	}
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " | ")
}

// Embed returns the vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	return c.embed(ctx, text, "")
}

// EmbedEvent returns the vector for an event's composed text.
func (c *Client) EmbedEvent(ctx context.Context, event domain.RawEvent) ([]float64, error) {
	return c.embed(ctx, Text(event), event.Language)
}

func (c *Client) embed(ctx context.Context, text, language string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", domain.ErrEmbeddingUnavailable)
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	vec, err := c.call(ctx, embedRequest{Model: c.cfg.Model, Input: text, Language: language})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("embedding request failed", "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}
	return fit(vec, c.cfg.Dims)
}

func (c *Client) call(ctx context.Context, body embedRequest) ([]float64, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	vec := parsed.vector()
	if len(vec) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return vec, nil
}

// fit pads vec with zeros up to dims. A vector longer than dims is an error.
func fit(vec []float64, dims int) ([]float64, error) {
	if dims <= 0 || len(vec) == dims {
		return vec, nil
	}
	if len(vec) > dims {
		return nil, fmt.Errorf("%w: provider returned %d, want %d", domain.ErrInvalidVectorDimension, len(vec), dims)
	}
	out := make([]float64, dims)
	copy(out, vec)
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
