// Package granite is the HTTP client for the hosted Granite text
// generation model. Responses are memoized in a bounded LRU cache so
// repeated analyses of the same prescription do not pay for a second
// model round trip.
package granite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/medsafe/go-rxcheck/internal/observability/metrics"
	"github.com/medsafe/go-rxcheck/pkg/circuitbreaker"
)

const (
	defaultBaseURL       = "https://api-inference.huggingface.co"
	defaultModel         = "ibm-granite/granite-3b-code-instruct"
	defaultTimeout       = 30 * time.Second
	defaultCacheCapacity = 100

	maxResponseBytes = 1 << 20
)

// ErrNoToken is returned by New when no API token is configured. The
// service treats this as "model enrichment disabled" rather than a
// startup failure.
var ErrNoToken = errors.New("granite: api token is not configured")

// GatewayError describes a failed model call. StatusCode is zero when
// the request never completed.
type GatewayError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("model gateway: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("model gateway: %s", e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Params are the generation parameters sent with every request.
type Params struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
	DoSample     bool    `json:"do_sample"`
}

// DefaultParams returns the generation settings the analysis prompts
// are tuned for.
func DefaultParams() Params {
	return Params{
		MaxNewTokens: 256,
		Temperature:  0.7,
		TopP:         0.95,
		DoSample:     true,
	}
}

// Config holds client settings. Token is the only required field.
type Config struct {
	Model         string
	Token         string
	BaseURL       string
	Timeout       time.Duration
	CacheCapacity int
	Params        Params
}

// DefaultConfig returns settings for the public inference endpoint.
func DefaultConfig() Config {
	return Config{
		Model:         defaultModel,
		BaseURL:       defaultBaseURL,
		Timeout:       defaultTimeout,
		CacheCapacity: defaultCacheCapacity,
		Params:        DefaultParams(),
	}
}

// Client calls the model endpoint through a circuit breaker and caches
// successful responses by caller-supplied key.
type Client struct {
	model   string
	token   string
	baseURL string
	params  Params

	httpc   *http.Client
	breaker *circuitbreaker.Breaker
	cache   *lru.Cache[string, string]
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New builds a client. The breaker and metrics may be nil; the token
// may not.
func New(cfg Config, breaker *circuitbreaker.Breaker, m *metrics.Metrics, logger *zap.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrNoToken
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = def.CacheCapacity
	}
	if cfg.Params == (Params{}) {
		cfg.Params = def.Params
	}

	cache, err := lru.New[string, string](cfg.CacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("granite: create cache: %w", err)
	}

	return &Client{
		model:   cfg.Model,
		token:   cfg.Token,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		params:  cfg.Params,
		httpc:   &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		cache:   cache,
		metrics: m,
		logger:  logger,
	}, nil
}

// Query sends prompt to the model and returns the trimmed completion.
// The response is not cached.
func (c *Client) Query(ctx context.Context, prompt string) (string, error) {
	return c.query(ctx, prompt, "")
}

// QueryCached behaves like Query but consults the LRU cache first and
// stores the completion under cacheKey on success. Failed calls are
// never cached, so a later call with the same key retries the model.
func (c *Client) QueryCached(ctx context.Context, prompt, cacheKey string) (string, error) {
	return c.query(ctx, prompt, cacheKey)
}

func (c *Client) query(ctx context.Context, prompt, cacheKey string) (string, error) {
	if cacheKey != "" {
		if text, ok := c.cache.Get(cacheKey); ok {
			if c.metrics != nil {
				c.metrics.ModelCacheHits.Inc()
			}
			c.logger.Debug("model cache hit", zap.String("cache_key", cacheKey))
			return text, nil
		}
		if c.metrics != nil {
			c.metrics.ModelCacheMisses.Inc()
		}
	}

	var (
		text string
		err  error
	)
	if c.breaker != nil {
		var res interface{}
		res, err = c.breaker.Execute(ctx, func() (interface{}, error) {
			return c.generate(ctx, prompt)
		})
		if err == nil {
			text = res.(string)
		}
	} else {
		text, err = c.generate(ctx, prompt)
	}

	if err != nil {
		if c.metrics != nil {
			c.metrics.ModelQueries.WithLabelValues("error").Inc()
		}
		c.logger.Warn("model query failed", zap.Error(err))
		return "", err
	}

	if c.metrics != nil {
		c.metrics.ModelQueries.WithLabelValues("success").Inc()
	}
	if cacheKey != "" && text != "" {
		c.cache.Add(cacheKey, text)
	}
	return text, nil
}

type generateRequest struct {
	Inputs     string `json:"inputs"`
	Parameters Params `json:"parameters"`
}

type generateResponse struct {
	GeneratedText string `json:"generated_text"`
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{Inputs: prompt, Parameters: c.params})
	if err != nil {
		return "", &GatewayError{Message: "encode request", Err: err}
	}

	url := fmt.Sprintf("%s/models/%s", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", &GatewayError{Message: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &GatewayError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &GatewayError{StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &GatewayError{StatusCode: resp.StatusCode, Message: truncate(string(body), 512)}
	}

	var out []generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &GatewayError{StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	if len(out) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out[0].GeneratedText), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
