// Package client provides the HTTP lookup client used by the bulk lookup
// pipeline: one GET per key with a per-attempt timeout, fixed-backoff retry
// of transport failures and a connection pool shared by every fetch of a run.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/bulk-lookup/pkg/lookup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// KeyPlaceholder marks where the key goes in Config.Endpoint.
const KeyPlaceholder = "{key}"

// Prometheus metrics for lookup requests.
var (
	lookupRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookup_requests_total",
		Help: "Total lookup HTTP attempts by status",
	}, []string{"status"})

	lookupRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lookup_request_duration_seconds",
		Help:    "Lookup HTTP attempt duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	lookupFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookup_failures_total",
		Help: "Total keys that ended without a value, by error class",
	}, []string{"class"})
)

// Client performs key lookups against a templated HTTP endpoint.
// It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	config     Config
	retry      RetryPolicy
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Endpoint is the lookup URL with KeyPlaceholder where the key goes.
	Endpoint string

	// Timeout bounds each attempt, including reading the body.
	Timeout time.Duration

	// MaxAttempts is the retry ceiling per key (including the first attempt).
	MaxAttempts int

	// Backoff is the fixed delay before a retry.
	Backoff time.Duration

	// Headers are sent with every request.
	Headers map[string]string

	// MaxIdleConns sizes the shared connection pool. Set it to the batch
	// size so a full batch can reuse its connections.
	MaxIdleConns int
}

// DefaultHeaders returns the header set sent when none is configured.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"User-Agent":       "Mozilla/5.0 (compatible; BlockchainBot/1.0)",
		"X-Requested-With": "XMLHttpRequest",
		"Cache-Control":    "no-cache",
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:     "https://blockchain.info/q/pubkeyaddr/" + KeyPlaceholder,
		Timeout:      10 * time.Second,
		MaxAttempts:  2,
		Backoff:      2 * time.Second,
		Headers:      DefaultHeaders(),
		MaxIdleConns: 1000,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if !strings.Contains(c.Endpoint, KeyPlaceholder) {
		return fmt.Errorf("%w: endpoint %q has no %s placeholder", ErrInvalidConfig, c.Endpoint, KeyPlaceholder)
	}
	if _, err := url.Parse(strings.ReplaceAll(c.Endpoint, KeyPlaceholder, "k")); err != nil {
		return fmt.Errorf("%w: endpoint: %v", ErrInvalidConfig, err)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be > 0 (got %s)", ErrInvalidConfig, c.Timeout)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be >= 1 (got %d)", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.Backoff < 0 {
		return fmt.Errorf("%w: backoff must be >= 0 (got %s)", ErrInvalidConfig, c.Backoff)
	}
	return nil
}

// New creates a lookup client with its own pooled transport.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders()
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = DefaultConfig().MaxIdleConns
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.Timeout,
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		config:     cfg,
		retry: RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     cfg.Backoff,
		},
		logger: logger.With().Str("component", "lookup-client").Logger(),
	}, nil
}

// URL returns the lookup URL for key.
func (c *Client) URL(key string) string {
	return strings.ReplaceAll(c.config.Endpoint, KeyPlaceholder, url.PathEscape(key))
}

// Fetch looks up key and returns its outcome. It never returns an error:
// every failure becomes an absent outcome.
//
// A 200 response is a success whatever its body. Any other status is an
// immediate miss. Transport errors and timeouts are retried after
// Config.Backoff until Config.MaxAttempts is reached, after which the
// failure is logged with the key and attempt count.
func (c *Client) Fetch(ctx context.Context, key string) lookup.Outcome {
	target := c.URL(key)

	var body string
	err := retryWithBackoff(ctx, c.retry, func() error {
		value, attemptErr := c.attempt(ctx, target)
		if attemptErr != nil {
			return attemptErr
		}
		body = value
		return nil
	}, classifyError)

	if err == nil {
		return lookup.Found(key, body)
	}

	errClass := classifyError(err)
	lookupFailuresTotal.WithLabelValues(string(errClass)).Inc()

	switch {
	case errors.Is(err, ErrContextCancelled):
		c.logger.Debug().Str("key", key).Err(err).Msg("Lookup abandoned")
	case errClass == ErrorClassNetwork:
		c.logger.Warn().
			Str("key", key).
			Int("attempts", c.retry.MaxAttempts).
			Err(err).
			Msg("Lookup failed after retries")
	}

	return lookup.Missing(key)
}

// attempt performs a single GET with its own deadline.
func (c *Client) attempt(ctx context.Context, target string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	for name, value := range c.config.Headers {
		req.Header.Set(name, value)
	}

	start := time.Now()
	defer func() {
		lookupRequestDuration.Observe(time.Since(start).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		lookupRequestsTotal.WithLabelValues("network_error").Inc()
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		lookupRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
		// Drain so the connection goes back to the pool.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		lookupRequestsTotal.WithLabelValues("network_error").Inc()
		return "", fmt.Errorf("read response body: %w", err)
	}

	lookupRequestsTotal.WithLabelValues("200").Inc()
	c.logger.Debug().
		Str("url", target).
		Int("bytes", len(data)).
		Msg("Lookup succeeded")

	return string(data), nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// Close releases idle pooled connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
