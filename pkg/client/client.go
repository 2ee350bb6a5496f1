// Package client provides an HTTP client for remote paged sources, with
// error budget gating, retries and page decoding for sparse collections.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/sparse-collection/pkg/logging"
	"github.com/Sternrassler/sparse-collection/pkg/ratelimit"
)

// Prometheus metrics for remote requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sparse_remote_requests_total",
		Help: "Total remote requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sparse_remote_request_duration_seconds",
		Help:    "Remote request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sparse_remote_errors_total",
		Help: "Total remote errors by class",
	}, []string{"class"})
)

// Client talks to one remote paged source.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	tracker    *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the remote source (e.g., "https://api.example.com")
	BaseURL string

	// UserAgent header sent with every request
	UserAgent string

	// Timeout per HTTP attempt
	Timeout time.Duration

	// Retry policy for server, rate limit and network errors
	Retry RetryConfig

	// Tracker gates requests on the source's error budget (optional)
	Tracker *ratelimit.Tracker
}

// DefaultConfig returns a default configuration for baseURL.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		tracker: cfg.Tracker,
		config:  cfg,
		logger:  logging.NewLogger("remote-client"),
	}, nil
}

// Do performs an HTTP request with error budget gating and retries.
// Server, rate limit and network failures are retried; client errors are
// returned as the response for the caller to handle.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if c.tracker != nil {
		allowed, err := c.tracker.ShouldAllowRequest(ctx)
		if err != nil {
			c.logger.Error().Err(err).Msg("Error budget check failed")
			return nil, fmt.Errorf("error budget check: %w", err)
		}
		if !allowed {
			c.logger.Warn().
				Str("endpoint", endpoint).
				Msg("Request blocked by error budget")
			requestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
			return nil, ErrRequestBlocked
		}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing remote request")

	var resp *http.Response

	retryErr := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		var reqErr error
		resp, reqErr = c.httpClient.Do(req)

		if reqErr != nil {
			c.logger.Warn().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			resp = nil
			return &RemoteError{
				ErrorClass: ErrorClassNetwork,
				Endpoint:   endpoint,
				Message:    "transport failure",
				Err:        reqErr,
			}
		}

		if c.tracker != nil {
			if err := c.tracker.UpdateFromHeaders(ctx, resp.Header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update error budget from headers")
			}
		}

		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode < 400 {
			return nil
		}

		errClass := Classify(resp, nil)
		errorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Remote request error")

		if !shouldRetry(errClass) {
			return nil
		}

		status := resp.Status
		statusCode := resp.StatusCode
		resp.Body.Close()
		resp = nil
		return &RemoteError{
			StatusCode: statusCode,
			ErrorClass: errClass,
			Endpoint:   endpoint,
			Message:    status,
		}
	}, classifyRemoteError)

	if retryErr != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		c.logger.Error().Err(retryErr).Str("endpoint", endpoint).Msg("Remote request failed")
		return nil, retryErr
	}

	return resp, nil
}

// classifyRemoteError reads the class back from a RemoteError.
func classifyRemoteError(err error) ErrorClass {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.ErrorClass
	}
	return ErrorClassNetwork
}

// Get performs a GET request to path relative to the base URL.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	target := c.baseURL.JoinPath(strings.TrimPrefix(path, "/"))
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
