package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sparse_remote_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sparse_remote_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sparse_remote_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForErrorClass derives the retry configuration for an error
// class from base. Rate limits back off five times longer, network errors
// twice as long.
func RetryConfigForErrorClass(errorClass ErrorClass, base RetryConfig) RetryConfig {
	cfg := base
	switch errorClass {
	case ErrorClassRateLimit:
		cfg.InitialBackoff = 5 * base.InitialBackoff
		cfg.MaxBackoff = 2 * base.MaxBackoff
	case ErrorClassNetwork:
		cfg.InitialBackoff = 2 * base.InitialBackoff
	}
	if cfg.InitialBackoff > cfg.MaxBackoff {
		cfg.InitialBackoff = cfg.MaxBackoff
	}
	return cfg
}

// retryWithBackoff executes fn with exponential backoff. classify decides
// per failure whether and how long to wait before the next attempt.
// Context cancellation ends the wait; jitter of ±20% spreads retries.
func retryWithBackoff(ctx context.Context, base RetryConfig, logger zerolog.Logger, fn func() error, classify func(error) ErrorClass) error {
	maxAttempts := max(base.MaxAttempts, 1)

	var lastErr error
	var errorClass ErrorClass

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("error_class", string(errorClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		errorClass = classify(err)

		if !shouldRetry(errorClass) {
			return lastErr
		}

		if attempt >= maxAttempts {
			break
		}

		backoff := backoffFor(RetryConfigForErrorClass(errorClass, base), attempt)
		retriesTotal.WithLabelValues(string(errorClass)).Inc()

		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(jitter.Seconds())

		logger.Debug().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			logger.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}
	}

	retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	logger.Warn().
		Str("error_class", string(errorClass)).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
}

// backoffFor returns the wait before the attempt following attempt,
// before jitter.
func backoffFor(cfg RetryConfig, attempt int) time.Duration {
	backoff := cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff >= cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	return min(backoff, cfg.MaxBackoff)
}
