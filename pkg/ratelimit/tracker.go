package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for error budget tracking.
var (
	errorsRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sparse_source_errors_remaining",
		Help: "Number of errors remaining in the current error window of a remote source",
	}, []string{"source"})

	rateLimitBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sparse_source_rate_limit_blocks_total",
		Help: "Total number of requests blocked due to critical error limit",
	}, []string{"source"})

	rateLimitThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sparse_source_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to warning error limit",
	}, []string{"source"})
)

// Redis hash fields of the budget state.
const (
	fieldRemain     = "remain"
	fieldResetAt    = "reset_at"
	fieldLastUpdate = "last_update"
)

// Tracker monitors the error budget of a remote source and gates requests.
// Without a Redis client the budget is kept in process memory.
type Tracker struct {
	redis  *redis.Client
	config Config
	logger zerolog.Logger

	mu    sync.Mutex
	local *BudgetState
}

// NewTracker creates a new error budget tracker. Empty config fields take
// their DefaultConfig values.
func NewTracker(redisClient *redis.Client, cfg Config, logger zerolog.Logger) *Tracker {
	def := DefaultConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.Source == "" {
		cfg.Source = def.Source
	}
	if cfg.RemainHeader == "" {
		cfg.RemainHeader = def.RemainHeader
	}
	if cfg.ResetHeader == "" {
		cfg.ResetHeader = def.ResetHeader
	}
	if cfg.ThrottleDelay < 0 {
		cfg.ThrottleDelay = 0
	}

	return &Tracker{
		redis:  redisClient,
		config: cfg,
		logger: logger,
	}
}

// Config returns the normalised tracker configuration.
func (t *Tracker) Config() Config {
	return t.config
}

// GetState retrieves the current budget.
// Returns a default healthy state if nothing has been reported or the
// reported window has passed.
func (t *Tracker) GetState(ctx context.Context) (*BudgetState, error) {
	now := time.Now()

	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.local == nil || !now.Before(t.local.ResetAt) {
			return healthyState(now), nil
		}
		state := *t.local
		return &state, nil
	}

	fields, err := t.redis.HGetAll(ctx, t.config.Key()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get budget state: %w", err)
	}
	if len(fields) == 0 {
		t.logger.Debug().Msg("No budget state in Redis, returning default healthy state")
		return healthyState(now), nil
	}

	remain, err := strconv.Atoi(fields[fieldRemain])
	if err != nil {
		return nil, fmt.Errorf("parse errors remaining: %w", err)
	}
	resetAt, err := strconv.ParseInt(fields[fieldResetAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse reset timestamp: %w", err)
	}
	lastUpdate, err := strconv.ParseInt(fields[fieldLastUpdate], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse last update: %w", err)
	}

	state := &BudgetState{
		ErrorsRemaining: remain,
		ResetAt:         time.UnixMilli(resetAt),
		LastUpdate:      time.UnixMilli(lastUpdate),
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders parses the budget headers of a response and stores the
// new state. Responses without the remain header are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(t.config.RemainHeader)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", t.config.RemainHeader, err)
	}

	resetStr := headers.Get(t.config.ResetHeader)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", t.config.ResetHeader)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", t.config.ResetHeader, err)
	}

	now := time.Now()
	window := time.Duration(resetSeconds) * time.Second
	state := &BudgetState{
		ErrorsRemaining: remain,
		ResetAt:         now.Add(window),
		LastUpdate:      now,
	}
	state.UpdateHealth()

	if err := t.store(ctx, state, window); err != nil {
		return err
	}

	errorsRemaining.WithLabelValues(t.config.Source).Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("errors_remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Error budget CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("errors_remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Error budget WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("errors_remaining", remain).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("Error budget updated")
	}

	return nil
}

// store persists state; the Redis hash expires with its window.
func (t *Tracker) store(ctx context.Context, state *BudgetState, window time.Duration) error {
	if t.redis == nil {
		t.mu.Lock()
		t.local = state
		t.mu.Unlock()
		return nil
	}

	key := t.config.Key()
	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, key,
		fieldRemain, state.ErrorsRemaining,
		fieldResetAt, state.ResetAt.UnixMilli(),
		fieldLastUpdate, state.LastUpdate.UnixMilli(),
	)
	if window > 0 {
		pipe.Expire(ctx, key, window)
	} else {
		pipe.Persist(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store budget state in redis: %w", err)
	}
	return nil
}

// ShouldAllowRequest checks if a request should be allowed based on the
// current budget. Returns false if the request should be blocked; in the
// warning range it waits ThrottleDelay (or until ctx is done) first.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get budget state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("errors_remaining", state.ErrorsRemaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Error budget critical - blocking request")

		rateLimitBlocksTotal.WithLabelValues(t.config.Source).Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("errors_remaining", state.ErrorsRemaining).
			Msg("Error budget warning - throttling request")

		rateLimitThrottlesTotal.WithLabelValues(t.config.Source).Inc()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(t.config.ThrottleDelay):
		}
	}

	return true, nil
}
