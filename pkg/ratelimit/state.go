// Package ratelimit tracks the error budget a remote paged source reports
// and gates requests against it.
//
// Sources report the budget through two headers (by default
// X-Error-Limit-Remain and X-Error-Limit-Reset). The budget is shared through
// Redis so that every process reading the same source backs off together.
package ratelimit

import (
	"time"
)

// Thresholds for rate limit decisions.
const (
	// ErrorThresholdCritical blocks all requests when errors remaining falls below this value.
	ErrorThresholdCritical = 5

	// ErrorThresholdWarning applies throttling when errors remaining falls below this value.
	ErrorThresholdWarning = 20

	// ErrorThresholdHealthy indicates normal operation.
	// When errors remaining is at or above this value, no restrictions apply.
	ErrorThresholdHealthy = 50

	// defaultErrorsRemaining is assumed until a source reports its budget.
	defaultErrorsRemaining = 100
)

// Config configures a Tracker.
type Config struct {
	// KeyPrefix namespaces the Redis hash holding the budget (default "sparse:ratelimit").
	KeyPrefix string

	// Source distinguishes budgets of different remote sources sharing one Redis.
	Source string

	// RemainHeader carries the number of errors left in the window.
	RemainHeader string

	// ResetHeader carries the seconds until the window resets.
	ResetHeader string

	// ThrottleDelay is slept before requests while in the warning range.
	ThrottleDelay time.Duration
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:     "sparse:ratelimit",
		Source:        "default",
		RemainHeader:  "X-Error-Limit-Remain",
		ResetHeader:   "X-Error-Limit-Reset",
		ThrottleDelay: 1 * time.Second,
	}
}

// Key returns the Redis key of the budget hash.
func (c Config) Key() string {
	return c.KeyPrefix + ":" + c.Source
}

// BudgetState represents the current error budget of a source.
type BudgetState struct {
	// ErrorsRemaining is the number of errors allowed before the source blocks requests.
	ErrorsRemaining int `json:"errors_remaining"`

	// ResetAt is when the error window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last updated.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when ErrorsRemaining >= ErrorThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// healthyState is returned while no budget is known.
func healthyState(now time.Time) *BudgetState {
	return &BudgetState{
		ErrorsRemaining: defaultErrorsRemaining,
		ResetAt:         now.Add(60 * time.Second),
		LastUpdate:      now,
		IsHealthy:       true,
	}
}

// IsStale returns true if the state data is older than the given duration.
func (s *BudgetState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked due to critical error limit.
func (s *BudgetState) NeedsCriticalBlock() bool {
	return s.ErrorsRemaining < ErrorThresholdCritical
}

// NeedsThrottling returns true if requests should be throttled due to warning threshold.
func (s *BudgetState) NeedsThrottling() bool {
	return s.ErrorsRemaining < ErrorThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the error limit resets.
// Returns 0 if the reset time has already passed.
func (s *BudgetState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current ErrorsRemaining.
func (s *BudgetState) UpdateHealth() {
	s.IsHealthy = s.ErrorsRemaining >= ErrorThresholdHealthy
}
