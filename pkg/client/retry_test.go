package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fastRetry keeps backoff tests quick while preserving the ratios.
func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    20 * time.Millisecond,
		MaxBackoff:        200 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func classAlways(class ErrorClass) func(error) ErrorClass {
	return func(error) ErrorClass { return class }
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 500ms", config.InitialBackoff)
	}
	if config.MaxBackoff != 10*time.Second {
		t.Errorf("MaxBackoff = %v, want 10s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryConfigForErrorClass(t *testing.T) {
	base := DefaultRetryConfig()

	tests := []struct {
		name            string
		errorClass      ErrorClass
		expectedInitial time.Duration
		expectedMax     time.Duration
	}{
		{
			name:            "server error config",
			errorClass:      ErrorClassServer,
			expectedInitial: 500 * time.Millisecond,
			expectedMax:     10 * time.Second,
		},
		{
			name:            "rate limit config",
			errorClass:      ErrorClassRateLimit,
			expectedInitial: 2500 * time.Millisecond,
			expectedMax:     20 * time.Second,
		},
		{
			name:            "network error config",
			errorClass:      ErrorClassNetwork,
			expectedInitial: 1 * time.Second,
			expectedMax:     10 * time.Second,
		},
		{
			name:            "unknown error class uses base",
			errorClass:      "",
			expectedInitial: 500 * time.Millisecond,
			expectedMax:     10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := RetryConfigForErrorClass(tt.errorClass, base)

			if config.InitialBackoff != tt.expectedInitial {
				t.Errorf("InitialBackoff = %v, want %v", config.InitialBackoff, tt.expectedInitial)
			}
			if config.MaxBackoff != tt.expectedMax {
				t.Errorf("MaxBackoff = %v, want %v", config.MaxBackoff, tt.expectedMax)
			}
			if config.MaxAttempts != base.MaxAttempts {
				t.Errorf("MaxAttempts = %d, want %d", config.MaxAttempts, base.MaxAttempts)
			}
		})
	}
}

func TestBackoffFor(t *testing.T) {
	config := RetryConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        3 * time.Second,
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 1 * time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 3 * time.Second}, // capped
		{attempt: 10, want: 3 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffFor(config, tt.attempt); got != tt.want {
			t.Errorf("backoffFor(attempt %d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	callCount := 0
	fn := func() error {
		callCount++
		return nil
	}

	err := retryWithBackoff(context.Background(), fastRetry(), zerolog.Nop(), fn, classAlways(ErrorClassServer))

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	callCount := 0
	fn := func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	start := time.Now()
	err := retryWithBackoff(context.Background(), fastRetry(), zerolog.Nop(), fn, classAlways(ErrorClassServer))
	duration := time.Since(start)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}

	// 20ms + 40ms with ±20% jitter
	if duration < 45*time.Millisecond {
		t.Errorf("Expected some backoff delay, got %v", duration)
	}
}

func TestRetryWithBackoff_MaxAttemptsExhausted(t *testing.T) {
	callCount := 0
	testErr := errors.New("persistent error")
	fn := func() error {
		callCount++
		return testErr
	}

	err := retryWithBackoff(context.Background(), fastRetry(), zerolog.Nop(), fn, classAlways(ErrorClassServer))

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Expected last error to be wrapped, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls (MaxAttempts), got %d", callCount)
	}
}

func TestRetryWithBackoff_ClientErrorNoRetry(t *testing.T) {
	callCount := 0
	testErr := errors.New("client error")
	fn := func() error {
		callCount++
		return testErr
	}

	err := retryWithBackoff(context.Background(), fastRetry(), zerolog.Nop(), fn, classAlways(ErrorClassClient))

	if callCount != 1 {
		t.Errorf("Expected 1 call (no retry for client errors), got %d", callCount)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("Should not return ErrRetryExhausted for client errors (no retry attempted)")
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Expected original error, got %v", err)
	}
}

func TestRetryWithBackoff_ClassDecidedPerFailure(t *testing.T) {
	// A server error followed by a client error stops after the second attempt
	callCount := 0
	fn := func() error {
		callCount++
		return errors.New("error")
	}
	classify := func(error) ErrorClass {
		if callCount == 1 {
			return ErrorClassServer
		}
		return ErrorClassClient
	}

	err := retryWithBackoff(context.Background(), fastRetry(), zerolog.Nop(), fn, classify)

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	fn := func() error {
		callCount++
		if callCount == 1 {
			cancel()
		}
		return errors.New("error")
	}

	err := retryWithBackoff(ctx, fastRetry(), zerolog.Nop(), fn, classAlways(ErrorClassServer))

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", callCount)
	}
}

func TestRetryWithBackoff_ExponentialBackoff(t *testing.T) {
	timestamps := []time.Time{}
	fn := func() error {
		timestamps = append(timestamps, time.Now())
		return errors.New("error")
	}

	_ = retryWithBackoff(context.Background(), fastRetry(), zerolog.Nop(), fn, classAlways(ErrorClassServer))

	if len(timestamps) != 3 {
		t.Fatalf("Expected 3 timestamps, got %d", len(timestamps))
	}

	firstDelay := timestamps[1].Sub(timestamps[0])
	secondDelay := timestamps[2].Sub(timestamps[1])

	// 20ms ±20%
	if firstDelay < 16*time.Millisecond {
		t.Errorf("First retry delay %v shorter than expected", firstDelay)
	}
	// 40ms ±20%
	if secondDelay < 32*time.Millisecond {
		t.Errorf("Second retry delay %v shorter than expected", secondDelay)
	}
}

func TestRetryWithBackoff_RateLimitLongerBackoff(t *testing.T) {
	timestamps := []time.Time{}
	fn := func() error {
		timestamps = append(timestamps, time.Now())
		if len(timestamps) < 2 {
			return errors.New("rate limit error")
		}
		return nil
	}

	_ = retryWithBackoff(context.Background(), fastRetry(), zerolog.Nop(), fn, classAlways(ErrorClassRateLimit))

	if len(timestamps) != 2 {
		t.Fatalf("Expected 2 timestamps, got %d", len(timestamps))
	}

	// Rate limits start at 5x the initial backoff: 100ms ±20%
	if delay := timestamps[1].Sub(timestamps[0]); delay < 80*time.Millisecond {
		t.Errorf("First rate limit retry delay %v, want >= 80ms", delay)
	}
}
