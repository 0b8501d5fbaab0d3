package resilience

import (
	"context"
	"time"
)

// Policy combines retry and circuit breaking. Each attempt passes through
// the breaker, so an opened circuit ends the retry loop.
type Policy struct {
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// Run executes fn under p.
func Run[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	retry := p.Retry
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = IsTransient
	}
	return DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		return ExecuteVal(ctx, p.Breaker, fn)
	})
}

// FromConfig builds a RetryConfig from flat config values. Non-positive
// values keep the defaults.
func FromConfig(maxAttempts, initialBackoffMs, maxBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return cfg
}

// BreakerFromConfig builds a CircuitBreakerConfig from flat config values.
// A zero threshold returns nil, which disables the breaker.
func BreakerFromConfig(failureThreshold, resetTimeoutSecs int) *CircuitBreaker {
	if failureThreshold <= 0 {
		return nil
	}
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = failureThreshold
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return NewCircuitBreaker(cfg)
}
