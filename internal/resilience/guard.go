package resilience

import (
	"context"
	"errors"
	"time"
)

// Guard combines a circuit breaker with retries for one upstream service.
// Context cancellation is neither retried nor counted against the breaker.
type Guard struct {
	Breaker     *CircuitBreaker
	Retry       *RetryConfig
	IsRetryable IsRetryableError
}

// GuardConfig is the subset of service configuration a Guard needs.
type GuardConfig struct {
	MaxFailures    int
	ResetTimeout   time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

// NewGuard builds a Guard named after the upstream it protects.
func NewGuard(name string, cfg GuardConfig) *Guard {
	retry := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoff > 0 {
		retry.InitialBackoff = cfg.InitialBackoff
	}
	return &Guard{
		Breaker:     NewCircuitBreaker(name, cfg.MaxFailures, cfg.ResetTimeout),
		Retry:       retry,
		IsRetryable: IsRetryableNetworkError,
	}
}

// Do runs fn under the breaker, retrying retryable failures.
func (g *Guard) Do(ctx context.Context, fn RetryableFunc) error {
	attempt := func(ctx context.Context) error {
		if !g.Breaker.allowRequest() {
			return ErrCircuitOpen
		}
		err := fn(ctx)
		if err != nil && ctx.Err() != nil {
			return err
		}
		g.Breaker.RecordResult(err == nil)
		return err
	}

	return Retry(ctx, attempt, g.Retry, func(err error) bool {
		if errors.Is(err, ErrCircuitOpen) {
			return false
		}
		if g.IsRetryable == nil {
			return true
		}
		return g.IsRetryable(err)
	})
}

// Healthy reports whether the breaker currently lets requests through.
func (g *Guard) Healthy(ctx context.Context) (bool, error) {
	if state := g.Breaker.GetState(); state == StateOpen {
		return false, ErrCircuitOpen
	}
	return true, nil
}
