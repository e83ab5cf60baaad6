package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ReconnectConfig holds configuration for reconnection logic
type ReconnectConfig struct {
	MaxAttempts  int           // Attempts before giving up
	InitialDelay time.Duration // Wait before the first attempt
	Backoff      time.Duration // Wait between attempts
	Multiplier   float64       // Growth factor; 1 keeps the delay fixed
	MaxBackoff   time.Duration
}

// SingleReconnectConfig describes one attempt after a fixed delay.
func SingleReconnectConfig(delay time.Duration) *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts:  1,
		InitialDelay: delay,
		Backoff:      delay,
		Multiplier:   1,
		MaxBackoff:   delay,
	}
}

// ReconnectFunc attempts to re-establish a connection
type ReconnectFunc func(ctx context.Context) error

// Reconnect attempts to reconnect, waiting InitialDelay first and Backoff
// (growing by Multiplier) between failed attempts.
func Reconnect(ctx context.Context, fn ReconnectFunc, config *ReconnectConfig) error {
	if config == nil {
		config = SingleReconnectConfig(3 * time.Second)
	}
	attempts := config.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	if err := sleepCtx(ctx, config.InitialDelay); err != nil {
		return err
	}

	backoff := config.Backoff
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			log.Debug().Int("attempt", attempt+1).Msg("Reconnected")
			return nil
		}
		if attempt == attempts-1 {
			break
		}

		log.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Int("max_attempts", attempts).
			Dur("backoff", backoff).
			Msg("Reconnect attempt failed")

		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		if config.Multiplier > 1 {
			backoff = time.Duration(float64(backoff) * config.Multiplier)
			if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	return fmt.Errorf("failed to reconnect after %d attempts: %w", attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
