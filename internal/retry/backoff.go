// Package retry runs an operation with exponential backoff. Used for
// startup-time dependencies (the database) that may race the process
// coming up.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Config controls backoff behavior.
type Config struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // ceiling for the computed delay
	Multiplier float64       // exponential growth factor
	Jitter     bool          // spread delays up to +-10%
}

// DefaultConfig returns sensible backoff defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Do runs op until it succeeds, retries are exhausted, or the context is
// cancelled. It returns the last error.
func Do(ctx context.Context, cfg Config, name string, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 0 {
				log.Info().Str("op", name).Int("attempt", attempt+1).Msg("succeeded after retry")
			}
			return nil
		}
		if attempt >= cfg.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := delayFor(cfg, attempt)
		log.Warn().Err(lastErr).Str("op", name).
			Int("attempt", attempt+1).Dur("retry_in", delay).
			Msg("operation failed, backing off")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func delayFor(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(cfg.BaseDelay)
		}
	}
	return time.Duration(delay)
}
