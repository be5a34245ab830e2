package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietConfig(maxRetries int) Config {
	return Config{
		MaxRetries: maxRetries,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     false,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), quietConfig(2), "op", func(context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoEventualSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), quietConfig(3), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsRetries(t *testing.T) {
	boom := errors.New("persistent failure")
	attempts := 0
	err := Do(context.Background(), quietConfig(2), "op", func(context.Context) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts, "max retries plus the first attempt")
}

func TestDoStopsOnContextCancel(t *testing.T) {
	cfg := Config{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	err := Do(ctx, cfg, "op", func(context.Context) error {
		attempts++
		return errors.New("always fails")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.LessOrEqual(t, attempts, 2)
}

func TestDelayFor(t *testing.T) {
	cfg := Config{
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}

	assert.Equal(t, 1*time.Second, delayFor(cfg, 0))
	assert.Equal(t, 2*time.Second, delayFor(cfg, 1))
	assert.Equal(t, 4*time.Second, delayFor(cfg, 2))
	assert.Equal(t, 10*time.Second, delayFor(cfg, 10), "capped at MaxDelay")
}

func TestDelayForJitterStaysInBand(t *testing.T) {
	cfg := Config{
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
	for i := 0; i < 50; i++ {
		d := delayFor(cfg, 1)
		assert.InDelta(t, float64(2*time.Second), float64(d), float64(200*time.Millisecond))
	}
}
