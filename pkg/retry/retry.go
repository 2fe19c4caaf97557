package retry

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// Config is a bounded retry policy. With Multiplier 1.0 the delay is
// fixed between attempts; larger multipliers back off exponentially up
// to MaxDelay.
type Config struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Logger      *zap.Logger
}

// Fixed returns a policy with a constant delay between attempts. Both
// the daily-collection and backfill paths share this policy shape.
func Fixed(maxAttempts int, delay time.Duration) Config {
	return Config{
		MaxAttempts: maxAttempts,
		Delay:       delay,
		MaxDelay:    delay,
		Multiplier:  1.0,
		Logger:      zap.NewNop(),
	}
}

// Do runs operation up to cfg.MaxAttempts times. A context cancelled
// during a delay window aborts further attempts; an attempt already
// running always completes.
func Do(ctx context.Context, cfg Config, operation func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = cfg.Delay
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}

	var lastErr error
	delay := cfg.Delay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 1 && cfg.Logger != nil {
				cfg.Logger.Info("Operation succeeded after retry",
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}

		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.Logger != nil {
			cfg.Logger.Warn("Operation failed, retrying",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", cfg.MaxAttempts),
				zap.Duration("delay", delay),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(math.Min(float64(cfg.MaxDelay), float64(delay)*cfg.Multiplier))
	}

	return lastErr
}

// DoWithResult is Do for operations that return a value.
func DoWithResult[T any](ctx context.Context, cfg Config, operation func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = operation()
		return err
	})
	return result, err
}
