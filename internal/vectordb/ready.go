package vectordb

import (
	"context"
	"fmt"
	"time"

	apperrors "clip-arena/internal/errors"
	"clip-arena/internal/logger"
)

// BackoffConfig controls how WaitReady polls
type BackoffConfig struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay:      250 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// WaitReady polls store.Ready until it succeeds, the timeout elapses or a
// non-transient error is returned. Only connection-level errors are retried.
func WaitReady(ctx context.Context, store Store, timeout time.Duration, cfg BackoffConfig) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	delay := cfg.InitialDelay
	attempt := 0
	for {
		attempt++
		err := store.Ready(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("Vector database is ready", "backend", store.Backend(), "attempts", attempt)
			}
			return nil
		}

		if !apperrors.IsRetryable(err) {
			return apperrors.WrapError(err, apperrors.ErrorTypeNetwork,
				fmt.Sprintf("%s is not ready", store.Backend()))
		}

		logger.Warn("Vector database not ready yet",
			"backend", store.Backend(),
			"attempt", attempt,
			"retry_in", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return apperrors.NewTimeoutError(
				fmt.Sprintf("%s not ready after %v (%d attempts)", store.Backend(), timeout, attempt), err)
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
