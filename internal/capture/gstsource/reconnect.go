package gstsource

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReconnectConfig controls exponential backoff between pipeline restarts.
type ReconnectConfig struct {
	MaxRetries    int           // attempts before giving up; 0 retries forever
	RetryDelay    time.Duration // first delay
	MaxRetryDelay time.Duration // cap
}

// DefaultReconnectConfig returns 1s doubling up to 30s, retrying forever.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    0,
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// reconnectState tracks retries. retries is reset by the pipeline
// monitor once the pipeline reaches PLAYING.
type reconnectState struct {
	retries    atomic.Int32
	reconnects atomic.Uint32
}

// runWithReconnect calls connect until it returns nil or ctx ends,
// sleeping with exponential backoff after each failure.
func runWithReconnect(ctx context.Context, connect func(context.Context) error, cfg ReconnectConfig, st *reconnectState) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt := int(st.retries.Add(1))
		st.reconnects.Add(1)

		if cfg.MaxRetries > 0 && attempt > cfg.MaxRetries {
			return fmt.Errorf("gstsource: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := backoff(attempt, cfg)
		slog.Warn("gstsource: pipeline failed, retrying",
			"error", err,
			"attempt", attempt,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// backoff returns RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func backoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
