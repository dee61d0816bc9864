// Package resilience wraps transient-failure-prone operations with
// bounded retries and timeouts.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig bounds a retry loop.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration

	// Retryable reports whether an error is transient. Nil retries
	// everything.
	Retryable func(error) bool
}

// DefaultRetryConfig matches the standard profile for provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		Factor:       2,
		MaxDelay:     10 * time.Second,
	}
}

// Retry runs op until it succeeds, returns a non-transient error, or
// attempts run out. op is called at most MaxAttempts times.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.Factor <= 1 {
		cfg.Factor = 2
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}

	delay := cfg.InitialDelay
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		slog.Debug("retrying after transient error", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = time.Duration(float64(delay) * cfg.Factor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", cfg.MaxAttempts, err)
}

// TimeoutError reports an operation that exceeded its deadline.
type TimeoutError struct {
	Millis int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %dms", e.Millis)
}

// Timeout profiles selectable per call site.
const (
	TimeoutDefault = 30 * time.Second
	TimeoutConnect = 10 * time.Second
	TimeoutRead    = 30 * time.Second
	TimeoutWrite   = 30 * time.Second
)

// WithTimeout runs op under a deadline. Deadline expiry yields
// *TimeoutError; op's own error passes through unchanged.
func WithTimeout(ctx context.Context, d time.Duration, op func(ctx context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(tctx) }()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		if tctx.Err() == context.DeadlineExceeded {
			return &TimeoutError{Millis: d.Milliseconds()}
		}
		return tctx.Err()
	}
}
