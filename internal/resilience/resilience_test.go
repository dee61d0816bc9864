package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Factor:       2,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	var calls int
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryBound(t *testing.T) {
	var calls int
	boom := errors.New("always fails")
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want exactly MaxAttempts", calls)
	}
}

func TestRetryNonRetryableStopsImmediately(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.Retryable = func(err error) bool { return false }
	var calls int
	fatal := errors.New("auth failed")
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetryConfig()
	cfg.InitialDelay = time.Hour
	var calls int
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, cfg, func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if te.Millis != 10 {
		t.Fatalf("millis = %d, want 10", te.Millis)
	}
}

func TestWithTimeoutPassesThroughResult(t *testing.T) {
	if err := WithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("WithTimeout: %v", err)
	}

	boom := errors.New("op failed")
	err := WithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}
