package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	attempts := 0
	errAuth := errors.New("forbidden")

	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		return backoff.Permanent(errAuth)
	})
	if !errors.Is(err, errAuth) {
		t.Fatalf("Retry error = %v, want %v", err, errAuth)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestRateLimiter(t *testing.T) {
	if NewRateLimiter(0, 1) != nil {
		t.Fatal("NewRateLimiter(0) should be unlimited (nil)")
	}
	var unlimited *RateLimiter
	if err := unlimited.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter Wait: %v", err)
	}

	rl := NewRateLimiter(60, 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("burst Wait %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait after burst = %v, want deadline exceeded", err)
	}
}

func TestLoggers(t *testing.T) {
	if got := ParseLevel("WARN"); got != slog.LevelWarn {
		t.Errorf("ParseLevel(WARN) = %v, want %v", got, slog.LevelWarn)
	}
	if got := ParseLevel("verbose"); got != slog.LevelInfo {
		t.Errorf("ParseLevel(verbose) = %v, want info", got)
	}

	var buf bytes.Buffer
	NewLoggerTo(&buf, "error").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record written at error level: %s", buf.String())
	}

	logger, closer, err := NewFileLogger(filepath.Join(t.TempDir(), "client.log"), "debug")
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	logger.Debug("hello")
	if err := closer.Close(); err != nil {
		t.Errorf("closing log file: %v", err)
	}
}
