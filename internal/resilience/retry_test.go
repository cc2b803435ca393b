package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	cfg := RetryConfig{MaxRetries: 3, Backoff: time.Millisecond}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	last := errors.New("always fails")
	cfg := RetryConfig{MaxRetries: 3, Backoff: time.Millisecond}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return last
	})
	if !errors.Is(err, last) {
		t.Fatalf("expected last error, got %v", err)
	}
	// one initial try plus MaxRetries delayed re-attempts
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestDo_BackoffSchedule(t *testing.T) {
	var attempts []int
	cfg := RetryConfig{
		MaxRetries: 3,
		Backoff:    time.Millisecond,
		OnRetry:    func(attempt int, _ error) { attempts = append(attempts, attempt) },
	}

	start := time.Now()
	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return errors.New("nope")
	})
	elapsed := time.Since(start)

	if len(attempts) != 3 {
		t.Fatalf("expected 3 re-attempts, got %d", len(attempts))
	}
	// delays are 1ms + 2ms + 4ms = 7ms minimum
	if elapsed < 7*time.Millisecond {
		t.Errorf("expected at least 7ms of backoff, got %v", elapsed)
	}
}

func TestDo_ShouldRetryStopsEarly(t *testing.T) {
	var calls int
	cfg := RetryConfig{
		MaxRetries:  3,
		Backoff:     time.Millisecond,
		ShouldRetry: func(err error) bool { return false },
	}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelledStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	cfg := RetryConfig{MaxRetries: 5, Backoff: 50 * time.Millisecond}

	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		cancel()
		return errors.New("failing")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call after cancellation, got %d", calls)
	}
}

func TestDoVal_ReturnsValue(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, Backoff: time.Millisecond}
	var calls int

	got, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("again")
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}

