package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benvon/cometblue-bridge/pkg/model"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	config := Config{
		Attempts:   3,
		Delay:      100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
		Jitter:     false, // Disable jitter for predictable testing
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second}, // Capped at MaxDelay
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			delay := config.Backoff(tt.attempt)
			if delay != tt.expected {
				t.Errorf("Attempt %d: expected %v, got %v", tt.attempt, tt.expected, delay)
			}
		})
	}
}

func TestBackoff_DefaultIsFixed(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	for attempt := 1; attempt <= 5; attempt++ {
		if got := config.Backoff(attempt); got != time.Second {
			t.Errorf("Attempt %d: expected fixed 1s delay, got %v", attempt, got)
		}
	}
}

func TestBackoffWithJitter(t *testing.T) {
	t.Parallel()

	config := Config{
		Attempts:   3,
		Delay:      100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}

	// Jitter only ever adds up to 25%
	for i := 0; i < 10; i++ {
		delay := config.Backoff(2)
		if delay < 200*time.Millisecond || delay > 250*time.Millisecond {
			t.Errorf("Delay out of expected range: %v", delay)
		}
	}
}

func TestDo_Success(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.Delay = time.Millisecond

	callCount := 0
	err := Do(context.Background(), config, func() error {
		callCount++
		return nil
	})
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestDo_RetryAndSuccess(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.Delay = time.Millisecond

	var retried []int
	config.OnRetry = func(attempt int, err error) {
		retried = append(retried, attempt)
	}

	callCount := 0
	err := Do(context.Background(), config, func() error {
		callCount++
		if callCount < 3 {
			return fmt.Errorf("reading temperatures: %w", model.ErrTimeout)
		}
		return nil
	})
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("Expected OnRetry for attempts [1 2], got %v", retried)
	}
}

func TestDo_AttemptsExhausted(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.Delay = time.Millisecond
	config.Attempts = 4

	callCount := 0
	err := Do(context.Background(), config, func() error {
		callCount++
		return model.ErrInvalidByteValue
	})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	// Attempts counts the first call
	if callCount != 4 {
		t.Errorf("Expected 4 calls, got %d", callCount)
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected ExhaustedError, got %T", err)
	}
	if exhausted.Attempts != 4 {
		t.Errorf("Expected 4 attempts recorded, got %d", exhausted.Attempts)
	}
	if !errors.Is(err, model.ErrInvalidByteValue) {
		t.Errorf("Expected last error to be wrapped, got %v", err)
	}
}

func TestDo_NonRetriableError(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.Delay = time.Millisecond

	callCount := 0
	err := Do(context.Background(), config, func() error {
		callCount++
		return model.NewValidationError("temperature out of range")
	})
	if err == nil {
		t.Error("Expected error, got nil")
	}

	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}

	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Error("Non-retriable error should be returned as is")
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	t.Parallel()

	callCount := 0
	_ = Do(context.Background(), Config{}, func() error {
		callCount++
		return model.ErrTimeout
	})

	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.Delay = 100 * time.Millisecond
	config.Attempts = 5

	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	err := Do(ctx, config, func() error {
		callCount++
		if callCount == 2 {
			cancel()
		}
		return model.ErrTransport
	})
	if err == nil {
		t.Error("Expected error, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}
}

func TestIsRetriable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		retriable bool
	}{
		{"nil error", nil, false},
		{"timeout sentinel", fmt.Errorf("read: %w", model.ErrTimeout), true},
		{"invalid byte value", model.ErrInvalidByteValue, true},
		{"transport", model.ErrTransport, true},
		{"not connected", model.ErrNotConnected, true},
		{"deadline", context.DeadlineExceeded, true},
		{"raw timeout message", errors.New("connection timed out"), true},
		{"raw disconnect message", errors.New("remote disconnected"), true},
		{"validation", model.NewValidationError("timeout must be positive"), false},
		{"invalid value", fmt.Errorf("encode: %w", model.ErrInvalidValue), false},
		{"cancelled", context.Canceled, false},
		{"non-retriable", errors.New("invalid input"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetriable(tt.err)
			if result != tt.retriable {
				t.Errorf("Expected %v, got %v for error: %v", tt.retriable, result, tt.err)
			}
		})
	}
}
