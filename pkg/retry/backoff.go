package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/benvon/cometblue-bridge/pkg/model"
)

// Config holds retry configuration parameters
type Config struct {
	// Attempts is the total number of attempts, including the first one
	Attempts int
	// Delay is the delay before the first retry
	Delay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// Multiplier is the factor by which the delay increases each retry.
	// A multiplier of 1 gives a fixed delay.
	Multiplier float64
	// Jitter adds up to 25% randomness to the delay
	Jitter bool
	// OnRetry is called before sleeping for the next attempt
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns the policy used for thermostat access:
// three attempts, one second apart.
func DefaultConfig() Config {
	return Config{
		Attempts:   3,
		Delay:      1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 1.0,
		Jitter:     false,
	}
}

// ExhaustedError is returned by Do when every attempt failed with a retriable error
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max attempts (%d) exceeded: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Backoff calculates the delay before the given retry (1 = first retry)
func (c Config) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	multiplier := c.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(c.Delay) * math.Pow(multiplier, float64(attempt-1))

	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.Jitter {
		// #nosec G404 - Non-cryptographic random is sufficient for retry jitter
		delay += rand.Float64() * 0.25 * delay
	}

	return time.Duration(delay)
}

// Do executes fn until it succeeds, returns a non-retriable error, the
// attempts are exhausted or ctx is done.
func Do(ctx context.Context, config Config, fn func() error) error {
	attempts := config.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if config.OnRetry != nil {
				config.OnRetry(attempt, lastErr)
			}

			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(config.Backoff(attempt)):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsRetriable(err) {
			return err
		}
	}

	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// transientErrors are the sentinel errors a BLE round trip may fail with
var transientErrors = []error{
	model.ErrTimeout,
	model.ErrInvalidByteValue,
	model.ErrTransport,
	model.ErrNotConnected,
	context.DeadlineExceeded,
}

// retriableMessages catch transport errors that were not normalized
var retriableMessages = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"disconnected",
	"broken pipe",
	"temporary failure",
}

// IsRetriable determines if an error is transient
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}

	// Caller errors and cancellation are final
	if errors.Is(err, model.ErrValidation) || errors.Is(err, model.ErrInvalidValue) || errors.Is(err, context.Canceled) {
		return false
	}

	for _, target := range transientErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range retriableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}

	return false
}
