package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RetryConfig configures exponential backoff for provider calls
type RetryConfig struct {
	MaxRetries int           // Total attempts, including the first
	BaseDelay  time.Duration // Delay after the first failure
	MaxDelay   time.Duration // Upper bound on any single delay
	Multiplier float64       // Growth factor between delays
}

// DefaultRetryConfig returns the retry policy used by HTTP and GenAI providers
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// APIError is a non-200 response from an embeddings endpoint
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the same request may succeed later: rate limits,
// timeouts and server errors.
func (e *APIError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// retryable reports whether err is worth another attempt. Client errors such
// as a bad key, and vectors of the wrong size, are not.
func retryable(err error) bool {
	if errors.Is(err, ErrDimensionMismatch) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// retryWithBackoff calls fn until it succeeds, fails permanently, runs out of
// attempts or ctx is done.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(config.MaxRetries, 1)
	delay := config.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(time.Duration(float64(delay)*config.Multiplier), config.MaxDelay)
	}

	return zero, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
