package providers

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// HTTPError is a non-2xx response from a backend.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // from Retry-After header, 0 if absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, truncateBody(e.Body, 500))
}

// IsAuth reports whether the error is an authentication/authorization failure.
// These are surfaced to the user as configuration errors, never retried.
func (e *HTTPError) IsAuth() bool {
	return e.Status == 401 || e.Status == 403
}

// retryable reports whether the status is worth another attempt.
func (e *HTTPError) retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// ParseRetryAfter parses a Retry-After header value (seconds form only).
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// RetryConfig bounds the retry loop around a backend call.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryConfig retries twice with exponential backoff from 1s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 2, BaseDelay: time.Second}
}

// RetryDo runs fn, retrying on 429/5xx HTTP errors with exponential backoff.
// Retry-After from the server overrides the computed delay. Auth errors and
// context cancellation return immediately.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.BaseDelay * time.Duration(1<<(attempt-1))
			if he, ok := lastErr.(*HTTPError); ok && he.RetryAfter > 0 {
				delay = he.RetryAfter
			}
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		he, ok := err.(*HTTPError)
		if !ok || !he.retryable() {
			return zero, err
		}
	}
	return zero, lastErr
}

func truncateBody(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
