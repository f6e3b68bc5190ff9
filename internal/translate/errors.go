package translate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrInFlight is returned when a call for the same key is already running.
	ErrInFlight = errors.New("translation already in flight")
	// ErrEmptyResponse means the model answered with no text at all.
	ErrEmptyResponse = errors.New("empty response from model")

	errStreamReused = errors.New("translation stream already consumed")
)

// RateLimitError is a provider refusing the call for quota reasons (HTTP 429
// or equivalent).
type RateLimitError struct {
	Provider   Provider
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited: %v", e.Provider, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// TimeoutError is one attempt running past its deadline while the caller
// was still waiting.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("model call timed out after %s", e.After)
}

// StatusError is any other non-success HTTP status from a provider.
type StatusError struct {
	Provider Provider
	Code     int
	Err      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %v", e.Provider, e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// TranslationFailure is the final error for a key once retries are spent
// or the error was not worth retrying.
type TranslationFailure struct {
	Key      string
	Attempts int
	Err      error
}

func (e *TranslationFailure) Error() string {
	return fmt.Sprintf("translate %s: failed after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

func (e *TranslationFailure) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is transient: rate limits, timeouts,
// server errors, dropped connections and empty answers.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrInFlight) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusRequestTimeout ||
			statusErr.Code >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	message := strings.ToLower(err.Error())
	if strings.Contains(message, "429") || strings.Contains(message, "rate limit") ||
		strings.Contains(message, "resource exhausted") {
		return true
	}
	for _, token := range []string{
		"502",
		"503",
		"504",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"temporary failure",
		"unexpected eof",
	} {
		if strings.Contains(message, token) {
			return true
		}
	}
	return false
}

// classifies a provider error by HTTP status
func statusError(provider Provider, code int, err error) error {
	switch {
	case code == http.StatusTooManyRequests:
		return &RateLimitError{Provider: provider, Err: err}
	case code >= http.StatusBadRequest:
		return &StatusError{Provider: provider, Code: code, Err: err}
	default:
		return fmt.Errorf("%s: %w", provider, err)
	}
}
