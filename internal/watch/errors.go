package watch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// AuthError: login/refresh failed after exhausting attempts. Aborts the
// strategy (and usually the tick), never the process.
type AuthError struct {
	Source Source
	Err    error
}

func (e *AuthError) Error() string { return fmt.Sprintf("%s: auth failed: %v", e.Source, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// FetchError: every configured strategy for a source failed.
type FetchError struct {
	Source Source
	Err    error
}

func (e *FetchError) Error() string { return fmt.Sprintf("%s: fetch failed: %v", e.Source, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// ParseError: the backend returned a payload missing required fields.
// Never retried.
type ParseError struct {
	Strategy string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: malformed payload: %s", e.Strategy, e.Reason)
}

// RateLimitError: upstream answered 429. Transient, and additionally
// widens the fetcher's cooldown window.
type RateLimitError struct {
	RetryAfter time.Duration // 0 when the upstream gave no hint
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
	}
	return "rate limited"
}

// RetryAfterHint implements retry.DelayHinter.
func (e *RateLimitError) RetryAfterHint() time.Duration { return e.RetryAfter }

// DeliveryError: the notification sink rejected or failed the send.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string { return fmt.Sprintf("delivery failed: %v", e.Err) }
func (e *DeliveryError) Unwrap() error { return e.Err }

// StatusError is an unexpected HTTP status from a backend.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("%s: http %d", e.Op, e.Code) }

// ParseRetryAfter interprets a Retry-After header value (delta seconds
// or an HTTP date). Returns 0 when absent or unparsable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Transient reports whether err is worth retrying: connection failures,
// timeouts, 429 and 5xx. Malformed payloads, auth exhaustion and other
// 4xx fail immediately.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var (
		rl    *RateLimitError
		pe    *ParseError
		ae    *AuthError
		se    *StatusError
		netEr net.Error
	)
	switch {
	case errors.As(err, &rl):
		return true
	case errors.As(err, &pe), errors.As(err, &ae):
		return false
	case errors.As(err, &se):
		return se.Code == 408 || se.Code == 429 || se.Code >= 500
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		// Per-request timeout; the next attempt may succeed.
		return true
	case errors.As(err, &netEr):
		return true
	}
	return false
}
