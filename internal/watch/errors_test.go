package watch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestTransient(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "rate limit", err: &RateLimitError{}, want: true},
		{name: "wrapped rate limit", err: fmt.Errorf("fetch: %w", &RateLimitError{}), want: true},
		{name: "parse", err: &ParseError{Strategy: "x", Reason: "missing id"}, want: false},
		{name: "auth", err: &AuthError{Source: SourceBluesky, Err: errors.New("denied")}, want: false},
		{name: "http 500", err: &StatusError{Op: "getAuthorFeed", Code: 500}, want: true},
		{name: "http 429", err: &StatusError{Op: "getAuthorFeed", Code: 429}, want: true},
		{name: "http 408", err: &StatusError{Op: "getAuthorFeed", Code: 408}, want: true},
		{name: "http 404", err: &StatusError{Op: "getAuthorFeed", Code: 404}, want: false},
		{name: "http 401", err: &StatusError{Op: "getAuthorFeed", Code: 401}, want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, want: true},
		{name: "plain", err: errors.New("weird"), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Transient(tt.err); got != tt.want {
				t.Fatalf("Transient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	if got := ParseRetryAfter(""); got != 0 {
		t.Fatalf("empty = %v", got)
	}
	if got := ParseRetryAfter("120"); got != 2*time.Minute {
		t.Fatalf("delta seconds = %v, want 2m", got)
	}
	if got := ParseRetryAfter("garbage"); got != 0 {
		t.Fatalf("garbage = %v", got)
	}
	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	if got := ParseRetryAfter(future); got <= 0 || got > 90*time.Second {
		t.Fatalf("http date = %v", got)
	}
	past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)
	if got := ParseRetryAfter(past); got != 0 {
		t.Fatalf("past http date = %v, want 0", got)
	}
}

func TestRateLimitErrorHint(t *testing.T) {
	t.Parallel()
	e := &RateLimitError{RetryAfter: 30 * time.Second}
	if e.RetryAfterHint() != 30*time.Second {
		t.Fatalf("hint = %v", e.RetryAfterHint())
	}
}
