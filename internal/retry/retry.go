// Package retry is a small retry-with-backoff helper shared by every
// remote call path, so backoff behavior is defined in exactly one place.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy controls attempts and delays. The zero value gets sane defaults:
// 3 attempts, 2s base delay, 30s cap.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Sleep is overridable in tests. Defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	return p
}

// DelayHinter lets an error suggest its own retry delay (e.g. a parsed
// Retry-After header). The hint is used when it exceeds the backoff.
type DelayHinter interface {
	RetryAfterHint() time.Duration
}

// Do runs fn up to p.MaxAttempts times. Between attempts it sleeps with
// capped-exponential backoff (base, 2*base, 4*base, ... up to MaxDelay).
// A nil retryable predicate retries everything; otherwise errors the
// predicate rejects abort immediately. The last error is returned.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		d := p.BaseDelay << uint(attempt)
		if d > p.MaxDelay || d <= 0 {
			d = p.MaxDelay
		}
		var hinter DelayHinter
		if errors.As(err, &hinter) {
			if hint := hinter.RetryAfterHint(); hint > d {
				d = hint
				if d > p.MaxDelay {
					d = p.MaxDelay
				}
			}
		}
		if err := p.Sleep(ctx, d); err != nil {
			return err
		}
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
