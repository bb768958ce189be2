package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func noSleep(t *testing.T, delays *[]time.Duration) func(context.Context, time.Duration) error {
	t.Helper()
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	t.Parallel()
	var delays []time.Duration
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: noSleep(t, &delays)}

	calls := 0
	err := Do(context.Background(), p, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delays[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()
	var delays []time.Duration
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: noSleep(t, &delays)}

	wantErr := errors.New("always")
	calls := 0
	err := Do(context.Background(), p, nil, func(context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	t.Parallel()
	var delays []time.Duration
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, Sleep: noSleep(t, &delays)}

	fatal := errors.New("fatal")
	calls := 0
	err := Do(context.Background(), p, func(err error) bool { return !errors.Is(err, fatal) }, func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("err = %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if len(delays) != 0 {
		t.Fatalf("expected no sleeps, got %v", delays)
	}
}

type hintedErr struct{ after time.Duration }

func (e *hintedErr) Error() string                 { return fmt.Sprintf("hinted (%s)", e.after) }
func (e *hintedErr) RetryAfterHint() time.Duration { return e.after }

func TestDoHonorsDelayHint(t *testing.T) {
	t.Parallel()
	var delays []time.Duration
	p := Policy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Minute, Sleep: noSleep(t, &delays)}

	_ = Do(context.Background(), p, nil, func(context.Context) error {
		return &hintedErr{after: 10 * time.Second}
	})
	if len(delays) != 1 || delays[0] != 10*time.Second {
		t.Fatalf("delays = %v, want [10s]", delays)
	}
}

func TestDoHintCappedByMaxDelay(t *testing.T) {
	t.Parallel()
	var delays []time.Duration
	p := Policy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 5 * time.Second, Sleep: noSleep(t, &delays)}

	_ = Do(context.Background(), p, nil, func(context.Context) error {
		return &hintedErr{after: time.Hour}
	})
	if len(delays) != 1 || delays[0] != 5*time.Second {
		t.Fatalf("delays = %v, want [5s]", delays)
	}
}

func TestDoRespectsCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Policy{}, nil, func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Fatalf("fn ran %d times on cancelled context", calls)
	}
}
