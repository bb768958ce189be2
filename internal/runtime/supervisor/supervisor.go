// Package supervisor manages named goroutines tied to a shared context:
// panic recovery, optional cancel-on-first-error, restart with backoff,
// and timeout-aware waiting on shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	firstErr atomic.Value // error
	errOnce  sync.Once

	started atomic.Uint64
	active  atomic.Int64

	wg sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first non-nil goroutine error cancel the
// supervisor context.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	if v := s.firstErr.Load(); v != nil {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}

// Counters reports best-effort goroutine counts for status output.
func (s *Supervisor) Counters() (active int64, started uint64) {
	if s == nil {
		return 0, 0
	}
	return s.active.Load(), s.started.Load()
}

func (s *Supervisor) publish(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() {
		s.firstErr.Store(err)
		if s.cancelOnErr {
			s.cancel()
		}
	})
}

// Go runs fn under the supervisor. A non-nil error (other than the
// context's own cancellation error) is published as the first error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	s.started.Add(1)
	s.active.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic in %s: %v", name, r)
				s.log.Error("goroutine panic", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				s.publish(err)
			}
		}()
		if err := fn(s.ctx); err != nil && !isCtxErr(err) {
			s.log.Warn("goroutine exited with error", logx.String("name", name), logx.Err(err))
			s.publish(err)
		}
	}()
}

// Go0 runs fn that reports no error.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// GoRestart runs fn in a restart loop with capped-exponential backoff,
// so a transient crash of a long-lived loop self-heals. fn returning nil
// while the context is still active also triggers a restart.
func (s *Supervisor) GoRestart(name string, base, max time.Duration, fn func(ctx context.Context) error) {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max < base {
		max = base
	}
	s.Go(name, func(ctx context.Context) error {
		delay := base
		for {
			err := s.runOnce(name, ctx, fn)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				s.log.Warn("restarting after failure", logx.String("name", name), logx.Err(err), logx.Duration("backoff", delay))
			} else {
				s.log.Warn("loop exited early, restarting", logx.String("name", name), logx.Duration("backoff", delay))
			}
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			delay *= 2
			if delay > max {
				delay = max
			}
		}
	})
}

func (s *Supervisor) runOnce(name string, ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", name, r)
			s.log.Error("goroutine panic", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return fn(ctx)
}

// Wait blocks until all supervised goroutines exit or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isCtxErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
