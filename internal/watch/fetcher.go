package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Mkratenstein/FlodownBot/internal/retry"
	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

const defaultCooldownMax = 30 * time.Minute

// Fetcher retrieves the latest post for one source by trying an ordered
// list of strategies (primary first, fallbacks after). Each strategy runs
// under the shared retry policy for transient failures.
//
// Rate limiting: a 429 from any strategy widens an adaptive per-source
// cooldown (doubling, capped) that the watcher honors before the next
// scheduled check. A later successful fetch resets it.
type Fetcher struct {
	source     Source
	strategies []Strategy
	policy     retry.Policy
	log        logx.Logger

	mu            sync.Mutex
	cooldown      time.Duration
	cooldownUntil time.Time
	cooldownStep  time.Duration
	cooldownMax   time.Duration
}

type FetcherConfig struct {
	Source     Source
	Strategies []Strategy
	Retry      retry.Policy
	// CooldownStep is the initial cooldown after a 429; defaults to 1m.
	CooldownStep time.Duration
	// CooldownMax caps the adaptive cooldown; defaults to 30m.
	CooldownMax time.Duration
}

func NewFetcher(cfg FetcherConfig, log logx.Logger) *Fetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	step := cfg.CooldownStep
	if step <= 0 {
		step = time.Minute
	}
	maxCD := cfg.CooldownMax
	if maxCD <= 0 {
		maxCD = defaultCooldownMax
	}
	return &Fetcher{
		source:       cfg.Source,
		strategies:   cfg.Strategies,
		policy:       cfg.Retry,
		log:          log.With(logx.String("source", string(cfg.Source))),
		cooldownStep: step,
		cooldownMax:  maxCD,
	}
}

func (f *Fetcher) Source() Source { return f.source }

// CooldownUntil reports when the source may be checked again. The zero
// time means no cooldown is active.
func (f *Fetcher) CooldownUntil() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cooldownUntil
}

// FetchLatest tries each strategy in order until one succeeds. A nil
// post with nil error means the source currently has zero posts.
func (f *Fetcher) FetchLatest(ctx context.Context) (*Post, error) {
	var lastErr error
	for _, s := range f.strategies {
		var post *Post
		err := retry.Do(ctx, f.policy, Transient, func(ctx context.Context) error {
			p, err := s.FetchLatest(ctx)
			if err != nil {
				return err
			}
			post = p
			return nil
		})
		if err == nil {
			f.resetCooldown()
			return post, nil
		}
		f.noteError(err)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		f.log.Warn("fetch strategy failed", logx.String("strategy", s.Name()), logx.Err(err))
	}
	return nil, &FetchError{Source: f.source, Err: lastErr}
}

func (f *Fetcher) noteError(err error) {
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		return
	}
	f.mu.Lock()
	if f.cooldown <= 0 {
		f.cooldown = f.cooldownStep
	} else {
		f.cooldown *= 2
	}
	if f.cooldown > f.cooldownMax {
		f.cooldown = f.cooldownMax
	}
	if hint := rl.RetryAfter; hint > f.cooldown {
		f.cooldown = hint
		if f.cooldown > f.cooldownMax {
			f.cooldown = f.cooldownMax
		}
	}
	f.cooldownUntil = time.Now().Add(f.cooldown)
	cd := f.cooldown
	f.mu.Unlock()

	f.log.Warn("rate limited, widening cooldown", logx.Duration("cooldown", cd))
}

func (f *Fetcher) resetCooldown() {
	f.mu.Lock()
	f.cooldown = 0
	f.cooldownUntil = time.Time{}
	f.mu.Unlock()
}
