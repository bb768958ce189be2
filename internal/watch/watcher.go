package watch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

// State of the watcher loop.
type State int32

const (
	StateIdle State = iota
	StateWaiting
	StateTicking
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateTicking:
		return "ticking"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Settings are the hot-reloadable knobs of the watcher.
type Settings struct {
	Schedule Schedule
	Window   *Window
	Location *time.Location
}

func (s Settings) withDefaults() Settings {
	if s.Location == nil {
		s.Location = time.Local
	}
	return s
}

// Config constructs a Watcher.
type Config struct {
	Settings Settings
	// WarnAfterFails sends one warning once a source has failed this many
	// consecutive checks (suppressed until it recovers). Default 5.
	WarnAfterFails int
}

type sourceState struct {
	lastCheck time.Time
	lastPost  string
	lastErr   string
	fails     int
	warned    bool
}

// SourceStatus is a point-in-time view of one monitored source.
type SourceStatus struct {
	Source        Source
	LastCheck     time.Time
	LastPostID    string
	LastError     string
	Fails         int
	CooldownUntil time.Time
}

// Status is a snapshot for the /status command.
type Status struct {
	State    string
	NextWake time.Time
	Sources  []SourceStatus
}

// Watcher drives the poll-detect-notify loop. Ticks run strictly
// sequentially; a shutdown cancels a pending sleep immediately but lets
// a tick in flight finish, so cursor updates are never left half-done.
type Watcher struct {
	fetchers []*Fetcher
	cursors  *Cursors
	rec      Recorder // optional history persistence
	sink     Sink
	log      logx.Logger

	warnAfter int

	ready <-chan struct{}

	settings atomic.Value // Settings
	state    atomic.Int32

	mu       sync.Mutex
	nextWake time.Time
	stats    map[Source]*sourceState
}

// New creates a Watcher. ready gates the first tick on the notification
// sink's connection (nil means no gate).
func New(cfg Config, fetchers []*Fetcher, cursors *Cursors, rec Recorder, sink Sink, ready <-chan struct{}, log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	warnAfter := cfg.WarnAfterFails
	if warnAfter <= 0 {
		warnAfter = 5
	}
	w := &Watcher{
		fetchers:  fetchers,
		cursors:   cursors,
		rec:       rec,
		sink:      sink,
		log:       log,
		warnAfter: warnAfter,
		ready:     ready,
		stats:     make(map[Source]*sourceState),
	}
	w.settings.Store(cfg.Settings.withDefaults())
	w.state.Store(int32(StateIdle))
	return w
}

// Apply swaps schedule/window/timezone; picked up at the next wake.
func (w *Watcher) Apply(s Settings) { w.settings.Store(s.withDefaults()) }

func (w *Watcher) Settings() Settings { return w.settings.Load().(Settings) }

func (w *Watcher) State() State { return State(w.state.Load()) }

func (w *Watcher) setState(s State) { w.state.Store(int32(s)) }

// Run is the watcher loop. It returns nil on context cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	w.setState(StateWaiting)
	if w.ready != nil {
		w.log.Debug("waiting for chat connection")
		select {
		case <-ctx.Done():
			w.setState(StateStopped)
			return nil
		case <-w.ready:
		}
	}
	w.log.Info("watch loop started",
		logx.String("schedule", w.Settings().Schedule.String()),
		logx.String("active_hours", w.Settings().Window.String()))

	for {
		st := w.Settings()
		now := time.Now().In(st.Location)
		if st.Window.Contains(now) {
			w.tick(ctx)
		} else {
			w.log.Debug("outside active hours, skipping check", logx.String("window", st.Window.String()))
		}

		next := st.Schedule.Next(time.Now().In(st.Location))
		w.mu.Lock()
		w.nextWake = next
		w.mu.Unlock()

		w.setState(StateSleeping)
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			w.setState(StateStopped)
			w.log.Info("watch loop stopped")
			return nil
		case <-t.C:
		}
	}
}

// tick runs one full poll-detect-notify cycle across all sources.
// Errors (and panics) are contained here so a bad tick never kills the loop.
func (w *Watcher) tick(ctx context.Context) {
	w.setState(StateTicking)
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("panic during check", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	for _, f := range w.fetchers {
		if ctx.Err() != nil {
			return
		}
		if until := f.CooldownUntil(); time.Now().Before(until) {
			w.log.Debug("source cooling down", logx.String("source", string(f.Source())), logx.Time("until", until))
			continue
		}
		w.checkSource(ctx, f)
	}
}

func (w *Watcher) checkSource(ctx context.Context, f *Fetcher) {
	src := f.Source()
	log := w.log.With(logx.String("source", string(src)))
	st := w.stat(src)

	post, err := f.FetchLatest(ctx)

	w.mu.Lock()
	st.lastCheck = time.Now()
	w.mu.Unlock()

	if err != nil {
		w.noteFailure(src, st, err)
		return
	}
	w.noteSuccess(st)

	if post == nil {
		log.Debug("source has no posts")
		return
	}
	if post.Source == "" {
		post.Source = src
	}

	if !w.cursors.IsNew(ctx, src, post.ID) {
		log.Debug("no new post", logx.String("post_id", post.ID))
		return
	}

	log.Info("new post detected", logx.String("post_id", post.ID), logx.Time("posted_at", post.PostedAt))

	if w.rec != nil {
		if err := w.rec.SavePost(ctx, post); err != nil {
			log.Warn("history save failed", logx.Err(err))
		}
	}

	// Advance-then-best-effort-notify: the post counts as seen even if
	// the announcement fails, so a flaky sink can't cause repeated
	// delivery storms for the same post.
	w.cursors.Seen(ctx, src, post.ID)
	w.mu.Lock()
	st.lastPost = post.ID
	w.mu.Unlock()

	if err := w.sink.Announce(ctx, post); err != nil {
		log.Warn("announcement failed", logx.String("post_id", post.ID), logx.Err(err))
	} else {
		log.Info("post announced", logx.String("post_id", post.ID))
	}
}

func (w *Watcher) noteFailure(src Source, st *sourceState, err error) {
	w.mu.Lock()
	st.fails++
	st.lastErr = err.Error()
	fails := st.fails
	warned := st.warned
	if fails >= w.warnAfter {
		st.warned = true
	}
	w.mu.Unlock()

	log := w.log.With(logx.String("source", string(src)))
	if fails >= w.warnAfter && !warned {
		// Warn level reaches the chat mirror sink when configured.
		log.Warn(fmt.Sprintf("source failing for %d consecutive checks", fails), logx.Err(err))
		return
	}
	log.Error("check failed", logx.Err(err), logx.Int("consecutive_fails", fails))
}

func (w *Watcher) noteSuccess(st *sourceState) {
	w.mu.Lock()
	st.fails = 0
	st.warned = false
	st.lastErr = ""
	w.mu.Unlock()
}

func (w *Watcher) stat(src Source) *sourceState {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.stats[src]
	if st == nil {
		st = &sourceState{}
		w.stats[src] = st
	}
	return st
}

// TestFetch runs one synchronous fetch for src without touching cursors
// or history. Used by the manual /test command.
func (w *Watcher) TestFetch(ctx context.Context, src Source) (*Post, error) {
	for _, f := range w.fetchers {
		if f.Source() == src {
			return f.FetchLatest(ctx)
		}
	}
	return nil, fmt.Errorf("unknown source %q", src)
}

// Sources lists the monitored sources in configured order.
func (w *Watcher) Sources() []Source {
	out := make([]Source, 0, len(w.fetchers))
	for _, f := range w.fetchers {
		out = append(out, f.Source())
	}
	return out
}

// Status returns a snapshot for operational commands.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{State: w.State().String(), NextWake: w.nextWake}
	for _, f := range w.fetchers {
		src := f.Source()
		st := w.stats[src]
		if st == nil {
			st = &sourceState{}
		}
		cursor := ""
		if w.cursors != nil {
			cursor = w.cursors.Last(src)
		}
		if cursor == "" {
			cursor = st.lastPost
		}
		s.Sources = append(s.Sources, SourceStatus{
			Source:        src,
			LastCheck:     st.lastCheck,
			LastPostID:    cursor,
			LastError:     st.lastErr,
			Fails:         st.fails,
			CooldownUntil: f.CooldownUntil(),
		})
	}
	return s
}
