package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

type fakeSink struct {
	mu        sync.Mutex
	announced []string
	err       error
}

func (s *fakeSink) Announce(_ context.Context, p *Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.announced = append(s.announced, p.ID)
	return nil
}

func (s *fakeSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.announced...)
}

func newTestWatcher(t *testing.T, strat Strategy, rec Recorder, sink Sink) *Watcher {
	t.Helper()
	sched, err := ParseSchedule("5m")
	if err != nil {
		t.Fatal(err)
	}
	f := NewFetcher(FetcherConfig{
		Source:     SourceBluesky,
		Strategies: []Strategy{strat},
		Retry:      fastRetry(1),
	}, logx.Nop())
	cursors := NewCursors(rec, logx.Nop())
	return New(Config{Settings: Settings{Schedule: sched}},
		[]*Fetcher{f}, cursors, rec, sink, nil, logx.Nop())
}

// Polling the sequence a,a,b,b,c announces b and c exactly once: the
// first a only seeds the cursor, repeats are ignored.
func TestWatcherAnnouncesEachNewPostOnce(t *testing.T) {
	t.Parallel()
	strat := &scriptedStrategy{name: "feed", script: []func() (*Post, error){
		post("a"), post("a"), post("b"), post("b"), post("c"),
	}}
	rec := newFakeRecorder()
	sink := &fakeSink{}
	w := newTestWatcher(t, strat, rec, sink)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		w.tick(ctx)
	}

	got := sink.ids()
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("announced = %v, want [b c]", got)
	}
	saved := rec.savedIDs()
	if len(saved) != 2 || saved[0] != "b" || saved[1] != "c" {
		t.Fatalf("saved = %v, want [b c]", saved)
	}
}

func TestWatcherFirstRunSuppressed(t *testing.T) {
	t.Parallel()
	strat := &scriptedStrategy{name: "feed", script: []func() (*Post, error){post("existing")}}
	rec := newFakeRecorder()
	sink := &fakeSink{}
	w := newTestWatcher(t, strat, rec, sink)

	w.tick(context.Background())

	if got := sink.ids(); len(got) != 0 {
		t.Fatalf("announced = %v, want none on first run", got)
	}
	if rec.cursors["bluesky"] != "existing" {
		t.Fatalf("cursor not seeded: %v", rec.cursors)
	}
}

func TestWatcherEmptySourceIsQuiet(t *testing.T) {
	t.Parallel()
	strat := &scriptedStrategy{name: "feed", script: []func() (*Post, error){
		func() (*Post, error) { return nil, nil },
	}}
	rec := newFakeRecorder()
	sink := &fakeSink{}
	w := newTestWatcher(t, strat, rec, sink)

	w.tick(context.Background())

	if got := sink.ids(); len(got) != 0 {
		t.Fatalf("announced = %v, want none", got)
	}
	if got := rec.cursors["bluesky"]; got != "" {
		t.Fatalf("cursor = %q, want empty", got)
	}
}

// A failed announcement still advances the cursor: the post is lost, not
// repeated on every following poll.
func TestWatcherDeliveryFailureAdvancesCursor(t *testing.T) {
	t.Parallel()
	strat := &scriptedStrategy{name: "feed", script: []func() (*Post, error){
		post("a"), post("b"), post("b"),
	}}
	rec := newFakeRecorder()
	sink := &fakeSink{}
	w := newTestWatcher(t, strat, rec, sink)

	ctx := context.Background()
	w.tick(ctx) // seeds a

	sink.mu.Lock()
	sink.err = errors.New("chat down")
	sink.mu.Unlock()
	w.tick(ctx) // b detected, delivery fails

	if rec.cursors["bluesky"] != "b" {
		t.Fatalf("cursor = %q, want b", rec.cursors["bluesky"])
	}

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	w.tick(ctx) // b again: must not be re-announced

	if got := sink.ids(); len(got) != 0 {
		t.Fatalf("announced = %v, want none (b was already seen)", got)
	}
}

func TestWatcherFetchFailureKeepsCursor(t *testing.T) {
	t.Parallel()
	strat := &scriptedStrategy{name: "feed", script: []func() (*Post, error){
		post("a"), fail(errors.New("down")), post("b"),
	}}
	rec := newFakeRecorder()
	sink := &fakeSink{}
	w := newTestWatcher(t, strat, rec, sink)

	ctx := context.Background()
	w.tick(ctx) // seeds a
	w.tick(ctx) // fetch fails; cursor untouched
	if rec.cursors["bluesky"] != "a" {
		t.Fatalf("cursor = %q, want a after failed fetch", rec.cursors["bluesky"])
	}
	w.tick(ctx) // b appears and is announced

	if got := sink.ids(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("announced = %v, want [b]", got)
	}

	st := w.Status()
	if len(st.Sources) != 1 {
		t.Fatalf("sources = %d", len(st.Sources))
	}
	if st.Sources[0].Fails != 0 {
		t.Fatalf("fails = %d, want 0 after recovery", st.Sources[0].Fails)
	}
}

func TestWatcherSkipsSourceDuringCooldown(t *testing.T) {
	t.Parallel()
	strat := &scriptedStrategy{name: "feed", script: []func() (*Post, error){
		fail(&RateLimitError{}), post("a"),
	}}
	rec := newFakeRecorder()
	sink := &fakeSink{}
	w := newTestWatcher(t, strat, rec, sink)

	ctx := context.Background()
	w.tick(ctx) // 429 starts the cooldown
	calls := strat.callCount()
	w.tick(ctx) // inside cooldown: no fetch at all
	if strat.callCount() != calls {
		t.Fatalf("fetch ran during cooldown (calls %d -> %d)", calls, strat.callCount())
	}
}

func TestWatcherRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	strat := &scriptedStrategy{name: "feed", script: []func() (*Post, error){post("a")}}
	w := newTestWatcher(t, strat, newFakeRecorder(), &fakeSink{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// First tick runs immediately; then the loop sleeps until the next
	// schedule slot and cancel must wake it right away.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if w.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", w.State())
	}
}

func TestWatcherWaitsForReadyGate(t *testing.T) {
	t.Parallel()
	strat := &scriptedStrategy{name: "feed", script: []func() (*Post, error){post("a")}}
	sched, err := ParseSchedule("5m")
	if err != nil {
		t.Fatal(err)
	}
	f := NewFetcher(FetcherConfig{
		Source:     SourceBluesky,
		Strategies: []Strategy{strat},
		Retry:      fastRetry(1),
	}, logx.Nop())

	ready := make(chan struct{})
	w := New(Config{Settings: Settings{Schedule: sched}},
		[]*Fetcher{f}, NewCursors(nil, logx.Nop()), nil, &fakeSink{}, ready, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if got := strat.callCount(); got != 0 {
		t.Fatalf("fetch ran %d times before ready", got)
	}
	if w.State() != StateWaiting {
		t.Fatalf("state = %s, want waiting", w.State())
	}

	close(ready)
	deadline := time.Now().Add(2 * time.Second)
	for strat.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first tick never ran after ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcherActiveHoursGate(t *testing.T) {
	t.Parallel()
	now := time.Now()
	// A one-minute window far from the current time keeps the tick gated.
	start := now.Add(3 * time.Hour)
	win, err := ParseWindow(start.Format("15:04") + "-" + start.Add(time.Minute).Format("15:04"))
	if err != nil {
		t.Fatal(err)
	}
	if win.Contains(now) {
		t.Fatalf("window %s unexpectedly contains now", win)
	}

	strat := &scriptedStrategy{name: "feed", script: []func() (*Post, error){post("a")}}
	w := newTestWatcher(t, strat, newFakeRecorder(), &fakeSink{})
	w.Apply(Settings{Schedule: w.Settings().Schedule, Window: win})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	if got := strat.callCount(); got != 0 {
		t.Fatalf("fetch ran %d times outside active hours", got)
	}
}
