package bot

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	kit "github.com/Mkratenstein/FlodownBot/internal/transport"
	"github.com/Mkratenstein/FlodownBot/internal/watch"
	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

const (
	historyDefault = 5
	historyMax     = 20

	stampLayout = "01/02/2006 03:04 PM"
)

func (r *Router) handleHelp(ctx context.Context, req *request) error {
	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	for _, c := range r.cmds {
		fmt.Fprintf(&b, "/%s - %s", c.name, html.EscapeString(c.desc))
		if c.ownerOnly {
			b.WriteString(" (owner)")
		}
		b.WriteString("\n")
	}
	b.WriteString("\n/test takes a source name: ")
	names := make([]string, 0, 2)
	for _, s := range r.watcher.Sources() {
		names = append(names, string(s))
	}
	b.WriteString(strings.Join(names, ", "))
	_, err := r.adapter.SendText(ctx, req.chat, b.String(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (r *Router) handleStatus(ctx context.Context, req *request) error {
	st := r.watcher.Status()
	loc := r.watcher.Settings().Location
	now := time.Now()

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Status</b>: %s\n", st.State)
	fmt.Fprintf(&b, "Uptime: %s\n", roundDur(now.Sub(r.startedAt)))
	if !st.NextWake.IsZero() {
		fmt.Fprintf(&b, "Next check: %s\n", st.NextWake.In(loc).Format(stampLayout))
	}
	win := r.watcher.Settings().Window
	fmt.Fprintf(&b, "Active hours: %s\n", win.String())
	if r.runtimeStats != nil {
		active, started := r.runtimeStats()
		fmt.Fprintf(&b, "Goroutines: %d active, %d started\n", active, started)
	}

	for _, s := range st.Sources {
		fmt.Fprintf(&b, "\n<b>%s</b>\n", s.Source)
		if s.LastCheck.IsZero() {
			b.WriteString("  not checked yet\n")
		} else {
			fmt.Fprintf(&b, "  last check: %s\n", s.LastCheck.In(loc).Format(stampLayout))
		}
		if s.LastPostID != "" {
			fmt.Fprintf(&b, "  last post: %s\n", html.EscapeString(s.LastPostID))
		}
		if s.Fails > 0 {
			fmt.Fprintf(&b, "  consecutive failures: %d\n", s.Fails)
		}
		if s.LastError != "" {
			fmt.Fprintf(&b, "  last error: %s\n", html.EscapeString(s.LastError))
		}
		if until := s.CooldownUntil; until.After(now) {
			fmt.Fprintf(&b, "  cooling down for %s\n", roundDur(until.Sub(now)))
		}
	}
	_, err := r.adapter.SendText(ctx, req.chat, b.String(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (r *Router) handleHistory(ctx context.Context, req *request) error {
	n := historyDefault
	if len(req.args) > 0 {
		v, err := strconv.Atoi(req.args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("usage: /history [1-%d]", historyMax)
		}
		n = v
	}
	if n > historyMax {
		n = historyMax
	}

	posts, err := r.history.History(ctx, n)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(posts) == 0 {
		_, err := r.adapter.SendText(ctx, req.chat, "no posts recorded yet", nil)
		return err
	}

	loc := r.watcher.Settings().Location
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Last %d posts</b>\n", len(posts))
	for _, p := range posts {
		stamp := ""
		if !p.PostedAt.IsZero() {
			stamp = " · " + p.PostedAt.In(loc).Format(stampLayout)
		}
		fmt.Fprintf(&b, "\n[%s] <a href=\"%s\">%s</a>%s\n", p.Source, p.Permalink, html.EscapeString(p.ID), stamp)
		if t := snippet(p.Text, 120); t != "" {
			fmt.Fprintf(&b, "%s\n", html.EscapeString(t))
		}
	}
	_, err = r.adapter.SendText(ctx, req.chat, b.String(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (r *Router) handleTest(ctx context.Context, req *request) error {
	if len(req.args) == 0 {
		return fmt.Errorf("usage: /test <source>")
	}
	src := watch.Source(strings.ToLower(req.args[0]))

	found := false
	for _, s := range r.watcher.Sources() {
		if s == src {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown source %q", req.args[0])
	}

	post, err := r.watcher.TestFetch(ctx, src)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", src, err)
	}
	if post == nil {
		_, err := r.adapter.SendText(ctx, req.chat, fmt.Sprintf("no posts found on %s", src), nil)
		return err
	}

	r.log.Info("test fetch ok", logx.String("source", string(src)), logx.String("post_id", post.ID))
	return r.preview.Preview(ctx, req.chat, post)
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	rs := []rune(s)
	if len(rs) <= max {
		return s
	}
	return strings.TrimSpace(string(rs[:max])) + "…"
}

func roundDur(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return d.Round(time.Minute).String()
	case d >= time.Minute:
		return d.Round(time.Second).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}
