// Package bot routes incoming chat commands to their handlers.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	kit "github.com/Mkratenstein/FlodownBot/internal/transport"
	"github.com/Mkratenstein/FlodownBot/internal/watch"
	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

const commandTimeout = 30 * time.Second

// History reads back recently seen posts.
type History interface {
	History(ctx context.Context, limit int) ([]watch.Post, error)
}

// Previewer renders a post announcement into an arbitrary chat.
type Previewer interface {
	Preview(ctx context.Context, to kit.ChatTarget, post *watch.Post) error
}

type handler struct {
	name      string
	desc      string
	ownerOnly bool
	fn        func(ctx context.Context, req *request) error
}

type request struct {
	chat kit.ChatTarget
	from int64
	args []string
}

type Router struct {
	adapter kit.Adapter
	watcher *watch.Watcher
	history History
	preview Previewer

	// owners returns the current owner allowlist; config reloads swap it.
	owners func() []int64

	// runtimeStats reports supervised goroutine counts for /status.
	runtimeStats func() (active int64, started uint64)

	startedAt time.Time
	log       logx.Logger
	cmds      []handler
}

func NewRouter(adapter kit.Adapter, watcher *watch.Watcher, history History, preview Previewer, owners func() []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		adapter:   adapter,
		watcher:   watcher,
		history:   history,
		preview:   preview,
		owners:    owners,
		startedAt: time.Now(),
		log:       log,
	}
	r.cmds = []handler{
		{name: "help", desc: "list available commands", fn: r.handleHelp},
		{name: "status", desc: "watcher state and per-source health", ownerOnly: true, fn: r.handleStatus},
		{name: "history", desc: "recently seen posts", ownerOnly: true, fn: r.handleHistory},
		{name: "test", desc: "fetch the latest post from a source", ownerOnly: true, fn: r.handleTest},
	}
	return r
}

// SetRuntimeStats installs the goroutine counter source shown by /status.
func (r *Router) SetRuntimeStats(fn func() (active int64, started uint64)) {
	r.runtimeStats = fn
}

// SyncMenu pushes the command list to the platform's menu, when supported.
func (r *Router) SyncMenu(ctx context.Context) {
	mu, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	out := make([]kit.BotCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, kit.BotCommand{Command: c.name, Description: c.desc})
	}
	if err := mu.UpdateMenuCommands(ctx, out); err != nil {
		r.log.Warn("menu sync failed", logx.Err(err))
	}
}

// Run consumes updates until ctx is cancelled or the channel closes.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				r.log.Info("command router stopped (updates channel closed)")
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(root context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	var cmd *handler
	for i := range r.cmds {
		if r.cmds[i].name == word {
			cmd = &r.cmds[i]
			break
		}
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmd == nil {
		_, _ = r.adapter.SendText(root, chat, "unknown command, try /help", nil)
		return
	}
	if cmd.ownerOnly && !r.isOwner(msg.FromID) {
		_, _ = r.adapter.SendText(root, chat, "unauthorized", nil)
		return
	}

	req := &request{chat: chat, from: msg.FromID, args: parts[1:]}
	log := r.log.With(
		logx.String("cmd", cmd.name),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
	)

	ctx, cancel := context.WithTimeout(root, commandTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("command panic", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
			_, _ = r.adapter.SendText(root, chat, "internal error", nil)
		}
	}()

	start := time.Now()
	if err := cmd.fn(ctx, req); err != nil {
		log.Warn("command failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		_, _ = r.adapter.SendText(root, chat, fmt.Sprintf("error: %v", err), nil)
		return
	}
	log.Debug("command handled", logx.Duration("took", time.Since(start)))
}

func (r *Router) isOwner(id int64) bool {
	if r.owners == nil {
		return false
	}
	for _, o := range r.owners() {
		if o == id {
			return true
		}
	}
	return false
}
