// Package notify renders new posts into chat announcements and delivers
// them exactly once per post.
package notify

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mkratenstein/FlodownBot/internal/transport"
	"github.com/Mkratenstein/FlodownBot/internal/watch"
	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

// Dispatcher implements watch.Sink. Sends are rate limited to stay well
// inside Telegram's per-chat limits.
type Dispatcher struct {
	sender  transport.Sender
	target  transport.ChatTarget
	limiter *rate.Limiter
	loc     *time.Location
	log     logx.Logger
}

type Config struct {
	Target     transport.ChatTarget
	Location   *time.Location // for rendered timestamps; default Local
	RatePerSec int            // default 1
}

func NewDispatcher(cfg Config, sender transport.Sender, log logx.Logger) *Dispatcher {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		sender:  sender,
		target:  cfg.Target,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		loc:     loc,
		log:     log,
	}
}

// Announce sends one message for post to the configured channel. A send
// failure is returned as *watch.DeliveryError; the caller decides what
// that means for the cursor.
func (d *Dispatcher) Announce(ctx context.Context, post *watch.Post) error {
	return d.send(ctx, d.target, post)
}

// Preview renders and sends the post to an arbitrary chat. Used by the
// manual /test command so the output lands with the requester, not in
// the announcement channel.
func (d *Dispatcher) Preview(ctx context.Context, to transport.ChatTarget, post *watch.Post) error {
	return d.send(ctx, to, post)
}

func (d *Dispatcher) send(ctx context.Context, to transport.ChatTarget, post *watch.Post) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return &watch.DeliveryError{Err: err}
	}

	text := render(post, d.loc)
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: post.MediaURL != ""}

	if post.MediaURL != "" && !post.IsVideo {
		_, err := d.sender.SendPhoto(ctx, to, post.MediaURL, text, opt)
		if err == nil {
			return nil
		}
		// Photo rejected (dead URL, oversized, ...): deliver as text so
		// the announcement is never lost to a broken image.
		d.log.Debug("photo send failed, falling back to text", logx.String("post_id", post.ID), logx.Err(err))
		opt.DisablePreview = false
	}

	if _, err := d.sender.SendText(ctx, to, text, opt); err != nil {
		return &watch.DeliveryError{Err: err}
	}
	return nil
}
