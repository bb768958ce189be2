package watch

import (
	"context"
	"sync"

	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

// Cursors tracks the last-seen post id per source. IDs are opaque tokens
// compared by exact equality.
//
// First observation policy: when a source has no cursor yet, IsNew seeds
// the cursor and reports false, so content that existed before the
// watcher started is never announced.
type Cursors struct {
	mu   sync.Mutex
	last map[Source]string

	rec Recorder // optional persistence; nil keeps cursors in memory only
	log logx.Logger
}

func NewCursors(rec Recorder, log logx.Logger) *Cursors {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cursors{last: make(map[Source]string), rec: rec, log: log}
}

// Load seeds cursors from persistence so a restart resumes where the
// previous run left off (best effort).
func (c *Cursors) Load(ctx context.Context, sources ...Source) {
	if c.rec == nil {
		return
	}
	for _, src := range sources {
		id, err := c.rec.LastPostID(ctx, string(src))
		if err != nil {
			c.log.Warn("cursor load failed", logx.String("source", string(src)), logx.Err(err))
			continue
		}
		if id == "" {
			continue
		}
		c.mu.Lock()
		c.last[src] = id
		c.mu.Unlock()
		c.log.Info("cursor restored", logx.String("source", string(src)), logx.String("post_id", id))
	}
}

// IsNew reports whether postID differs from the stored cursor. An
// uninitialized cursor is seeded from postID and reports false.
func (c *Cursors) IsNew(ctx context.Context, src Source, postID string) bool {
	if postID == "" {
		return false
	}
	c.mu.Lock()
	last, ok := c.last[src]
	if !ok {
		c.last[src] = postID
	}
	c.mu.Unlock()

	if !ok {
		c.log.Info("cursor seeded", logx.String("source", string(src)), logx.String("post_id", postID))
		c.persist(ctx, src, postID)
		return false
	}
	return last != postID
}

// Seen advances the cursor after a post has been handled.
func (c *Cursors) Seen(ctx context.Context, src Source, postID string) {
	if postID == "" {
		return
	}
	c.mu.Lock()
	c.last[src] = postID
	c.mu.Unlock()
	c.persist(ctx, src, postID)
}

// Last returns the current cursor value ("" when uninitialized).
func (c *Cursors) Last(src Source) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[src]
}

func (c *Cursors) persist(ctx context.Context, src Source, postID string) {
	if c.rec == nil {
		return
	}
	if err := c.rec.SetCursor(ctx, string(src), postID); err != nil {
		c.log.Warn("cursor persist failed", logx.String("source", string(src)), logx.Err(err))
	}
}
