// Package watch implements the poll-detect-notify core: fetch the latest
// post from a monitored account, compare it against the last seen cursor,
// and announce new posts exactly once.
package watch

import (
	"context"
	"time"
)

// Source identifies a monitored account kind.
type Source string

const (
	SourceBluesky   Source = "bluesky"
	SourceInstagram Source = "instagram"
)

// Post is a normalized post from any backend. Immutable once fetched.
type Post struct {
	ID        string // source-unique, treated as opaque
	Source    Source
	Author    string // account handle
	PostedAt  time.Time
	Text      string
	Permalink string
	MediaURL  string // first preview image, if any
	IsVideo   bool
	Links     []string // hyperlinks extracted from the post body/facets
}

// Strategy is one concrete way of retrieving the latest post from a
// source (authenticated API, public scrape, syndication feed). A source
// with zero posts yields (nil, nil).
type Strategy interface {
	Name() string
	FetchLatest(ctx context.Context) (*Post, error)
}

// Sink receives one announcement per newly detected post.
type Sink interface {
	Announce(ctx context.Context, post *Post) error
}

// Recorder persists announced posts and per-source cursors.
type Recorder interface {
	SavePost(ctx context.Context, post *Post) error
	LastPostID(ctx context.Context, source string) (string, error)
	SetCursor(ctx context.Context, source, postID string) error
}
