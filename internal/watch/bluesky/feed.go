package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Mkratenstein/FlodownBot/internal/watch"
	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

// SessionFeed is the primary strategy: app.bsky.feed.getAuthorFeed with
// an authenticated session. A 401 invalidates the session and retries
// once with a fresh one before giving up.
type SessionFeed struct {
	client *Client
}

func NewSessionFeed(client *Client) *SessionFeed { return &SessionFeed{client: client} }

func (s *SessionFeed) Name() string { return "bluesky.session" }

func (s *SessionFeed) FetchLatest(ctx context.Context) (*watch.Post, error) {
	sess, err := s.client.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}

	post, err := getAuthorFeed(ctx, s.client.http, s.client.cfg.Host, sess.AccessJwt, s.client.cfg.Handle)
	var se *watch.StatusError
	if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
		// Token expired mid-flight; re-login once.
		s.client.Invalidate()
		sess, err = s.client.EnsureSession(ctx)
		if err != nil {
			return nil, err
		}
		post, err = getAuthorFeed(ctx, s.client.http, s.client.cfg.Host, sess.AccessJwt, s.client.cfg.Handle)
	}
	return post, err
}

// PublicFeed is the fallback strategy: the same author feed via the
// unauthenticated AppView endpoint.
type PublicFeed struct {
	host   string
	handle string
	http   *http.Client
	log    logx.Logger
}

func NewPublicFeed(cfg Config, log logx.Logger) *PublicFeed {
	host := cfg.PublicHost
	if host == "" {
		host = PublicHost
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PublicFeed{
		host:   host,
		handle: cfg.Handle,
		http:   &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (p *PublicFeed) Name() string { return "bluesky.public" }

func (p *PublicFeed) FetchLatest(ctx context.Context) (*watch.Post, error) {
	return getAuthorFeed(ctx, p.http, p.host, "", p.handle)
}

// ---- shared feed fetch + parse ----

type feedEnvelope struct {
	Feed []feedItem `json:"feed"`
}

type feedItem struct {
	Post struct {
		URI    string `json:"uri"`
		Author struct {
			Handle string `json:"handle"`
		} `json:"author"`
		Record struct {
			Text      string  `json:"text"`
			CreatedAt string  `json:"createdAt"`
			Facets    []facet `json:"facets"`
		} `json:"record"`
		Embed *embedView `json:"embed"`
	} `json:"post"`
}

type facet struct {
	Features []struct {
		Type string `json:"$type"`
		URI  string `json:"uri"`
	} `json:"features"`
}

type embedView struct {
	Type   string `json:"$type"`
	Images []struct {
		Fullsize string `json:"fullsize"`
		Thumb    string `json:"thumb"`
	} `json:"images"`
	External *struct {
		URI   string `json:"uri"`
		Thumb string `json:"thumb"`
	} `json:"external"`
}

func getAuthorFeed(ctx context.Context, hc *http.Client, host, bearer, actor string) (*watch.Post, error) {
	u := host + "/xrpc/app.bsky.feed.getAuthorFeed?actor=" + url.QueryEscape(actor) + "&limit=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := statusErr("bluesky getAuthorFeed", resp); err != nil {
		return nil, err
	}

	var env feedEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &watch.ParseError{Strategy: "bluesky.feed", Reason: "invalid json: " + err.Error()}
	}
	if len(env.Feed) == 0 {
		return nil, nil
	}
	return parseFeedItem(env.Feed[0])
}

func parseFeedItem(it feedItem) (*watch.Post, error) {
	p := it.Post
	if p.URI == "" {
		return nil, &watch.ParseError{Strategy: "bluesky.feed", Reason: "post missing uri"}
	}
	if p.Record.CreatedAt == "" {
		return nil, &watch.ParseError{Strategy: "bluesky.feed", Reason: "post missing record.createdAt"}
	}
	createdAt, err := time.Parse(time.RFC3339, p.Record.CreatedAt)
	if err != nil {
		return nil, &watch.ParseError{Strategy: "bluesky.feed", Reason: fmt.Sprintf("bad createdAt %q", p.Record.CreatedAt)}
	}

	post := &watch.Post{
		ID:        p.URI,
		Source:    watch.SourceBluesky,
		Author:    p.Author.Handle,
		PostedAt:  createdAt,
		Text:      p.Record.Text,
		Permalink: permalink(p.Author.Handle, p.URI),
	}

	for _, f := range p.Record.Facets {
		for _, feat := range f.Features {
			if feat.Type == "app.bsky.richtext.facet#link" && feat.URI != "" {
				post.Links = append(post.Links, feat.URI)
			}
		}
	}

	if e := p.Embed; e != nil {
		switch {
		case len(e.Images) > 0:
			post.MediaURL = e.Images[0].Fullsize
			if post.MediaURL == "" {
				post.MediaURL = e.Images[0].Thumb
			}
		case e.External != nil:
			post.MediaURL = e.External.Thumb
			if e.External.URI != "" {
				post.Links = append(post.Links, e.External.URI)
			}
		}
		if strings.HasPrefix(e.Type, "app.bsky.embed.video") {
			post.IsVideo = true
		}
	}

	return post, nil
}

// permalink maps an AT-URI (at://did/app.bsky.feed.post/rkey) onto the
// public web URL for the post.
func permalink(handle, uri string) string {
	rkey := uri
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		rkey = uri[i+1:]
	}
	return "https://bsky.app/profile/" + handle + "/post/" + rkey
}
