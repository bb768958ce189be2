// Package bluesky talks to the AT Protocol XRPC API: session management
// (createSession/refreshSession) and the author-feed lookup used to
// detect new posts.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Mkratenstein/FlodownBot/internal/retry"
	"github.com/Mkratenstein/FlodownBot/internal/watch"
	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

const (
	// DefaultHost is the authenticated PDS entrypoint.
	DefaultHost = "https://bsky.social"
	// PublicHost serves getAuthorFeed without credentials; used as the
	// fallback strategy when the session path fails.
	PublicHost = "https://public.api.bsky.app"

	userAgent = "FlodownBot/1.0"
)

type Config struct {
	Host       string // default DefaultHost
	PublicHost string // default PublicHost
	Handle     string // account being watched
	Identifier string // login email/handle
	Password   string // app password
	Timeout    time.Duration
	Retry      retry.Policy
}

// Session holds the JWT pair from com.atproto.server.createSession.
type Session struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Did        string `json:"did"`
	Handle     string `json:"handle"`
}

// Client owns the credential lifecycle. Ticks are sequential, but the
// manual /test path can race a tick, so the session is mutex-guarded.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	mu         sync.Mutex
	sess       *Session
	refreshJwt string // survives invalidation so refresh is tried before re-login
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.PublicHost == "" {
		cfg.PublicHost = PublicHost
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// EnsureSession returns a cached session or establishes one: refresh
// first when a refresh token survives an invalidation, full login
// otherwise. Exhausting the retry budget yields *watch.AuthError.
func (c *Client) EnsureSession(ctx context.Context) (Session, error) {
	c.mu.Lock()
	if c.sess != nil {
		s := *c.sess
		c.mu.Unlock()
		return s, nil
	}
	refreshJwt := c.refreshJwt
	c.mu.Unlock()

	var sess *Session
	err := retry.Do(ctx, c.cfg.Retry, watch.Transient, func(ctx context.Context) error {
		if refreshJwt != "" {
			if s, err := c.refreshSession(ctx, refreshJwt); err == nil {
				sess = s
				return nil
			}
			// Refresh token rejected or expired; fall through to login.
			refreshJwt = ""
		}
		s, err := c.createSession(ctx)
		if err != nil {
			return err
		}
		sess = s
		return nil
	})
	if err != nil {
		return Session{}, &watch.AuthError{Source: watch.SourceBluesky, Err: err}
	}

	c.mu.Lock()
	c.sess = sess
	c.refreshJwt = sess.RefreshJwt
	c.mu.Unlock()
	c.log.Info("bluesky session established", logx.String("handle", sess.Handle))
	return *sess, nil
}

// Invalidate drops the cached access token (called on 401). The refresh
// token is kept so the next EnsureSession can try refreshSession first.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.sess = nil
	c.mu.Unlock()
	c.log.Debug("bluesky session invalidated")
}

func (c *Client) createSession(ctx context.Context) (*Session, error) {
	body := map[string]string{
		"identifier": c.cfg.Identifier,
		"password":   c.cfg.Password,
	}
	var sess Session
	if err := c.postJSON(ctx, c.cfg.Host+"/xrpc/com.atproto.server.createSession", "", body, &sess); err != nil {
		return nil, fmt.Errorf("createSession: %w", err)
	}
	if sess.AccessJwt == "" || sess.Did == "" {
		return nil, &watch.ParseError{Strategy: "bluesky.session", Reason: "createSession response missing accessJwt/did"}
	}
	return &sess, nil
}

func (c *Client) refreshSession(ctx context.Context, refreshJwt string) (*Session, error) {
	var sess Session
	if err := c.postJSON(ctx, c.cfg.Host+"/xrpc/com.atproto.server.refreshSession", refreshJwt, nil, &sess); err != nil {
		return nil, fmt.Errorf("refreshSession: %w", err)
	}
	if sess.AccessJwt == "" {
		return nil, &watch.ParseError{Strategy: "bluesky.session", Reason: "refreshSession response missing accessJwt"}
	}
	return &sess, nil
}

func (c *Client) postJSON(ctx context.Context, url, bearer string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := statusErr("bluesky "+opFromURL(url), resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusErr(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &watch.RateLimitError{RetryAfter: watch.ParseRetryAfter(resp.Header.Get("Retry-After"))}
	default:
		return &watch.StatusError{Op: op, Code: resp.StatusCode}
	}
}

func opFromURL(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}
