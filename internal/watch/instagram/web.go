// Package instagram retrieves the latest post of a public profile: the
// web profile JSON endpoint first, an RSS bridge feed as fallback.
package instagram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/Mkratenstein/FlodownBot/internal/watch"
	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

const (
	defaultWebHost = "https://www.instagram.com"
	// App id of the public web client; required by the web_profile_info
	// endpoint.
	webAppID  = "936619743392459"
	userAgent = "Mozilla/5.0 (compatible; FlodownBot/1.0)"
)

type Config struct {
	Username string
	WebHost  string // override for tests
	RSSURL   string // fallback feed
	Timeout  time.Duration
}

// WebProfile is the primary strategy: the unauthenticated JSON endpoint
// behind the profile page.
type WebProfile struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewWebProfile(cfg Config, log logx.Logger) *WebProfile {
	if cfg.WebHost == "" {
		cfg.WebHost = defaultWebHost
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &WebProfile{cfg: cfg, http: &http.Client{Timeout: timeout}, log: log}
}

func (w *WebProfile) Name() string { return "instagram.web" }

type profileEnvelope struct {
	Data struct {
		User *struct {
			Username string `json:"username"`
			Timeline struct {
				Edges []struct {
					Node mediaNode `json:"node"`
				} `json:"edges"`
			} `json:"edge_owner_to_timeline_media"`
		} `json:"user"`
	} `json:"data"`
}

type mediaNode struct {
	ID         string `json:"id"`
	Shortcode  string `json:"shortcode"`
	TakenAt    int64  `json:"taken_at_timestamp"`
	DisplayURL string `json:"display_url"`
	IsVideo    bool   `json:"is_video"`
	Caption    struct {
		Edges []struct {
			Node struct {
				Text string `json:"text"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"edge_media_to_caption"`
}

func (w *WebProfile) FetchLatest(ctx context.Context) (*watch.Post, error) {
	u := w.cfg.WebHost + "/api/v1/users/web_profile_info/?username=" + url.QueryEscape(w.cfg.Username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-ig-app-id", webAppID)

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &watch.RateLimitError{RetryAfter: watch.ParseRetryAfter(resp.Header.Get("Retry-After"))}
	default:
		return nil, &watch.StatusError{Op: "instagram web_profile_info", Code: resp.StatusCode}
	}

	var env profileEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &watch.ParseError{Strategy: w.Name(), Reason: "invalid json: " + err.Error()}
	}
	if env.Data.User == nil {
		return nil, &watch.ParseError{Strategy: w.Name(), Reason: "response missing data.user"}
	}
	edges := env.Data.User.Timeline.Edges
	if len(edges) == 0 {
		return nil, nil
	}
	return w.parseNode(edges[0].Node)
}

func (w *WebProfile) parseNode(n mediaNode) (*watch.Post, error) {
	id := n.ID
	if id == "" {
		id = n.Shortcode
	}
	if id == "" {
		return nil, &watch.ParseError{Strategy: w.Name(), Reason: "media node missing id and shortcode"}
	}
	if n.Shortcode == "" {
		return nil, &watch.ParseError{Strategy: w.Name(), Reason: "media node missing shortcode"}
	}

	post := &watch.Post{
		ID:        id,
		Source:    watch.SourceInstagram,
		Author:    w.cfg.Username,
		Permalink: defaultWebHost + "/p/" + n.Shortcode + "/",
		MediaURL:  n.DisplayURL,
		IsVideo:   n.IsVideo,
	}
	if n.TakenAt > 0 {
		post.PostedAt = time.Unix(n.TakenAt, 0).UTC()
	}
	if len(n.Caption.Edges) > 0 {
		post.Text = n.Caption.Edges[0].Node.Text
	}
	return post, nil
}
