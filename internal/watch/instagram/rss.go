package instagram

import (
	"context"
	"errors"
	"html"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/Mkratenstein/FlodownBot/internal/watch"
	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s{3,}`)
)

// RSSFeed is the fallback strategy: a syndication bridge for the
// profile. Less rich than the web endpoint (no video flag), but it
// keeps working when Instagram throttles the scrape.
type RSSFeed struct {
	feedURL string
	author  string
	http    *http.Client
	log     logx.Logger
}

func NewRSSFeed(cfg Config, log logx.Logger) *RSSFeed {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RSSFeed{
		feedURL: cfg.RSSURL,
		author:  cfg.Username,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (r *RSSFeed) Name() string { return "instagram.rss" }

func (r *RSSFeed) FetchLatest(ctx context.Context) (*watch.Post, error) {
	fp := gofeed.NewParser()
	fp.Client = r.http
	fp.UserAgent = userAgent

	feed, err := fp.ParseURLWithContext(r.feedURL, ctx)
	if err != nil {
		var he gofeed.HTTPError
		if errors.As(err, &he) {
			if he.StatusCode == http.StatusTooManyRequests {
				return nil, &watch.RateLimitError{}
			}
			return nil, &watch.StatusError{Op: "instagram rss", Code: he.StatusCode}
		}
		return nil, err
	}
	if len(feed.Items) == 0 {
		return nil, nil
	}
	return r.parseItem(feed.Items[0])
}

func (r *RSSFeed) parseItem(item *gofeed.Item) (*watch.Post, error) {
	id := item.GUID
	if id == "" {
		id = item.Link
	}
	if id == "" {
		return nil, &watch.ParseError{Strategy: r.Name(), Reason: "feed item missing guid and link"}
	}

	post := &watch.Post{
		ID:        id,
		Source:    watch.SourceInstagram,
		Author:    r.author,
		Text:      itemText(item),
		Permalink: item.Link,
		MediaURL:  itemImage(item),
	}
	if item.PublishedParsed != nil {
		post.PostedAt = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		post.PostedAt = item.UpdatedParsed.UTC()
	}
	return post, nil
}

func itemText(item *gofeed.Item) string {
	raw := item.Description
	if raw == "" {
		raw = item.Content
	}
	text := stripHTML(raw)
	if item.Title != "" && !strings.Contains(text, item.Title) {
		if text == "" {
			return item.Title
		}
		text = item.Title + "\n\n" + text
	}
	return text
}

func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	// media:content extension used by most bridge feeds.
	if media, ok := item.Extensions["media"]; ok {
		for _, ext := range media["content"] {
			if u := ext.Attrs["url"]; u != "" {
				return u
			}
		}
	}
	return ""
}

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = whitespaceRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
