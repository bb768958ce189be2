package instagram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Mkratenstein/FlodownBot/internal/watch"
	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

const rssXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
  <channel>
    <title>floridaman</title>
    <link>https://www.instagram.com/floridaman/</link>
    <item>
      <guid>https://www.instagram.com/p/DAbCd12efGh/</guid>
      <link>https://www.instagram.com/p/DAbCd12efGh/</link>
      <title>Tour starts Friday</title>
      <description>&lt;p&gt;Tour starts Friday, tickets at the &lt;b&gt;link&lt;/b&gt;&lt;/p&gt;</description>
      <pubDate>Tue, 10 Mar 2026 15:04:05 GMT</pubDate>
      <media:content url="https://cdn.bridge.example/photo.jpg" type="image/jpeg"/>
    </item>
  </channel>
</rss>`

func TestRSSFeedFetchLatest(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssXML))
	}))
	defer srv.Close()

	r := NewRSSFeed(Config{Username: "floridaman", RSSURL: srv.URL}, logx.Nop())
	post, err := r.FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("FetchLatest error: %v", err)
	}

	if post.ID != "https://www.instagram.com/p/DAbCd12efGh/" {
		t.Fatalf("ID = %q", post.ID)
	}
	if post.Author != "floridaman" {
		t.Fatalf("Author = %q", post.Author)
	}
	if post.Permalink != "https://www.instagram.com/p/DAbCd12efGh/" {
		t.Fatalf("Permalink = %q", post.Permalink)
	}
	if post.MediaURL != "https://cdn.bridge.example/photo.jpg" {
		t.Fatalf("MediaURL = %q", post.MediaURL)
	}
	if post.PostedAt.IsZero() {
		t.Fatal("PostedAt not parsed")
	}
	// Description HTML is stripped and the title is already contained.
	if post.Text == "" || post.Text[0] == '<' {
		t.Fatalf("Text = %q", post.Text)
	}
}

func TestRSSFeedEmpty(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>x</title></channel></rss>`))
	}))
	defer srv.Close()

	r := NewRSSFeed(Config{Username: "floridaman", RSSURL: srv.URL}, logx.Nop())
	post, err := r.FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("FetchLatest error: %v", err)
	}
	if post != nil {
		t.Fatalf("post = %+v, want nil for empty feed", post)
	}
}

func TestRSSFeedHTTPErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := NewRSSFeed(Config{Username: "floridaman", RSSURL: srv.URL}, logx.Nop())
	_, err := r.FetchLatest(context.Background())

	var rl *watch.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want *watch.RateLimitError", err)
	}
}

func TestStripHTML(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{in: "<p>hello <b>world</b></p>", want: "hello  world"},
		{in: "plain", want: "plain"},
		{in: "&amp; &lt;3", want: "& <3"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		if got := stripHTML(tt.in); got != tt.want {
			t.Fatalf("stripHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
