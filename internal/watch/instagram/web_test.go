package instagram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Mkratenstein/FlodownBot/internal/watch"
	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

const profileJSON = `{
  "data": {
    "user": {
      "username": "floridaman",
      "edge_owner_to_timeline_media": {
        "edges": [
          {
            "node": {
              "id": "3300000000000000000",
              "shortcode": "DAbCd12efGh",
              "taken_at_timestamp": 1773154800,
              "display_url": "https://scontent.cdninstagram.com/v/photo.jpg",
              "is_video": false,
              "edge_media_to_caption": {
                "edges": [{"node": {"text": "Tour starts Friday"}}]
              }
            }
          }
        ]
      }
    }
  }
}`

func TestWebProfileFetchLatest(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/users/web_profile_info/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("username"); got != "floridaman" {
			t.Errorf("username = %q", got)
		}
		if r.Header.Get("x-ig-app-id") == "" {
			t.Error("missing x-ig-app-id header")
		}
		_, _ = w.Write([]byte(profileJSON))
	}))
	defer srv.Close()

	p := NewWebProfile(Config{Username: "floridaman", WebHost: srv.URL}, logx.Nop())
	post, err := p.FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("FetchLatest error: %v", err)
	}

	if post.ID != "3300000000000000000" {
		t.Fatalf("ID = %q", post.ID)
	}
	if post.Source != watch.SourceInstagram {
		t.Fatalf("Source = %q", post.Source)
	}
	if want := "https://www.instagram.com/p/DAbCd12efGh/"; post.Permalink != want {
		t.Fatalf("Permalink = %q, want %q", post.Permalink, want)
	}
	if post.Text != "Tour starts Friday" {
		t.Fatalf("Text = %q", post.Text)
	}
	if post.MediaURL != "https://scontent.cdninstagram.com/v/photo.jpg" {
		t.Fatalf("MediaURL = %q", post.MediaURL)
	}
	if want := time.Unix(1773154800, 0).UTC(); !post.PostedAt.Equal(want) {
		t.Fatalf("PostedAt = %v, want %v", post.PostedAt, want)
	}
}

func TestWebProfileEmptyTimeline(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"user": {"username": "floridaman", "edge_owner_to_timeline_media": {"edges": []}}}}`))
	}))
	defer srv.Close()

	p := NewWebProfile(Config{Username: "floridaman", WebHost: srv.URL}, logx.Nop())
	post, err := p.FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("FetchLatest error: %v", err)
	}
	if post != nil {
		t.Fatalf("post = %+v, want nil for empty timeline", post)
	}
}

func TestWebProfileMissingUser(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": {}}`))
	}))
	defer srv.Close()

	p := NewWebProfile(Config{Username: "floridaman", WebHost: srv.URL}, logx.Nop())
	_, err := p.FetchLatest(context.Background())

	var pe *watch.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *watch.ParseError", err)
	}
}

func TestWebProfileStatuses(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, check: func(t *testing.T, err error) {
			var rl *watch.RateLimitError
			if !errors.As(err, &rl) {
				t.Fatalf("err = %v, want *watch.RateLimitError", err)
			}
		}},
		{name: "blocked", status: http.StatusForbidden, check: func(t *testing.T, err error) {
			var se *watch.StatusError
			if !errors.As(err, &se) || se.Code != http.StatusForbidden {
				t.Fatalf("err = %v, want 403 *watch.StatusError", err)
			}
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := NewWebProfile(Config{Username: "floridaman", WebHost: srv.URL}, logx.Nop())
			_, err := p.FetchLatest(context.Background())
			tt.check(t, err)
		})
	}
}

func TestParseNodeShortcodeFallback(t *testing.T) {
	t.Parallel()
	p := NewWebProfile(Config{Username: "floridaman"}, logx.Nop())

	post, err := p.parseNode(mediaNode{Shortcode: "Xyz123"})
	if err != nil {
		t.Fatalf("parseNode error: %v", err)
	}
	if post.ID != "Xyz123" {
		t.Fatalf("ID = %q, want shortcode fallback", post.ID)
	}

	if _, err := p.parseNode(mediaNode{}); err == nil {
		t.Fatal("expected error for empty node")
	}
	if _, err := p.parseNode(mediaNode{ID: "1"}); err == nil {
		t.Fatal("expected error for missing shortcode")
	}
}
