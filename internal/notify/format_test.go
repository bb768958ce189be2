package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/Mkratenstein/FlodownBot/internal/watch"
)

func TestRenderFullPost(t *testing.T) {
	t.Parallel()
	p := &watch.Post{
		ID:        "1",
		Source:    watch.SourceBluesky,
		Author:    "flodown.bsky.social",
		Text:      "New single out now",
		Permalink: "https://bsky.app/profile/flodown.bsky.social/post/3kxyz",
		PostedAt:  time.Date(2026, 6, 21, 16, 30, 0, 0, time.UTC),
	}
	got := render(p, time.UTC)

	want := "<b>@flodown.bsky.social</b> just posted on Bluesky\n\n" +
		"New single out now\n\n" +
		`<a href="https://bsky.app/profile/flodown.bsky.social/post/3kxyz">View post</a> · 06/21/2026 04:30 PM`
	if got != want {
		t.Fatalf("render() =\n%q\nwant\n%q", got, want)
	}
}

func TestRenderEscapesHTML(t *testing.T) {
	t.Parallel()
	p := &watch.Post{
		Source: watch.SourceInstagram,
		Author: "a<b>c",
		Text:   "1 < 2 & 3 > 2",
	}
	got := render(p, time.UTC)

	if !strings.Contains(got, "@a&lt;b&gt;c") {
		t.Fatalf("author not escaped: %q", got)
	}
	if !strings.Contains(got, "1 &lt; 2 &amp; 3 &gt; 2") {
		t.Fatalf("body not escaped: %q", got)
	}
}

func TestRenderAppendsMissingLinks(t *testing.T) {
	t.Parallel()
	p := &watch.Post{
		Source: watch.SourceBluesky,
		Author: "alice",
		Text:   "check https://a.example and the other one",
		Links:  []string{"https://a.example", "https://b.example"},
	}
	got := render(p, time.UTC)

	if strings.Count(got, "https://a.example") != 1 {
		t.Fatalf("inline link duplicated: %q", got)
	}
	if !strings.Contains(got, "https://b.example") {
		t.Fatalf("missing link not appended: %q", got)
	}
}

func TestRenderBareMinimum(t *testing.T) {
	t.Parallel()
	p := &watch.Post{Source: watch.SourceInstagram, Author: "alice"}
	got := render(p, time.UTC)

	if got != "<b>@alice</b> just posted on Instagram" {
		t.Fatalf("render() = %q", got)
	}
}

func TestRenderTimestampInLocation(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	p := &watch.Post{
		Source:   watch.SourceBluesky,
		Author:   "alice",
		PostedAt: time.Date(2026, 6, 21, 16, 30, 0, 0, time.UTC),
	}
	got := render(p, loc)

	if !strings.HasSuffix(got, "06/21/2026 12:30 PM") {
		t.Fatalf("timestamp not localized: %q", got)
	}
}
