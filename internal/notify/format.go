package notify

import (
	"html"
	"strings"
	"time"

	"github.com/Mkratenstein/FlodownBot/internal/watch"
)

const timestampLayout = "01/02/2006 03:04 PM"

var sourceLabels = map[watch.Source]string{
	watch.SourceBluesky:   "Bluesky",
	watch.SourceInstagram: "Instagram",
}

func sourceLabel(s watch.Source) string {
	if l, ok := sourceLabels[s]; ok {
		return l
	}
	return string(s)
}

// render builds the announcement body in Telegram HTML:
//
//	<b>@handle</b> just posted on Bluesky
//
//	body text (links appended when not already inline)
//
//	<a href="permalink">View post</a> · 06/21/2025 04:30 PM
func render(p *watch.Post, loc *time.Location) string {
	var b strings.Builder

	b.WriteString("<b>@")
	b.WriteString(html.EscapeString(p.Author))
	b.WriteString("</b> just posted on ")
	b.WriteString(sourceLabel(p.Source))

	body := strings.TrimSpace(p.Text)
	for _, link := range p.Links {
		if !strings.Contains(body, link) {
			if body != "" {
				body += "\n"
			}
			body += link
		}
	}
	if body != "" {
		b.WriteString("\n\n")
		b.WriteString(html.EscapeString(body))
	}

	b.WriteString("\n\n")
	if p.Permalink != "" {
		b.WriteString(`<a href="`)
		b.WriteString(html.EscapeString(p.Permalink))
		b.WriteString(`">View post</a>`)
	}
	if !p.PostedAt.IsZero() {
		if p.Permalink != "" {
			b.WriteString(" · ")
		}
		b.WriteString(p.PostedAt.In(loc).Format(timestampLayout))
	}

	return strings.TrimSpace(b.String())
}
