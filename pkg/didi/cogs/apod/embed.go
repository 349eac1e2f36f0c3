package apod

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
)

const (
	embedColor    = 0x3498DB
	defaultTitle  = "Astronomy Picture of the Day"
	maxFieldValue = 1024
	maxPlainInfo  = 1500
)

// Embed renders a picture as a rich embed.
func Embed(p *Picture, includeInfo bool) *channels.Embed {
	title := p.Title
	if title == "" {
		title = defaultTitle
	}
	e := &channels.Embed{
		Title:  title,
		URL:    p.Link(),
		Color:  embedColor,
		Footer: "Date: " + p.Date,
	}
	if p.IsImage() {
		e.ImageURL = p.URL
	} else {
		e.Description = fmt.Sprintf("[Click here to view video](%s)", p.URL)
	}
	if includeInfo {
		info := p.Explanation
		if info == "" {
			info = "No info."
		}
		e.Fields = append(e.Fields, channels.EmbedField{
			Name:  "Explanation",
			Value: truncate(info, maxFieldValue),
		})
	}
	return e
}

// PlainText renders a picture for channels where embeds are not allowed.
func PlainText(p *Picture, includeInfo bool) string {
	title := p.Title
	if title == "" {
		title = defaultTitle
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (%s)\n%s", title, p.Date, p.URL)
	if includeInfo && p.Explanation != "" {
		b.WriteString("\n")
		b.WriteString(truncate(p.Explanation, maxPlainInfo))
	}
	return b.String()
}

// truncate cuts s to at most max bytes on a rune boundary, marking the cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - len("…")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
