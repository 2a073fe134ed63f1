package tgui

import (
	"fmt"
	"html"
	"strings"
)

// H is HTML that is safe to send with ParseMode="HTML".
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks a string as already-safe HTML.
func Raw(s string) H { return H(s) }

func B(s string) H    { return H("<b>" + html.EscapeString(s) + "</b>") }
func I(s string) H    { return H("<i>" + html.EscapeString(s) + "</i>") }
func Code(s string) H { return H("<code>" + html.EscapeString(s) + "</code>") }

// Link builds an anchor; both the href and the text are escaped.
func Link(text, url string) H {
	return H(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text)))
}

// Join joins non-blank parts with sep.
func Join(sep string, parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		ss = append(ss, string(p))
	}
	return H(strings.Join(ss, sep))
}
