package relay

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"relaybot/internal/transport"
	"relaybot/pkg/tgui"
)

const (
	DefaultAlternateHost = "fxtwitter.com"

	fallbackPreviewRunes = 100
	deployPayloadPrefix  = "deploy_"
)

var actionEmoji = map[Action]string{
	ActionRetweet: "🔄",
	ActionQuote:   "💬",
	ActionReply:   "↩️",
	ActionTweet:   "📝",
}

var rtMarker = regexp.MustCompile(`(?is)^\**\s*RT\s*\**\s*(.*)`)

// rewriteHosts are replaced by the alternate host, subdomains included.
var rewriteHosts = []string{"twitter.com", "x.com"}

// Payload is one rendered message body.
type Payload struct {
	Text string
	Rows [][]transport.Button
}

// Formatter renders analyzed messages into HTML payloads.
type Formatter struct {
	AlternateHost string
	DeployText    string
}

func (a Action) emoji() string {
	if e, ok := actionEmoji[a]; ok {
		return e
	}
	return "➡️"
}

func (a Action) label() string {
	if a == ActionUnknown {
		return "Action"
	}
	return string(a)
}

// Condensed renders the one-line link card. Without a username or a usable
// URL it falls back to a preview of the raw text.
func (f Formatter) Condensed(a Analysis, rows [][]transport.Button) Payload {
	link, ok := RewriteHost(a.ButtonURL, f.AlternateHost)
	if a.Username == "" || !ok {
		preview := tgui.TruncRunes(strings.TrimSpace(a.RawText), fallbackPreviewRunes, "...")
		return Payload{Text: a.Action.emoji() + " " + tgui.Esc(preview).String(), Rows: rows}
	}
	text := tgui.Join(" ",
		tgui.Raw(a.Action.emoji()),
		tgui.B(a.Action.label()),
		tgui.Raw("from"),
		tgui.Link(a.Username, link),
	)
	return Payload{Text: text.String(), Rows: rows}
}

// Full renders the header line, a blank line and the message body.
func (f Formatter) Full(a Analysis, rows [][]transport.Button) Payload {
	header := []tgui.H{tgui.Raw(a.Action.emoji()), tgui.B(a.Action.label())}
	switch {
	case a.Username != "" && a.ButtonURL != "":
		header = append(header, tgui.Raw("from"), tgui.Link(a.Username, a.ButtonURL))
	case a.Username != "":
		header = append(header, tgui.Raw("from"), tgui.B(a.Username))
	}
	text := tgui.Join(" ", header...).String() + "\n\n" + renderBody(a)
	return Payload{Text: strings.TrimSpace(text), Rows: rows}
}

// Controls builds the shared button rows: the original link when known and
// the deep link that replays this message.
func (f Formatter) Controls(a Analysis, linkLabel, deepLink string) [][]transport.Button {
	row := make([]transport.Button, 0, 2)
	if a.ButtonURL != "" && linkLabel != "" {
		row = append(row, transport.Button{Text: linkLabel, URL: a.ButtonURL})
	}
	row = append(row, transport.Button{Text: f.DeployText, URL: deepLink})
	return [][]transport.Button{row}
}

// DeepLink returns the start link carrying contextID.
func DeepLink(botUsername, contextID string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s%s", strings.TrimPrefix(botUsername, "@"), deployPayloadPrefix, contextID)
}

// ParseDeployPayload extracts the context id from a /start payload.
func ParseDeployPayload(payload string) (string, bool) {
	id, ok := strings.CutPrefix(strings.TrimSpace(payload), deployPayloadPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// body drops the header-duplicating first paragraph (or first line).
func body(raw string) string {
	if _, rest, ok := strings.Cut(raw, "\n\n"); ok {
		return strings.TrimSpace(rest)
	}
	if _, rest, ok := strings.Cut(raw, "\n"); ok {
		return strings.TrimSpace(rest)
	}
	return raw
}

func renderBody(a Analysis) string {
	b := body(a.RawText)
	if a.Action == ActionRetweet {
		if m := rtMarker.FindStringSubmatch(b); m != nil {
			return tgui.B("RT").String() + " " + tgui.Esc(strings.TrimSpace(m[1])).String()
		}
	}
	return tgui.Esc(b).String()
}

// RewriteHost swaps twitter.com/x.com (and subdomains) for alt. Other hosts
// pass through unchanged. It reports false for empty or unparsable input.
func RewriteHost(raw, alt string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if alt == "" {
		alt = DefaultAlternateHost
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range rewriteHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			u.Host = alt
			return u.String(), true
		}
	}
	return raw, true
}
