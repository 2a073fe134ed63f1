package relay

import (
	"regexp"
	"strings"
	"sync/atomic"

	"relaybot/internal/transport"
)

// Action is the kind of post a relayed message announces.
type Action string

const (
	ActionUnknown Action = ""
	ActionTweet   Action = "Tweet"
	ActionRetweet Action = "Retweet"
	ActionQuote   Action = "Quote"
	ActionReply   Action = "Reply"
)

// Analysis is the structured view of one inbound message.
type Analysis struct {
	Action    Action
	Username  string
	MediaKind transport.MediaKind
	ButtonURL string
	RawText   string
}

type actionPattern struct {
	action Action
	re     *regexp.Regexp
}

// Tried in this order; the first match wins.
var actionPatterns = []actionPattern{
	{ActionRetweet, actionRegexp("Retweet")},
	{ActionTweet, actionRegexp("Tweet")},
	{ActionQuote, actionRegexp("Quote")},
	{ActionReply, actionRegexp("Reply")},
}

var bareFromPattern = regexp.MustCompile(`(?im)from\s+\*\*([^ *]+?)\*\*`)

func actionRegexp(word string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)\**\s*(` + word + `)\s*\**\s+from\s+\*\*([^ *]+?)\*\*`)
}

// Analyzer extracts relay fields from inbound messages. The button label can
// be swapped at runtime.
type Analyzer struct {
	buttonText atomic.Value // string
}

func NewAnalyzer(buttonText string) *Analyzer {
	a := &Analyzer{}
	a.SetButtonText(buttonText)
	return a
}

func (a *Analyzer) SetButtonText(s string) { a.buttonText.Store(s) }

func (a *Analyzer) ButtonText() string {
	s, _ := a.buttonText.Load().(string)
	return s
}

// Analyze returns false when msg has no button labelled exactly ButtonText.
// Nothing else is inspected in that case.
func (a *Analyzer) Analyze(msg transport.InboundMessage) (Analysis, bool) {
	url, ok := findButton(msg.Buttons, a.ButtonText())
	if !ok {
		return Analysis{}, false
	}
	action, user := ExtractAction(msg.Text)
	return Analysis{
		Action:    action,
		Username:  user,
		MediaKind: ClassifyMedia(msg.Media),
		ButtonURL: url,
		RawText:   msg.Text,
	}, true
}

func findButton(buttons []transport.Button, label string) (string, bool) {
	for _, b := range buttons {
		if b.Text == label {
			return b.URL, true
		}
	}
	return "", false
}

// ExtractAction returns the announced action and username. A bare
// "from **user**" yields ActionUnknown with a username.
func ExtractAction(text string) (Action, string) {
	for _, p := range actionPatterns {
		if m := p.re.FindStringSubmatch(text); m != nil {
			return p.action, m[2]
		}
	}
	if m := bareFromPattern.FindStringSubmatch(text); m != nil {
		return ActionUnknown, m[1]
	}
	return ActionUnknown, ""
}

// ClassifyMedia maps a source media descriptor to a send kind. The animated
// flag decides animation vs video; without it an image/gif MIME type does.
func ClassifyMedia(d *transport.MediaDescriptor) transport.MediaKind {
	if d == nil {
		return transport.MediaNone
	}
	mime := strings.ToLower(strings.TrimSpace(d.MIME))
	animated := mime == "image/gif"
	if d.Animated != nil {
		animated = *d.Animated
	}

	switch strings.ToLower(d.Type) {
	case "photo":
		return transport.MediaPhoto
	case "animation", "gif":
		return transport.MediaAnimation
	case "voice":
		return transport.MediaVoice
	case "audio":
		return transport.MediaAudio
	case "video":
		if animated {
			return transport.MediaAnimation
		}
		return transport.MediaVideo
	case "document":
		switch {
		case animated:
			return transport.MediaAnimation
		case strings.HasPrefix(mime, "video/"):
			return transport.MediaVideo
		case strings.HasPrefix(mime, "audio/"):
			return transport.MediaAudio
		default:
			return transport.MediaDocument
		}
	default:
		return transport.MediaNone
	}
}
