package transport

import "context"

// MediaKind identifies the media attached to a message.
type MediaKind string

const (
	MediaNone      MediaKind = ""
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaAnimation MediaKind = "animation"
	MediaDocument  MediaKind = "document"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
)

// MediaDescriptor describes media as delivered by the source transport.
//
// Type is the raw container ("photo", "video", "document", "audio", "voice",
// "animation"). Animated is nil when the transport cannot tell.
type MediaDescriptor struct {
	Type     string
	MIME     string
	Animated *bool
	FileID   string
	FileName string
}

// Button is one inline button. URL buttons open a link; Data buttons
// produce a Callback update.
type Button struct {
	Text string
	URL  string
	Data string
}

// InboundMessage is a relay candidate from the source.
type InboundMessage struct {
	ID       int
	ChatID   int64
	SenderID int64
	Text     string
	Media    *MediaDescriptor
	Buttons  []Button
}

// MediaPayload carries either a reusable remote reference or raw bytes.
type MediaPayload struct {
	Ref      string
	Bytes    []byte
	FileName string
}

func (p MediaPayload) Empty() bool { return p.Ref == "" && len(p.Bytes) == 0 }

// SendRequest is one outbound send. With Kind == MediaNone, Text is sent as a
// message; otherwise Text is the caption of Media.
type SendRequest struct {
	ChatID    int64
	Kind      MediaKind
	Text      string
	ParseMode string
	Media     MediaPayload
	Rows      [][]Button
	NoPreview bool
}

// Sent identifies the delivered message and, for media, its reusable reference.
type Sent struct {
	ChatID    int64
	MessageID int
	MediaRef  string
}

// Outbound is the destination transport.
type Outbound interface {
	Send(ctx context.Context, req SendRequest) (Sent, error)
	Delete(ctx context.Context, chatID int64, messageID int) error
	// Identity returns the bot username used to build deep links.
	Identity(ctx context.Context) (string, error)
}

// MediaSource downloads the media attached to an inbound message.
type MediaSource interface {
	Download(ctx context.Context, msg InboundMessage) ([]byte, error)
}

const ParseModeHTML = "HTML"
