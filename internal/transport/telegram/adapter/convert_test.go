package adapter

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/transport"
)

func TestBoldMarkdown(t *testing.T) {
	t.Parallel()
	bold := func(off, n int) tele.MessageEntity {
		return tele.MessageEntity{Type: tele.EntityBold, Offset: off, Length: n}
	}
	tests := []struct {
		name string
		text string
		ents tele.Entities
		want string
	}{
		{"no entities", "Tweet from alice", nil, "Tweet from alice"},
		{"header", "Tweet from alice", tele.Entities{bold(0, 5), bold(11, 5)}, "**Tweet** from **alice**"},
		{"emoji prefix counts as two units", "📝 Tweet from bob", tele.Entities{bold(3, 5), bold(14, 3)}, "📝 **Tweet** from **bob**"},
		{"non bold ignored", "see link", tele.Entities{{Type: tele.EntityURL, Offset: 4, Length: 4}}, "see link"},
		{"bold at end", "RT x", tele.Entities{bold(3, 1)}, "RT **x**"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := boldMarkdown(tt.text, tt.ents); got != tt.want {
				t.Fatalf("boldMarkdown = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInboundFromCaption(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:              7,
		Chat:            &tele.Chat{ID: -100},
		SenderChat:      &tele.Chat{ID: -100},
		Caption:         "Quote from carol",
		CaptionEntities: tele.Entities{{Type: tele.EntityBold, Offset: 11, Length: 5}},
		Photo:           &tele.Photo{File: tele.File{FileID: "p1"}},
		ReplyMarkup: &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{
			{{Text: "View Tweet", URL: "https://x.com/c/status/9"}, {Text: "cb", Data: "x"}},
		}},
	}
	got := inboundFrom(m)
	if got.Text != "Quote from **carol**" || got.ChatID != -100 || got.SenderID != -100 {
		t.Fatalf("inboundFrom = %+v", got)
	}
	if got.Media == nil || got.Media.Type != "photo" || got.Media.FileID != "p1" {
		t.Fatalf("media = %+v", got.Media)
	}
	if len(got.Buttons) != 1 || got.Buttons[0].URL != "https://x.com/c/status/9" {
		t.Fatalf("buttons = %+v", got.Buttons)
	}
}

func TestMediaOfAnimationIsFlagged(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		Animation: &tele.Animation{File: tele.File{FileID: "a1"}, MIME: "video/mp4"},
		Document:  &tele.Document{File: tele.File{FileID: "d1"}},
	}
	d := mediaOf(m)
	if d == nil || d.Type != "animation" || d.Animated == nil || !*d.Animated || d.FileID != "a1" {
		t.Fatalf("mediaOf = %+v", d)
	}
	if mediaOf(&tele.Message{Text: "x"}) != nil {
		t.Fatal("text message has no media")
	}
}

func TestSendError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		kind     transport.ErrorKind
		migrated int64
	}{
		{"migrated", fmt.Errorf("wrapped: %w", tele.GroupError{MigratedTo: -100200}), transport.KindMigrated, -100200},
		{"blocked", tele.ErrBlockedByUser, transport.KindPermanent, 0},
		{"kicked", tele.NewError(403, "Forbidden: bot was kicked from the group chat"), transport.KindPermanent, 0},
		{"chat not found", tele.NewError(400, "Bad Request: chat not found"), transport.KindPermanent, 0},
		{"flood", tele.NewError(429, "Too Many Requests: retry after 5"), transport.KindOther, 0},
		{"network", errors.New("dial tcp: timeout"), transport.KindOther, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			kind, se := transport.Classify(sendError(42, tt.err))
			if kind != tt.kind {
				t.Fatalf("kind = %v, want %v", kind, tt.kind)
			}
			if se == nil || se.ChatID != 42 || se.MigratedTo != tt.migrated {
				t.Fatalf("SendError = %+v", se)
			}
			if !errors.Is(se, tt.err) {
				t.Fatal("original error must stay in the chain")
			}
		})
	}
	if sendError(1, nil) != nil {
		t.Fatal("nil error must stay nil")
	}
}

func TestMarkup(t *testing.T) {
	t.Parallel()
	if markup(nil) != nil {
		t.Fatal("no rows must produce no markup")
	}
	rm := markup([][]transport.Button{
		{{Text: "Open", URL: "https://x.com"}},
		{{Text: "Full", Data: "display:full"}, {Text: "Cancel", Data: "display:cancel"}},
	})
	if len(rm.InlineKeyboard) != 2 || len(rm.InlineKeyboard[1]) != 2 {
		t.Fatalf("keyboard = %+v", rm.InlineKeyboard)
	}
	if rm.InlineKeyboard[0][0].URL != "https://x.com" || rm.InlineKeyboard[1][0].Data != "display:full" {
		t.Fatalf("keyboard = %+v", rm.InlineKeyboard)
	}
}

func TestMediaValue(t *testing.T) {
	t.Parallel()
	v, err := mediaValue(transport.MediaPhoto, transport.MediaPayload{Ref: "f1"}, "cap")
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := v.(*tele.Photo); !ok || p.FileID != "f1" || p.Caption != "cap" {
		t.Fatalf("mediaValue = %#v", v)
	}
	v, err = mediaValue(transport.MediaDocument, transport.MediaPayload{Bytes: []byte("x"), FileName: "a.pdf"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if d, ok := v.(*tele.Document); !ok || d.FileReader == nil || d.FileName != "a.pdf" {
		t.Fatalf("mediaValue = %#v", v)
	}
	if _, err := mediaValue("sticker", transport.MediaPayload{Ref: "s"}, ""); err == nil {
		t.Fatal("unsupported kind must fail")
	}
}

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	if got := splitTelegramText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("split = %q", got)
	}
	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitTelegramText(long, 10, "")
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("split = %q", got)
	}
	got = splitTelegramText("abcdef<b>x</b>", 8, "HTML")
	if got[0] != "abcdef" {
		t.Fatalf("split inside tag: %q", got)
	}
}
