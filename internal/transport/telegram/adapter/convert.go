package adapter

import (
	"strings"
	"unicode/utf16"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/transport"
)

func inboundFrom(m *tele.Message) transport.InboundMessage {
	text, ents := m.Text, m.Entities
	if text == "" {
		text, ents = m.Caption, m.CaptionEntities
	}
	msg := transport.InboundMessage{
		ID:      m.ID,
		Text:    boldMarkdown(text, ents),
		Media:   mediaOf(m),
		Buttons: buttonsOf(m.ReplyMarkup),
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	switch {
	case m.Sender != nil:
		msg.SenderID = m.Sender.ID
	case m.SenderChat != nil:
		msg.SenderID = m.SenderChat.ID
	}
	return msg
}

// boldMarkdown wraps bold entities in "**" markers. Entity offsets are in
// UTF-16 code units.
func boldMarkdown(text string, ents tele.Entities) string {
	opens := map[int]int{}
	closes := map[int]int{}
	for _, e := range ents {
		if e.Type != tele.EntityBold || e.Length <= 0 {
			continue
		}
		opens[e.Offset]++
		closes[e.Offset+e.Length]++
	}
	if len(opens) == 0 {
		return text
	}

	units := utf16.Encode([]rune(text))
	out := make([]uint16, 0, len(units)+4*len(opens))
	marker := func(n int) {
		for ; n > 0; n-- {
			out = append(out, '*', '*')
		}
	}
	for i := 0; i <= len(units); i++ {
		marker(closes[i])
		if i == len(units) {
			break
		}
		marker(opens[i])
		out = append(out, units[i])
	}
	return string(utf16.Decode(out))
}

func buttonsOf(rm *tele.ReplyMarkup) []transport.Button {
	if rm == nil {
		return nil
	}
	var out []transport.Button
	for _, row := range rm.InlineKeyboard {
		for _, b := range row {
			if b.URL == "" {
				continue
			}
			out = append(out, transport.Button{Text: b.Text, URL: b.URL})
		}
	}
	return out
}

func mediaOf(m *tele.Message) *transport.MediaDescriptor {
	animated := true
	switch {
	case m.Animation != nil:
		return &transport.MediaDescriptor{Type: "animation", MIME: m.Animation.MIME, Animated: &animated, FileID: m.Animation.FileID, FileName: m.Animation.FileName}
	case m.Photo != nil:
		return &transport.MediaDescriptor{Type: "photo", MIME: "image/jpeg", FileID: m.Photo.FileID}
	case m.Video != nil:
		return &transport.MediaDescriptor{Type: "video", MIME: m.Video.MIME, FileID: m.Video.FileID, FileName: m.Video.FileName}
	case m.Document != nil:
		return &transport.MediaDescriptor{Type: "document", MIME: m.Document.MIME, FileID: m.Document.FileID, FileName: m.Document.FileName}
	case m.Audio != nil:
		return &transport.MediaDescriptor{Type: "audio", MIME: m.Audio.MIME, FileID: m.Audio.FileID, FileName: m.Audio.FileName}
	case m.Voice != nil:
		return &transport.MediaDescriptor{Type: "voice", MIME: m.Voice.MIME, FileID: m.Voice.FileID}
	}
	return nil
}

func chatOf(c *tele.Chat) transport.Chat {
	if c == nil {
		return transport.Chat{}
	}
	title := c.Title
	if title == "" {
		title = strings.TrimSpace(c.FirstName + " " + c.LastName)
	}
	return transport.Chat{ID: c.ID, Type: transport.ChatType(c.Type), Title: title}
}

func displayName(u *tele.User) string {
	if n := strings.TrimSpace(u.FirstName + " " + u.LastName); n != "" {
		return n
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return ""
}

// splitTelegramText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries and (best-effort) avoids splitting inside HTML tags when ParseMode is HTML.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
