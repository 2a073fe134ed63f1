package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const (
	telegramTextLimit    = 4000
	telegramCaptionLimit = 1024
	// Bot API refuses downloads above 20 MB.
	maxDownloadBytes = 20 << 20
)

// Send delivers req. Captions over the Telegram limit are sent as a follow-up
// text message carrying the keyboard; long texts are split with the keyboard on
// the last chunk.
func (a *Adapter) Send(ctx context.Context, req transport.SendRequest) (transport.Sent, error) {
	if err := ctx.Err(); err != nil {
		return transport.Sent{}, err
	}
	chat := &tele.Chat{ID: req.ChatID}
	opts := &tele.SendOptions{
		ParseMode:             tele.ParseMode(req.ParseMode),
		ReplyMarkup:           markup(req.Rows),
		DisableWebPagePreview: req.NoPreview,
	}

	if req.Kind == transport.MediaNone {
		return a.sendText(ctx, chat, req.Text, opts)
	}
	if req.Media.Empty() {
		return transport.Sent{}, transport.ErrEmptyMedia
	}

	caption, overflow := req.Text, ""
	mopts := opts
	if utf8.RuneCountInString(caption) > telegramCaptionLimit {
		caption, overflow = "", req.Text
		mopts = &tele.SendOptions{ParseMode: opts.ParseMode}
	}
	what, err := mediaValue(req.Kind, req.Media, caption)
	if err != nil {
		return transport.Sent{}, err
	}
	m, err := a.bot.Send(chat, what, mopts)
	if err != nil {
		return transport.Sent{}, sendError(req.ChatID, err)
	}
	sent := transport.Sent{ChatID: req.ChatID, MessageID: m.ID, MediaRef: mediaRef(m)}
	if overflow != "" {
		if _, err := a.sendText(ctx, chat, overflow, opts); err != nil {
			a.log.Warn("caption follow-up failed", logx.Int64("chat_id", req.ChatID), logx.Err(err))
		}
	}
	return sent, nil
}

func (a *Adapter) sendText(ctx context.Context, chat *tele.Chat, text string, opts *tele.SendOptions) (transport.Sent, error) {
	chunks := splitTelegramText(text, telegramTextLimit, string(opts.ParseMode))
	var first transport.Sent
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		o := opts
		if i < len(chunks)-1 {
			o = &tele.SendOptions{ParseMode: opts.ParseMode, DisableWebPagePreview: opts.DisableWebPagePreview}
		}
		m, err := a.bot.Send(chat, chunk, o)
		if err != nil {
			return first, sendError(chat.ID, err)
		}
		if i == 0 {
			first = transport.Sent{ChatID: chat.ID, MessageID: m.ID}
		}
	}
	return first, nil
}

func (a *Adapter) Delete(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Delete(&tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID})
}

// Identity returns the bot username resolved by getMe at startup.
func (a *Adapter) Identity(ctx context.Context) (string, error) {
	if a.bot.Me == nil || a.bot.Me.Username == "" {
		return "", errors.New("telegram: bot username unknown")
	}
	return a.bot.Me.Username, nil
}

// Download fetches the file referenced by msg.Media.
func (a *Adapter) Download(ctx context.Context, msg transport.InboundMessage) ([]byte, error) {
	if msg.Media == nil || msg.Media.FileID == "" {
		return nil, errors.New("telegram: message has no downloadable media")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := a.bot.File(&tele.File{FileID: msg.Media.FileID})
	if err != nil {
		return nil, fmt.Errorf("telegram: get file: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("telegram: read file: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("telegram: file exceeds %d bytes", maxDownloadBytes)
	}
	return data, nil
}

func (a *Adapter) Edit(ctx context.Context, chatID int64, messageID int, text, parseMode string, rows [][]transport.Button) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Edit(
		&tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID},
		text,
		&tele.SendOptions{ParseMode: tele.ParseMode(parseMode), ReplyMarkup: markup(rows)},
	)
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// IsAdmin reports whether userID administers or owns chatID.
func (a *Adapter) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return false, err
	}
	return m.Role == tele.Administrator || m.Role == tele.Creator, nil
}

// SendLog implements logx.TextSender.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

func mediaValue(kind transport.MediaKind, p transport.MediaPayload, caption string) (tele.Sendable, error) {
	file := tele.File{FileID: p.Ref}
	if p.Ref == "" {
		file = tele.FromReader(bytes.NewReader(p.Bytes))
	}
	switch kind {
	case transport.MediaPhoto:
		return &tele.Photo{File: file, Caption: caption}, nil
	case transport.MediaVideo:
		return &tele.Video{File: file, Caption: caption, FileName: p.FileName}, nil
	case transport.MediaAnimation:
		return &tele.Animation{File: file, Caption: caption, FileName: p.FileName}, nil
	case transport.MediaDocument:
		return &tele.Document{File: file, Caption: caption, FileName: p.FileName}, nil
	case transport.MediaAudio:
		return &tele.Audio{File: file, Caption: caption, FileName: p.FileName}, nil
	case transport.MediaVoice:
		return &tele.Voice{File: file, Caption: caption}, nil
	}
	return nil, fmt.Errorf("telegram: unsupported media kind %q", kind)
}

// mediaRef returns the reusable file id of the media in a sent message.
func mediaRef(m *tele.Message) string {
	if m == nil {
		return ""
	}
	switch {
	case m.Animation != nil:
		return m.Animation.FileID
	case m.Photo != nil:
		return m.Photo.FileID
	case m.Video != nil:
		return m.Video.FileID
	case m.Document != nil:
		return m.Document.FileID
	case m.Audio != nil:
		return m.Audio.FileID
	case m.Voice != nil:
		return m.Voice.FileID
	}
	return ""
}

func markup(rows [][]transport.Button) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	for _, r := range rows {
		row := make([]tele.InlineButton, 0, len(r))
		for _, b := range r {
			row = append(row, tele.InlineButton{Text: b.Text, URL: b.URL, Data: b.Data})
		}
		rm.InlineKeyboard = append(rm.InlineKeyboard, row)
	}
	return rm
}

// groupMigrated is used when the migration error carries no description.
const groupMigrated = "group chat was upgraded to a supergroup chat"

// sendError maps telebot errors onto *transport.SendError.
func sendError(chatID int64, err error) error {
	if err == nil {
		return nil
	}
	var ge tele.GroupError
	if errors.As(err, &ge) {
		return &transport.SendError{Kind: transport.KindMigrated, ChatID: chatID, MigratedTo: ge.MigratedTo, Description: groupMigrated, Err: err}
	}
	desc := err.Error()
	var te *tele.Error
	if errors.As(err, &te) && te.Description != "" {
		desc = te.Description
	}
	kind := transport.KindOther
	if transport.IsPermanentDescription(desc) {
		kind = transport.KindPermanent
	}
	return &transport.SendError{Kind: kind, ChatID: chatID, Description: desc, Err: err}
}
