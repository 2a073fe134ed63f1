package commands

import (
	"context"

	"relaybot/internal/displaymode"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

const (
	displayRoute  = "display"
	displayCancel = "cancel"
)

func (r *Router) display(ctx context.Context, req *Request) error {
	if !req.Chat.Type.IsGroup() {
		return r.reply(ctx, req.Chat.ID, "This command can only be used in group chats.", false, nil)
	}
	if !r.groupAdmin(ctx, req) {
		req.Logger.Warn("display denied: not an admin", logx.Int64("user_id", req.FromID))
		return r.reply(ctx, req.Chat.ID, "Only group admins or the owner can change the bot's display mode for this group.", false, nil)
	}

	current := r.currentMode(req.Chat.ID)
	title := req.Chat.Title
	if title == "" {
		title = "this group"
	}
	text := tgui.Join("\n\n",
		tgui.Join("", tgui.Raw("⚙️ Group Display Mode for '"), tgui.Esc(title), tgui.Raw("'")),
		tgui.Join(" ", tgui.Raw("Current Mode:"), tgui.B(current.Label())),
		tgui.Raw("Choose the desired display mode for forwarded messages:"),
	)
	return r.reply(ctx, req.Chat.ID, text.String(), true, displayKeyboard(current))
}

func displayKeyboard(current displaymode.Mode) [][]transport.Button {
	rows := make([][]transport.Button, 0, 3)
	for _, m := range []displaymode.Mode{displaymode.Full, displaymode.Condensed} {
		label := m.Label()
		if m == current {
			label = "✅ " + label
		}
		rows = append(rows, []transport.Button{{Text: label, Data: displayRoute + ":" + string(m)}})
	}
	return append(rows, []transport.Button{{Text: "Cancel", Data: displayRoute + ":" + displayCancel}})
}

// currentMode maps unrecognized stored values to the Full default.
func (r *Router) currentMode(chatID int64) displaymode.Mode {
	m := r.modes.Get(chatID)
	if !m.Valid() {
		return displaymode.Full
	}
	return m
}

func (r *Router) displayCallback(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	if err := r.chats.AnswerCallback(ctx, cb.ID, ""); err != nil {
		req.Logger.Debug("callback answer failed", logx.Err(err))
	}
	edit := func(text string, html bool) error {
		mode := ""
		if html {
			mode = transport.ParseModeHTML
		}
		return r.chats.Edit(ctx, req.Chat.ID, cb.MessageID, text, mode, nil)
	}

	if !req.Chat.Type.IsGroup() {
		return edit("Error: This action must be performed within the group chat.", false)
	}
	if !r.groupAdmin(ctx, req) {
		req.Logger.Warn("display callback denied: not an admin", logx.Int64("user_id", req.FromID))
		return edit("Error: You are no longer an admin or the owner in this group.", false)
	}

	payload := ""
	if len(req.Args) > 0 {
		payload = req.Args[0]
	}
	if payload == displayCancel {
		req.Logger.Info("display change cancelled", logx.Int64("user_id", req.FromID))
		return edit("Display mode configuration cancelled.", false)
	}
	mode, ok := displaymode.Parse(payload)
	if !ok {
		req.Logger.Warn("invalid display mode in callback", logx.String("payload", payload))
		return edit("❌ Error: Invalid display mode data received.", false)
	}

	r.modes.Set(req.Chat.ID, mode)
	r.PersistModes(ctx)
	r.audit(ctx, storage.AuditEntry{ActorID: req.FromID, ChatID: req.Chat.ID, Action: storage.ActionSetMode, Target: string(mode), OK: 1})
	req.Logger.Info("display mode set", logx.Int64("user_id", req.FromID), logx.String("mode", string(mode)))

	text := tgui.Join("\n", tgui.Raw("✅ Display Mode Updated!"), tgui.Join(" ", tgui.Raw("Mode set to:"), tgui.B(mode.Label())))
	return edit(text.String(), true)
}

// groupAdmin treats lookup failures as "not an admin".
func (r *Router) groupAdmin(ctx context.Context, req *Request) bool {
	ok, err := r.chats.IsAdmin(ctx, req.Chat.ID, req.FromID)
	if err != nil {
		req.Logger.Error("admin check failed", logx.Int64("user_id", req.FromID), logx.Err(err))
		return false
	}
	return ok
}
