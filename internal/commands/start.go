package commands

import (
	"context"
	"fmt"

	"relaybot/internal/relay"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

const (
	replayOK = "Original message context displayed above.\n\n" +
		"➡️ Ready to deploy a token based on this context?"
	replayMissing = "Sorry, the context for that deployment link could not be retrieved " +
		"(it might have expired or there was an error).\n" +
		"You can start a new deployment manually if needed."
	mediaNotResent = "(Media content could not be resent)"
)

func (r *Router) start(ctx context.Context, req *Request) error {
	name := "there"
	if c := req.Update.Command; c != nil && c.FromName != "" {
		name = c.FromName
	}
	if len(req.Args) == 0 {
		return r.reply(ctx, req.Chat.ID, welcome(name, ""), true, nil)
	}
	if id, ok := relay.ParseDeployPayload(req.Args[0]); ok {
		return r.replay(ctx, req, id)
	}
	req.Logger.Warn("unknown start payload", logx.String("payload", req.Args[0]))
	return r.reply(ctx, req.Chat.ID, welcome(name, req.Args[0]), true, nil)
}

func welcome(name, unknownPayload string) string {
	head := tgui.Join("", tgui.Raw("Welcome, "), tgui.B(name), tgui.Raw("!"))
	if unknownPayload != "" {
		head = tgui.Join(" ", head, tgui.Raw("I received an unknown start parameter:"), tgui.Code(unknownPayload))
	}
	return tgui.Join("\n\n",
		head,
		tgui.Raw("I forward relevant posts to the groups I'm in and prepare deployment contexts."),
		tgui.Raw("Add me to a group to start receiving posts; group admins can pick a display mode with /display."),
	).String()
}

// replay resends a cached message context once, then tells the user how it went.
func (r *Router) replay(ctx context.Context, req *Request, contextID string) error {
	log := req.Logger.With(logx.String("context_id", contextID))
	e, ok := r.cache.TakeAndRemove(contextID)
	if !ok {
		log.Info("deep link context missing or expired")
		r.audit(ctx, storage.AuditEntry{ActorID: req.FromID, ChatID: req.Chat.ID, Action: storage.ActionReplayMiss, Target: contextID})
		return r.reply(ctx, req.Chat.ID, replayMissing, false, nil)
	}

	send := transport.SendRequest{ChatID: req.Chat.ID, Text: e.Text}
	switch {
	case e.MediaKind != transport.MediaNone && e.MediaRef != "":
		send.Kind = e.MediaKind
		send.Media = transport.MediaPayload{Ref: e.MediaRef}
	case e.Text == "":
		send.Text = mediaNotResent
	}

	if _, err := r.out.Send(ctx, send); err != nil {
		log.Warn("deep link replay failed", logx.String("media", string(send.Kind)), logx.Err(err))
		r.audit(ctx, storage.AuditEntry{ActorID: req.FromID, ChatID: req.Chat.ID, Action: storage.ActionReplay, Target: contextID, Fail: 1, Error: err.Error()})
		if rerr := r.reply(ctx, req.Chat.ID, replayMissing, false, nil); rerr != nil {
			return fmt.Errorf("replay failed (%v), notice failed: %w", err, rerr)
		}
		return nil
	}
	log.Info("deep link context replayed", logx.String("media", string(send.Kind)))
	r.audit(ctx, storage.AuditEntry{ActorID: req.FromID, ChatID: req.Chat.ID, Action: storage.ActionReplay, Target: contextID, OK: 1})
	return r.reply(ctx, req.Chat.ID, replayOK, false, nil)
}
