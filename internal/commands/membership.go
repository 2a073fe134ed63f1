package commands

import (
	"context"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

const joinWelcome = "Hello! 👋 Thanks for adding me.\n" +
	"I will now forward relevant messages to this group.\n" +
	"Admins can configure the display mode using /display."

// membership keeps the target registry in step with the bot's own group
// membership.
func (r *Router) membership(ctx context.Context, req *Request) error {
	m := req.Update.Membership
	if !m.Chat.Type.IsGroup() {
		return nil
	}
	log := req.Logger.With(logx.String("title", m.Chat.Title), logx.String("old", string(m.Old)), logx.String("new", string(m.New)))

	switch {
	case m.New.Present() && !m.Old.Present():
		if !r.registry.Add(ctx, m.Chat.ID) {
			log.Debug("bot joined a chat that is already a target")
			return nil
		}
		log.Info("bot joined group; added to targets")
		r.audit(ctx, storage.AuditEntry{ActorID: req.FromID, ChatID: m.Chat.ID, Action: storage.ActionJoined, Target: m.Chat.Title, OK: 1})
		if err := r.reply(ctx, m.Chat.ID, joinWelcome, false, nil); err != nil {
			log.Error("welcome message failed", logx.Err(err))
		}
	case m.New.Gone():
		removed := r.registry.Remove(ctx, m.Chat.ID)
		if r.modes.Delete(m.Chat.ID) {
			r.PersistModes(ctx)
		}
		log.Info("bot left group; removed from targets", logx.Bool("was_target", removed))
		r.audit(ctx, storage.AuditEntry{ActorID: req.FromID, ChatID: m.Chat.ID, Action: storage.ActionLeft, Target: m.Chat.Title, OK: 1})
	default:
		log.Debug("membership change ignored")
	}
	return nil
}
