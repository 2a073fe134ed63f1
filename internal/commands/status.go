package commands

import (
	"context"
	"fmt"
	"time"

	"relaybot/internal/displaymode"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

// statusCmd reports relay health to bot owners. Others get no answer.
func (r *Router) statusCmd(ctx context.Context, req *Request) error {
	if !r.isOwner(req.FromID) {
		req.Logger.Debug("status denied", logx.Int64("user_id", req.FromID))
		return nil
	}
	return r.reply(ctx, req.Chat.ID, r.statusText(ctx, time.Now()), true, nil)
}

func (r *Router) statusText(ctx context.Context, now time.Time) string {
	targets := r.registry.Load(ctx)
	condensed := 0
	for _, id := range targets {
		if r.currentMode(id) == displaymode.Condensed {
			condensed++
		}
	}
	lines := []tgui.H{
		tgui.B("Relay status"),
		tgui.Raw(fmt.Sprintf("Targets: %d (%d condensed)", len(targets), condensed)),
		tgui.Raw(fmt.Sprintf("Cached contexts: %d", r.cache.Len())),
	}

	if r.status != nil {
		if rec, ok := r.status.Last(); ok {
			s := rec.Summary
			lines = append(lines,
				tgui.Join(" ", tgui.Raw("Last relay:"), tgui.Esc(now.Sub(rec.At).Truncate(time.Second).String()+" ago"), tgui.Code(rec.ContextID)),
				tgui.Raw(fmt.Sprintf("Sent %d/%d, failed %d, migrated %d, removed %d in %s",
					s.Succeeded, s.Attempted, s.Failed, s.Migrated, s.Removed, s.Took.Truncate(time.Millisecond))),
			)
		} else {
			lines = append(lines, tgui.I("No messages relayed yet."))
		}
	}
	return tgui.Join("\n", lines...).String()
}
