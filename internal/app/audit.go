package app

import (
	"context"
	"encoding/json"

	"relaybot/internal/relay"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// auditRecorder writes one audit row per relayed message.
type auditRecorder struct {
	store storage.Store
	log   logx.Logger
}

func (r auditRecorder) RecordDispatch(ctx context.Context, rec relay.Record) {
	if r.store == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"action":    string(rec.Action),
		"username":  rec.Username,
		"media":     string(rec.MediaKind),
		"condensed": rec.Condensed,
		"full":      rec.Full,
		"migrated":  rec.Summary.Migrated,
		"removed":   rec.Summary.Removed,
	})
	e := storage.AuditEntry{
		At:     rec.At,
		Action: storage.ActionRelay,
		Target: rec.ContextID,
		OK:     rec.Summary.Succeeded,
		Fail:   rec.Summary.Failed,
		TookMS: rec.Summary.Took.Milliseconds(),
		Meta:   string(meta),
	}
	if err := r.store.AppendAudit(ctx, e); err != nil {
		r.log.Warn("relay audit write failed", logx.String("context_id", rec.ContextID), logx.Err(err))
	}
}
