package relay

import (
	"context"
	"fmt"
	"runtime/debug"

	"relaybot/internal/ctxcache"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// MediaResult is what full-mode jobs attach. Kind is MediaNone when media
// could not be obtained; Bytes is set only when no reusable reference exists.
type MediaResult struct {
	Kind  transport.MediaKind
	Ref   string
	Bytes []byte
	Name  string
}

// Payload returns a per-job media payload. Raw bytes are copied so concurrent
// sends never share a buffer.
func (r MediaResult) Payload() transport.MediaPayload {
	p := transport.MediaPayload{Ref: r.Ref, FileName: r.Name}
	if r.Ref == "" && len(r.Bytes) > 0 {
		p.Bytes = append([]byte(nil), r.Bytes...)
	}
	return p
}

// MediaResolver turns source media into a reference reusable across chats.
type MediaResolver struct {
	source transport.MediaSource
	out    transport.Outbound
	cache  *ctxcache.Cache
	log    logx.Logger
}

func NewMediaResolver(source transport.MediaSource, out transport.Outbound, cache *ctxcache.Cache, log logx.Logger) *MediaResolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &MediaResolver{source: source, out: out, cache: cache, log: log}
}

// Resolve downloads the media once and uploads it once to representative to
// mint a reference, then removes that upload. Failures downgrade to MediaNone
// and are never returned.
func (m *MediaResolver) Resolve(ctx context.Context, a Analysis, msg transport.InboundMessage, contextID string, representative int64) (res MediaResult) {
	if a.MediaKind == transport.MediaNone {
		return MediaResult{}
	}
	log := m.log.With(logx.String("kind", string(a.MediaKind)), logx.Int64("representative", representative))
	defer func() {
		if r := recover(); r != nil {
			log.Error("media resolve panicked; sending text only", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			res = MediaResult{}
		}
	}()

	data, err := m.source.Download(ctx, msg)
	if err == nil && len(data) == 0 {
		err = transport.ErrEmptyMedia
	}
	if err != nil {
		log.Warn("media download failed; sending text only", logx.Err(err))
		return MediaResult{}
	}
	name := ""
	if msg.Media != nil {
		name = msg.Media.FileName
	}

	sent, err := m.out.Send(ctx, transport.SendRequest{
		ChatID: representative,
		Kind:   a.MediaKind,
		Media:  transport.MediaPayload{Bytes: data, FileName: name},
	})
	if err != nil {
		log.Warn("media upload failed; sending text only", logx.Err(err), logx.Int("bytes", len(data)))
		return MediaResult{}
	}
	if sent.ChatID == 0 {
		sent.ChatID = representative
	}
	defer m.discardUpload(ctx, log, sent)

	if sent.MediaRef == "" {
		log.Warn("upload returned no media reference; falling back to raw bytes", logx.Int("bytes", len(data)))
		return MediaResult{Kind: a.MediaKind, Bytes: data, Name: name}
	}
	if !m.cache.AttachMedia(contextID, a.MediaKind, sent.MediaRef) {
		log.Debug("context expired before media reference was attached", logx.String("context_id", contextID))
	}
	log.Debug("media reference resolved", logx.Int("bytes", len(data)))
	return MediaResult{Kind: a.MediaKind, Ref: sent.MediaRef}
}

func (m *MediaResolver) discardUpload(ctx context.Context, log logx.Logger, sent transport.Sent) {
	if sent.MessageID == 0 {
		return
	}
	if err := m.out.Delete(ctx, sent.ChatID, sent.MessageID); err != nil {
		log.Warn("temporary upload not deleted", logx.Int("message_id", sent.MessageID), logx.Err(fmt.Errorf("delete: %w", err)))
	}
}
