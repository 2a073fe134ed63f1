// Package commands handles the interactive side of the bot: /start with
// deep-link replay, /display, /status and membership changes.
package commands

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"relaybot/internal/ctxcache"
	"relaybot/internal/displaymode"
	"relaybot/internal/relay"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Registry interface {
	Load(ctx context.Context) []int64
	Add(ctx context.Context, id int64) bool
	Remove(ctx context.Context, id int64) bool
}

// StatusSource exposes the last relay record for /status.
type StatusSource interface {
	Last() (relay.Record, bool)
}

type Deps struct {
	Out      transport.Outbound
	Chats    transport.Interactive
	Registry Registry
	Modes    *displaymode.Store
	Cache    *ctxcache.Cache
	Store    storage.Store // optional
	Status   StatusSource  // optional
	Owners   []int64
	Timeout  time.Duration
	Logger   logx.Logger
}

type Router struct {
	out      transport.Outbound
	chats    transport.Interactive
	registry Registry
	modes    *displaymode.Store
	cache    *ctxcache.Cache
	store    storage.Store
	status   StatusSource
	log      logx.Logger
	timeout  time.Duration

	ownersMu sync.RWMutex
	owners   []int64

	// persistMu orders snapshot and save so an older snapshot never lands last.
	persistMu sync.Mutex

	commands map[string]HandlerFunc
}

func New(d Deps) *Router {
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
	r := &Router{
		out:      d.Out,
		chats:    d.Chats,
		registry: d.Registry,
		modes:    d.Modes,
		cache:    d.Cache,
		store:    d.Store,
		status:   d.Status,
		log:      d.Logger.With(logx.String("comp", "commands")),
		timeout:  d.Timeout,
		owners:   slices.Clone(d.Owners),
	}
	r.commands = map[string]HandlerFunc{
		"start":   r.start,
		"display": r.display,
		"status":  r.statusCmd,
	}
	return r
}

// SetOwners replaces the user ids allowed to run owner commands.
func (r *Router) SetOwners(ids []int64) {
	r.ownersMu.Lock()
	r.owners = slices.Clone(ids)
	r.ownersMu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.ownersMu.RLock()
	defer r.ownersMu.RUnlock()
	return id != 0 && slices.Contains(r.owners, id)
}

// Handle routes one interactive update. Relay updates are ignored.
func (r *Router) Handle(ctx context.Context, up transport.Update) error {
	req, h := r.route(up)
	if h == nil {
		return nil
	}
	req.Logger = r.log.With(logx.String("cmd", req.Name), logx.Int64("chat_id", req.Chat.ID))
	return Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(r.timeout),
	)(ctx, req)
}

func (r *Router) route(up transport.Update) (*Request, HandlerFunc) {
	switch up.Kind {
	case transport.UpdateCommand:
		c := up.Command
		if c == nil {
			return nil, nil
		}
		h, ok := r.commands[strings.ToLower(c.Name)]
		if !ok {
			return nil, nil
		}
		return &Request{Update: up, Chat: c.Chat, FromID: c.FromID, Name: c.Name, Args: c.Args}, h
	case transport.UpdateCallback:
		cb := up.Callback
		if cb == nil {
			return nil, nil
		}
		route, payload, _ := strings.Cut(cb.Data, ":")
		if route != displayRoute {
			return nil, nil
		}
		return &Request{Update: up, Chat: cb.Chat, FromID: cb.FromID, Name: route, Args: []string{payload}}, r.displayCallback
	case transport.UpdateMembership:
		m := up.Membership
		if m == nil {
			return nil, nil
		}
		return &Request{Update: up, Chat: m.Chat, FromID: m.ByID, Name: "membership"}, r.membership
	}
	return nil, nil
}

func (r *Router) reply(ctx context.Context, chatID int64, text string, html bool, rows [][]transport.Button) error {
	req := transport.SendRequest{ChatID: chatID, Text: text, Rows: rows, NoPreview: true}
	if html {
		req.ParseMode = transport.ParseModeHTML
	}
	_, err := r.out.Send(ctx, req)
	return err
}

// audit appends e when storage is configured; failures are logged only.
func (r *Router) audit(ctx context.Context, e storage.AuditEntry) {
	if r.store == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if err := r.store.AppendAudit(ctx, e); err != nil {
		r.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

// PersistModes writes the current explicit display modes when storage is configured.
func (r *Router) PersistModes(ctx context.Context) {
	if r.store == nil {
		return
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	snap := r.modes.Snapshot()
	out := make(map[int64]string, len(snap))
	for id, m := range snap {
		out[id] = string(m)
	}
	if err := r.store.SaveModes(ctx, out); err != nil {
		r.log.Warn("display modes not persisted", logx.Err(err))
	}
}
