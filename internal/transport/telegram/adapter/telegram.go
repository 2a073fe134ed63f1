package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration

	// SourceChatID is the chat whose posts are relayed. SourceSenderID, when
	// set, further restricts relaying to one sender (user or sender chat).
	SourceChatID   int64
	SourceSenderID int64
}

// Adapter connects the bot to Telegram through telebot long polling. It is
// both the outbound transport and the media source for relayed posts.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- transport.Update)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop, the drop reporter and the stop watcher.
	sup *rtsup.Supervisor

	sourceChat   atomic.Int64
	sourceSender atomic.Int64

	droppedUpdates atomic.Uint64
}

var _ transport.Outbound = (*Adapter)(nil)
var _ transport.MediaSource = (*Adapter)(nil)
var _ transport.Interactive = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token: cfg.Token,
		Poller: &tele.LongPoller{
			Timeout:        timeout,
			AllowedUpdates: []string{"message", "channel_post", "callback_query", "my_chat_member"},
		},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.SetSource(cfg.SourceChatID, cfg.SourceSenderID)
	a.registerHandlers()
	return a, nil
}

// SetSource changes the relayed chat and optional sender filter.
func (a *Adapter) SetSource(chatID, senderID int64) {
	a.sourceChat.Store(chatID)
	a.sourceSender.Store(senderID)
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	post := func(c tele.Context) error {
		m := c.Message()
		if m == nil || !a.fromSource(m) {
			return nil
		}
		msg := inboundFrom(m)
		a.sendUpdate(transport.Update{Kind: transport.UpdateRelay, Relay: &msg}, true)
		return nil
	}
	a.bot.Handle(tele.OnChannelPost, post)
	a.bot.Handle(tele.OnText, post)
	a.bot.Handle(tele.OnMedia, post)

	for _, name := range []string{"start", "display", "status"} {
		a.bot.Handle("/"+name, func(c tele.Context) error {
			m := c.Message()
			if m == nil {
				return nil
			}
			cmd := &transport.Command{
				Chat:      chatOf(m.Chat),
				MessageID: m.ID,
				Name:      name,
				Args:      c.Args(),
			}
			if m.Sender != nil {
				cmd.FromID = m.Sender.ID
				cmd.FromName = displayName(m.Sender)
			}
			a.sendUpdate(transport.Update{Kind: transport.UpdateCommand, Command: cmd}, false)
			return nil
		})
	}

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil || cb.Message == nil {
			return nil
		}
		up := &transport.Callback{
			ID:        cb.ID,
			Chat:      chatOf(cb.Message.Chat),
			MessageID: cb.Message.ID,
			Data:      cb.Data,
		}
		if cb.Sender != nil {
			up.FromID = cb.Sender.ID
		}
		a.sendUpdate(transport.Update{Kind: transport.UpdateCallback, Callback: up}, false)
		return nil
	})

	a.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		u := c.ChatMember()
		if u == nil || u.NewChatMember == nil {
			return nil
		}
		mb := &transport.Membership{
			Chat: chatOf(u.Chat),
			New:  transport.MemberStatus(u.NewChatMember.Role),
		}
		if u.OldChatMember != nil {
			mb.Old = transport.MemberStatus(u.OldChatMember.Role)
		}
		if u.Sender != nil {
			mb.ByID = u.Sender.ID
		}
		a.sendUpdate(transport.Update{Kind: transport.UpdateMembership, Membership: mb}, false)
		return nil
	})
}

func (a *Adapter) fromSource(m *tele.Message) bool {
	if m.Chat == nil || m.Chat.ID != a.sourceChat.Load() {
		return false
	}
	want := a.sourceSender.Load()
	if want == 0 {
		return true
	}
	if m.Sender != nil && m.Sender.ID == want {
		return true
	}
	return m.SenderChat != nil && m.SenderChat.ID == want
}

// sendUpdate forwards up to the consumer. Relay posts wait for room so none
// are lost; interactive updates are dropped when the consumer is behind.
func (a *Adapter) sendUpdate(up transport.Update, wait bool) {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return
	}
	if wait {
		if sup := a.Supervisor(); sup != nil {
			select {
			case out <- up:
			case <-sup.Context().Done():
			}
			return
		}
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.droppedUpdates.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Start blocks until Stop; restart it if it returns while still running.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started", logx.String("bot", a.bot.Me.Username), logx.Int64("source_chat", a.sourceChat.Load()))
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", a.droppedUpdates.Load()))
	sup.Cancel()
	go a.bot.Stop()

	// Keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}
