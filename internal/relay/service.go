package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"relaybot/internal/ctxcache"
	"relaybot/internal/displaymode"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// ErrNoIdentity means the bot username needed for deep links is unavailable.
var ErrNoIdentity = errors.New("bot identity unavailable")

// Recorder receives one summary per relayed message.
type Recorder interface {
	RecordDispatch(ctx context.Context, rec Record)
}

// Record describes one relayed message for auditing.
type Record struct {
	At        time.Time
	ContextID string
	Action    Action
	Username  string
	MediaKind transport.MediaKind
	Condensed int
	Full      int
	Summary   Summary
}

type Deps struct {
	Analyzer  *Analyzer
	Formatter Formatter
	Engine    *Engine
	Media     *MediaResolver
	Registry  Registry
	Cache     *ctxcache.Cache
	Outbound  transport.Outbound
	Recorder  Recorder
	Logger    logx.Logger
}

// Service is the relay entry point. Handle processes one message at a time.
type Service struct {
	analyzer  *Analyzer
	formatter Formatter
	engine    *Engine
	media     *MediaResolver
	registry  Registry
	cache     *ctxcache.Cache
	out       transport.Outbound
	rec       Recorder
	log       logx.Logger

	handleMu sync.Mutex

	identMu  sync.Mutex
	identity string

	lastMu sync.Mutex
	last   *Record
}

func NewService(d Deps) *Service {
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	return &Service{
		analyzer:  d.Analyzer,
		formatter: d.Formatter,
		engine:    d.Engine,
		media:     d.Media,
		registry:  d.Registry,
		cache:     d.Cache,
		out:       d.Outbound,
		rec:       d.Recorder,
		log:       d.Logger,
	}
}

func (s *Service) Analyzer() *Analyzer { return s.analyzer }
func (s *Service) Engine() *Engine     { return s.engine }

// SetFormatter swaps the formatter between messages.
func (s *Service) SetFormatter(f Formatter) {
	s.handleMu.Lock()
	s.formatter = f
	s.handleMu.Unlock()
}

// Last returns the most recent relay record.
func (s *Service) Last() (Record, bool) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if s.last == nil {
		return Record{}, false
	}
	return *s.last, true
}

// Handle relays msg to every registered destination. Per-destination failures
// are contained in the returned Summary; only a missing bot identity is an
// error. Messages without the required button are skipped silently.
func (s *Service) Handle(ctx context.Context, msg transport.InboundMessage) (Summary, error) {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	if n := s.cache.Sweep(); n > 0 {
		s.log.Debug("context cache swept", logx.Int("expired", n))
	}

	a, ok := s.analyzer.Analyze(msg)
	if !ok {
		s.log.Debug("message skipped: no relay button", logx.Int("message_id", msg.ID), logx.Int64("chat_id", msg.ChatID))
		return Summary{}, nil
	}
	log := s.log.With(logx.Int("message_id", msg.ID), logx.String("action", a.Action.label()))

	targets := s.registry.Load(ctx)
	if len(targets) == 0 {
		log.Info("no target chats registered; message dropped")
		return Summary{}, nil
	}

	bot, err := s.botIdentity(ctx)
	if err != nil {
		return Summary{}, err
	}

	contextID := ctxcache.NewID()
	s.cache.Put(contextID, ctxcache.Entry{Text: msg.Text, MediaKind: a.MediaKind})
	rows := s.formatter.Controls(a, s.analyzer.ButtonText(), DeepLink(bot, contextID))

	condensed, full := s.engine.Partition(targets)
	batch := s.engine.NewBatch(ctx)

	if len(condensed) > 0 {
		p := s.formatter.Condensed(a, rows)
		req := transport.SendRequest{Text: p.Text, ParseMode: transport.ParseModeHTML, Rows: p.Rows}
		batch.Launch(jobsFor(condensed, displaymode.Condensed, func() transport.SendRequest { return req })...)
	}

	if len(full) > 0 {
		var media MediaResult
		if a.MediaKind != transport.MediaNone {
			media = s.media.Resolve(ctx, a, msg, contextID, full[0])
		}
		p := s.formatter.Full(a, rows)
		batch.Launch(jobsFor(full, displaymode.Full, func() transport.SendRequest {
			return transport.SendRequest{
				Kind:      media.Kind,
				Text:      p.Text,
				ParseMode: transport.ParseModeHTML,
				Media:     media.Payload(),
				Rows:      p.Rows,
			}
		})...)
	}

	sum := batch.Wait()
	fields := []logx.Field{
		logx.String("context_id", contextID),
		logx.Int("attempted", sum.Attempted),
		logx.Int("succeeded", sum.Succeeded),
		logx.Int("failed", sum.Failed),
		logx.Int("condensed", len(condensed)),
		logx.Int("full", len(full)),
		logx.Int("migrated", sum.Migrated),
		logx.Int("removed", sum.Removed),
		logx.Duration("dur", sum.Took),
	}
	if sum.Failed > 0 {
		log.Warn("relay finished with failures", fields...)
	} else {
		log.Info("relay finished", fields...)
	}

	rec := Record{
		At:        time.Now(),
		ContextID: contextID,
		Action:    a.Action,
		Username:  a.Username,
		MediaKind: a.MediaKind,
		Condensed: len(condensed),
		Full:      len(full),
		Summary:   sum,
	}
	s.lastMu.Lock()
	s.last = &rec
	s.lastMu.Unlock()
	if s.rec != nil {
		s.rec.RecordDispatch(ctx, rec)
	}
	return sum, nil
}

func jobsFor(ids []int64, mode displaymode.Mode, build func() transport.SendRequest) []Job {
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, Job{ChatID: id, Mode: mode, Request: build()})
	}
	return jobs
}

// botIdentity caches the username after the first successful lookup.
func (s *Service) botIdentity(ctx context.Context) (string, error) {
	s.identMu.Lock()
	defer s.identMu.Unlock()
	if s.identity != "" {
		return s.identity, nil
	}
	name, err := s.out.Identity(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoIdentity, err)
	}
	name = strings.TrimPrefix(strings.TrimSpace(name), "@")
	if name == "" {
		return "", ErrNoIdentity
	}
	s.identity = name
	return name, nil
}
