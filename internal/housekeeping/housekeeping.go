// Package housekeeping runs the periodic maintenance jobs of the relay:
// expiring cached message contexts and logging a short registry status line.
package housekeeping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "relaybot/pkg/logx"
)

// Cache is the subset of the context cache the sweep job needs.
type Cache interface {
	Sweep() int
	Len() int
}

// Targets lists the current fan-out targets.
type Targets interface {
	Load(ctx context.Context) []int64
}

// Config holds the job intervals. A zero interval disables that job.
type Config struct {
	SweepEvery  time.Duration
	StatusEvery time.Duration
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	cache   Cache
	targets Targets

	ctx context.Context
	c   *cron.Cron
}

func New(cfg Config, cache Cache, targets Targets, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, cache: cache, targets: targets}
}

// Start registers the jobs and starts the cron runner. ctx bounds the jobs
// that need one; call Stop to halt the runner.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.c = s.newCronLocked()
	s.c.Start()
	s.log.Info("housekeeping started",
		logx.Duration("sweep_every", s.cfg.SweepEvery),
		logx.Duration("status_every", s.cfg.StatusEvery),
	)
}

// Apply swaps the intervals. A running service restarts its cron runner.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return
	}
	s.cfg = cfg
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = s.newCronLocked()
	s.c.Start()
	s.log.Info("housekeeping rescheduled",
		logx.Duration("sweep_every", cfg.SweepEvery),
		logx.Duration("status_every", cfg.StatusEvery),
	)
}

// Stop halts the runner and waits for running jobs.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Service) newCronLocked() *cron.Cron {
	l := cronLogger{log: s.log}
	c := cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)))
	if s.cfg.SweepEvery > 0 && s.cache != nil {
		c.Schedule(cron.Every(s.cfg.SweepEvery), cron.FuncJob(s.Sweep))
	}
	if s.cfg.StatusEvery > 0 && s.targets != nil {
		ctx := s.ctx
		c.Schedule(cron.Every(s.cfg.StatusEvery), cron.FuncJob(func() { s.Status(ctx) }))
	}
	return c
}

// Sweep drops expired context entries.
func (s *Service) Sweep() {
	n := s.cache.Sweep()
	if n == 0 {
		return
	}
	s.log.Debug("expired contexts swept", logx.Int("removed", n), logx.Int("remaining", s.cache.Len()))
}

// Status logs the target count and cache size.
func (s *Service) Status(ctx context.Context) {
	fields := []logx.Field{logx.Int("targets", len(s.targets.Load(ctx)))}
	if s.cache != nil {
		fields = append(fields, logx.Int("cached_contexts", s.cache.Len()))
	}
	s.log.Info("relay status", fields...)
}

// cronLogger routes cron's own messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
