package relay

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"relaybot/internal/displaymode"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const DefaultMaxConcurrent = 5

// Registry is the durable destination set as seen by the engine.
type Registry interface {
	Load(ctx context.Context) []int64
	Remove(ctx context.Context, chatID int64) bool
	Migrate(ctx context.Context, oldID, newID int64)
}

// ModeStore is the display mode lookup as seen by the engine.
type ModeStore interface {
	Lookup(chatID int64) (displaymode.Mode, bool)
	Delete(chatID int64) bool
	Migrate(oldID, newID int64) bool
}

type EngineConfig struct {
	MaxConcurrent int
	RatePerSec    int // 0 disables rate limiting
}

// JobState is the lifecycle of one destination send.
type JobState int

const (
	JobPending JobState = iota
	JobSending
	JobSucceeded
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobSending:
		return "sending"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Job is one send to one destination.
type Job struct {
	ChatID  int64
	Mode    displaymode.Mode
	Request transport.SendRequest
}

type JobResult struct {
	ChatID      int64
	FinalChatID int64
	Mode        displaymode.Mode
	State       JobState
	Attempts    int
	Migrated    bool
	Removed     bool
	Kind        transport.ErrorKind
	Err         error
}

// Summary aggregates the results of one batch.
type Summary struct {
	Attempted int
	Succeeded int
	Failed    int
	Migrated  int
	Removed   int
	Took      time.Duration
	Results   []JobResult
}

// Engine runs per-destination sends under a concurrency cap, retrying once on
// chat migration and evicting permanently unreachable chats.
type Engine struct {
	out   transport.Outbound
	reg   Registry
	modes ModeStore
	log   logx.Logger

	mu      sync.Mutex
	limit   int
	limiter *rate.Limiter

	// onLaunch observes job creation order.
	onLaunch func(Job)
}

func NewEngine(cfg EngineConfig, out transport.Outbound, reg Registry, modes ModeStore, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{out: out, reg: reg, modes: modes, log: log}
	e.Apply(cfg)
	return e
}

// Apply updates limits for batches created afterwards.
func (e *Engine) Apply(cfg EngineConfig) {
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	e.mu.Lock()
	e.limit = limit
	e.limiter = lim
	e.mu.Unlock()
}

// Partition splits destinations by display mode. Unrecognized stored values
// are logged and treated as full.
func (e *Engine) Partition(ids []int64) (condensed, full []int64) {
	for _, id := range ids {
		mode, ok := e.modes.Lookup(id)
		switch {
		case !ok || mode == displaymode.Full:
			full = append(full, id)
		case mode == displaymode.Condensed:
			condensed = append(condensed, id)
		default:
			e.log.Warn("unknown display mode; using full", logx.Int64("chat_id", id), logx.String("mode", string(mode)))
			full = append(full, id)
		}
	}
	return condensed, full
}

// Batch is one message's set of jobs. Launch never blocks; Wait joins all.
type Batch struct {
	e       *Engine
	ctx     context.Context
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	started time.Time

	wg      sync.WaitGroup
	mu      sync.Mutex
	results []JobResult
}

func (e *Engine) NewBatch(ctx context.Context) *Batch {
	e.mu.Lock()
	limit, lim := e.limit, e.limiter
	e.mu.Unlock()
	return &Batch{
		e:       e,
		ctx:     ctx,
		sem:     semaphore.NewWeighted(int64(limit)),
		limiter: lim,
		started: time.Now(),
	}
}

// Launch starts one goroutine per job. Jobs queue on the semaphore.
func (b *Batch) Launch(jobs ...Job) {
	for _, j := range jobs {
		if b.e.onLaunch != nil {
			b.e.onLaunch(j)
		}
		b.wg.Add(1)
		go func(j Job) {
			defer b.wg.Done()
			res := b.run(j)
			b.mu.Lock()
			b.results = append(b.results, res)
			b.mu.Unlock()
		}(j)
	}
}

// Wait blocks until every launched job finished and tallies the results.
func (b *Batch) Wait() Summary {
	b.wg.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	sum := Summary{Attempted: len(b.results), Took: time.Since(b.started), Results: append([]JobResult(nil), b.results...)}
	for _, r := range b.results {
		if r.State == JobSucceeded {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
		if r.Migrated {
			sum.Migrated++
		}
		if r.Removed {
			sum.Removed++
		}
	}
	return sum
}

func (b *Batch) run(j Job) (res JobResult) {
	res = JobResult{ChatID: j.ChatID, FinalChatID: j.ChatID, Mode: j.Mode, State: JobPending}
	log := b.e.log.With(logx.Int64("chat_id", j.ChatID), logx.String("mode", string(j.Mode)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("send job panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			res.State = JobFailed
			res.Err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := b.sem.Acquire(b.ctx, 1); err != nil {
		res.State, res.Err = JobFailed, err
		log.Warn("send job abandoned before start", logx.Err(err))
		return res
	}
	defer b.sem.Release(1)

	req := j.Request
	req.ChatID = j.ChatID
	for {
		res.State = JobSending
		res.Attempts++
		if b.limiter != nil {
			if err := b.limiter.Wait(b.ctx); err != nil {
				res.State, res.Err = JobFailed, err
				log.Warn("send job abandoned while rate limited", logx.Err(err))
				return res
			}
		}

		_, err := b.e.out.Send(b.ctx, req)
		if err == nil {
			res.State, res.Err = JobSucceeded, nil
			return res
		}
		kind, se := transport.Classify(err)
		res.Kind, res.Err = kind, err

		if kind == transport.KindMigrated && res.Attempts == 1 && se.MigratedTo != 0 && se.MigratedTo != req.ChatID {
			log.Info("chat migrated; retrying on new id", logx.Int64("new_chat_id", se.MigratedTo))
			b.e.migrate(b.ctx, req.ChatID, se.MigratedTo)
			req.ChatID = se.MigratedTo
			res.FinalChatID = se.MigratedTo
			res.Migrated = true
			continue
		}

		res.State = JobFailed
		switch kind {
		case transport.KindPermanent:
			log.Warn("destination unreachable; removing", logx.Int64("target", req.ChatID), logx.Err(err))
			b.e.evict(b.ctx, req.ChatID)
			res.Removed = true
		case transport.KindMigrated:
			log.Error("chat migrated again; retry budget exhausted",
				logx.Int64("target", req.ChatID), logx.Int("attempts", res.Attempts), logx.Err(err))
		default:
			log.Error("send failed",
				logx.Int64("target", req.ChatID),
				logx.Int("attempts", res.Attempts),
				logx.String("kind", string(req.Kind)),
				logx.Bool("by_ref", req.Media.Ref != ""),
				logx.Err(err))
		}
		return res
	}
}

func (e *Engine) migrate(ctx context.Context, oldID, newID int64) {
	e.reg.Migrate(ctx, oldID, newID)
	copied := e.modes.Migrate(oldID, newID)
	e.log.Info("destination migrated",
		logx.Int64("old_chat_id", oldID), logx.Int64("new_chat_id", newID), logx.Bool("mode_copied", copied))
}

func (e *Engine) evict(ctx context.Context, chatID int64) {
	removed := e.reg.Remove(ctx, chatID)
	e.modes.Delete(chatID)
	e.log.Info("destination evicted", logx.Int64("chat_id", chatID), logx.Bool("was_registered", removed))
}
