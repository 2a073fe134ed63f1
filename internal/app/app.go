package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"relaybot/internal/commands"
	"relaybot/internal/config"
	"relaybot/internal/ctxcache"
	"relaybot/internal/displaymode"
	"relaybot/internal/housekeeping"
	"relaybot/internal/registry"
	"relaybot/internal/relay"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	telegram "relaybot/internal/transport/telegram/adapter"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/systemd"
)

const (
	updateQueue       = 256
	relayQueue        = 64
	maxCommandWorkers = 8
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	sd   *systemd.Notifier

	store   storage.Store
	adapter *telegram.Adapter

	registry *registry.Registry
	modes    *displaymode.Store
	cache    *ctxcache.Cache
	relay    *relay.Service
	router   *commands.Router
	house    *housekeeping.Service

	updates chan transport.Update
	relayQ  chan transport.InboundMessage
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	rc, err := config.ResolveRelay(cfg)
	if err != nil {
		return nil, err
	}
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}

	// The Telegram sink needs the adapter, which needs a logger: start with
	// the sink off, attach the adapter, then apply the final config.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, root := logx.New(bootCfg)
	log := root.With(logx.String("comp", "app"))

	ad, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    pollTimeout,
		SourceChatID:   rc.SourceChatID,
		SourceSenderID: rc.SourceSenderID,
	}, root.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	logSvc.SetSender(ad)
	logSvc.Apply(logCfg)

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		store, err = storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	modes := displaymode.NewStore()
	if store != nil {
		saved, err := store.LoadModes(context.Background())
		if err != nil {
			log.Warn("display modes not restored; using defaults", logx.Err(err))
		} else {
			modes.Restore(saved)
			log.Info("display modes restored", logx.Int("chats", len(saved)))
		}
	}

	reg := registry.New(rc.RegistryPath, root.With(logx.String("comp", "registry")))
	cache := ctxcache.New(rc.ContextTTL)

	engine := relay.NewEngine(engineConfig(rc), ad, reg, modes, root.With(logx.String("comp", "dispatch")))
	relaySvc := relay.NewService(relay.Deps{
		Analyzer:  relay.NewAnalyzer(rc.ButtonText),
		Formatter: formatter(rc),
		Engine:    engine,
		Media:     relay.NewMediaResolver(ad, ad, cache, root.With(logx.String("comp", "media"))),
		Registry:  reg,
		Cache:     cache,
		Outbound:  ad,
		Recorder:  auditRecorder{store: store, log: log},
		Logger:    root.With(logx.String("comp", "relay")),
	})

	router := commands.New(commands.Deps{
		Out:      ad,
		Chats:    ad,
		Registry: reg,
		Modes:    modes,
		Cache:    cache,
		Store:    store,
		Status:   relaySvc,
		Owners:   cfg.Telegram.OwnerUserIDs,
		Logger:   root,
	})

	house := housekeeping.New(housekeepingConfig(rc), cache, reg, root.With(logx.String("comp", "housekeeping")))

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		sd:       systemd.New(root.With(logx.String("comp", "systemd"))),
		store:    store,
		adapter:  ad,
		registry: reg,
		modes:    modes,
		cache:    cache,
		relay:    relaySvc,
		router:   router,
		house:    house,
		updates:  make(chan transport.Update, updateQueue),
		relayQ:   make(chan transport.InboundMessage, relayQueue),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go0("relay.loop", a.relayLoop)
	a.sup.Go0("updates.dispatch", a.dispatchLoop)
	a.house.Start(a.sup.Context())
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)

	targets := len(a.registry.Load(a.sup.Context()))
	a.sd.Ready()
	a.sd.Status(fmt.Sprintf("relaying to %d chats", targets))
	a.log.Info("app started", logx.Int("targets", targets))
	return nil
}

// dispatchLoop routes inbound updates: relay posts go to the serial relay
// loop, everything else runs on a bounded pool of command workers.
func (a *App) dispatchLoop(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(maxCommandWorkers)
	defer func() { _ = g.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-a.updates:
			if !ok {
				return
			}
			if up.Kind == transport.UpdateRelay {
				if up.Relay == nil {
					continue
				}
				select {
				case a.relayQ <- *up.Relay:
				case <-ctx.Done():
					return
				}
				continue
			}
			g.Go(func() error {
				if err := a.router.Handle(ctx, up); err != nil {
					a.log.Warn("update handler failed", logx.String("kind", up.Kind.String()), logx.Err(err))
				}
				return nil
			})
		}
	}
}

// relayLoop handles relay posts one at a time, in arrival order.
func (a *App) relayLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.relayQ:
			sum, err := a.relay.Handle(ctx, msg)
			if err != nil {
				a.log.Error("relay failed", logx.Int("message_id", msg.ID), logx.Err(err))
				continue
			}
			if sum.Migrated+sum.Removed > 0 {
				a.router.PersistModes(ctx)
			}
		}
	}
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if fields := restartRequired(oldCfg, newCfg); len(fields) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("fields", strings.Join(fields, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	rc, err := config.ResolveRelay(newCfg)
	if err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
	} else {
		a.relay.Engine().Apply(engineConfig(rc))
		a.relay.Analyzer().SetButtonText(rc.ButtonText)
		a.relay.SetFormatter(formatter(rc))
		a.adapter.SetSource(rc.SourceChatID, rc.SourceSenderID)
		a.house.Apply(housekeepingConfig(rc))
	}
	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "housekeeping", time.Second, func(context.Context) error { a.house.Stop(); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			a.router.PersistModes(context.Background())
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
