// Package app wires configuration, logging, the dispatch scheduler and its
// observers into one process for the send and serve commands.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"hermes/internal/adb"
	"hermes/internal/config"
	"hermes/internal/control"
	"hermes/internal/dispatch"
	"hermes/internal/eventbus"
	"hermes/internal/linkgen"
	"hermes/internal/metrics"
	"hermes/internal/observability"
	"hermes/internal/runtime/supervisor"
	"hermes/internal/storage"
	kit "hermes/internal/transport"
	telegram "hermes/internal/transport/telegram/adapter"
	"hermes/internal/transport/telegram/router"
	"hermes/internal/trigger"
	"hermes/pkg/logx"
)

type Mode int

const (
	// ModeSend runs one dispatch from the terminal.
	ModeSend Mode = iota
	// ModeServe stays up for scheduled runs and chat control.
	ModeServe
)

func (m Mode) String() string {
	if m == ModeServe {
		return "serve"
	}
	return "send"
}

type Options struct {
	ConfigPath string
	Mode       Mode
	// Devices replaces adb.devices when not empty.
	Devices []string
	// Driver replaces the adb driver.
	Driver dispatch.Driver
}

type App struct {
	mode    Mode
	devices []string

	cfgm     *config.Manager
	settings atomic.Pointer[Settings]
	sup      *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	gen  atomic.Pointer[linkgen.Generator]

	sched   *dispatch.Scheduler
	store   storage.Store
	rec     *storage.Recorder
	metrics *metrics.Collector
	obs     *observability.Server
	trigger *trigger.Service

	adapter   *telegram.Adapter
	router    *router.Router
	control   *control.Handler
	announcer *control.Announcer
	updates   chan kit.Update
}

func New(opt Options) (*App, error) {
	cfgm := config.NewManager(opt.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	st, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(cfg.Logging.Logx())
	a := &App{
		mode:    opt.Mode,
		devices: opt.Devices,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logs,
		bus:     eventbus.New(),
		updates: make(chan kit.Update, 256),
	}
	a.settings.Store(&st)
	a.gen.Store(linkgen.New(st.Generator))

	driver := opt.Driver
	if driver == nil {
		path, err := adb.Resolve(st.ADB.Path)
		if err != nil {
			return nil, err
		}
		st.ADB.Path = path
		driver = adb.New(st.ADB, adb.WithLogger(log.With(logx.String("comp", "adb"))))
	}
	a.sched = dispatch.New(driver, st.Dispatch,
		dispatch.WithBus(a.bus),
		dispatch.WithLogger(log.With(logx.String("comp", "dispatch"))),
		dispatch.WithRunner(supRunner{a}),
		dispatch.WithLinkLabel(func(link string) string { return a.Generator().AddressOf(link) }),
	)

	store, err := storage.Open(st.Storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		a.store = store
		a.rec = storage.NewRecorder(store, a.bus, log.With(logx.String("comp", "history")))
		a.log.Info("run history enabled", logx.String("driver", st.Storage.Driver), logx.String("path", st.Storage.Path))
	}

	a.metrics = metrics.New(a.bus)
	a.obs = observability.New(a.metrics.Handler(), log)

	if opt.Mode == ModeServe {
		a.trigger = trigger.New(a, log)
		if tg := cfg.Telegram; tg != nil && tg.Enabled {
			if err := a.initTelegram(tg, st, log); err != nil {
				_ = a.closeStore()
				return nil, err
			}
		}
	}
	return a, nil
}

func (a *App) initTelegram(tg *config.TelegramConfig, st Settings, log logx.Logger) error {
	chat := kit.ChatTarget{ChatID: tg.ChatID}
	ad, err := telegram.New(telegram.Config{Token: tg.Token, PollTimeout: st.TelegramPoll, LogChat: chat}, log)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	a.adapter = ad
	a.logs.SetChatSender(ad)
	a.router = router.New(ad, tg.OwnerUserIDs, log)

	var history control.History
	if a.store != nil {
		history = a.store
	}
	a.control = control.New(a.sched, a, history, log)
	a.announcer = control.NewAnnouncer(ad, chat, a.bus, 0, log)
	return nil
}

// supRunner hosts run goroutines on the app supervisor.
type supRunner struct{ a *App }

func (r supRunner) Go(name string, fn func(ctx context.Context) error) { r.a.sup.Go(name, fn) }

func (a *App) Logger() logx.Logger            { return a.log }
func (a *App) Bus() eventbus.Bus              { return a.bus }
func (a *App) Scheduler() *dispatch.Scheduler { return a.sched }
func (a *App) Generator() *linkgen.Generator  { return a.gen.Load() }
func (a *App) Settings() Settings             { return *a.settings.Load() }
func (a *App) Config() *config.Config         { return a.cfgm.Get() }
func (a *App) Metrics() *metrics.Collector    { return a.metrics }

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// transactional reload: a config that does not resolve is never committed
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := Resolve(cfg)
		return err
	})

	if a.rec != nil {
		a.sup.Go("history.recorder", a.rec.Run)
	}
	a.sup.Go("metrics.collector", a.metrics.Run)
	if err := a.obs.Apply(c, a.Settings().Observability); err != nil {
		return err
	}

	if a.adapter != nil {
		a.router.Register(c, a.control.Commands(), a.control.Callbacks())
		if err := a.adapter.Start(c, a.updates); err != nil {
			return err
		}
		a.sup.Go("commands.dispatch", func(c context.Context) error { return a.router.Run(c, a.updates) })
		a.sup.Go("control.announce", a.announcer.Run)
	}
	if a.trigger != nil {
		if err := a.trigger.Start(c, a.Settings().Trigger); err != nil {
			return err
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	if a.cfgm.Path() != "" {
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.log.Info("app started",
		logx.String("mode", a.mode.String()),
		logx.Strings("devices", a.Devices()),
		logx.Bool("telegram", a.adapter != nil),
	)
	return nil
}

// Devices returns the workers of the next run.
func (a *App) Devices() []string {
	if len(a.devices) > 0 {
		return a.devices
	}
	return a.cfgm.Get().ADB.Devices
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeStore()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// An in-flight delivery is bounded by the adb timeouts.
	step("dispatch", 45*time.Second, func(c context.Context) error {
		if a.sched.Cancel() {
			a.log.Info("active run canceled for shutdown")
		}
		_, err := a.sched.Wait(c)
		return err
	})
	if a.trigger != nil {
		step("trigger", 2*time.Second, func(context.Context) error { a.trigger.Stop(); return nil })
	}
	step("observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	if a.adapter != nil {
		step("telegram", 3*time.Second, a.adapter.Stop)
	}
	step("supervisor", 3*time.Second, a.sup.Stop)
	step("storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// History returns the run store, or nil when storage is disabled.
func (a *App) History() storage.Store { return a.store }
