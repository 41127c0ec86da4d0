package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"notifyd/internal/clock"
	"notifyd/internal/config"
	"notifyd/internal/dispatch"
	"notifyd/internal/eventbus"
	"notifyd/internal/runtime/supervisor"
	"notifyd/internal/stats"
	"notifyd/internal/storage"
	"notifyd/internal/transport"
	logx "notifyd/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// App wires config, logging, storage, transports, the dispatch engine and
// the stats reporter, and keeps them in sync with the config file.
type App struct {
	cfgm *config.Manager // nil when running on built-in defaults
	cfg  *config.Config
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine   *dispatch.Engine
	stats    *stats.Collector
	reporter *stats.Reporter

	notify notifyFunc
}

type Option func(*options)

type options struct {
	rng    transport.Rand
	sleep  clock.Sleeper
	notify notifyFunc
}

// WithRand seeds the simulated transports (tests).
func WithRand(rng transport.Rand) Option { return func(o *options) { o.rng = rng } }

// WithSleeper replaces the wall clock for transport delays and backoff waits.
func WithSleeper(s clock.Sleeper) Option { return func(o *options) { o.sleep = s } }

func withNotify(fn notifyFunc) Option { return func(o *options) { o.notify = fn } }

// NewApp loads cfgPath (built-in defaults when empty) and builds every
// component. Nothing runs until Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.sleep == nil {
		o.sleep = clock.Real{}
	}
	if o.rng == nil {
		o.rng = transport.NewRand(time.Now().UnixNano())
	}

	var (
		cfgm *config.Manager
		cfg  *config.Config
	)
	if strings.TrimSpace(cfgPath) != "" {
		cfgm = config.NewManager(cfgPath)
		c, err := cfgm.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	} else {
		cfg = config.Default()
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	store, err := storage.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	transports, err := buildTransports(cfg, o.rng, o.sleep)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	eng, err := dispatch.New(dcfg, store, transports,
		dispatch.WithLogger(log.With(logx.String("comp", "dispatch"))),
		dispatch.WithBus(bus),
		dispatch.WithSleeper(o.sleep),
	)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	col := stats.NewCollector()
	rep := stats.NewReporter(col, log.With(logx.String("comp", "stats")))

	appLog.Info("app configured",
		logx.String("store", mapStorageConfig(cfg).Driver),
		logx.String("transports", transports.String()),
		logx.Int("max_attempts", dcfg.MaxAttempts),
		logx.Duration("base_delay", dcfg.BaseDelay),
	)

	return &App{
		cfgm:     cfgm,
		cfg:      cfg,
		log:      appLog,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		engine:   eng,
		stats:    col,
		reporter: rep,
		notify:   o.notify,
	}, nil
}

// Config returns the committed config: the last valid file contents, or
// the built-in defaults when no file was given.
func (a *App) Config() *config.Config {
	if a.cfgm != nil {
		if c := a.cfgm.Get(); c != nil {
			return c
		}
	}
	return a.cfg
}

func (a *App) Engine() *dispatch.Engine { return a.engine }

func (a *App) Stats() stats.Snapshot { return a.stats.Snapshot() }

// Logger is the root logger with an app component tag.
func (a *App) Logger() logx.Logger { return a.log }

// Context is canceled on Stop, on a fatal component error, or when the
// Start context ends. It is nil before Start.
func (a *App) Context() context.Context {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context()
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.reporter.WithFields(a.reportFields)

	a.sup.Go("stats.collect", func(c context.Context) error {
		return a.stats.Run(c, a.bus)
	})
	if cfg := a.Config(); cfg.Stats.Enabled {
		if err := a.reporter.Start(cfg.StatsSchedule()); err != nil {
			return err
		}
	}

	// lifecycle events are debug-level; the engine already logs per attempt
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(cfg *config.Config) error {
			if _, err := mapDispatchConfig(cfg); err != nil {
				return err
			}
			_, err := buildTransports(cfg, transport.NewRand(0), clock.Real{})
			return err
		})
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			for {
				select {
				case <-c.Done():
					return nil
				case newCfg, ok := <-sub:
					if !ok {
						return nil
					}
					a.applyConfig(newCfg)
				}
			}
		})
		a.log.Info("watching config", logx.String("path", a.cfgm.Path()))
		a.sup.GoRestart("config.watch", a.cfgm.Watch, 250*time.Millisecond, 5*time.Second)
	}

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// applyConfig pushes a reloaded config into the running components.
// Logging, retry policy and the stats schedule apply live; store and
// channel changes need a restart.
func (a *App) applyConfig(newCfg *config.Config) {
	if newCfg == nil {
		return
	}
	sections, fields := config.SummarizeChange(a.cfg, newCfg)
	a.cfg = newCfg
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLoggingConfig(newCfg))
		case "dispatch":
			dcfg, err := mapDispatchConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
				continue
			}
			a.engine.Apply(dcfg)
		case "stats":
			if !newCfg.Stats.Enabled {
				a.reporter.Stop()
				continue
			}
			if err := a.reporter.Start(newCfg.StatsSchedule()); err != nil {
				a.log.Warn("invalid stats schedule; keeping previous", logx.Err(err))
			}
		case "store", "channels":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	fields = append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
	a.log.Info("config reloaded", fields...)
}

// reportFields are appended to every stats summary.
func (a *App) reportFields() []logx.Field {
	c := a.sup.Counters()
	return []logx.Field{
		logx.Int("in_flight", a.engine.InFlight()),
		logx.Uint64("bus_dropped", a.bus.Dropped()),
		logx.Int64("goroutines", c.Active),
		logx.Uint64("panics", c.Panics),
	}
}

// Stop cancels background work, waits for it within ctx, then closes the
// store and log sinks. Submissions still running see a canceled context.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.reporter.Stop()
		_ = a.store.Close()
		return a.logs.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)

	a.reporter.Stop()
	// final summary
	a.reporter.Report()

	var errs []error
	if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, fmt.Errorf("supervisor: %w", err))
	}
	if n := a.engine.InFlight(); n > 0 {
		a.log.Warn("stopping with submissions in flight", logx.Int("in_flight", n))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
