// Package app wires speedwatch's components and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"speedwatch/internal/alert"
	"speedwatch/internal/buffer"
	"speedwatch/internal/config"
	"speedwatch/internal/cycle"
	"speedwatch/internal/dashboard"
	"speedwatch/internal/eventbus"
	"speedwatch/internal/measure"
	"speedwatch/internal/observability/metrics"
	obsserver "speedwatch/internal/observability/server"
	"speedwatch/internal/runtime/supervisor"
	"speedwatch/internal/sample"
	"speedwatch/internal/storage"
	"speedwatch/internal/task/scheduler"
	"speedwatch/pkg/logx"
	"speedwatch/pkg/speedtest"
	"speedwatch/pkg/systemd"
)

// Options override parts of the wiring. The zero value is production.
type Options struct {
	// Interval, when non-zero, replaces scheduler.interval from config.
	Interval int
	// Measurer replaces the speedtest-backed measurer.
	Measurer cycle.Measurer
	// DashboardAddr replaces the host:port derived from config.
	DashboardAddr string
}

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	logs *logx.Service
	log  logx.Logger

	sup     *supervisor.Supervisor
	workers *supervisor.Supervisor

	store   storage.Store
	buf     *buffer.Buffer
	bus     eventbus.Bus
	metrics *metrics.Metrics
	runner  *cycle.Runner
	sched   *scheduler.Service
	dash    *dashboard.Server
	alerts  *alert.Service
	obs     *obsserver.Service
	sd      *systemd.Notifier
}

// New loads config, opens the store, seeds the buffer and builds every
// component. Nothing runs until Run.
func New(ctx context.Context, cfgm *config.Manager, opts Options) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	// cfg stays as the file says so reloads compare like with like; the
	// override only reaches the scheduler.
	sched := schedulerConfig(cfg)
	if opts.Interval != 0 {
		if err := scheduler.ValidateInterval(opts.Interval); err != nil {
			return nil, fmt.Errorf("--interval: %w", err)
		}
		sched.Interval = opts.Interval
	}

	logs, root := logx.New(LogConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	a := &App{cfgm: cfgm, cfg: cfg, logs: logs, log: log}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	a.sup = supervisor.New(ctx, supervisor.WithLogger(root.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))
	// Short-lived helpers; their failures must not stop the app.
	a.workers = supervisor.New(a.sup.Context(), supervisor.WithLogger(root.With(logx.String("comp", "workers"))))

	sc, err := StorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(ctx, sc, root.With(logx.String("comp", "storage"))); err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	a.bus = eventbus.New()
	a.metrics = metrics.New()
	a.buf = buffer.New(cfg.Dashboard.BufferSize)
	a.buf.Subscribe(func(c []sample.Sample) { a.metrics.SetBufferLen(len(c)) })

	recent, err := a.store.Recent(ctx, a.buf.Cap())
	if err != nil {
		// Start with an empty window rather than refusing to run.
		log.Error("loading recent samples failed", logx.Err(err))
		recent = nil
	}
	if err := a.buf.Seed(recent); err != nil {
		return nil, err
	}
	log.Info("buffer seeded", logx.Int("samples", a.buf.Len()))

	m := opts.Measurer
	if m == nil {
		if m, err = NewMeasurer(cfg, speedtest.SpawnerFunc(a.workers.Spawn), root); err != nil {
			return nil, err
		}
	}
	a.runner = cycle.New(cycle.Deps{
		Measurer:  m,
		Store:     a.store,
		Publisher: a.buf,
		Bus:       a.bus,
		Metrics:   a.metrics,
		Log:       root,
	})

	a.sched, err = scheduler.New(sched, func(ctx context.Context, trig scheduler.Trigger) {
		a.runner.Run(ctx, string(trig))
	}, root.With(logx.String("comp", "scheduler")), a.bus)
	if err != nil {
		return nil, err
	}
	a.metrics.SetInterval(a.sched.Interval())

	dc, err := dashboardConfig(cfg)
	if err != nil {
		return nil, err
	}
	if opts.DashboardAddr != "" {
		dc.Addr = opts.DashboardAddr
	}
	if a.dash, err = dashboard.New(dc, a.buf, a.sched, a.metrics, root); err != nil {
		return nil, err
	}

	ac, err := alertConfig(cfg)
	if err != nil {
		return nil, err
	}
	if ac.Enabled {
		sender, err := alert.NewTelegram(ac.Telegram)
		if err != nil {
			return nil, fmt.Errorf("alerts: %w", err)
		}
		a.alerts = alert.New(ac, sender, root)
	}

	oc, err := observabilityConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.obs = obsserver.New(oc, a.metrics.Handler(), root)
	a.sd = systemd.New(root)

	ok = true
	return a, nil
}

// NewMeasurer builds the speedtest-backed measurer. spawner may be nil.
func NewMeasurer(cfg *config.Config, spawner speedtest.Spawner, log logx.Logger) (*measure.Adapter, error) {
	rc, timeout, err := RunConfig(cfg)
	if err != nil {
		return nil, err
	}
	var ropts []speedtest.Option
	if spawner != nil {
		ropts = append(ropts, speedtest.WithSpawner(spawner))
	}
	return measure.New(speedtest.NewRunner(rc, ropts...), measure.Options{Timeout: timeout, Log: log}), nil
}

func (a *App) Logger() logx.Logger           { return a.log }
func (a *App) Buffer() *buffer.Buffer        { return a.buf }
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Run starts every service and blocks until ctx is done or one of them
// fails. Resources are released before it returns.
func (a *App) Run(ctx context.Context) error {
	defer a.closeResources()

	stop := context.AfterFunc(ctx, a.sup.Cancel)
	defer stop()

	a.sup.Go("scheduler", a.sched.Run)
	a.sup.Go("dashboard", a.dash.Run)
	a.sup.GoRestart("observability", func(c context.Context) error {
		// Refusing an insecure bind is logged by the listener and is not fatal.
		if err := a.obs.Serve(c); !errors.Is(err, obsserver.ErrInsecureBind) {
			return err
		}
		return nil
	}, supervisor.WithMaxRestarts(5))
	if a.alerts != nil {
		a.sup.Go("alerts", func(c context.Context) error { return a.alerts.Run(c, a.bus) })
	}
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go0("events", a.eventLoop)
	a.sup.Go("systemd.watchdog", a.sd.Watchdog)

	a.sd.Ready()
	a.sd.Status(fmt.Sprintf("measuring every %ds", a.sched.Interval()))
	a.log.Info("speedwatch started",
		logx.Int("interval", a.sched.Interval()),
		logx.Int("buffer", a.buf.Len()),
	)

	<-a.sup.Context().Done()
	a.sd.Stopping()
	a.log.Info("stopping")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.workers.Wait(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Debug("worker error", logx.Err(err))
	}
	err := a.sup.Wait(stopCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("shutdown deadline reached; some goroutines still running", logx.Any("counters", a.sup.Counters()))
	}
	a.log.Info("stopped")
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// eventLoop keeps derived state in step with scheduler events.
func (a *App) eventLoop(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			if e.Type == eventbus.TypeIntervalChange {
				if ch, ok := e.Data.(scheduler.IntervalChange); ok {
					a.metrics.SetInterval(ch.To)
					a.sd.Status(fmt.Sprintf("measuring every %ds", ch.To))
				}
				a.dash.Refresh()
			}
		}
	}
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.applyReload(last, next)
			last = next
		}
	}
}

// applyReload applies the live-reloadable sections: logging and the
// scheduler interval. Everything else is logged as needing a restart.
func (a *App) applyReload(prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	if slices.Contains(sections, "logging") {
		a.logs.Apply(LogConfig(next))
	}
	if prev.Scheduler.Interval != next.Scheduler.Interval {
		if err := a.sched.SetInterval(next.Scheduler.Interval); err != nil {
			a.log.Warn("interval from config rejected", logx.Int("interval", next.Scheduler.Interval), logx.Err(err))
		}
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) closeResources() {
	if a.dash != nil {
		a.dash.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("closing store failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.sup != nil {
		a.sup.Cancel()
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}
