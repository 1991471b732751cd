// Package app assembles the service: configuration, logging, the job
// scheduler, the event pipeline, and the HTTP surfaces, run under one
// supervisor with hot config reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/OCR4all/ocr4all-app-msa/internal/api"
	"github.com/OCR4all/ocr4all-app-msa/internal/config"
	"github.com/OCR4all/ocr4all-app-msa/internal/eventbus"
	"github.com/OCR4all/ocr4all-app-msa/internal/events"
	"github.com/OCR4all/ocr4all-app-msa/internal/gateway"
	"github.com/OCR4all/ocr4all-app-msa/internal/job"
	"github.com/OCR4all/ocr4all-app-msa/internal/maintenance"
	"github.com/OCR4all/ocr4all-app-msa/internal/notifier"
	"github.com/OCR4all/ocr4all-app-msa/internal/observability/pprof"
	"github.com/OCR4all/ocr4all-app-msa/internal/runtime/supervisor"
	"github.com/OCR4all/ocr4all-app-msa/internal/storage"
	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

const defaultShutdownTimeout = 10 * time.Second

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus     eventbus.Bus
	journal storage.Journal
	sched   *job.Scheduler
	pump    *events.Pump
	gw      *gateway.Service
	srv     *http.Server
	ln      net.Listener
	maint   *maintenance.Service
	notif   *notifier.Service
	pprof   *pprof.Service

	shutdownTimeout time.Duration
}

// Addr reports the REST listener's bound address once Start succeeded.
func (a *App) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

// NewApp loads and validates the config file and wires every component.
// Nothing is listening or running until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New(log.With(logx.String("comp", "bus")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	journal, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if journal != nil {
		log.Info("journal enabled", logx.String("driver", sc.Driver))
	}

	sched, err := job.NewScheduler(
		cfg.Scheduler.PoolSizeStandard,
		cfg.Scheduler.PoolSizeTimeConsuming,
		log.With(logx.String("comp", "scheduler")),
		bus.Publish,
	)
	if err != nil {
		return nil, err
	}

	pump := events.New(log.With(logx.String("comp", "events")), bus, journal, cfg.Events.BusBuffer)

	var gw *gateway.Service
	if cfg.Gateway.Enabled {
		gc, err := mapGatewayConfig(cfg)
		if err != nil {
			return nil, err
		}
		gw = gateway.New(gc, log.With(logx.String("comp", "gateway")), bus)
	}

	apiCfg, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	rest := api.NewAPI(log.With(logx.String("comp", "api")), sched, journal)
	var mounts []api.Mount
	if gw != nil {
		mounts = append(mounts, api.Mount{Path: cfg.Gateway.Path, Handler: gw})
	}
	srv := api.NewServer(apiCfg, rest, log.With(logx.String("comp", "http")), mounts...)

	mc, err := mapMaintenanceConfig(cfg)
	if err != nil {
		return nil, err
	}
	maint := maintenance.New(mc, log.With(logx.String("comp", "maintenance")), sched, journal)

	notif := notifier.New(mapNotifierConfig(cfg), nil,
		log.With(logx.String("comp", "notifier")), bus, cfg.Events.BusBuffer)

	pc, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	pprofSvc := pprof.New(pc, log.With(logx.String("comp", "pprof")))

	shutdownTimeout, err := config.ParseDurationOrDefault(
		"server.shutdown_timeout", cfg.Server.ShutdownTimeout, defaultShutdownTimeout)
	if err != nil {
		return nil, err
	}

	return &App{
		cfgm:            cfgm,
		log:             log,
		logs:            logs,
		bus:             bus,
		journal:         journal,
		sched:           sched,
		pump:            pump,
		gw:              gw,
		srv:             srv,
		maint:           maint,
		notif:           notif,
		pprof:           pprofSvc,
		shutdownTimeout: shutdownTimeout,
	}, nil
}

// Done closes when the run context ends: Stop was called or a component
// failed fatally.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err reports the first fatal error the supervisor observed, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	// The REST listener binds synchronously so a bad addr fails the boot.
	ln, err := net.Listen("tcp", a.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.srv.Addr, err)
	}
	a.ln = ln
	a.sup.Go("http.serve", func(c context.Context) error {
		err := a.srv.Serve(ln)
		if c.Err() != nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	a.sup.GoRestart("events.journal", a.pump.Run)
	if a.gw != nil {
		a.sup.GoRestart("gateway.pump", a.gw.Run)
	}

	if err := a.maint.Start(); err != nil && !errors.Is(err, maintenance.ErrDisabled) {
		return err
	}

	switch err := a.notif.Start(); {
	case err == nil:
		a.sup.GoRestart("notifier.alerts", a.notif.Run)
	case errors.Is(err, notifier.ErrDisabled):
		a.log.Debug("notifier disabled")
	default:
		// Alerting is auxiliary; an unreachable Telegram API must not
		// block the boot.
		a.log.Error("notifier start failed, alerts off", logx.Err(err))
	}

	if err := a.pprof.Start(a.sup.Context()); err != nil && !errors.Is(err, pprof.ErrDisabled) {
		a.log.Warn("pprof start failed", logx.Err(err))
	}

	if cfg.Scheduler.StartupProbeEnabled() {
		a.startupProbe()
	}

	if cfg.WatchConfig {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			last := a.cfgm.Get()
			for {
				select {
				case <-c.Done():
					return
				case next, ok := <-sub:
					if !ok {
						return
					}
					// Coalesce bursts, only the newest snapshot is applied.
					for drained := false; !drained; {
						select {
						case newer, ok := <-sub:
							if ok && newer != nil {
								next = newer
							}
							if !ok {
								drained = true
							}
						default:
							drained = true
						}
					}
					if next == nil {
						continue
					}
					a.applyReload(c, last, next)
					last = next
				}
			}
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	notifyReady(a.log)
	a.startWatchdog()

	a.log.Info("app started",
		logx.String("addr", ln.Addr().String()),
		logx.Int("pool_standard", cfg.Scheduler.PoolSizeStandard),
		logx.Int("pool_time_consuming", cfg.Scheduler.PoolSizeTimeConsuming),
		logx.String("journal", cfg.StorageDriver()),
		logx.Bool("gateway", cfg.Gateway.Enabled),
	)
	return nil
}

// applyReload fans a validated config snapshot out to the running
// components. Admission-time settings only get a restart warning.
func (a *App) applyReload(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded, no effective changes")
		return
	}

	a.logs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})

	for _, s := range sections {
		switch s {
		case "server", "gateway", "scheduler", "storage", "events":
			a.log.Warn("section applies at boot, restart required", logx.String("section", s))
		}
	}

	if mc, err := mapMaintenanceConfig(newCfg); err != nil {
		a.log.Warn("maintenance config rejected, keeping previous", logx.Err(err))
	} else if err := a.maint.Apply(mc); err != nil {
		a.log.Warn("maintenance reload failed", logx.Err(err))
	}

	a.notif.Apply(mapNotifierConfig(newCfg))

	if pc, err := mapPprofConfig(newCfg); err != nil {
		a.log.Warn("pprof config rejected, keeping previous", logx.Err(err))
	} else if err := a.pprof.Apply(ctx, pc); err != nil {
		a.log.Warn("pprof reload failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order, each step bounded so a
// stuck one cannot stall the whole exit. Without a caller deadline the
// configured shutdown timeout applies.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && a.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.shutdownTimeout)
		defer cancel()
	}

	a.log.Info("stopping")
	notifyStopping(a.log)
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		start := time.Now()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic: %v", r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step failed", logx.String("step", name), logx.Err(err))
			} else {
				a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("step", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Intake first, then the producers, then the consumers behind them.
	step("http", 5*time.Second, func(c context.Context) error { return a.srv.Shutdown(c) })
	step("maintenance", 2*time.Second, func(context.Context) error { a.maint.Stop(); return nil })
	step("scheduler", 2*time.Second, func(context.Context) error { a.sched.Shutdown(); return nil })
	step("bus", time.Second, func(context.Context) error { a.bus.Close(); return nil })
	if a.gw != nil {
		step("gateway", time.Second, func(context.Context) error { a.gw.Close(); return nil })
	}
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	if a.journal != nil {
		step("journal", time.Second, func(context.Context) error { return a.journal.Close() })
	}
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
