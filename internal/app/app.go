// Package app assembles the process: config, logging, storage, the
// Telegram adapter, and the services around them. It owns startup
// order, hot reload, and shutdown order.
package app

import (
	"context"
	"fmt"
	"time"

	"hookbot/internal/config"
	"hookbot/internal/intake"
	"hookbot/internal/platform/dashboard"
	rtsup "hookbot/internal/runtime/supervisor"
	"hookbot/internal/services/dispatch"
	"hookbot/internal/services/monitor"
	"hookbot/internal/services/notify"
	"hookbot/internal/services/ops"
	"hookbot/internal/storage"
	"hookbot/internal/transport/telegram"
	logx "hookbot/pkg/logx"
)

type App struct {
	mgr    *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store      storage.Store
	adapter    *telegram.Adapter
	notifier   *notify.Service
	dispatcher *dispatch.Service
	intake     *intake.Service
	ops        *ops.Service

	sup *rtsup.Supervisor
}

func New(configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("component", "config")))
	mgr.SetValidator(func(_ context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	store, err := storage.Open(storageConfig(cfg), log.With(logx.String("component", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("component", "telegram")))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	notifyCfg, err := notifyConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	notifier := notify.New(notifyCfg, adapter, log.With(logx.String("component", "notify")))

	dashCfg, err := dashboardConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	factory := dashboard.Factory(dashCfg, log.With(logx.String("component", "platform")))

	dispatchCfg, monCfg, err := dispatchConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	dispatcher := dispatch.New(dispatchCfg, monCfg, store, factory, notifier,
		log.With(logx.String("component", "dispatch")))

	intakeSvc := intake.New(intake.Config{
		DefaultTarget: cfg.Platform.DefaultTarget,
		Timezone:      cfg.Timezone(),
	}, adapter, store, notifier, log.With(logx.String("component", "intake")))

	opsSvc := ops.New(opsConfig(cfg), store, log.With(logx.String("component", "ops")))

	return &App{
		mgr:        mgr,
		logSvc:     logSvc,
		log:        log,
		store:      store,
		adapter:    adapter,
		notifier:   notifier,
		dispatcher: dispatcher,
		intake:     intakeSvc,
		ops:        opsSvc,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	runCtx := a.sup.Context()

	a.notifier.Start(runCtx)
	if err := a.dispatcher.Start(runCtx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if err := a.intake.Start(runCtx); err != nil {
		return fmt.Errorf("start intake: %w", err)
	}
	// A broken ops bind should not take the bot down.
	if err := a.ops.Start(runCtx); err != nil {
		a.log.Error("ops api not started", logx.Err(err))
	}

	a.sup.Go("config.watch", a.mgr.Watch)

	updates := a.mgr.Subscribe(1)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.mgr.Unsubscribe(updates)
		prev := a.mgr.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(c, prev, next)
				prev = next
			}
		}
	})

	a.log.Info("hookbot started")
	return nil
}

// applyConfig pushes a hot-reloaded config into the running services.
// Sections that cannot change live (telegram token, platform creds,
// storage) are logged and take effect on the next restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	changed := config.ChangedSections(prev, next)
	if len(changed) == 0 {
		return
	}
	a.log.Info("applying config changes", logx.Any("sections", changed))

	for _, section := range changed {
		switch section {
		case "logging":
			a.logSvc.Apply(logx.Config{
				Level:   next.Logging.Level,
				Console: next.Logging.Console,
				File: logx.FileConfig{
					Enabled: next.Logging.File.Enabled,
					Path:    next.Logging.File.Path,
				},
			})
		case "dispatch", "monitor":
			dispatchCfg, monCfg, err := dispatchConfig(next)
			if err != nil {
				a.log.Warn("dispatch config not applied", logx.Err(err))
				continue
			}
			if err := a.dispatcher.Apply(dispatchCfg, monCfg); err != nil {
				a.log.Warn("dispatch config not applied", logx.Err(err))
			}
		case "notifier":
			cfg, err := notifyConfig(next)
			if err != nil {
				a.log.Warn("notifier config not applied", logx.Err(err))
				continue
			}
			a.notifier.Apply(cfg)
		case "ops":
			if err := a.ops.Reconfigure(ctx, opsConfig(next)); err != nil {
				a.log.Warn("ops config not applied", logx.Err(err))
			}
		case "telegram", "platform", "storage", "schedule":
			a.log.Warn("section needs a restart to take effect", logx.String("section", section))
		}
	}
}

// Stop shuts everything down in dependency order: stop taking input,
// stop dispatching, drain outbound messages, then release the rest.
func (a *App) Stop(ctx context.Context) {
	if err := a.intake.Stop(ctx); err != nil {
		a.log.Warn("intake stop", logx.Err(err))
	}
	if err := a.dispatcher.Stop(ctx); err != nil {
		a.log.Warn("dispatcher stop", logx.Err(err))
	}
	a.notifier.Stop(ctx)
	if err := a.ops.Stop(ctx); err != nil {
		a.log.Warn("ops stop", logx.Err(err))
	}

	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("supervisor stop", logx.Err(err))
		}
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("hookbot stopped")
	_ = a.logSvc.Close()
}

func storageConfig(cfg *config.Config) storage.Config {
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
}

func notifyConfig(cfg *config.Config) (notify.Config, error) {
	base, err := config.ParseDurationOrDefault("notifier.retry_base", cfg.Notifier.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notify.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		QueueSize:     cfg.Notifier.QueueSize,
		RatePerSec:    cfg.Notifier.RatePerSec,
		RetryMax:      cfg.Notifier.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

func dashboardConfig(cfg *config.Config) (dashboard.Config, error) {
	timeout, err := config.ParseDurationOrDefault("platform.timeout", cfg.Platform.Timeout, 30*time.Second)
	if err != nil {
		return dashboard.Config{}, err
	}
	return dashboard.Config{
		BaseURL:    cfg.Platform.BaseURL,
		Email:      cfg.Platform.Email,
		Password:   cfg.Platform.Password,
		LoginPath:  cfg.Platform.LoginPath,
		SubmitPath: cfg.Platform.SubmitPath,
		FeedPath:   cfg.Platform.FeedPath,
		Timeout:    timeout,
	}, nil
}

func dispatchConfig(cfg *config.Config) (dispatch.Config, monitor.Config, error) {
	interval, err := config.ParseDurationOrDefault("dispatch.interval", cfg.Dispatch.Interval, 30*time.Second)
	if err != nil {
		return dispatch.Config{}, monitor.Config{}, err
	}
	confirmDelay, err := config.ParseDurationOrDefault("monitor.confirm_delay", cfg.Monitor.ConfirmDelay, 10*time.Second)
	if err != nil {
		return dispatch.Config{}, monitor.Config{}, err
	}
	pollDelay, err := config.ParseDurationOrDefault("monitor.poll_delay", cfg.Monitor.PollDelay, 10*time.Second)
	if err != nil {
		return dispatch.Config{}, monitor.Config{}, err
	}
	return dispatch.Config{
			Interval: interval,
			Workers:  cfg.Dispatch.Workers,
		}, monitor.Config{
			MaxConfirmAttempts: cfg.Monitor.MaxConfirmAttempts,
			ConfirmDelay:       confirmDelay,
			MaxPollAttempts:    cfg.Monitor.MaxPollAttempts,
			PollDelay:          pollDelay,
			ProgressEvery:      cfg.Monitor.ProgressEvery,
		}, nil
}

func opsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Enabled: cfg.Ops.Enabled,
		Addr:    cfg.Ops.Addr,
		Token:   cfg.Ops.Token,
	}
}
