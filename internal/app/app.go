// Package app wires the daemon together: config, logging, storage, the
// Home Assistant client and watcher, the notifier, the coordinator, the
// status projection and the HTTP API.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"quicktimerd/internal/config"
	"quicktimerd/internal/coordinator"
	"quicktimerd/internal/eventbus"
	"quicktimerd/internal/homeassistant"
	"quicktimerd/internal/httpapi"
	"quicktimerd/internal/notify"
	"quicktimerd/internal/projection"
	"quicktimerd/internal/storage"
	logx "quicktimerd/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	logs *logx.Service
	log  logx.Logger

	backend storage.Backend
	tasks   *storage.TaskStore
	prefs   *storage.PreferenceStore

	ha      *homeassistant.Client
	watcher *homeassistant.Watcher
	notif   *notify.Service
	bus     eventbus.Bus
	tracker *projection.Tracker
	coord   *coordinator.Coordinator
	api     *httpapi.Server

	cron *cron.Cron

	watchCancel context.CancelFunc
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(config.Validate)

	a := &App{cfgm: cfgm, cfg: cfg, logs: logs, log: log}
	if err := a.build(); err != nil {
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg

	reqTimeout, err := config.ParseDurationOrDefault("home_assistant.request_timeout", cfg.HomeAssistant.RequestTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	a.ha = homeassistant.NewClient(homeassistant.ClientConfig{
		BaseURL: cfg.HomeAssistant.BaseURL,
		Token:   cfg.HomeAssistant.Token,
		Timeout: reqTimeout,
	}, a.log.With(logx.String("comp", "ha")))

	a.watcher = homeassistant.NewWatcher(homeassistant.WatcherConfig{
		URL:   cfg.HomeAssistant.EffectiveWebsocketURL(),
		Token: cfg.HomeAssistant.Token,
	}, a.log.With(logx.String("comp", "watcher")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	storePath := cfg.Storage.Path
	if storePath == "" {
		storePath = "./quicktimerd_store"
	}
	backend, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        storePath,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.backend = backend

	a.tasks, err = storage.NewTaskStore(backend, a.log.With(logx.String("comp", "tasks")))
	if err != nil {
		return err
	}
	a.prefs, err = storage.NewPreferenceStore(backend, a.log.With(logx.String("comp", "prefs")))
	if err != nil {
		return err
	}

	notifyEnabled := true
	if cfg.Notify.Enabled != nil {
		notifyEnabled = *cfg.Notify.Enabled
	}
	pollTimeout, err := config.ParseDurationOrDefault("notify.telegram.poll_timeout", cfg.Notify.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	a.notif, err = notify.New(notify.Config{
		Enabled:    notifyEnabled,
		QueueSize:  cfg.Notify.QueueSize,
		RatePerSec: cfg.Notify.RatePerSec,
		Telegram: notify.TelegramConfig{
			Enabled:     cfg.Notify.Telegram.Enabled,
			Token:       cfg.Notify.Telegram.Token,
			ChatID:      cfg.Notify.Telegram.ChatID,
			PollTimeout: pollTimeout,
		},
	}, a.ha, a.log.With(logx.String("comp", "notify")))
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}

	a.bus = eventbus.New()
	a.tracker = projection.New(nil)

	a.coord = coordinator.New(coordinator.Deps{
		Tasks:      a.tasks,
		Prefs:      a.prefs,
		Executor:   executor{a.ha},
		States:     a.watcher,
		Notifier:   notifier{a.notif},
		Projection: a.tracker,
		Bus:        a.bus,
		Log:        a.log.With(logx.String("comp", "coordinator")),
	})

	if cfg.API.Enabled {
		readTimeout, err := config.ParseDurationField("api.read_timeout", cfg.API.ReadTimeout)
		if err != nil {
			return err
		}
		writeTimeout, err := config.ParseDurationField("api.write_timeout", cfg.API.WriteTimeout)
		if err != nil {
			return err
		}
		idleTimeout, err := config.ParseDurationField("api.idle_timeout", cfg.API.IdleTimeout)
		if err != nil {
			return err
		}
		a.api = httpapi.NewServer(httpapi.Config{
			Addr:         cfg.API.Addr,
			Token:        cfg.API.Token,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		}, a.coord, a.prefs, a.tracker, a.log.With(logx.String("comp", "api")))
	}

	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.log.Info("starting quicktimerd")

	if err := a.watcher.Start(ctx); err != nil {
		return err
	}
	a.notif.Start(ctx)

	// Restore persisted tasks before the API accepts new work so replayed
	// and fresh schedules cannot interleave.
	a.coord.Restore(ctx)

	if a.api != nil {
		if err := a.api.Start(ctx); err != nil {
			return err
		}
	}

	refresh, err := config.ParseDurationOrDefault("housekeeping.refresh_interval", a.cfg.Housekeeping.RefreshInterval, 15*time.Second)
	if err != nil {
		return err
	}
	a.cron = cron.New()
	if _, err := a.cron.AddFunc(fmt.Sprintf("@every %s", refresh), a.refreshProjection); err != nil {
		return err
	}
	a.cron.Start()

	// Config hot-reload: only logging changes apply live; scheduling state
	// is never rebuilt on reload.
	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	updates := a.cfgm.Subscribe(1)
	go func() { _ = a.cfgm.Watch(watchCtx) }()
	go func() {
		for cfg := range updates {
			if cfg == nil {
				continue
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
		}
	}()

	// Best-effort systemd readiness.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("quicktimerd started", logx.Int("restored_tasks", a.tasks.Count()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping quicktimerd")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.cron != nil {
		cronCtx := a.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
	}
	if a.api != nil {
		a.api.Stop(ctx)
	}
	// Disarm timers before the watcher goes away so auto-cancel listeners
	// never observe a dead state source. Records stay for the next start.
	a.coord.Stop(ctx)
	_ = a.watcher.Stop(ctx)
	a.notif.Stop(ctx)

	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}

	a.log.Info("quicktimerd stopped")
	return a.logs.Close()
}

func (a *App) refreshProjection() {
	a.tracker.Push(a.tasks.All())
}

// executor adapts the REST client to the coordinator's Executor port.
type executor struct {
	ha *homeassistant.Client
}

// notifier adapts the notify service to the coordinator's Notifier port.
type notifier struct {
	svc *notify.Service
}

func (n notifier) Notify(c coordinator.Notification) {
	n.svc.Notify(notify.Notification{
		Title:   c.Title,
		Message: c.Message,
		HA:      c.HA,
		Mobile:  c.Mobile,
	})
}
