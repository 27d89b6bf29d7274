// Package app wires configuration, storage, content, the telegram sender
// and the two engines together, and owns their lifecycles.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"lessonbot/internal/config"
	"lessonbot/internal/content"
	"lessonbot/internal/domain"
	"lessonbot/internal/engine"
	"lessonbot/internal/eventbus"
	"lessonbot/internal/runtime/supervisor"
	"lessonbot/internal/schedule"
	"lessonbot/internal/store"
	"lessonbot/internal/telegram"
	logx "lessonbot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store   *store.Store
	catalog *content.Catalog
	sender  *telegram.Sender
	bus     eventbus.Bus
	coord   *engine.Coordinator

	ownerChat atomic.Int64

	sup    *supervisor.Supervisor
	cfgSub chan *config.Config
}

// New loads the configuration and builds every component. Nothing is
// running yet; call Start.
func New(configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("component", "config")))
	mgr.SetValidator(validate)

	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: durationOr("storage.busy_timeout", cfg.Storage.BusyTimeout, 0),
	}, log.With(logx.String("component", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	catalog, err := content.Load(cfg.Content.Path, log.With(logx.String("component", "content")))
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("load curriculum: %w", err)
	}

	sender, err := telegram.New(telegram.Config{
		Token:      cfg.Telegram.Token,
		RatePerSec: cfg.Telegram.RatePerSec,
	}, log.With(logx.String("component", "telegram")))
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	bus := eventbus.New()
	settings, maint := buildSettings(cfg)

	a := &App{
		cfgMgr:  mgr,
		logSvc:  logSvc,
		log:     log,
		store:   st,
		catalog: catalog,
		sender:  sender,
		bus:     bus,
		coord:   engine.NewCoordinator(settings, maint, st, catalog, sender, log, bus),
	}
	a.ownerChat.Store(cfg.Telegram.OwnerChatID)
	return a, nil
}

// Start launches the engines and the background watchers. It returns
// immediately; use Wait to block until something fails or ctx ends.
func (a *App) Start(ctx context.Context) {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.coord.Start(a.sup.Context())

	a.sup.Go("config-watch", a.cfgMgr.Watch)
	a.sup.Go("content-watch", a.catalog.Watch)

	a.cfgSub = a.cfgMgr.Subscribe(4)
	a.sup.Go0("config-apply", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-a.cfgSub:
				if !ok {
					return
				}
				a.applyConfig(ctx, cfg)
			}
		}
	})

	a.sup.Go0("alerts", a.forwardAlerts)

	a.log.Info("lessonbot started")
}

// Wait blocks until the supervisor context ends (signal, fatal error).
func (a *App) Wait() error {
	<-a.sup.Context().Done()
	return a.sup.Err()
}

// Stop shuts everything down in dependency order, bounded by ctx.
func (a *App) Stop(ctx context.Context) {
	a.log.Info("lessonbot stopping")

	// Engines first so nothing writes during teardown.
	a.coord.Stop(ctx)

	if a.sup != nil {
		a.sup.Cancel()
		if err := a.sup.Wait(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("shutdown finished with error", logx.Err(err))
		}
	}
	if a.cfgSub != nil {
		a.cfgMgr.Unsubscribe(a.cfgSub)
		a.cfgSub = nil
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("lessonbot stopped")
	_ = a.logSvc.Close()
}

// applyConfig pushes a validated hot-reloaded config into the running
// components.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})

	settings, maint := buildSettings(cfg)
	a.coord.Apply(ctx, settings, maint)
	a.ownerChat.Store(cfg.Telegram.OwnerChatID)

	a.log.Info("configuration applied",
		logx.String("timezone", cfg.Course.Timezone),
		logx.Int("course_length", settingsLength(cfg)),
	)
}

// forwardAlerts relays operational events to the owner chat, if configured.
func (a *App) forwardAlerts(ctx context.Context) {
	events, unsub := a.bus.Subscribe(16)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			text := alertText(ev)
			if text == "" {
				continue
			}
			chat := a.ownerChat.Load()
			if chat == 0 {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := a.sender.SendText(sctx, chat, text); err != nil {
				a.log.Warn("alert delivery failed", logx.Err(err))
			}
			cancel()
		}
	}
}

func alertText(ev eventbus.Event) string {
	switch ev.Type {
	case engine.EventDeliveryLate:
		d, ok := ev.Data.(engine.DeliveryEvent)
		if !ok {
			return ""
		}
		return fmt.Sprintf("⚠️ lesson for participant %d, day %d went out more than 24h late", d.ParticipantID, d.Day)
	case engine.EventTickAborted:
		t, ok := ev.Data.(engine.TickAbortedEvent)
		if !ok {
			return ""
		}
		return fmt.Sprintf("⚠️ %s tick aborted: %s", t.Engine, t.Error)
	}
	return ""
}

func settingsLength(cfg *config.Config) int {
	if cfg.Course.Length > 0 {
		return cfg.Course.Length
	}
	return config.DefaultCourseLength
}

// buildSettings converts the file config into engine settings, applying
// platform defaults for omitted fields. Validation already guaranteed
// parseability, so parse failures here degrade to defaults.
func buildSettings(cfg *config.Config) (engine.Settings, engine.Maintenance) {
	course := cfg.Course

	tod, err := domain.ParseClockTime(orDefault(course.DeliveryTime, config.DefaultDeliveryTime))
	if err != nil {
		tod, _ = domain.ParseClockTime(config.DefaultDeliveryTime)
	}
	win, err := domain.ParseWindow(orDefault(course.ReminderWindow, config.DefaultReminderWindow))
	if err != nil {
		win, _ = domain.ParseWindow(config.DefaultReminderWindow)
	}
	maintAt, err := domain.ParseClockTime(orDefault(course.MaintenanceTime, config.DefaultMaintenanceTime))
	if err != nil {
		maintAt, _ = domain.ParseClockTime(config.DefaultMaintenanceTime)
	}

	retentionDays := course.DeliveryLogRetentionDays
	if retentionDays <= 0 {
		retentionDays = config.DefaultLogRetentionDays
	}

	settings := engine.Settings{
		CourseLength:   settingsLength(cfg),
		Zone:           schedule.Resolve(course.Timezone),
		DeliveryTime:   tod,
		ReminderWindow: win,
		DeliveryTick:   durationOr("course.delivery_tick", course.DeliveryTick, 5*time.Minute),
		ReminderTick:   durationOr("course.reminder_tick", course.ReminderTick, 5*time.Minute),
		SendTimeout:    durationOr("telegram.send_timeout", cfg.Telegram.SendTimeout, 10*time.Second),
	}
	maint := engine.Maintenance{
		At:           maintAt,
		LogRetention: time.Duration(retentionDays) * 24 * time.Hour,
	}
	return settings, maint
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// durationOr parses a config duration, falling back to def. Validation ran
// before any caller of this, so a parse failure here can only mean the
// default is wanted.
func durationOr(path, raw string, def time.Duration) time.Duration {
	d, err := config.ParseDurationOrDefault(path, raw, def)
	if err != nil {
		return def
	}
	return d
}

// validate rejects configs that would break running components. Used both
// at startup and as the hot-reload gate.
func validate(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("empty config")
	}
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if cfg.Content.Path == "" {
		return fmt.Errorf("content.path is required")
	}
	if v := cfg.Course.DeliveryTime; v != "" {
		if _, err := domain.ParseClockTime(v); err != nil {
			return fmt.Errorf("course.delivery_time: %w", err)
		}
	}
	if v := cfg.Course.ReminderWindow; v != "" {
		if _, err := domain.ParseWindow(v); err != nil {
			return fmt.Errorf("course.reminder_window: %w", err)
		}
	}
	if v := cfg.Course.MaintenanceTime; v != "" {
		if _, err := domain.ParseClockTime(v); err != nil {
			return fmt.Errorf("course.maintenance_time: %w", err)
		}
	}
	for name, v := range map[string]string{
		"course.delivery_tick":  cfg.Course.DeliveryTick,
		"course.reminder_tick":  cfg.Course.ReminderTick,
		"telegram.send_timeout": cfg.Telegram.SendTimeout,
		"storage.busy_timeout":  cfg.Storage.BusyTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := config.ParseDurationField(name, v); err != nil {
			return err
		}
	}
	if cfg.Course.Length < 0 {
		return fmt.Errorf("course.length must not be negative")
	}
	return nil
}
