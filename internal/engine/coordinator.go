package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"lessonbot/internal/domain"
	"lessonbot/internal/eventbus"
	logx "lessonbot/pkg/logx"
)

// MaintenanceStore is the housekeeping slice of the persistence layer.
type MaintenanceStore interface {
	PruneDeliveryLog(ctx context.Context, before time.Time) (int64, error)
	CountDeliveriesSince(ctx context.Context, since time.Time) (int, error)
}

// Maintenance configures the nightly housekeeping job.
type Maintenance struct {
	// At is the local time of day the job runs.
	At domain.ClockTime
	// LogRetention is how long delivery audit rows are kept.
	LogRetention time.Duration
}

// Coordinator owns the two engines plus the nightly maintenance cron job
// and gives the composition root a single Start/Stop/Apply surface.
type Coordinator struct {
	Delivery *DeliveryEngine
	Reminder *ReminderEngine

	store MaintenanceStore
	log   logx.Logger

	mu    sync.Mutex
	maint Maintenance
	zone  *time.Location
	cron  *cron.Cron
}

type Store interface {
	DeliveryStore
	ReminderStore
	MaintenanceStore
}

func NewCoordinator(st Settings, maint Maintenance, s Store, lessons LessonSource, sender Sender, log logx.Logger, bus eventbus.Bus) *Coordinator {
	st = st.withDefaults()
	if maint.LogRetention <= 0 {
		maint.LogRetention = 90 * 24 * time.Hour
	}
	return &Coordinator{
		Delivery: NewDelivery(st, s, lessons, sender, log.With(logx.String("engine", "delivery")), bus),
		Reminder: NewReminder(st, s, lessons, sender, log.With(logx.String("engine", "reminder")), bus),
		store:    s,
		log:      log,
		maint:    maint,
		zone:     st.Zone,
	}
}

func (c *Coordinator) Start(ctx context.Context) {
	c.Delivery.Start(ctx)
	c.Reminder.Start(ctx)
	c.startCron(ctx)
}

// Stop shuts down the cron job and both engines, bounded by ctx.
func (c *Coordinator) Stop(ctx context.Context) {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr != nil {
		select {
		case <-cr.Stop().Done():
		case <-ctx.Done():
		}
	}

	c.Delivery.Stop(ctx)
	c.Reminder.Stop(ctx)
}

// Apply pushes new platform defaults into both engines and reschedules the
// maintenance job if its time of day changed.
func (c *Coordinator) Apply(ctx context.Context, st Settings, maint Maintenance) {
	st = st.withDefaults()
	c.Delivery.Apply(st)
	c.Reminder.Apply(st)

	c.mu.Lock()
	changed := c.maint.At != maint.At || c.zone != st.Zone
	c.maint = maint
	c.zone = st.Zone
	running := c.cron != nil
	c.mu.Unlock()

	if changed && running {
		c.stopCron(ctx)
		c.startCron(ctx)
	}
}

func (c *Coordinator) startCron(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return
	}

	at := c.maint.At
	cr := cron.New(cron.WithLocation(c.zone))
	spec := fmt.Sprintf("%d %d * * *", at.Minute, at.Hour)
	if _, err := cr.AddFunc(spec, func() { c.runMaintenance(ctx) }); err != nil {
		c.log.Error("maintenance schedule rejected", logx.String("spec", spec), logx.Err(err))
		return
	}
	cr.Start()
	c.cron = cr
	c.log.Info("maintenance scheduled", logx.String("at", at.String()))
}

func (c *Coordinator) stopCron(ctx context.Context) {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr == nil {
		return
	}
	select {
	case <-cr.Stop().Done():
	case <-ctx.Done():
	}
}

// runMaintenance prunes old delivery audit rows and logs a daily summary.
func (c *Coordinator) runMaintenance(ctx context.Context) {
	c.mu.Lock()
	retention := c.maint.LogRetention
	c.mu.Unlock()

	now := time.Now().UTC()

	pruned, err := c.store.PruneDeliveryLog(ctx, now.Add(-retention))
	if err != nil {
		c.log.Warn("delivery log prune failed", logx.Err(err))
	}

	delivered, err := c.store.CountDeliveriesSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		c.log.Warn("delivery summary query failed", logx.Err(err))
		return
	}

	c.log.Info("nightly maintenance",
		logx.Int64("pruned_log_rows", pruned),
		logx.Int("delivered_last_24h", delivered),
	)
}
