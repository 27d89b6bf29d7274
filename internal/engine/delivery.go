package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"lessonbot/internal/domain"
	"lessonbot/internal/eventbus"
	"lessonbot/internal/schedule"
	"lessonbot/internal/store"
	logx "lessonbot/pkg/logx"
)

// DeliveryEngine delivers each curriculum day at most once, at the
// participant's local delivery time. It never catches up with multiple
// sends: a day missed while the bot was down goes out once, flagged late.
type DeliveryEngine struct {
	store   DeliveryStore
	lessons LessonSource
	sender  Sender
	log     logx.Logger
	bus     eventbus.Bus

	smu sync.Mutex
	st  Settings

	// now is swappable for tests.
	now func() time.Time

	loop loop
}

// DeliveryStats are one tick's outcome counts.
type DeliveryStats struct {
	Delivered int
	Silent    int
	NotReady  int
	Errored   int
	NotDue    int
	Inactive  int // day-zero or already completed
	Aborted   bool
}

func NewDelivery(st Settings, ds DeliveryStore, lessons LessonSource, sender Sender, log logx.Logger, bus eventbus.Bus) *DeliveryEngine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DeliveryEngine{
		store:   ds,
		lessons: lessons,
		sender:  sender,
		log:     log,
		bus:     bus,
		st:      st.withDefaults(),
		now:     time.Now,
	}
}

// Apply swaps the platform defaults at runtime (config hot reload).
func (e *DeliveryEngine) Apply(st Settings) {
	e.smu.Lock()
	e.st = st.withDefaults()
	e.smu.Unlock()
}

func (e *DeliveryEngine) settings() Settings {
	e.smu.Lock()
	defer e.smu.Unlock()
	return e.st
}

func (e *DeliveryEngine) Start(ctx context.Context) {
	e.loop.start(ctx, e.run)
}

func (e *DeliveryEngine) Stop(ctx context.Context) {
	e.loop.stop(ctx)
}

func (e *DeliveryEngine) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	interval := e.settings().DeliveryTick
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.log.Info("delivery loop started", logx.Duration("tick", interval))

	for {
		select {
		case <-ctx.Done():
			e.log.Info("delivery loop stopped")
			return
		case <-ticker.C:
			e.Tick(ctx)
			if next := e.settings().DeliveryTick; next != interval {
				interval = next
				ticker.Reset(interval)
				e.log.Info("delivery tick interval changed", logx.Duration("tick", interval))
			}
		}
	}
}

// Tick runs one full pass over the active participants. Exported so tests
// can drive the engine without the ticker.
func (e *DeliveryEngine) Tick(ctx context.Context) DeliveryStats {
	st := e.settings()
	now := e.now().UTC()

	parts, err := e.store.ListActive(ctx)
	if err != nil {
		// Store unavailability aborts the whole tick; nothing was mutated,
		// the next tick starts from scratch.
		e.log.Error("delivery tick aborted: store unavailable", logx.Err(err))
		if e.bus != nil {
			e.bus.Publish(eventbus.Event{Type: EventTickAborted, Data: TickAbortedEvent{Engine: "delivery", Error: err.Error()}})
		}
		return DeliveryStats{Aborted: true}
	}

	var stats DeliveryStats
	for _, p := range parts {
		if ctx.Err() != nil {
			e.log.Warn("delivery tick interrupted", logx.Int("remaining", len(parts)))
			break
		}
		e.deliverOne(ctx, p, st, now, &stats)
	}

	e.log.Info("delivery tick",
		logx.Int("participants", len(parts)),
		logx.Int("delivered", stats.Delivered),
		logx.Int("silent", stats.Silent),
		logx.Int("not_ready", stats.NotReady),
		logx.Int("errored", stats.Errored),
		logx.Int("not_due", stats.NotDue),
		logx.Int("inactive", stats.Inactive),
	)
	return stats
}

func (e *DeliveryEngine) deliverOne(ctx context.Context, p domain.Participant, st Settings, now time.Time, stats *DeliveryStats) {
	// Day zero is the enrollment flow's welcome message, not ours; past the
	// curriculum there is nothing left to send.
	if !p.Enrolled() || p.CurrentDay == 0 || p.Completed(st.CourseLength) {
		stats.Inactive++
		return
	}

	day := p.CurrentDay
	tod := p.EffectiveDeliveryTime(st.DeliveryTime)
	expected := schedule.CivilInstant(p.StartMoment, day-1, tod, st.Zone)

	if now.Before(expected) {
		stats.NotDue++
		return
	}

	// Overdue by more than a day means the bot was down (or the clock
	// drifted). Deliver once anyway, but flag it for monitoring.
	late := now.Sub(expected) > 24*time.Hour
	if late {
		e.log.Warn("lesson overdue by more than 24h",
			logx.Int64("participant", p.ID), logx.Int("day", day),
			logx.Time("expected", expected))
		if e.bus != nil {
			e.bus.Publish(eventbus.Event{Type: EventDeliveryLate, Data: DeliveryEvent{ParticipantID: p.ID, Day: day, Late: true, At: now}})
		}
	}

	if e.lessons.IsSilent(day) {
		// No send, but the cursor still advances.
		if err := e.advance(ctx, p.ID, day); err != nil {
			stats.Errored++
			return
		}
		stats.Silent++
		return
	}

	lesson, ok := e.lessons.Lesson(day, p.Tier)
	if !ok {
		// Authoring gap, not a scheduling fault: retry every tick until
		// the curriculum file catches up.
		e.log.Debug("lesson content not ready", logx.Int64("participant", p.ID), logx.Int("day", day))
		stats.NotReady++
		return
	}

	sctx, cancel := context.WithTimeout(ctx, st.SendTimeout)
	err := e.sender.SendText(sctx, p.ID, lesson.Text)
	cancel()
	if err != nil {
		e.log.Warn("lesson send failed",
			logx.Int64("participant", p.ID), logx.Int("day", day), logx.Err(err))
		stats.Errored++
		return
	}

	if err := e.advance(ctx, p.ID, day); err != nil {
		stats.Errored++
		return
	}
	if err := e.store.LogDelivery(ctx, p.ID, day, now, late); err != nil {
		// Audit only; the cursor already advanced, so no retry.
		e.log.Warn("delivery audit write failed", logx.Int64("participant", p.ID), logx.Err(err))
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: EventLessonDelivered, Data: DeliveryEvent{ParticipantID: p.ID, Day: day, Late: late, At: now}})
	}
	stats.Delivered++
}

func (e *DeliveryEngine) advance(ctx context.Context, id int64, day int) error {
	err := e.store.AdvanceDay(ctx, id, day, day+1)
	if errors.Is(err, store.ErrConflict) {
		// Someone else moved the cursor (admin reset, concurrent tick after
		// a restart). The guard did its job; treat as done.
		e.log.Warn("day cursor moved concurrently", logx.Int64("participant", id), logx.Int("day", day))
		return nil
	}
	if err != nil {
		e.log.Error("day cursor persist failed", logx.Int64("participant", id), logx.Int("day", day), logx.Err(err))
	}
	return err
}
