package engine

import (
	"context"
	"sync"
	"time"

	"lessonbot/internal/domain"
	"lessonbot/internal/eventbus"
	logx "lessonbot/pkg/logx"
)

// ReminderEngine nudges participants about the current day's task, evenly
// spaced inside their reminder window, and goes quiet for the day as soon
// as the activity flag for that day is set.
type ReminderEngine struct {
	store   ReminderStore
	lessons LessonSource
	sender  Sender
	log     logx.Logger
	bus     eventbus.Bus

	smu sync.Mutex
	st  Settings

	now func() time.Time

	loop loop
}

// ReminderStats are one tick's outcome counts.
type ReminderStats struct {
	Sent        int
	OutOfWindow int
	TooSoon     int
	Done        int // activity flag already set
	NoTask      int
	Errored     int
	Skipped     int // opted out, day zero, silent day, or completed
	Aborted     bool
}

func NewReminder(st Settings, rs ReminderStore, lessons LessonSource, sender Sender, log logx.Logger, bus eventbus.Bus) *ReminderEngine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ReminderEngine{
		store:   rs,
		lessons: lessons,
		sender:  sender,
		log:     log,
		bus:     bus,
		st:      st.withDefaults(),
		now:     time.Now,
	}
}

func (e *ReminderEngine) Apply(st Settings) {
	e.smu.Lock()
	e.st = st.withDefaults()
	e.smu.Unlock()
}

func (e *ReminderEngine) settings() Settings {
	e.smu.Lock()
	defer e.smu.Unlock()
	return e.st
}

func (e *ReminderEngine) Start(ctx context.Context) {
	e.loop.start(ctx, e.run)
}

func (e *ReminderEngine) Stop(ctx context.Context) {
	e.loop.stop(ctx)
}

func (e *ReminderEngine) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	interval := e.settings().ReminderTick
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.log.Info("reminder loop started", logx.Duration("tick", interval))

	for {
		select {
		case <-ctx.Done():
			e.log.Info("reminder loop stopped")
			return
		case <-ticker.C:
			e.Tick(ctx)
			if next := e.settings().ReminderTick; next != interval {
				interval = next
				ticker.Reset(interval)
				e.log.Info("reminder tick interval changed", logx.Duration("tick", interval))
			}
		}
	}
}

// Tick runs one full reminder pass. Exported for tests.
func (e *ReminderEngine) Tick(ctx context.Context) ReminderStats {
	st := e.settings()
	now := e.now().UTC()

	parts, err := e.store.ListActive(ctx)
	if err != nil {
		e.log.Error("reminder tick aborted: store unavailable", logx.Err(err))
		if e.bus != nil {
			e.bus.Publish(eventbus.Event{Type: EventTickAborted, Data: TickAbortedEvent{Engine: "reminder", Error: err.Error()}})
		}
		return ReminderStats{Aborted: true}
	}

	var stats ReminderStats
	for _, p := range parts {
		if ctx.Err() != nil {
			e.log.Warn("reminder tick interrupted", logx.Int("remaining", len(parts)))
			break
		}
		e.remindOne(ctx, p, st, now, &stats)
	}

	e.log.Info("reminder tick",
		logx.Int("participants", len(parts)),
		logx.Int("sent", stats.Sent),
		logx.Int("out_of_window", stats.OutOfWindow),
		logx.Int("too_soon", stats.TooSoon),
		logx.Int("done", stats.Done),
		logx.Int("no_task", stats.NoTask),
		logx.Int("errored", stats.Errored),
		logx.Int("skipped", stats.Skipped),
	)
	return stats
}

func (e *ReminderEngine) remindOne(ctx context.Context, p domain.Participant, st Settings, now time.Time, stats *ReminderStats) {
	// Day zero is outside this engine; frequency zero is the opt-out.
	if !p.Enrolled() || p.ReminderFreq <= 0 || p.CurrentDay < 1 || p.Completed(st.CourseLength) {
		stats.Skipped++
		return
	}

	day := p.CurrentDay
	if e.lessons.IsSilent(day) {
		stats.Skipped++
		return
	}

	win := p.EffectiveWindow(st.ReminderWindow)
	local := now.In(st.Zone)
	if !win.Contains(local, st.Zone) {
		stats.OutOfWindow++
		return
	}

	done, err := e.store.ActivityFlag(ctx, p.ID, day)
	if err != nil {
		e.log.Warn("activity flag read failed", logx.Int64("participant", p.ID), logx.Err(err))
		stats.Errored++
		return
	}
	if done {
		stats.Done++
		return
	}

	winStart, _ := win.Bounds(local, st.Zone)
	interval := win.Duration() / time.Duration(p.ReminderFreq)
	if last := p.LastReminderAt; last != nil {
		// A reminder sent before the current window opened belongs to a
		// previous day and does not delay today's first one.
		if !last.UTC().Before(winStart.UTC()) && now.Sub(last.UTC()) < interval {
			stats.TooSoon++
			return
		}
	}

	task, ok := e.lessons.TaskText(day, p.Tier)
	if !ok {
		stats.NoTask++
		return
	}

	sctx, cancel := context.WithTimeout(ctx, st.SendTimeout)
	err = e.sender.SendText(sctx, p.ID, task)
	cancel()
	if err != nil {
		e.log.Warn("reminder send failed",
			logx.Int64("participant", p.ID), logx.Int("day", day), logx.Err(err))
		stats.Errored++
		return
	}

	if err := e.store.SetLastReminder(ctx, p.ID, now); err != nil {
		// The monotonic guard in the store rejects stale writes; any other
		// failure means the next tick may repeat this reminder once.
		e.log.Warn("last reminder persist failed", logx.Int64("participant", p.ID), logx.Err(err))
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: EventReminderSent, Data: ReminderEvent{ParticipantID: p.ID, Day: day, At: now}})
	}
	stats.Sent++
}
