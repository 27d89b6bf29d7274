// Package engine contains the temporal delivery core: two independent
// polling loops that decide, per enrolled participant and per tick, whether
// the next lesson is due and whether a task reminder is due.
package engine

import (
	"context"
	"sync"
	"time"

	"lessonbot/internal/content"
	"lessonbot/internal/domain"
)

// DeliveryStore is what the lesson delivery loop needs from persistence.
type DeliveryStore interface {
	ListActive(ctx context.Context) ([]domain.Participant, error)
	AdvanceDay(ctx context.Context, id int64, from, to int) error
	LogDelivery(ctx context.Context, id int64, day int, at time.Time, late bool) error
}

// ReminderStore is what the reminder loop needs from persistence.
type ReminderStore interface {
	ListActive(ctx context.Context) ([]domain.Participant, error)
	ActivityFlag(ctx context.Context, id int64, day int) (bool, error)
	SetLastReminder(ctx context.Context, id int64, at time.Time) error
}

// LessonSource answers content questions for a curriculum day.
type LessonSource interface {
	IsSilent(day int) bool
	Lesson(day int, tier domain.Tier) (content.Lesson, bool)
	TaskText(day int, tier domain.Tier) (string, bool)
}

// Sender is the injected message channel. It may fail; the engines respond
// by not advancing state and retrying on a later tick, so at-least-once
// tolerance on the receiving side is enough.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Settings are the platform scheduling defaults. Participants may override
// the delivery time and the reminder window individually.
type Settings struct {
	CourseLength   int
	Zone           *time.Location
	DeliveryTime   domain.ClockTime
	ReminderWindow domain.Window
	DeliveryTick   time.Duration
	ReminderTick   time.Duration

	// SendTimeout bounds one callback invocation so a slow send cannot
	// stall the whole tick.
	SendTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.CourseLength <= 0 {
		s.CourseLength = 30
	}
	if s.Zone == nil {
		s.Zone = time.UTC
	}
	if s.DeliveryTick <= 0 {
		s.DeliveryTick = 5 * time.Minute
	}
	if s.ReminderTick <= 0 {
		s.ReminderTick = 5 * time.Minute
	}
	if s.SendTimeout <= 0 {
		s.SendTimeout = 10 * time.Second
	}
	return s
}

// Event types published on the bus.
const (
	EventLessonDelivered = "lesson.delivered"
	EventDeliveryLate    = "delivery.late"
	EventReminderSent    = "reminder.sent"
	EventTickAborted     = "tick.aborted"
)

// DeliveryEvent is the payload for lesson.delivered / delivery.late.
type DeliveryEvent struct {
	ParticipantID int64     `json:"participant_id"`
	Day           int       `json:"day"`
	Late          bool      `json:"late,omitempty"`
	At            time.Time `json:"at"`
}

// ReminderEvent is the payload for reminder.sent.
type ReminderEvent struct {
	ParticipantID int64     `json:"participant_id"`
	Day           int       `json:"day"`
	At            time.Time `json:"at"`
}

// TickAbortedEvent is published when a tick could not read the store.
type TickAbortedEvent struct {
	Engine string `json:"engine"`
	Error  string `json:"error"`
}

// loop is the shared lifecycle of both engines: a single goroutine, one
// tick at a time (ticks of the same engine never overlap), cooperative stop
// bounded by the caller's context.
type loop struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// start launches run in a goroutine unless already running.
func (l *loop) start(ctx context.Context, run func(ctx context.Context, done chan<- struct{})) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.running = true
	go run(runCtx, done)
}

// stop cancels the loop and waits for the current tick to finish, bounded
// by ctx. A tick abandoned at the deadline keeps its canceled context, so
// it cannot persist state afterwards.
func (l *loop) stop(ctx context.Context) {
	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	l.cancel = nil
	l.done = nil
	l.running = false
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}
