package engine

import (
	"context"
	"sync"
	"time"

	"lessonbot/internal/content"
	"lessonbot/internal/domain"
)

// Shared test doubles for both engine test files.

type fakeStore struct {
	mu sync.Mutex

	parts   []domain.Participant
	listErr error

	advances   [][3]int64 // id, from, to
	advanceErr error

	logged  [][2]int64 // id, day
	lateLog map[int64]bool
	logErr  error

	activity    map[int64]map[int]bool
	activityErr error

	lastSet    []time.Time
	setLastErr error
}

func newFakeStore(parts ...domain.Participant) *fakeStore {
	return &fakeStore{
		parts:    parts,
		lateLog:  map[int64]bool{},
		activity: map[int64]map[int]bool{},
	}
}

func (f *fakeStore) ListActive(ctx context.Context) ([]domain.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.Participant, len(f.parts))
	copy(out, f.parts)
	return out, nil
}

func (f *fakeStore) AdvanceDay(ctx context.Context, id int64, from, to int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advanceErr != nil {
		return f.advanceErr
	}
	f.advances = append(f.advances, [3]int64{id, int64(from), int64(to)})
	for i := range f.parts {
		if f.parts[i].ID == id {
			f.parts[i].CurrentDay = to
		}
	}
	return nil
}

func (f *fakeStore) LogDelivery(ctx context.Context, id int64, day int, at time.Time, late bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logErr != nil {
		return f.logErr
	}
	f.logged = append(f.logged, [2]int64{id, int64(day)})
	f.lateLog[id] = late
	return nil
}

func (f *fakeStore) ActivityFlag(ctx context.Context, id int64, day int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activityErr != nil {
		return false, f.activityErr
	}
	return f.activity[id][day], nil
}

func (f *fakeStore) SetLastReminder(ctx context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setLastErr != nil {
		return f.setLastErr
	}
	f.lastSet = append(f.lastSet, at)
	return nil
}

func (f *fakeStore) setActivity(id int64, day int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activity[id] == nil {
		f.activity[id] = map[int]bool{}
	}
	f.activity[id][day] = true
}

type fakeLessons struct {
	silent  map[int]bool
	lessons map[int]content.Lesson
	tasks   map[int]string
}

func (f *fakeLessons) IsSilent(day int) bool { return f.silent[day] }

func (f *fakeLessons) Lesson(day int, tier domain.Tier) (content.Lesson, bool) {
	l, ok := f.lessons[day]
	return l, ok
}

func (f *fakeLessons) TaskText(day int, tier domain.Tier) (string, bool) {
	t, ok := f.tasks[day]
	return t, ok
}

type sentMsg struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMsg
	err  error
}

func (f *fakeSender) SendText(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMsg{chatID: chatID, text: text})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func mustClock(s string) domain.ClockTime {
	ct, err := domain.ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return ct
}

func mustWindow(s string) domain.Window {
	w, err := domain.ParseWindow(s)
	if err != nil {
		panic(err)
	}
	return w
}

func testSettings() Settings {
	return Settings{
		CourseLength:   30,
		Zone:           time.UTC,
		DeliveryTime:   mustClock("08:30"),
		ReminderWindow: mustWindow("09:00-21:00"),
		DeliveryTick:   time.Minute,
		ReminderTick:   time.Minute,
		SendTimeout:    time.Second,
	}
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}
