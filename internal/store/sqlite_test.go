package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"lessonbot/internal/domain"
	logx "lessonbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testParticipant(id int64) domain.Participant {
	return domain.Participant{
		ID:           id,
		Tier:         domain.TierBasic,
		StartMoment:  time.Date(2026, time.June, 1, 5, 30, 0, 0, time.UTC),
		CurrentDay:   1,
		ReminderFreq: 2,
	}
}

func TestEnrollAndListActive(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Enroll(ctx, testParticipant(10)); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	// Not enrolled: no tier.
	unpaid := testParticipant(11)
	unpaid.Tier = domain.TierNone
	if err := s.Enroll(ctx, unpaid); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].ID != 10 {
		t.Fatalf("ListActive = %+v, want only participant 10", active)
	}
	if !active[0].StartMoment.Equal(testParticipant(10).StartMoment) {
		t.Errorf("start moment mismatch: %v", active[0].StartMoment)
	}
}

func TestOverridesRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	p := testParticipant(20)
	dt := domain.NewClockTime(7, 15)
	w := domain.Window{Start: domain.NewClockTime(10, 0), End: domain.NewClockTime(20, 0)}
	p.DeliveryTime = &dt
	p.ReminderWindow = &w
	if err := s.Enroll(ctx, p); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, 20)
	if err != nil {
		t.Fatal(err)
	}
	if got.DeliveryTime == nil || *got.DeliveryTime != dt {
		t.Errorf("delivery time = %v, want %v", got.DeliveryTime, dt)
	}
	if got.ReminderWindow == nil || *got.ReminderWindow != w {
		t.Errorf("reminder window = %v, want %v", got.ReminderWindow, w)
	}
	if got.LastReminderAt != nil {
		t.Errorf("last reminder should start null, got %v", got.LastReminderAt)
	}
}

func TestAdvanceDayGuard(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Enroll(ctx, testParticipant(30)); err != nil {
		t.Fatal(err)
	}

	if err := s.AdvanceDay(ctx, 30, 1, 2); err != nil {
		t.Fatalf("AdvanceDay: %v", err)
	}
	// A second advance from the stale cursor must not apply.
	if err := s.AdvanceDay(ctx, 30, 1, 2); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale advance: err = %v, want ErrConflict", err)
	}
	// Decreasing the cursor is refused outright.
	if err := s.AdvanceDay(ctx, 30, 2, 1); err == nil {
		t.Fatal("expected error for decreasing cursor")
	}

	got, err := s.Get(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentDay != 2 {
		t.Fatalf("current day = %d, want 2", got.CurrentDay)
	}
}

func TestSetLastReminderMonotonic(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Enroll(ctx, testParticipant(40)); err != nil {
		t.Fatal(err)
	}

	t1 := time.Date(2026, time.June, 2, 9, 5, 0, 0, time.UTC)
	t2 := t1.Add(3 * time.Hour)

	if err := s.SetLastReminder(ctx, 40, t1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLastReminder(ctx, 40, t2); err != nil {
		t.Fatal(err)
	}
	// Going backwards in time must not apply.
	if err := s.SetLastReminder(ctx, 40, t1); !errors.Is(err, ErrConflict) {
		t.Fatalf("backwards reminder: err = %v, want ErrConflict", err)
	}

	got, err := s.Get(ctx, 40)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastReminderAt == nil || !got.LastReminderAt.Equal(t2) {
		t.Fatalf("last reminder = %v, want %v", got.LastReminderAt, t2)
	}
}

func TestActivityFlag(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Enroll(ctx, testParticipant(50)); err != nil {
		t.Fatal(err)
	}

	on, err := s.ActivityFlag(ctx, 50, 3)
	if err != nil {
		t.Fatal(err)
	}
	if on {
		t.Fatal("flag should start false")
	}

	if err := s.SetActivityFlag(ctx, 50, 3); err != nil {
		t.Fatal(err)
	}
	// Idempotent.
	if err := s.SetActivityFlag(ctx, 50, 3); err != nil {
		t.Fatal(err)
	}

	on, err = s.ActivityFlag(ctx, 50, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !on {
		t.Fatal("flag should be set")
	}
	// Other days unaffected.
	on, err = s.ActivityFlag(ctx, 50, 4)
	if err != nil {
		t.Fatal(err)
	}
	if on {
		t.Fatal("day 4 flag should be unset")
	}
}

func TestDeliveryLog(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, time.June, 10, 5, 30, 0, 0, time.UTC)
	if err := s.LogDelivery(ctx, 60, 1, now.AddDate(0, 0, -100), false); err != nil {
		t.Fatal(err)
	}
	if err := s.LogDelivery(ctx, 60, 2, now, true); err != nil {
		t.Fatal(err)
	}
	// Duplicate (participant, day) is a no-op.
	if err := s.LogDelivery(ctx, 60, 2, now.Add(time.Hour), false); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountDeliveriesSince(ctx, now.AddDate(0, 0, -1))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("recent deliveries = %d, want 1", n)
	}

	removed, err := s.PruneDeliveryLog(ctx, now.AddDate(0, 0, -90))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("pruned = %d, want 1", removed)
	}
}
