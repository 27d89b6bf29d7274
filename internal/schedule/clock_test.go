package schedule

import (
	"testing"
	"time"

	"lessonbot/internal/domain"
)

func TestResolveFallbackChain(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		spec   string
		offset int // seconds east of UTC at a fixed winter instant
	}{
		{name: "utc", spec: "UTC", offset: 0},
		{name: "iana", spec: "Europe/Berlin", offset: 3600},
		{name: "offset colon", spec: "+03:00", offset: 3 * 3600},
		{name: "offset negative", spec: "-05:30", offset: -(5*3600 + 30*60)},
		{name: "utc prefix", spec: "UTC+3", offset: 3 * 3600},
		{name: "gmt prefix", spec: "GMT+2", offset: 2 * 3600},
		{name: "alias msk", spec: "MSK", offset: 3 * 3600},
		{name: "garbage falls back to utc", spec: "Not/AZone", offset: 0},
		{name: "empty falls back to utc", spec: "", offset: 0},
	}

	// Winter instant so IANA zones are off DST.
	ref := time.Date(2026, time.January, 15, 12, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			loc := Resolve(tt.spec)
			if loc == nil {
				t.Fatal("Resolve returned nil location")
			}
			_, got := ref.In(loc).Zone()
			if got != tt.offset {
				t.Fatalf("offset = %d, want %d", got, tt.offset)
			}
		})
	}
}

func TestCivilInstant(t *testing.T) {
	t.Parallel()
	loc := Resolve("+03:00")

	// Anchor: 2026-03-01 08:30 local (+03:00) == 05:30 UTC.
	anchor := time.Date(2026, time.March, 1, 5, 30, 0, 0, time.UTC)
	tod := domain.NewClockTime(8, 30)

	got := CivilInstant(anchor, 0, tod, loc)
	if !got.Equal(anchor) {
		t.Fatalf("day 0 instant = %v, want %v", got, anchor)
	}

	// Four days later, same local time.
	got = CivilInstant(anchor, 4, tod, loc)
	want := time.Date(2026, time.March, 5, 5, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("day 4 instant = %v, want %v", got, want)
	}
}

func TestCivilInstantAcrossDST(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 2026-03-29 is the CET->CEST switch. Local delivery time must stay
	// 08:30 on both sides of the transition.
	anchor := time.Date(2026, time.March, 28, 8, 30, 0, 0, loc)
	tod := domain.NewClockTime(8, 30)

	before := CivilInstant(anchor, 0, tod, loc)
	after := CivilInstant(anchor, 1, tod, loc)

	if got := Civil(before, loc); got != tod {
		t.Fatalf("local time before transition = %v, want %v", got, tod)
	}
	if got := Civil(after, loc); got != tod {
		t.Fatalf("local time after transition = %v, want %v", got, tod)
	}
	// The UTC gap is 23h, not 24h, because an hour was skipped.
	if d := after.Sub(before); d != 23*time.Hour {
		t.Fatalf("UTC gap across DST = %v, want 23h", d)
	}
}

func TestSameCivilDate(t *testing.T) {
	t.Parallel()
	loc := Resolve("+03:00")

	// 22:30 UTC and 23:30 UTC are on different local dates in +03:00.
	a := time.Date(2026, time.May, 10, 20, 30, 0, 0, time.UTC)
	b := time.Date(2026, time.May, 10, 21, 30, 0, 0, time.UTC)
	if !SameCivilDate(a, b, time.UTC) {
		t.Fatal("expected same UTC date")
	}
	if SameCivilDate(a, b, loc) {
		t.Fatal("expected different local dates in +03:00")
	}
}
