package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a civil time of day with minute resolution ("HH:MM").
type ClockTime struct {
	Hour   int
	Minute int
}

func NewClockTime(hour, minute int) ClockTime {
	return ClockTime{Hour: hour, Minute: minute}
}

// ParseClockTime parses "HH:MM" (24h).
func ParseClockTime(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

func (t ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns minutes since midnight.
func (t ClockTime) Minutes() int { return t.Hour*60 + t.Minute }

func (t ClockTime) IsZero() bool { return t.Hour == 0 && t.Minute == 0 }

// On anchors the clock time to the civil date of d in location loc.
func (t ClockTime) On(d time.Time, loc *time.Location) time.Time {
	y, m, day := d.In(loc).Date()
	return time.Date(y, m, day, t.Hour, t.Minute, 0, 0, loc)
}

func (t ClockTime) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ClockTime) UnmarshalText(b []byte) error {
	ct, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*t = ct
	return nil
}

// Window is a daily local time range. If End <= Start the window spans
// midnight into the next civil day.
type Window struct {
	Start ClockTime
	End   ClockTime
}

// ParseWindow parses "HH:MM-HH:MM".
func ParseWindow(s string) (Window, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("invalid window %q, expected HH:MM-HH:MM", s)
	}
	start, err := ParseClockTime(parts[0])
	if err != nil {
		return Window{}, err
	}
	end, err := ParseClockTime(parts[1])
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// Duration is the window length. A window whose end does not come after
// its start rolls over to the next day.
func (w Window) Duration() time.Duration {
	mins := w.End.Minutes() - w.Start.Minutes()
	if mins <= 0 {
		mins += 24 * 60
	}
	return time.Duration(mins) * time.Minute
}

// Bounds returns the window's concrete [start, end] instants for the day
// containing the local instant now. When the window spans midnight and now
// falls in the early part (after midnight, at or before End), the returned
// bounds belong to the window that opened yesterday.
func (w Window) Bounds(now time.Time, loc *time.Location) (start, end time.Time) {
	start = w.Start.On(now, loc)
	end = w.End.On(now, loc)
	if !end.After(start) {
		// Spans midnight.
		if !now.Before(start) {
			end = end.AddDate(0, 0, 1)
		} else {
			start = start.AddDate(0, 0, -1)
		}
	}
	return start, end
}

// Contains reports whether now falls inside the window (inclusive bounds).
func (w Window) Contains(now time.Time, loc *time.Location) bool {
	start, end := w.Bounds(now, loc)
	return !now.Before(start) && !now.After(end)
}

func (w Window) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

func (w *Window) UnmarshalText(b []byte) error {
	win, err := ParseWindow(string(b))
	if err != nil {
		return err
	}
	*w = win
	return nil
}
