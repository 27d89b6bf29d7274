package domain

import "time"

// Tier is a participant's paid access tier. The empty value means
// "not enrolled": no lesson delivery or reminders apply.
type Tier string

const (
	TierNone     Tier = ""
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

func (t Tier) Valid() bool {
	switch t {
	case TierBasic, TierStandard, TierPremium:
		return true
	}
	return false
}

// Participant is one enrolled course taker.
//
// StartMoment is the UTC instant of the lesson day 1 local delivery moment.
// It is computed once at enrollment and never recomputed afterward.
//
// CurrentDay is the 1-based lesson cursor. 0 means "welcome lesson pending",
// which is the enrollment flow's responsibility, not the engines'. Values
// beyond the curriculum length mean the course is finished.
type Participant struct {
	ID          int64 // telegram chat id
	Tier        Tier
	StartMoment time.Time
	CurrentDay  int

	// Per-participant overrides of platform defaults. Zero values mean
	// "use the platform default".
	DeliveryTime   *ClockTime
	ReminderWindow *Window

	// ReminderFreq is the number of reminders to spread across the daily
	// window. 0 disables reminders.
	ReminderFreq int

	LastReminderAt *time.Time
}

func (p Participant) Enrolled() bool { return p.Tier != TierNone }

func (p Participant) Completed(courseLen int) bool { return p.CurrentDay > courseLen }

// EffectiveDeliveryTime returns the participant's delivery time override,
// or the platform default.
func (p Participant) EffectiveDeliveryTime(def ClockTime) ClockTime {
	if p.DeliveryTime != nil {
		return *p.DeliveryTime
	}
	return def
}

// EffectiveWindow returns the participant's reminder window override,
// or the platform default.
func (p Participant) EffectiveWindow(def Window) Window {
	if p.ReminderWindow != nil {
		return *p.ReminderWindow
	}
	return def
}
