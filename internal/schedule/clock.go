// Package schedule resolves configured time zones and converts between
// civil local times and UTC instants. All functions are pure.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"lessonbot/internal/domain"
)

// Legacy installs configured "MSK" (or nothing at all) and expected a fixed
// +03:00 offset; keep that as an alias rather than a hard dependency on tzdata.
var aliases = map[string]*time.Location{
	"msk":    time.FixedZone("UTC+3", 3*3600),
	"moscow": time.FixedZone("UTC+3", 3*3600),
}

var offsetRe = regexp.MustCompile(`^(?:UTC|GMT)?\s*([+-])\s*(\d{1,2})(?::(\d{2}))?$`)

// Resolve turns a zone spec into a usable location. It never fails; the
// fallback order is IANA name, explicit numeric offset ("+03:00", "UTC+3"),
// known alias, UTC.
func Resolve(spec string) *time.Location {
	s := strings.TrimSpace(spec)
	if s == "" {
		return time.UTC
	}

	if loc, err := time.LoadLocation(s); err == nil {
		return loc
	}

	if loc, ok := parseOffset(s); ok {
		return loc
	}

	if loc, ok := aliases[strings.ToLower(s)]; ok {
		return loc
	}

	return time.UTC
}

func parseOffset(s string) (*time.Location, bool) {
	m := offsetRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil, false
	}
	hours, err := strconv.Atoi(m[2])
	if err != nil || hours > 14 {
		return nil, false
	}
	minutes := 0
	if m[3] != "" {
		minutes, err = strconv.Atoi(m[3])
		if err != nil || minutes > 59 {
			return nil, false
		}
	}
	secs := hours*3600 + minutes*60
	if m[1] == "-" {
		secs = -secs
	}

	name := fmt.Sprintf("UTC%+d", hours)
	if minutes != 0 {
		name = fmt.Sprintf("UTC%s%02d:%02d", m[1], hours, minutes)
	}
	return time.FixedZone(name, secs), true
}

// CivilInstant returns the UTC instant of the given civil time of day on the
// civil date that anchor has in loc, shifted by dayOffset days. Date
// arithmetic is done on civil components so a DST transition cannot skew
// the delivery date.
func CivilInstant(anchor time.Time, dayOffset int, tod domain.ClockTime, loc *time.Location) time.Time {
	y, m, d := anchor.In(loc).Date()
	return time.Date(y, m, d+dayOffset, tod.Hour, tod.Minute, 0, 0, loc).UTC()
}

// Civil returns the civil time of day of the instant in loc.
func Civil(instant time.Time, loc *time.Location) domain.ClockTime {
	lt := instant.In(loc)
	return domain.ClockTime{Hour: lt.Hour(), Minute: lt.Minute()}
}

// SameCivilDate reports whether two instants fall on the same civil date in loc.
func SameCivilDate(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
