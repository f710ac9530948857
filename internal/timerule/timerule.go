// Package timerule turns a session's calendar date and start time into the
// instants the scheduler cares about: when the booking bot fires and when the
// provider opens the session for booking.
//
// Day offsets follow the wall clock of the session's timezone; hour and
// minute offsets are absolute durations.
package timerule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/example/class-scheduler/internal/internaltypes"
)

const DateLayout = "2006-01-02"

// Offset is how far ahead of an event an instant sits.
type Offset struct {
	Days    uint `json:"days" mapstructure:"days"`
	Hours   uint `json:"hours" mapstructure:"hours"`
	Minutes uint `json:"minutes" mapstructure:"minutes"`
}

var (
	// DefaultDispatchOffset fires the bot one minute before DefaultOpeningOffset.
	DefaultDispatchOffset = Offset{Days: 7, Hours: 22, Minutes: 1}
	DefaultOpeningOffset  = Offset{Days: 7, Hours: 22}
)

// Before returns t moved back by o. Days are calendar days in t's location.
func (o Offset) Before(t time.Time) time.Time {
	return t.AddDate(0, 0, -int(o.Days)).
		Add(-time.Duration(o.Hours) * time.Hour).
		Add(-time.Duration(o.Minutes) * time.Minute)
}

func (o Offset) String() string {
	return fmt.Sprintf("%dd%dh%dm", o.Days, o.Hours, o.Minutes)
}

var clockRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})\s*([AaPp][Mm])?$`)

// ParseClock accepts "7:00 AM", "12:30pm" and 24h "19:05".
func ParseClock(s string) (hour, minute int, err error) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, internaltypes.InvalidTimeFormat("invalid time %q: want h:mm AM/PM or HH:MM", s)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if minute > 59 {
		return 0, 0, internaltypes.InvalidTimeFormat("invalid time %q: minute out of range", s)
	}
	if m[3] == "" {
		if hour > 23 {
			return 0, 0, internaltypes.InvalidTimeFormat("invalid time %q: hour out of range", s)
		}
		return hour, minute, nil
	}
	if hour < 1 || hour > 12 {
		return 0, 0, internaltypes.InvalidTimeFormat("invalid time %q: hour out of range", s)
	}
	pm := strings.EqualFold(m[3], "pm")
	switch {
	case pm && hour != 12:
		hour += 12
	case !pm && hour == 12:
		hour = 0
	}
	return hour, minute, nil
}

// ParseDate accepts YYYY-MM-DD and M/D/YYYY.
func ParseDate(s string) (year int, month time.Month, day int, err error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateLayout, "1/2/2006"} {
		if t, perr := time.Parse(layout, s); perr == nil {
			return t.Year(), t.Month(), t.Day(), nil
		}
	}
	return 0, 0, 0, internaltypes.InvalidTimeFormat("invalid date %q: want YYYY-MM-DD or M/D/YYYY", s)
}

// EventInstant interprets date and clock as wall time in loc.
func EventInstant(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	y, mo, d, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	h, mi, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(y, mo, d, h, mi, 0, 0, loc), nil
}

// ComputeDispatchTime returns the UTC instant that lies offset ahead of the
// event described by date and clock in loc.
func ComputeDispatchTime(date, clock string, offset Offset, loc *time.Location) (time.Time, error) {
	ev, err := EventInstant(date, clock, loc)
	if err != nil {
		return time.Time{}, err
	}
	return offset.Before(ev).UTC(), nil
}

// ParseWeekday accepts full and three-letter English day names.
func ParseWeekday(name string) (time.Weekday, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		full := strings.ToLower(wd.String())
		if n == full || (len(n) == 3 && n == full[:3]) {
			return wd, nil
		}
	}
	return 0, internaltypes.InvalidTimeFormat("unknown day name %q", name)
}

// ResolveSessionDate builds a full date from a day-of-month and an optional
// day name, relative to ref. A day-of-month already past in ref's month
// belongs to the next month. When dayName is set the result is moved forward
// to the next date falling on that weekday.
func ResolveSessionDate(dayName string, dayOfMonth int, ref time.Time) (time.Time, error) {
	if dayOfMonth < 1 || dayOfMonth > 31 {
		return time.Time{}, internaltypes.InvalidTimeFormat("day of month %d out of range", dayOfMonth)
	}
	y, m := ref.Year(), ref.Month()
	if dayOfMonth < ref.Day() {
		m++
		if m > time.December {
			m = time.January
			y++
		}
	}
	candidate := time.Date(y, m, dayOfMonth, 0, 0, 0, 0, ref.Location())
	if strings.TrimSpace(dayName) == "" {
		return candidate, nil
	}
	want, err := ParseWeekday(dayName)
	if err != nil {
		return time.Time{}, err
	}
	delta := (int(want) - int(candidate.Weekday()) + 7) % 7
	return candidate.AddDate(0, 0, delta), nil
}
