// Package dosetime converts reminder wall-clock times and weekday sets into
// comparable minute offsets.
package dosetime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the number of minutes in a calendar day.
const MinutesPerDay = 24 * 60

// Clock is a wall-clock time of day expressed in minutes after midnight.
type Clock int

// ParseClock parses "HH:MM" (a trailing ":SS" is accepted and ignored).
func ParseClock(value string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid reminder time %q: want HH:MM", value)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in reminder time %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid minute in reminder time %q", value)
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("invalid second in reminder time %q", value)
		}
	}
	return Clock(hour*60 + minute), nil
}

// ClockOf returns the minute of day of t in t's own location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

// String formats the clock as HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the absolute instant of c on the calendar day of day, in day's location.
func (c Clock) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), int(c)/60, int(c)%60, 0, 0, day.Location())
}

// OverdueMinutes reports how many minutes now is past the reminder time, clamped at zero.
// Only same-day minute-of-day values are compared.
func OverdueMinutes(now, reminder Clock) int {
	if now <= reminder {
		return 0
	}
	return int(now - reminder)
}

// UntilMinutes reports how many minutes remain until the reminder time, clamped at zero.
func UntilMinutes(now, reminder Clock) int {
	if reminder <= now {
		return 0
	}
	return int(reminder - now)
}

// ISOWeekday returns the ISO weekday of t: Monday=1 … Sunday=7.
func ISOWeekday(t time.Time) int {
	return FromSundayZero(int(t.Weekday()))
}

// FromSundayZero converts a Sunday=0 weekday into the ISO convention.
func FromSundayZero(weekday int) int {
	if weekday == 0 {
		return 7
	}
	return weekday
}

// IsScheduledToday reports whether the ISO weekday appears in daysOfWeek.
func IsScheduledToday(daysOfWeek []int, weekday int) bool {
	for _, d := range daysOfWeek {
		if d == weekday {
			return true
		}
	}
	return false
}

// ValidWeekdays reports whether every entry is an ISO weekday.
func ValidWeekdays(daysOfWeek []int) bool {
	for _, d := range daysOfWeek {
		if d < 1 || d > 7 {
			return false
		}
	}
	return true
}

// StartOfDay returns 00:00 of t's calendar day.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// NextOccurrence finds the first slot strictly after `after` for a reminder at clock on the
// given weekdays, looking at most a week ahead.
func NextOccurrence(clock Clock, daysOfWeek []int, after time.Time) (time.Time, bool) {
	for offset := 0; offset <= 7; offset++ {
		day := after.AddDate(0, 0, offset)
		if !IsScheduledToday(daysOfWeek, ISOWeekday(day)) {
			continue
		}
		slot := clock.On(day)
		if slot.After(after) {
			return slot, true
		}
	}
	return time.Time{}, false
}

// NowIn converts now into the named IANA timezone. An empty name keeps now's location.
func NowIn(now time.Time, timezone string) (time.Time, error) {
	if strings.TrimSpace(timezone) == "" {
		return now, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return now.In(loc), nil
}

// MinutesBetween returns whole minutes elapsed from earlier to later, never negative.
func MinutesBetween(earlier, later time.Time) int {
	if !later.After(earlier) {
		return 0
	}
	return int(later.Sub(earlier) / time.Minute)
}
