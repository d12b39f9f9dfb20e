// Package adherence decides, from reminder configuration and the current time, whether each
// dose is upcoming, due, overdue or missed, records missed doses and advises on late doses.
package adherence

import (
	"sort"
	"time"

	"github.com/pathakanu/pillLens/internal/dosetime"
	"github.com/pathakanu/pillLens/internal/model"
)

// GracePeriodMinutes is how long a dose may be overdue before it is recorded as missed.
const GracePeriodMinutes = 15

const (
	DefaultLookAhead = time.Hour
	DefaultCarryOver = 2 * time.Hour
)

// DoseStatus is the matcher's view of one slot relative to now.
type DoseStatus string

const (
	DoseUpcoming DoseStatus = "upcoming"
	DoseDue      DoseStatus = "due"
	DoseOverdue  DoseStatus = "overdue"
	DoseMissed   DoseStatus = "missed"
)

// Classification is one reminder slot and its status at the time of matching.
type Classification struct {
	Reminder       model.Reminder `json:"-"`
	ReminderID     string         `json:"reminder_id"`
	MedicationID   string         `json:"medication_id"`
	MedicationName string         `json:"medication_name,omitempty"`
	Status         DoseStatus     `json:"status"`
	OverdueMinutes int            `json:"overdue_minutes"`
	ScheduledAt    time.Time      `json:"scheduled_at"`
}

// Key returns the adherence slot this classification refers to.
func (c Classification) Key() model.SlotKey {
	return model.NewSlotKey(c.Reminder.UserID, c.MedicationID, c.ScheduledAt)
}

// Matcher classifies reminder slots.
type Matcher struct {
	// LookAhead bounds how far ahead a not-yet-due slot is reported as upcoming.
	LookAhead time.Duration
	// CarryOver lets yesterday's late slots keep being evaluated after midnight.
	// Zero disables it.
	CarryOver time.Duration
}

// NewMatcher returns a matcher with explicit windows; negative values fall back to defaults.
func NewMatcher(lookAhead, carryOver time.Duration) Matcher {
	if lookAhead < 0 {
		lookAhead = DefaultLookAhead
	}
	if carryOver < 0 {
		carryOver = DefaultCarryOver
	}
	return Matcher{LookAhead: lookAhead, CarryOver: carryOver}
}

// Match classifies reminders against now, which must already be in the user's timezone.
// Inactive reminders, reminders with unparsable times and slots beyond the look-ahead are
// left out. Results are ordered by scheduled time.
func (m Matcher) Match(reminders []model.Reminder, now time.Time) []Classification {
	today := dosetime.ISOWeekday(now)
	yesterday := now.AddDate(0, 0, -1)
	nowClock := dosetime.ClockOf(now)
	lookAhead := int(m.LookAhead / time.Minute)

	var out []Classification
	for _, r := range reminders {
		if !r.IsActive {
			continue
		}
		clock, err := dosetime.ParseClock(r.ReminderTime)
		if err != nil {
			continue
		}

		if dosetime.IsScheduledToday(r.DaysOfWeek, today) {
			overdue := dosetime.OverdueMinutes(nowClock, clock)
			until := dosetime.UntilMinutes(nowClock, clock)

			var status DoseStatus
			switch {
			case overdue > GracePeriodMinutes:
				status = DoseMissed
			case overdue > 0:
				status = DoseOverdue
			case until == 0:
				status = DoseDue
			case until <= lookAhead:
				status = DoseUpcoming
			}
			if status != "" {
				out = append(out, newClassification(r, status, overdue, clock.On(now)))
			}
		}

		if m.CarryOver > 0 && dosetime.IsScheduledToday(r.DaysOfWeek, dosetime.ISOWeekday(yesterday)) {
			slot := clock.On(yesterday)
			if now.Sub(slot) <= m.CarryOver {
				overdue := dosetime.MinutesBetween(slot, now)
				status := DoseOverdue
				if overdue > GracePeriodMinutes {
					status = DoseMissed
				}
				out = append(out, newClassification(r, status, overdue, slot))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}

func newClassification(r model.Reminder, status DoseStatus, overdue int, scheduledAt time.Time) Classification {
	return Classification{
		Reminder:       r,
		ReminderID:     r.ID,
		MedicationID:   r.MedicationID,
		Status:         status,
		OverdueMinutes: overdue,
		ScheduledAt:    scheduledAt,
	}
}
