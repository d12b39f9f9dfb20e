package adherence

import (
	"context"
	"fmt"
	"time"

	"github.com/pathakanu/pillLens/internal/dosetime"
	"github.com/pathakanu/pillLens/internal/model"
)

// StaleAfter is how long after a missed slot a catch-up dose is still considered.
const StaleAfter = 12 * time.Hour

// Disclaimer accompanies every recovery answer.
const Disclaimer = "PillLens is a reminder aid, not medical advice. Ask your pharmacist or doctor if you are unsure."

// RefusalReason explains why a catch-up dose was refused.
type RefusalReason string

const (
	ReasonNone     RefusalReason = ""
	ReasonStale    RefusalReason = "stale"
	ReasonNotDue   RefusalReason = "not_due"
	ReasonTooClose RefusalReason = "too_close"
)

// RecoveryAdvice answers "can I take this missed dose now?".
type RecoveryAdvice struct {
	CanTakeNow        bool          `json:"can_take_now"`
	NextSafeTime      *time.Time    `json:"next_safe_time,omitempty"`
	NextScheduledDose *time.Time    `json:"next_scheduled_dose,omitempty"`
	MinimumGap        time.Duration `json:"-"`
	MinimumGapHours   float64       `json:"minimum_gap_hours"`
	Frequency         string        `json:"frequency"`
	Reason            RefusalReason `json:"reason,omitempty"`
	Warning           string        `json:"warning,omitempty"`
	Disclaimer        string        `json:"disclaimer"`
}

// ReminderSource lists a medication's active reminders.
type ReminderSource interface {
	ActiveRemindersForMedication(ctx context.Context, userID, medicationID string) ([]model.Reminder, error)
}

// Advisor is a heuristic safety gate for late doses. It refuses stale catch-ups and
// catch-ups that would land too close to the next scheduled dose.
type Advisor struct {
	reminders ReminderSource
	now       func() time.Time
}

func NewAdvisor(reminders ReminderSource, now func() time.Time) *Advisor {
	if now == nil {
		now = time.Now
	}
	return &Advisor{reminders: reminders, now: now}
}

// CanTakeNow evaluates a missed slot. Refusals are returned as advice with a warning; the
// error is reserved for failing to load reminders.
func (a *Advisor) CanTakeNow(ctx context.Context, userID, medicationID string, missed time.Time, frequency FrequencyClass, loc *time.Location) (RecoveryAdvice, error) {
	if loc == nil {
		loc = time.Local
	}
	now := a.now().In(loc)
	gap := frequency.MinimumGap()
	advice := RecoveryAdvice{
		MinimumGap:      gap,
		MinimumGapHours: gap.Hours(),
		Frequency:       frequency.String(),
		Disclaimer:      Disclaimer,
	}

	elapsed := now.Sub(missed)
	if elapsed < 0 {
		advice.Reason = ReasonNotDue
		advice.Warning = fmt.Sprintf("This dose is not due until %s. Take it at the scheduled time.", missed.In(loc).Format("Mon 15:04"))
		return advice, nil
	}
	if elapsed > StaleAfter {
		advice.Reason = ReasonStale
		advice.Warning = fmt.Sprintf("This dose was missed %.0f hours ago, more than %.0f hours. Skip it and take your next scheduled dose; do not double up.",
			elapsed.Hours(), StaleAfter.Hours())
		return advice, nil
	}

	reminders, err := a.reminders.ActiveRemindersForMedication(ctx, userID, medicationID)
	if err != nil {
		return RecoveryAdvice{}, fmt.Errorf("load reminders for recovery: %w", err)
	}

	next, ok := nextScheduledDose(reminders, now)
	if !ok {
		advice.CanTakeNow = true
		return advice, nil
	}
	advice.NextScheduledDose = &next

	if until := next.Sub(now); until < gap {
		advice.Reason = ReasonTooClose
		advice.NextSafeTime = &next
		advice.Warning = fmt.Sprintf("Your next dose is due in %s (at %s). Doses should be at least %.0f hours apart, so skip the missed dose and take the next one on time.",
			roundDuration(until), next.Format("15:04"), gap.Hours())
		return advice, nil
	}

	advice.CanTakeNow = true
	return advice, nil
}

func nextScheduledDose(reminders []model.Reminder, now time.Time) (time.Time, bool) {
	var (
		best  time.Time
		found bool
	)
	for _, r := range reminders {
		if !r.IsActive {
			continue
		}
		clock, err := dosetime.ParseClock(r.ReminderTime)
		if err != nil {
			continue
		}
		slot, ok := dosetime.NextOccurrence(clock, r.DaysOfWeek, now)
		if ok && (!found || slot.Before(best)) {
			best, found = slot, true
		}
	}
	return best, found
}

func roundDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
