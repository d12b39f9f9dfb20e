package adherence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pathakanu/pillLens/internal/dosetime"
	"github.com/pathakanu/pillLens/internal/metrics"
	"github.com/pathakanu/pillLens/internal/model"
	"go.uber.org/zap"
)

// Publisher receives the refresh signal emitted after each check.
type Publisher interface {
	PublishMissedDoseUpdate(userID string)
}

// CheckResult summarises one missed-dose check.
type CheckResult struct {
	UserID      string    `json:"user_id"`
	CheckedAt   time.Time `json:"checked_at"`
	Evaluated   int       `json:"evaluated"`
	Opened      int       `json:"opened"`
	NewlyMissed int       `json:"newly_missed"`
	Unchanged   int       `json:"unchanged"`
	Failed      int       `json:"failed"`
}

// Service is the in-process surface used by the monitor, the HTTP API, the bot and the
// alerter.
type Service struct {
	store      Store
	matcher    Matcher
	writer     *Writer
	advisor    *Advisor
	publisher  Publisher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	defaultLoc *time.Location
	now        func() time.Time
}

func NewService(store Store, publisher Publisher, matcher Matcher, defaultLoc *time.Location, m *metrics.Metrics, logger *zap.Logger) *Service {
	if defaultLoc == nil {
		defaultLoc = time.Local
	}
	s := &Service{
		store:      store,
		matcher:    matcher,
		writer:     NewWriter(store, logger),
		publisher:  publisher,
		metrics:    m,
		logger:     logger,
		defaultLoc: defaultLoc,
		now:        time.Now,
	}
	s.advisor = NewAdvisor(store, func() time.Time { return s.now() })
	return s
}

// SetClock replaces the wall clock, for tests and replays.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CheckAndMarkMissedDoses evaluates today's reminders for the user, persists newly missed
// doses and opens entries for due slots. A failing write is counted and skipped; only
// failing to load the user's reminders or timezone aborts the check. One refresh event is
// published per completed check.
func (s *Service) CheckAndMarkMissedDoses(ctx context.Context, userID, timezone string) (CheckResult, error) {
	started := time.Now()
	result := CheckResult{UserID: userID}

	now, err := s.localNow(ctx, userID, timezone)
	if err != nil {
		s.metrics.RecordCheck(false, time.Since(started).Seconds())
		return result, err
	}
	result.CheckedAt = now

	reminders, err := s.store.ActiveReminders(ctx, userID)
	if err != nil {
		s.metrics.RecordCheck(false, time.Since(started).Seconds())
		return result, err
	}

	for _, c := range s.matcher.Match(reminders, now) {
		result.Evaluated++

		var (
			outcome model.UpsertOutcome
			werr    error
		)
		switch c.Status {
		case DoseMissed:
			outcome, werr = s.writer.EnsureMissedEntry(ctx, userID, c.MedicationID, c.ScheduledAt)
			if werr == nil && outcome != model.OutcomeUnchanged {
				result.NewlyMissed++
				s.metrics.DosesMarkedMissed.Inc()
			}
		case DoseDue, DoseOverdue:
			outcome, werr = s.writer.EnsureScheduledEntry(ctx, userID, c.MedicationID, c.ScheduledAt)
			if werr == nil && outcome == model.OutcomeInserted {
				result.Opened++
				s.metrics.SlotsOpened.Inc()
			}
		default:
			continue
		}

		switch {
		case werr != nil:
			result.Failed++
			s.metrics.WriteFailures.Inc()
		case outcome == model.OutcomeUnchanged:
			result.Unchanged++
		}
	}

	s.publisher.PublishMissedDoseUpdate(userID)
	s.metrics.RecordCheck(true, time.Since(started).Seconds())

	s.logger.Debug("adherence: check complete",
		zap.String("user_id", userID),
		zap.Int("evaluated", result.Evaluated),
		zap.Int("newly_missed", result.NewlyMissed),
		zap.Int("failed", result.Failed))
	return result, nil
}

// GetTodaysMissedDoses lists slots past the grace period that were not taken.
func (s *Service) GetTodaysMissedDoses(ctx context.Context, userID, timezone string) ([]Classification, error) {
	return s.classify(ctx, userID, timezone, func(st DoseStatus) bool { return st == DoseMissed })
}

// GetOverdueDoses lists slots inside the grace period that were not taken.
func (s *Service) GetOverdueDoses(ctx context.Context, userID, timezone string) ([]Classification, error) {
	return s.classify(ctx, userID, timezone, func(st DoseStatus) bool { return st == DoseOverdue })
}

// GetPendingDoses lists due, overdue and missed slots that were not taken, oldest first.
func (s *Service) GetPendingDoses(ctx context.Context, userID, timezone string) ([]Classification, error) {
	return s.classify(ctx, userID, timezone, func(st DoseStatus) bool { return st != DoseUpcoming })
}

// CheckMissedDoseRecovery decides whether a missed dose can still be taken. An empty
// frequency uses the medication's stored label.
func (s *Service) CheckMissedDoseRecovery(ctx context.Context, userID, medicationID string, missed time.Time, frequency string) (RecoveryAdvice, error) {
	med, err := s.store.Medication(ctx, userID, medicationID)
	if err != nil {
		return RecoveryAdvice{}, err
	}
	if strings.TrimSpace(frequency) == "" {
		frequency = med.Frequency
	}

	advice, err := s.advisor.CanTakeNow(ctx, userID, medicationID, missed, ParseFrequency(frequency), s.userLocation(ctx, userID))
	if err != nil {
		return RecoveryAdvice{}, err
	}
	s.metrics.RecordRecovery(advice.CanTakeNow, string(advice.Reason))
	return advice, nil
}

// RecordDoseTaken stores a user's report that a scheduled dose was taken.
func (s *Service) RecordDoseTaken(ctx context.Context, userID, medicationID string, scheduled time.Time, notes string) (model.UpsertOutcome, error) {
	if _, err := s.store.Medication(ctx, userID, medicationID); err != nil {
		return model.OutcomeUnchanged, err
	}
	outcome, err := s.writer.RecordTaken(ctx, userID, medicationID, scheduled, s.now(), notes)
	if err != nil {
		return outcome, err
	}
	s.publisher.PublishMissedDoseUpdate(userID)
	return outcome, nil
}

func (s *Service) classify(ctx context.Context, userID, timezone string, keep func(DoseStatus) bool) ([]Classification, error) {
	now, err := s.localNow(ctx, userID, timezone)
	if err != nil {
		return nil, err
	}
	reminders, err := s.store.ActiveReminders(ctx, userID)
	if err != nil {
		return nil, err
	}

	matched := s.matcher.Match(reminders, now)
	if len(matched) == 0 {
		return nil, nil
	}

	from := dosetime.StartOfDay(now).AddDate(0, 0, -1)
	entries, err := s.store.Entries(ctx, userID, from, now.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	taken := make(map[model.SlotKey]bool, len(entries))
	for _, e := range entries {
		if e.Status == model.StatusTaken {
			taken[e.Key()] = true
		}
	}

	names := s.medicationNames(ctx, userID)
	out := make([]Classification, 0, len(matched))
	for _, c := range matched {
		if !keep(c.Status) || taken[c.Key()] {
			continue
		}
		c.MedicationName = names[c.MedicationID]
		out = append(out, c)
	}
	return out, nil
}

// medicationNames is best effort; a lookup failure only loses display names.
func (s *Service) medicationNames(ctx context.Context, userID string) map[string]string {
	meds, err := s.store.Medications(ctx, userID)
	if err != nil {
		s.logger.Warn("adherence: medication names unavailable", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	names := make(map[string]string, len(meds))
	for _, m := range meds {
		names[m.ID] = m.Name
	}
	return names
}

func (s *Service) localNow(ctx context.Context, userID, timezone string) (time.Time, error) {
	if strings.TrimSpace(timezone) != "" {
		now, err := dosetime.NowIn(s.now(), timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("resolve current time for %s: %w", userID, err)
		}
		return now, nil
	}
	return s.now().In(s.userLocation(ctx, userID)), nil
}

// userLocation prefers the profile's timezone and falls back to the service default.
func (s *Service) userLocation(ctx context.Context, userID string) *time.Location {
	profile, err := s.store.Profile(ctx, userID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.logger.Warn("adherence: profile lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
		return s.defaultLoc
	}
	if profile.Timezone == "" {
		return s.defaultLoc
	}
	loc, err := time.LoadLocation(profile.Timezone)
	if err != nil {
		s.logger.Warn("adherence: invalid profile timezone", zap.String("user_id", userID), zap.String("timezone", profile.Timezone))
		return s.defaultLoc
	}
	return loc
}
