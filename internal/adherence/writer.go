package adherence

import (
	"context"
	"time"

	"github.com/pathakanu/pillLens/internal/model"
	"go.uber.org/zap"
)

// Store is the persistence the adherence service needs. database.Store implements it.
type Store interface {
	ActiveReminders(ctx context.Context, userID string) ([]model.Reminder, error)
	ActiveRemindersForMedication(ctx context.Context, userID, medicationID string) ([]model.Reminder, error)
	Medications(ctx context.Context, userID string) ([]model.Medication, error)
	Medication(ctx context.Context, userID, medicationID string) (*model.Medication, error)
	Profile(ctx context.Context, userID string) (*model.UserProfile, error)
	Entries(ctx context.Context, userID string, from, to time.Time) ([]model.AdherenceLogEntry, error)
	UpsertEntry(ctx context.Context, entry model.AdherenceLogEntry, replaceable ...model.AdherenceStatus) (model.UpsertOutcome, error)
}

// Writer records slot outcomes. Every write is a conditional upsert on the slot's natural
// key, so repeating a write is harmless.
type Writer struct {
	store  Store
	logger *zap.Logger
}

func NewWriter(store Store, logger *zap.Logger) *Writer {
	return &Writer{store: store, logger: logger}
}

// EnsureMissedEntry records the slot as missed: inserts when absent, upgrades a scheduled
// entry, and leaves taken or missed entries untouched.
func (w *Writer) EnsureMissedEntry(ctx context.Context, userID, medicationID string, scheduled time.Time) (model.UpsertOutcome, error) {
	outcome, err := w.store.UpsertEntry(ctx, model.AdherenceLogEntry{
		UserID:        userID,
		MedicationID:  medicationID,
		ScheduledTime: scheduled,
		Status:        model.StatusMissed,
	}, model.StatusScheduled)
	if err != nil {
		w.logger.Error("adherence: mark missed failed",
			zap.String("user_id", userID),
			zap.String("medication_id", medicationID),
			zap.Time("scheduled_time", scheduled),
			zap.Error(err))
		return outcome, err
	}
	if outcome != model.OutcomeUnchanged {
		w.logger.Info("adherence: dose marked missed",
			zap.String("user_id", userID),
			zap.String("medication_id", medicationID),
			zap.Time("scheduled_time", scheduled),
			zap.Stringer("outcome", outcome))
	}
	return outcome, nil
}

// EnsureScheduledEntry opens a scheduled entry for a slot that became due. Existing entries
// are never changed.
func (w *Writer) EnsureScheduledEntry(ctx context.Context, userID, medicationID string, scheduled time.Time) (model.UpsertOutcome, error) {
	outcome, err := w.store.UpsertEntry(ctx, model.AdherenceLogEntry{
		UserID:        userID,
		MedicationID:  medicationID,
		ScheduledTime: scheduled,
		Status:        model.StatusScheduled,
	})
	if err != nil {
		w.logger.Error("adherence: open slot failed",
			zap.String("user_id", userID),
			zap.String("medication_id", medicationID),
			zap.Time("scheduled_time", scheduled),
			zap.Error(err))
	}
	return outcome, err
}

// RecordTaken stores a user's report that the dose was taken. A missed entry is corrected
// to taken with a note; a taken entry is left alone.
func (w *Writer) RecordTaken(ctx context.Context, userID, medicationID string, scheduled, takenAt time.Time, notes string) (model.UpsertOutcome, error) {
	outcome, err := w.store.UpsertEntry(ctx, model.AdherenceLogEntry{
		UserID:        userID,
		MedicationID:  medicationID,
		ScheduledTime: scheduled,
		Status:        model.StatusTaken,
		TakenTime:     &takenAt,
		Notes:         notes,
	}, model.StatusScheduled, model.StatusMissed)
	if err != nil {
		w.logger.Error("adherence: record taken failed",
			zap.String("user_id", userID),
			zap.String("medication_id", medicationID),
			zap.Error(err))
	}
	return outcome, err
}
