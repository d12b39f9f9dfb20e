package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pathakanu/pillLens/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the GORM-backed persistence used by the adherence service, the bot and the
// fixture importer.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ActiveReminders lists the user's active reminders ordered by time of day.
func (s *Store) ActiveReminders(ctx context.Context, userID string) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("reminder_time ASC").
		Find(&reminders).Error
	if err != nil {
		return nil, fmt.Errorf("list active reminders for %s: %w", userID, err)
	}
	return reminders, nil
}

// ActiveRemindersForMedication lists the active reminders of one medication.
func (s *Store) ActiveRemindersForMedication(ctx context.Context, userID, medicationID string) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND medication_id = ? AND is_active = ?", userID, medicationID, true).
		Order("reminder_time ASC").
		Find(&reminders).Error
	if err != nil {
		return nil, fmt.Errorf("list reminders for medication %s: %w", medicationID, err)
	}
	return reminders, nil
}

// Medications lists the user's medications by name.
func (s *Store) Medications(ctx context.Context, userID string) ([]model.Medication, error) {
	var meds []model.Medication
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("name ASC").Find(&meds).Error; err != nil {
		return nil, fmt.Errorf("list medications for %s: %w", userID, err)
	}
	return meds, nil
}

// Medication loads one of the user's medications.
func (s *Store) Medication(ctx context.Context, userID, medicationID string) (*model.Medication, error) {
	var med model.Medication
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", medicationID, userID).First(&med).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load medication %s: %w", medicationID, err)
	}
	return &med, nil
}

// Profile loads a user profile by id.
func (s *Store) Profile(ctx context.Context, userID string) (*model.UserProfile, error) {
	var profile model.UserProfile
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", userID, err)
	}
	return &profile, nil
}

// ProfileByWhatsApp finds the user owning a WhatsApp number (without the whatsapp: prefix).
func (s *Store) ProfileByWhatsApp(ctx context.Context, number string) (*model.UserProfile, error) {
	var profile model.UserProfile
	err := s.db.WithContext(ctx).Where("whatsapp_number = ?", number).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load profile for %s: %w", number, err)
	}
	return &profile, nil
}

// FindEntry returns the entry for a slot, or model.ErrNotFound.
func (s *Store) FindEntry(ctx context.Context, key model.SlotKey) (*model.AdherenceLogEntry, error) {
	var entry model.AdherenceLogEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND medication_id = ? AND scheduled_time = ?",
			key.UserID, key.MedicationID, model.NormalizeSlotTime(key.ScheduledTime)).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load adherence entry %s: %w", key, err)
	}
	return &entry, nil
}

// Entries lists the user's adherence entries scheduled in [from, to).
func (s *Store) Entries(ctx context.Context, userID string, from, to time.Time) ([]model.AdherenceLogEntry, error) {
	var entries []model.AdherenceLogEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND scheduled_time >= ? AND scheduled_time < ?",
			userID, model.NormalizeSlotTime(from), model.NormalizeSlotTime(to)).
		Order("scheduled_time ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list adherence entries for %s: %w", userID, err)
	}
	return entries, nil
}

// UpsertEntry inserts entry when its slot has no row yet. Otherwise the existing row is
// overwritten only when its current status is one of replaceable. Both steps run in one
// transaction and rely on the unique slot index, so concurrent callers cannot create
// duplicates.
func (s *Store) UpsertEntry(ctx context.Context, entry model.AdherenceLogEntry, replaceable ...model.AdherenceStatus) (model.UpsertOutcome, error) {
	entry.ScheduledTime = model.NormalizeSlotTime(entry.ScheduledTime)
	outcome := model.OutcomeUnchanged

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			outcome = model.OutcomeInserted
			return nil
		}
		if len(replaceable) == 0 {
			return nil
		}

		from := make([]string, 0, len(replaceable))
		for _, status := range replaceable {
			from = append(from, string(status))
		}
		updates := map[string]any{"status": string(entry.Status)}
		if entry.TakenTime != nil {
			updates["taken_time"] = *entry.TakenTime
		}
		if entry.Notes != "" {
			updates["notes"] = entry.Notes
		}

		res = tx.Model(&model.AdherenceLogEntry{}).
			Where("user_id = ? AND medication_id = ? AND scheduled_time = ? AND status IN ?",
				entry.UserID, entry.MedicationID, entry.ScheduledTime, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			outcome = model.OutcomeUpdated
		}
		return nil
	})
	if err != nil {
		return model.OutcomeUnchanged, fmt.Errorf("upsert adherence entry %s: %w", entry.Key(), err)
	}
	return outcome, nil
}

// SaveProfile inserts or replaces a profile.
func (s *Store) SaveProfile(ctx context.Context, profile *model.UserProfile) error {
	return s.db.WithContext(ctx).Save(profile).Error
}

// SaveMedication inserts or replaces a medication.
func (s *Store) SaveMedication(ctx context.Context, med *model.Medication) error {
	return s.db.WithContext(ctx).Save(med).Error
}

// SaveReminder inserts or replaces a reminder.
func (s *Store) SaveReminder(ctx context.Context, reminder *model.Reminder) error {
	return s.db.WithContext(ctx).Save(reminder).Error
}
