package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AdherenceStatus is the outcome recorded for one scheduled dose.
type AdherenceStatus string

const (
	StatusScheduled AdherenceStatus = "scheduled"
	StatusTaken     AdherenceStatus = "taken"
	StatusMissed    AdherenceStatus = "missed"
)

// Terminal reports whether the monitor must leave an entry with this status alone.
func (s AdherenceStatus) Terminal() bool {
	return s == StatusTaken || s == StatusMissed
}

// AdherenceLogEntry records one scheduled dose. (UserID, MedicationID, ScheduledTime) is the
// natural key; ScheduledTime is always stored in UTC truncated to the minute.
type AdherenceLogEntry struct {
	ID            string          `gorm:"primaryKey"`
	UserID        string          `gorm:"not null;uniqueIndex:ux_adherence_slot,priority:1"`
	MedicationID  string          `gorm:"not null;uniqueIndex:ux_adherence_slot,priority:2"`
	ScheduledTime time.Time       `gorm:"not null;uniqueIndex:ux_adherence_slot,priority:3"`
	Status        AdherenceStatus `gorm:"type:varchar(16);not null;index"`
	TakenTime     *time.Time
	Notes         string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName implements the GORM tabler interface.
func (AdherenceLogEntry) TableName() string { return "adherence_logs" }

func (e *AdherenceLogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// Key returns the entry's natural key.
func (e AdherenceLogEntry) Key() SlotKey {
	return NewSlotKey(e.UserID, e.MedicationID, e.ScheduledTime)
}

// SlotKey identifies one scheduled dose.
type SlotKey struct {
	UserID        string
	MedicationID  string
	ScheduledTime time.Time
}

// NewSlotKey normalises the scheduled time so that equal slots produce equal keys.
func NewSlotKey(userID, medicationID string, scheduled time.Time) SlotKey {
	return SlotKey{
		UserID:        userID,
		MedicationID:  medicationID,
		ScheduledTime: NormalizeSlotTime(scheduled),
	}
}

// String renders the key for logs and de-duplication maps.
func (k SlotKey) String() string {
	return k.UserID + "/" + k.MedicationID + "/" + k.ScheduledTime.Format(time.RFC3339)
}

// NormalizeSlotTime converts t to UTC and drops seconds.
func NormalizeSlotTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// UpsertOutcome describes what a conditional write did.
type UpsertOutcome int

const (
	OutcomeUnchanged UpsertOutcome = iota
	OutcomeInserted
	OutcomeUpdated
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}
