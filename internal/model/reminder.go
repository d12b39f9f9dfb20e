package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Reminder is a user-configured (time, weekdays) pair for one medication.
type Reminder struct {
	ID           string    `gorm:"primaryKey"`
	UserID       string    `gorm:"index;not null"`
	MedicationID string    `gorm:"index;not null"`
	ReminderTime string    `gorm:"not null"` // HH:MM
	DaysOfWeek   Weekdays  `gorm:"type:text"`
	IsActive     bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (r *Reminder) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Weekdays is a set of ISO weekdays (Monday=1 … Sunday=7) stored as a JSON array.
type Weekdays []int

// Value implements driver.Valuer.
func (w Weekdays) Value() (driver.Value, error) {
	if w == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]int(w))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (w *Weekdays) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*w = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("weekdays: unsupported column type %T", src)
	}
	if len(raw) == 0 {
		*w = nil
		return nil
	}
	var days []int
	if err := json.Unmarshal(raw, &days); err != nil {
		return fmt.Errorf("weekdays: %w", err)
	}
	*w = days
	return nil
}
