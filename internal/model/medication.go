package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Medication is a drug the user takes. Frequency is the free-text label shown to the user,
// e.g. "twice daily".
type Medication struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"index;not null"`
	Name      string    `gorm:"not null"`
	Dosage    string
	Frequency string
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (m *Medication) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// UserProfile carries what the service needs to reach a user.
type UserProfile struct {
	ID             string `gorm:"primaryKey"`
	DisplayName    string
	Timezone       string
	WhatsAppNumber string `gorm:"column:whatsapp_number;index"`
	DeviceToken    string
	Email          string
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}
