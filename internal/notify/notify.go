// Package notify tells users about newly missed doses over WhatsApp, push and e-mail.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/pathakanu/pillLens/internal/model"
)

// Channel names, also used as metric labels.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelPush     = "push"
	ChannelEmail    = "email"
)

// Alert is one missed dose to report.
type Alert struct {
	UserID         string
	DisplayName    string
	MedicationID   string
	MedicationName string
	ScheduledAt    time.Time
	OverdueMinutes int
}

// Title is a short headline for push and e-mail subjects.
func (a Alert) Title() string {
	return fmt.Sprintf("Missed dose: %s", a.medication())
}

// Body is the plain-text message shared by every channel.
func (a Alert) Body() string {
	greeting := "Hi"
	if a.DisplayName != "" {
		greeting = "Hi " + a.DisplayName
	}
	return fmt.Sprintf("%s, your %s dose scheduled for %s was missed. Reply \"can I still take %s\" to check whether a late dose is safe.",
		greeting, a.medication(), a.ScheduledAt.Format("15:04"), a.medication())
}

func (a Alert) medication() string {
	if a.MedicationName == "" {
		return "medication"
	}
	return a.MedicationName
}

// Sender delivers alerts over one channel.
type Sender interface {
	Channel() string
	// Accepts reports whether the profile has an address for this channel.
	Accepts(profile model.UserProfile) bool
	Send(ctx context.Context, profile model.UserProfile, alert Alert) error
}
