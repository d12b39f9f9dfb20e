package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/pathakanu/pillLens/internal/model"
	"google.golang.org/api/option"
	"gopkg.in/gomail.v2"
)

// WhatsAppClient is satisfied by *twilio.Client.
type WhatsAppClient interface {
	SendWhatsAppMessage(to, body string) error
}

type WhatsAppSender struct {
	client WhatsAppClient
}

func NewWhatsAppSender(client WhatsAppClient) *WhatsAppSender {
	return &WhatsAppSender{client: client}
}

func (s *WhatsAppSender) Channel() string { return ChannelWhatsApp }

func (s *WhatsAppSender) Accepts(profile model.UserProfile) bool {
	return profile.WhatsAppNumber != ""
}

func (s *WhatsAppSender) Send(ctx context.Context, profile model.UserProfile, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.client.SendWhatsAppMessage(profile.WhatsAppNumber, alert.Body())
}

// PushClient is satisfied by *messaging.Client.
type PushClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushSender delivers alerts through Firebase Cloud Messaging.
type PushSender struct {
	client PushClient
}

// NewFirebasePushSender initialises a Firebase app from a service account file.
func NewFirebasePushSender(ctx context.Context, credentialsPath string) (*PushSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging client: %w", err)
	}
	return NewPushSender(client), nil
}

func NewPushSender(client PushClient) *PushSender {
	return &PushSender{client: client}
}

func (s *PushSender) Channel() string { return ChannelPush }

func (s *PushSender) Accepts(profile model.UserProfile) bool {
	return profile.DeviceToken != ""
}

func (s *PushSender) Send(ctx context.Context, profile model.UserProfile, alert Alert) error {
	message := &messaging.Message{
		Token: profile.DeviceToken,
		Notification: &messaging.Notification{
			Title: alert.Title(),
			Body:  alert.Body(),
		},
		Data: map[string]string{
			"type":            "missed_dose",
			"medication_id":   alert.MedicationID,
			"scheduled_at":    alert.ScheduledAt.UTC().Format(time.RFC3339),
			"overdue_minutes": strconv.Itoa(alert.OverdueMinutes),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID:    "pilllens_missed_doses",
				DefaultSound: true,
			},
		},
	}
	if _, err := s.client.Send(ctx, message); err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	return nil
}

// MailDialer is satisfied by *gomail.Dialer.
type MailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender delivers alerts over SMTP.
type EmailSender struct {
	dialer MailDialer
	from   string
}

func NewSMTPEmailSender(host string, port int, username, password, from string) *EmailSender {
	return NewEmailSender(gomail.NewDialer(host, port, username, password), from)
}

func NewEmailSender(dialer MailDialer, from string) *EmailSender {
	return &EmailSender{dialer: dialer, from: from}
}

func (s *EmailSender) Channel() string { return ChannelEmail }

func (s *EmailSender) Accepts(profile model.UserProfile) bool {
	return profile.Email != ""
}

func (s *EmailSender) Send(ctx context.Context, profile model.UserProfile, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", profile.Email)
	m.SetHeader("Subject", alert.Title())
	m.SetBody("text/plain", alert.Body())

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
