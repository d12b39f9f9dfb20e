// Package fixtures imports profiles, medications and reminders from YAML for local setups
// and demos.
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pathakanu/pillLens/internal/dosetime"
	"github.com/pathakanu/pillLens/internal/model"
	"gopkg.in/yaml.v3"
)

// namespace seeds deterministic ids for entries that omit one, so re-importing a file
// updates rows instead of duplicating them.
var namespace = uuid.MustParse("5b7f1c2e-3f0a-4c55-9a57-2d7c0f6a9e11")

type File struct {
	Profiles    []Profile    `yaml:"profiles"`
	Medications []Medication `yaml:"medications"`
}

type Profile struct {
	ID             string `yaml:"id"`
	DisplayName    string `yaml:"display_name"`
	Timezone       string `yaml:"timezone"`
	WhatsAppNumber string `yaml:"whatsapp_number"`
	DeviceToken    string `yaml:"device_token"`
	Email          string `yaml:"email"`
}

type Medication struct {
	ID        string     `yaml:"id"`
	UserID    string     `yaml:"user_id"`
	Name      string     `yaml:"name"`
	Dosage    string     `yaml:"dosage"`
	Frequency string     `yaml:"frequency"`
	Reminders []Reminder `yaml:"reminders"`
}

// Reminder days default to every day when omitted.
type Reminder struct {
	ID     string `yaml:"id"`
	Time   string `yaml:"time"`
	Days   []int  `yaml:"days"`
	Active *bool  `yaml:"active"`
}

// Summary counts what Apply wrote.
type Summary struct {
	Profiles    int
	Medications int
	Reminders   int
}

// Saver is implemented by *database.Store.
type Saver interface {
	SaveProfile(ctx context.Context, profile *model.UserProfile) error
	SaveMedication(ctx context.Context, med *model.Medication) error
	SaveReminder(ctx context.Context, reminder *model.Reminder) error
}

// LoadFile reads and validates a fixture file.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixtures: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates fixtures. Unknown keys are rejected.
func Load(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks required fields, reminder times, weekdays and timezones.
func (f *File) Validate() error {
	var errs []error
	for i, p := range f.Profiles {
		if strings.TrimSpace(p.ID) == "" {
			errs = append(errs, fmt.Errorf("profiles[%d]: id is required", i))
		}
		if _, err := dosetime.NowIn(time.Now(), p.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("profiles[%d]: %w", i, err))
		}
	}
	for i, m := range f.Medications {
		if m.UserID == "" || m.Name == "" {
			errs = append(errs, fmt.Errorf("medications[%d]: user_id and name are required", i))
		}
		for j, r := range m.Reminders {
			if _, err := dosetime.ParseClock(r.Time); err != nil {
				errs = append(errs, fmt.Errorf("medications[%d].reminders[%d]: %w", i, j, err))
			}
			if !dosetime.ValidWeekdays(r.Days) {
				errs = append(errs, fmt.Errorf("medications[%d].reminders[%d]: days must be 1 (Monday) to 7 (Sunday)", i, j))
			}
		}
	}
	return errors.Join(errs...)
}

// Apply upserts every entry through s.
func (f *File) Apply(ctx context.Context, s Saver) (Summary, error) {
	var sum Summary
	for _, p := range f.Profiles {
		profile := &model.UserProfile{
			ID:             p.ID,
			DisplayName:    p.DisplayName,
			Timezone:       p.Timezone,
			WhatsAppNumber: p.WhatsAppNumber,
			DeviceToken:    p.DeviceToken,
			Email:          p.Email,
		}
		if err := s.SaveProfile(ctx, profile); err != nil {
			return sum, fmt.Errorf("save profile %s: %w", p.ID, err)
		}
		sum.Profiles++
	}

	for _, m := range f.Medications {
		med := &model.Medication{
			ID:        m.ID,
			UserID:    m.UserID,
			Name:      m.Name,
			Dosage:    m.Dosage,
			Frequency: m.Frequency,
		}
		if med.ID == "" {
			med.ID = stableID("medication", m.UserID, strings.ToLower(m.Name))
		}
		if err := s.SaveMedication(ctx, med); err != nil {
			return sum, fmt.Errorf("save medication %s: %w", m.Name, err)
		}
		sum.Medications++

		for _, r := range m.Reminders {
			clock, _ := dosetime.ParseClock(r.Time)
			reminder := &model.Reminder{
				ID:           r.ID,
				UserID:       m.UserID,
				MedicationID: med.ID,
				ReminderTime: clock.String(),
				DaysOfWeek:   everyDayIfEmpty(r.Days),
				IsActive:     r.Active == nil || *r.Active,
			}
			if reminder.ID == "" {
				reminder.ID = stableID("reminder", med.ID, clock.String())
			}
			if err := s.SaveReminder(ctx, reminder); err != nil {
				return sum, fmt.Errorf("save reminder %s for %s: %w", r.Time, m.Name, err)
			}
			sum.Reminders++
		}
	}
	return sum, nil
}

func everyDayIfEmpty(days []int) model.Weekdays {
	if len(days) == 0 {
		return model.Weekdays{1, 2, 3, 4, 5, 6, 7}
	}
	return model.Weekdays(days)
}

func stableID(parts ...string) string {
	return uuid.NewSHA1(namespace, []byte(strings.Join(parts, "/"))).String()
}
