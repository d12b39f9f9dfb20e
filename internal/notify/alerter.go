package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pathakanu/pillLens/internal/adherence"
	"github.com/pathakanu/pillLens/internal/events"
	"github.com/pathakanu/pillLens/internal/metrics"
	"github.com/pathakanu/pillLens/internal/model"
	"go.uber.org/zap"
)

// RememberFor is how long an alerted slot is remembered. Carry-over slots are at most a day
// old, so two days is enough to never alert the same slot twice.
const RememberFor = 48 * time.Hour

// MissedDoses is satisfied by *adherence.Service.
type MissedDoses interface {
	GetTodaysMissedDoses(ctx context.Context, userID, timezone string) ([]adherence.Classification, error)
}

// Profiles is satisfied by *database.Store.
type Profiles interface {
	Profile(ctx context.Context, userID string) (*model.UserProfile, error)
}

// Alerter listens for missed-dose refresh events and alerts the user once per missed slot.
type Alerter struct {
	doses    MissedDoses
	profiles Profiles
	senders  []Sender
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

func NewAlerter(doses MissedDoses, profiles Profiles, senders []Sender, m *metrics.Metrics, logger *zap.Logger) *Alerter {
	return &Alerter{
		doses:    doses,
		profiles: profiles,
		senders:  senders,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		sent:     make(map[string]time.Time),
	}
}

// Channels lists the configured sender channels.
func (a *Alerter) Channels() []string {
	out := make([]string, 0, len(a.senders))
	for _, s := range a.senders {
		out = append(out, s.Channel())
	}
	return out
}

// Run consumes bus events until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context, bus *events.Bus) {
	<-a.Start(ctx, bus)
}

// Start subscribes to bus before returning and consumes events in the background until
// ctx is cancelled. The returned channel is closed once the consumer has exited.
func (a *Alerter) Start(ctx context.Context, bus *events.Bus) <-chan struct{} {
	ch, unsubscribe := bus.Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer unsubscribe()
		a.consume(ctx, ch)
	}()
	return done
}

func (a *Alerter) consume(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != events.MissedDoseUpdate {
				continue
			}
			if _, err := a.Handle(ctx, ev.UserID); err != nil {
				a.logger.Warn("notify: handle missed dose update", zap.String("user_id", ev.UserID), zap.Error(err))
			}
		}
	}
}

// Handle re-queries the user's missed doses and alerts every slot not alerted before. It
// returns the number of slots alerted on at least one channel.
func (a *Alerter) Handle(ctx context.Context, userID string) (int, error) {
	if len(a.senders) == 0 {
		return 0, nil
	}

	profile, err := a.profiles.Profile(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	missed, err := a.doses.GetTodaysMissedDoses(ctx, userID, profile.Timezone)
	if err != nil {
		return 0, err
	}

	a.prune()

	alerted := 0
	for _, dose := range missed {
		key := dose.Key().String()
		if a.seen(key) {
			continue
		}

		alert := Alert{
			UserID:         userID,
			DisplayName:    profile.DisplayName,
			MedicationID:   dose.MedicationID,
			MedicationName: dose.MedicationName,
			ScheduledAt:    dose.ScheduledAt,
			OverdueMinutes: dose.OverdueMinutes,
		}
		delivered, attempted := a.deliver(ctx, *profile, alert)
		if delivered {
			alerted++
		}
		// with no reachable channel there is nothing to retry
		if delivered || attempted == 0 {
			a.remember(key)
		}
	}
	return alerted, nil
}

func (a *Alerter) deliver(ctx context.Context, profile model.UserProfile, alert Alert) (delivered bool, attempted int) {
	for _, s := range a.senders {
		if !s.Accepts(profile) {
			continue
		}
		attempted++
		err := s.Send(ctx, profile, alert)
		a.metrics.RecordNotification(s.Channel(), err)
		if err != nil {
			a.logger.Warn("notify: send failed",
				zap.String("channel", s.Channel()),
				zap.String("user_id", alert.UserID),
				zap.String("medication_id", alert.MedicationID),
				zap.Error(err))
			continue
		}
		delivered = true
	}
	return delivered, attempted
}

func (a *Alerter) seen(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sent[key]
	return ok
}

func (a *Alerter) remember(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent[key] = a.now()
}

func (a *Alerter) prune() {
	cutoff := a.now().Add(-RememberFor)
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, at := range a.sent {
		if at.Before(cutoff) {
			delete(a.sent, key)
		}
	}
}
