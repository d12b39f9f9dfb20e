// Package events carries the missed-dose refresh signal from the adherence service to
// in-process listeners and connected websocket clients.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// MissedDoseUpdate is published after every missed-dose check. Listeners re-query state
// themselves; the event carries only the user id.
const MissedDoseUpdate = "missedDoseUpdate"

// Event is a refresh signal for one user.
type Event struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Bus is a non-blocking in-process publish/subscribe hub.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	logger *zap.Logger
}

// NewBus returns an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logger,
	}
}

// Subscribe registers a listener with the given buffer. The returned function unsubscribes
// and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber with buffer space; full subscribers miss it.
func (b *Bus) Publish(ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("events: subscriber buffer full, dropping event",
				zap.Int("subscriber", id),
				zap.String("type", ev.Type),
				zap.String("user_id", ev.UserID))
		}
	}
}

// PublishMissedDoseUpdate is the single refresh signal emitted after a check.
func (b *Bus) PublishMissedDoseUpdate(userID string) {
	b.Publish(Event{Type: MissedDoseUpdate, UserID: userID, OccurredAt: time.Now()})
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
