package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/pathakanu/pillLens/internal/metrics"
	"go.uber.org/zap"
)

// Registry keeps at most one monitor per user for the lifetime of the server.
type Registry struct {
	checker  Checker
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	monitors map[string]*Monitor
}

func NewRegistry(checker Checker, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) (*Registry, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Registry{
		checker:  checker,
		interval: interval,
		metrics:  m,
		logger:   logger,
		monitors: make(map[string]*Monitor),
	}, nil
}

// Start begins monitoring userID, restarting an existing monitor with the new timezone.
func (r *Registry) Start(userID, timezone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mon, ok := r.monitors[userID]
	if !ok {
		var err error
		mon, err = New(r.checker, r.interval, r.logger.With(zap.String("user_id", userID)))
		if err != nil {
			return err
		}
		r.monitors[userID] = mon
	}
	mon.Start(userID, timezone)
	r.metrics.ActiveMonitors.Set(float64(len(r.monitors)))
	return nil
}

// Stop stops the user's monitor. It reports false when none was running.
func (r *Registry) Stop(userID string) (context.Context, bool) {
	r.mu.Lock()
	mon, ok := r.monitors[userID]
	delete(r.monitors, userID)
	r.metrics.ActiveMonitors.Set(float64(len(r.monitors)))
	r.mu.Unlock()

	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx, false
	}
	return mon.Stop(), true
}

// StopAll stops every monitor; the context is done when all in-flight checks finished.
func (r *Registry) StopAll() context.Context {
	r.mu.Lock()
	monitors := r.monitors
	r.monitors = make(map[string]*Monitor)
	r.metrics.ActiveMonitors.Set(0)
	r.mu.Unlock()

	waits := make([]context.Context, 0, len(monitors))
	for _, mon := range monitors {
		waits = append(waits, mon.Stop())
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		for _, w := range waits {
			<-w.Done()
		}
	}()
	return ctx
}

func (r *Registry) Status(userID string) (Status, bool) {
	r.mu.Lock()
	mon, ok := r.monitors[userID]
	r.mu.Unlock()
	if !ok {
		return Status{Interval: r.interval.String()}, false
	}
	return mon.Status(), true
}

// Active returns the number of running monitors.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monitors)
}
