// Package monitor runs the periodic missed-dose check for a user session.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pathakanu/pillLens/internal/adherence"
	"github.com/pathakanu/pillLens/internal/logging"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultInterval is how often a running monitor checks for missed doses.
const DefaultInterval = 5 * time.Minute

// ErrInvalidInterval is returned for a non-positive check interval.
var ErrInvalidInterval = errors.New("monitor interval must be positive")

// Checker is the adherence operation a monitor repeats.
type Checker interface {
	CheckAndMarkMissedDoses(ctx context.Context, userID, timezone string) (adherence.CheckResult, error)
}

// Status describes a monitor's session and its most recent check.
type Status struct {
	Running    bool                  `json:"running"`
	UserID     string                `json:"user_id,omitempty"`
	Timezone   string                `json:"timezone,omitempty"`
	Interval   string                `json:"interval"`
	LastRun    time.Time             `json:"last_run,omitempty"`
	LastResult adherence.CheckResult `json:"last_result"`
	LastError  string                `json:"last_error,omitempty"`
}

// Monitor checks one user session on a fixed interval. Ticks never overlap; a tick that
// fires while the previous one is still running is skipped.
type Monitor struct {
	checker  Checker
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	userID   string
	timezone string
	inflight *sync.WaitGroup

	lastRun    time.Time
	lastResult adherence.CheckResult
	lastErr    error
}

func New(checker Checker, interval time.Duration, logger *zap.Logger) (*Monitor, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Monitor{checker: checker, interval: interval, logger: logger}, nil
}

// Start runs a check immediately and then every interval. Starting a running monitor
// restarts it for the new session; the new session's checks wait until the previous
// session has drained, so checks never overlap across a restart.
func (m *Monitor) Start(userID, timezone string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var previous context.Context
	if m.cron != nil {
		previous = drain(m.cron, m.inflight)
		m.logger.Info("monitor: restarting", zap.String("previous_user_id", m.userID), zap.String("user_id", userID))
	}

	cronLogger := logging.NewCronLogger(m.logger)
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	id := c.Schedule(cron.Every(m.interval), cron.FuncJob(func() {
		if previous != nil {
			<-previous.Done()
		}
		m.tick(userID, timezone)
	}))
	job := c.Entry(id).WrappedJob

	inflight := &sync.WaitGroup{}
	m.cron = c
	m.inflight = inflight
	m.userID = userID
	m.timezone = timezone

	// the first check shares the wrapped job so it cannot overlap the first tick
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		job.Run()
	}()
	c.Start()

	m.logger.Info("monitor: started",
		zap.String("user_id", userID),
		zap.String("timezone", timezone),
		zap.Duration("interval", m.interval))
}

// Stop cancels future ticks. The returned context is done once any in-flight check has
// finished. Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() context.Context {
	m.mu.Lock()
	c, inflight := m.cron, m.inflight
	m.cron, m.inflight = nil, nil
	userID := m.userID
	m.mu.Unlock()

	if c != nil {
		m.logger.Info("monitor: stopped", zap.String("user_id", userID))
	}
	return drain(c, inflight)
}

// drain stops c and returns a context that is done once its running jobs and the
// tracked immediate check have returned.
func drain(c *cron.Cron, inflight *sync.WaitGroup) context.Context {
	var stopped context.Context
	if c != nil {
		stopped = c.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		if stopped != nil {
			<-stopped.Done()
		}
		if inflight != nil {
			inflight.Wait()
		}
	}()
	return ctx
}

// Running reports whether ticks are scheduled.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cron != nil
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		Running:    m.cron != nil,
		UserID:     m.userID,
		Timezone:   m.timezone,
		Interval:   m.interval.String(),
		LastRun:    m.lastRun,
		LastResult: m.lastResult,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func (m *Monitor) tick(userID, timezone string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	result, err := m.checker.CheckAndMarkMissedDoses(ctx, userID, timezone)
	if err != nil {
		m.logger.Error("monitor: check failed", zap.String("user_id", userID), zap.Error(err))
	} else if result.NewlyMissed > 0 || result.Failed > 0 {
		m.logger.Info("monitor: check complete",
			zap.String("user_id", userID),
			zap.Int("newly_missed", result.NewlyMissed),
			zap.Int("failed", result.Failed))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// a restart may have moved the monitor to another session meanwhile
	if m.userID != userID {
		return
	}
	m.lastRun = time.Now()
	m.lastResult = result
	m.lastErr = err
}
