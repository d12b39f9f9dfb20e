package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pathakanu/pillLens/internal/adherence"
	"github.com/pathakanu/pillLens/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChecker struct {
	mu      sync.Mutex
	calls   map[string]int
	entered int
	tz      []string
	block   chan struct{}
	err     error
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{calls: make(map[string]int)}
}

func (f *fakeChecker) CheckAndMarkMissedDoses(ctx context.Context, userID, timezone string) (adherence.CheckResult, error) {
	f.mu.Lock()
	f.entered++
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[userID]++
	f.tz = append(f.tz, timezone)
	return adherence.CheckResult{UserID: userID, NewlyMissed: 1}, f.err
}

func (f *fakeChecker) started() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entered
}

func (f *fakeChecker) timezones() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tz...)
}

func (f *fakeChecker) count(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[userID]
}

func waitDone(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not finish")
	}
}

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	_, err := New(newFakeChecker(), 0, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = NewRegistry(newFakeChecker(), -time.Second, metrics.NewNop(), zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestStartRunsImmediately(t *testing.T) {
	checker := newFakeChecker()
	m, err := New(checker, time.Hour, zap.NewNop())
	require.NoError(t, err)

	m.Start("u1", "Asia/Kolkata")
	require.Eventually(t, func() bool { return checker.count("u1") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, m.Running())

	waitDone(t, m.Stop())
	assert.False(t, m.Running())

	status := m.Status()
	assert.Equal(t, "u1", status.UserID)
	assert.Equal(t, "Asia/Kolkata", status.Timezone)
	assert.Equal(t, 1, status.LastResult.NewlyMissed)
	assert.False(t, status.LastRun.IsZero())
}

func TestMonitorTicksOnInterval(t *testing.T) {
	checker := newFakeChecker()
	m, err := New(checker, time.Second, zap.NewNop())
	require.NoError(t, err)

	m.Start("u1", "")
	require.Eventually(t, func() bool { return checker.count("u1") >= 2 }, 4*time.Second, 20*time.Millisecond)

	waitDone(t, m.Stop())
	stopped := checker.count("u1")
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, stopped, checker.count("u1"), "no ticks after stop")
}

func TestStopWaitsForInFlightCheck(t *testing.T) {
	checker := newFakeChecker()
	checker.block = make(chan struct{})
	m, err := New(checker, time.Hour, zap.NewNop())
	require.NoError(t, err)

	m.Start("u1", "")
	done := m.Stop()

	select {
	case <-done.Done():
		t.Fatal("stop finished while a check was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(checker.block)
	waitDone(t, done)
	assert.Equal(t, 1, checker.count("u1"))
}

func TestStartWhileRunningRestarts(t *testing.T) {
	checker := newFakeChecker()
	m, err := New(checker, time.Hour, zap.NewNop())
	require.NoError(t, err)

	m.Start("u1", "")
	require.Eventually(t, func() bool { return checker.count("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	m.Start("u2", "Europe/Paris")
	require.Eventually(t, func() bool { return checker.count("u2") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "u2", m.Status().UserID)

	waitDone(t, m.Stop())
}

func TestRestartWaitsForPreviousCheck(t *testing.T) {
	checker := newFakeChecker()
	checker.block = make(chan struct{})
	m, err := New(checker, time.Hour, zap.NewNop())
	require.NoError(t, err)

	m.Start("u1", "UTC")
	require.Eventually(t, func() bool { return checker.started() == 1 }, 2*time.Second, 10*time.Millisecond)

	m.Start("u1", "Europe/Paris")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, checker.started(), "restarted check overlapped the previous one")

	done := m.Stop()
	select {
	case <-done.Done():
		t.Fatal("stop finished while the pre-restart check was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(checker.block)
	waitDone(t, done)
	assert.Equal(t, 2, checker.count("u1"))
	assert.Equal(t, []string{"UTC", "Europe/Paris"}, checker.timezones())
}

func TestTickErrorsAreRecordedNotPropagated(t *testing.T) {
	checker := newFakeChecker()
	checker.err = errors.New("database locked")
	m, err := New(checker, time.Hour, zap.NewNop())
	require.NoError(t, err)

	m.Start("u1", "")
	require.Eventually(t, func() bool { return m.Status().LastError != "" }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "database locked", m.Status().LastError)
	assert.True(t, m.Running())

	waitDone(t, m.Stop())
}

func TestStopWithoutStart(t *testing.T) {
	m, err := New(newFakeChecker(), time.Hour, zap.NewNop())
	require.NoError(t, err)
	waitDone(t, m.Stop())
	assert.False(t, m.Running())
}

func TestRegistryKeepsOneMonitorPerUser(t *testing.T) {
	checker := newFakeChecker()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r, err := NewRegistry(checker, time.Hour, m, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, r.Start("u1", ""))
	require.NoError(t, r.Start("u1", "Asia/Kolkata"))
	require.NoError(t, r.Start("u2", ""))
	assert.Equal(t, 2, r.Active())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveMonitors))

	require.Eventually(t, func() bool { return checker.count("u1") == 2 }, 2*time.Second, 10*time.Millisecond)

	status, ok := r.Status("u1")
	require.True(t, ok)
	assert.Equal(t, "Asia/Kolkata", status.Timezone)

	done, ok := r.Stop("u1")
	assert.True(t, ok)
	waitDone(t, done)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveMonitors))

	_, ok = r.Stop("u1")
	assert.False(t, ok)

	waitDone(t, r.StopAll())
	assert.Zero(t, r.Active())
	assert.Zero(t, testutil.ToFloat64(m.ActiveMonitors))
}
