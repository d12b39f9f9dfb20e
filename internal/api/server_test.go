package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pathakanu/pillLens/internal/adherence"
	"github.com/pathakanu/pillLens/internal/database"
	"github.com/pathakanu/pillLens/internal/events"
	"github.com/pathakanu/pillLens/internal/metrics"
	"github.com/pathakanu/pillLens/internal/model"
	"github.com/pathakanu/pillLens/internal/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// 2024-01-15 is a Monday.
var fixedNow = time.Date(2024, 1, 15, 9, 10, 0, 0, time.UTC)

type testServer struct {
	handler  http.Handler
	store    *database.Store
	registry *monitor.Registry
	medID    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_fk=1", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	store := database.NewStore(db)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	bus := events.NewBus(zap.NewNop())
	service := adherence.NewService(store, bus, adherence.NewMatcher(time.Hour, 0), time.UTC, m, zap.NewNop())
	service.SetClock(func() time.Time { return fixedNow })

	registry, err := monitor.NewRegistry(service, time.Hour, m, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { <-registry.StopAll().Done() })

	ctx := context.Background()
	med := &model.Medication{UserID: "u1", Name: "Metformin", Frequency: "twice daily"}
	require.NoError(t, store.SaveMedication(ctx, med))
	for _, at := range []string{"08:00", "20:00"} {
		require.NoError(t, store.SaveReminder(ctx, &model.Reminder{
			UserID: "u1", MedicationID: med.ID, ReminderTime: at, DaysOfWeek: model.Weekdays{1, 2, 3, 4, 5, 6, 7}, IsActive: true,
		}))
	}

	router := NewRouter(Deps{
		Doses:    service,
		Monitors: registry,
		Hub:      events.NewHub(bus, zap.NewNop()),
		Gatherer: reg,
		Logger:   zap.NewNop(),
	})
	return &testServer{handler: router, store: store, registry: registry, medID: med.ID}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMissedAndOverdueDoses(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/users/u1/doses/missed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	missed := decode[dosesResponse](t, rec)
	assert.Equal(t, "u1", missed.UserID)
	require.Len(t, missed.Doses, 1)
	assert.Equal(t, "Metformin", missed.Doses[0].MedicationName)
	assert.Equal(t, adherence.DoseMissed, missed.Doses[0].Status)
	assert.Equal(t, 70, missed.Doses[0].OverdueMinutes)

	rec = s.do(t, http.MethodGet, "/api/users/u1/doses/overdue?tz=UTC", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":"u1","doses":[]}`, rec.Body.String())
}

func TestUnknownTimezoneIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/users/u1/doses/missed?tz=Mars/Olympus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
}

func TestCheckEndpointIsIdempotent(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/users/u1/doses/check", "")
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[adherence.CheckResult](t, rec)
	assert.Equal(t, 1, first.NewlyMissed)

	rec = s.do(t, http.MethodPost, "/api/users/u1/doses/check", "")
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[adherence.CheckResult](t, rec)
	assert.Zero(t, second.NewlyMissed)
	assert.Equal(t, 1, second.Unchanged)
}

func TestRecoveryEndpoint(t *testing.T) {
	s := newTestServer(t)

	body := fmt.Sprintf(`{"medication_id":%q,"missed_at":"2024-01-15T08:00:00Z"}`, s.medID)
	rec := s.do(t, http.MethodPost, "/api/users/u1/doses/recovery", body)
	require.Equal(t, http.StatusOK, rec.Code)
	advice := decode[map[string]any](t, rec)
	assert.Equal(t, true, advice["can_take_now"])
	assert.Equal(t, 4.0, advice["minimum_gap_hours"])
	assert.Equal(t, adherence.Disclaimer, advice["disclaimer"])

	rec = s.do(t, http.MethodPost, "/api/users/u1/doses/recovery", `{"medication_id":"nope","missed_at":"2024-01-15T08:00:00Z"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/users/u1/doses/recovery", `{"medication_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/users/u1/doses/recovery", `{"medication_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTakenEndpoint(t *testing.T) {
	s := newTestServer(t)

	body := fmt.Sprintf(`{"medication_id":%q,"scheduled_at":"2024-01-15T08:00:00Z","notes":"late breakfast"}`, s.medID)
	rec := s.do(t, http.MethodPost, "/api/users/u1/doses/taken", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"outcome":"inserted"}`, rec.Body.String())

	entry, err := s.store.FindEntry(context.Background(), model.NewSlotKey("u1", s.medID, time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, model.StatusTaken, entry.Status)
	assert.Equal(t, "late breakfast", entry.Notes)

	rec = s.do(t, http.MethodGet, "/api/users/u1/doses/missed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[dosesResponse](t, rec).Doses)
}

func TestMonitoringLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/users/u1/monitoring", `{"timezone":"UTC"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	status := decode[monitor.Status](t, rec)
	assert.True(t, status.Running)
	assert.Equal(t, "UTC", status.Timezone)
	assert.Equal(t, 1, s.registry.Active())

	rec = s.do(t, http.MethodGet, "/api/users/u1/monitoring", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[monitor.Status](t, rec).Running)

	rec = s.do(t, http.MethodDelete, "/api/users/u1/monitoring", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, s.registry.Active())

	rec = s.do(t, http.MethodDelete, "/api/users/u1/monitoring", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/users/u1/monitoring", `{"timezone":"Nowhere/Special"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/users/u1/doses/check", "")

	rec := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pilllens_doses_marked_missed_total 1")
}

func TestWrongMethodIsRejected(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/users/u1/doses/check", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.JSONEq(t, `{"error":"method not allowed"}`, rec.Body.String())

	rec = s.do(t, http.MethodPut, "/api/users/u1/monitoring", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = s.do(t, http.MethodPost, "/healthz", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/users/u1/doses/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
