// Package api exposes the adherence service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pathakanu/pillLens/internal/adherence"
	"github.com/pathakanu/pillLens/internal/model"
	"github.com/pathakanu/pillLens/internal/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DoseService is implemented by *adherence.Service.
type DoseService interface {
	CheckAndMarkMissedDoses(ctx context.Context, userID, timezone string) (adherence.CheckResult, error)
	GetTodaysMissedDoses(ctx context.Context, userID, timezone string) ([]adherence.Classification, error)
	GetOverdueDoses(ctx context.Context, userID, timezone string) ([]adherence.Classification, error)
	CheckMissedDoseRecovery(ctx context.Context, userID, medicationID string, missed time.Time, frequency string) (adherence.RecoveryAdvice, error)
	RecordDoseTaken(ctx context.Context, userID, medicationID string, scheduled time.Time, notes string) (model.UpsertOutcome, error)
}

// Monitors is implemented by *monitor.Registry.
type Monitors interface {
	Start(userID, timezone string) error
	Stop(userID string) (context.Context, bool)
	Status(userID string) (monitor.Status, bool)
}

// Deps wires the router. Hub, Webhook and Gatherer are optional.
type Deps struct {
	Doses    DoseService
	Monitors Monitors
	Hub      http.Handler
	Webhook  http.Handler
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type server struct {
	doses    DoseService
	monitors Monitors
	logger   *zap.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(deps Deps) *mux.Router {
	s := &server{doses: deps.Doses, monitors: deps.Monitors, logger: deps.Logger}

	router := mux.NewRouter()
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	router.Use(s.logRequests)
	router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if deps.Hub != nil {
		router.Handle("/ws", deps.Hub)
	}
	if deps.Webhook != nil {
		router.Handle("/twilio/webhook", deps.Webhook).Methods(http.MethodPost)
	}

	api := router.PathPrefix("/api/users/{userID}").Subrouter()
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	api.HandleFunc("/doses/missed", s.missedDoses).Methods(http.MethodGet)
	api.HandleFunc("/doses/overdue", s.overdueDoses).Methods(http.MethodGet)
	api.HandleFunc("/doses/check", s.checkDoses).Methods(http.MethodPost)
	api.HandleFunc("/doses/recovery", s.recovery).Methods(http.MethodPost)
	api.HandleFunc("/doses/taken", s.doseTaken).Methods(http.MethodPost)
	api.HandleFunc("/monitoring", s.monitoringStatus).Methods(http.MethodGet)
	api.HandleFunc("/monitoring", s.startMonitoring).Methods(http.MethodPost)
	api.HandleFunc("/monitoring", s.stopMonitoring).Methods(http.MethodDelete)

	return router
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type dosesResponse struct {
	UserID string                     `json:"user_id"`
	Doses  []adherence.Classification `json:"doses"`
}

func (s *server) missedDoses(w http.ResponseWriter, r *http.Request) {
	s.listDoses(w, r, s.doses.GetTodaysMissedDoses)
}

func (s *server) overdueDoses(w http.ResponseWriter, r *http.Request) {
	s.listDoses(w, r, s.doses.GetOverdueDoses)
}

func (s *server) listDoses(w http.ResponseWriter, r *http.Request, query func(context.Context, string, string) ([]adherence.Classification, error)) {
	userID := mux.Vars(r)["userID"]
	tz, ok := timezoneParam(w, r)
	if !ok {
		return
	}

	doses, err := query(r.Context(), userID, tz)
	if err != nil {
		s.fail(w, err)
		return
	}
	if doses == nil {
		doses = []adherence.Classification{}
	}
	writeJSON(w, http.StatusOK, dosesResponse{UserID: userID, Doses: doses})
}

func (s *server) checkDoses(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	tz, ok := timezoneParam(w, r)
	if !ok {
		return
	}

	result, err := s.doses.CheckAndMarkMissedDoses(r.Context(), userID, tz)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type recoveryRequest struct {
	MedicationID string    `json:"medication_id"`
	MissedAt     time.Time `json:"missed_at"`
	Frequency    string    `json:"frequency"`
}

func (s *server) recovery(w http.ResponseWriter, r *http.Request) {
	var req recoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MedicationID == "" || req.MissedAt.IsZero() {
		writeError(w, http.StatusBadRequest, "medication_id and missed_at are required")
		return
	}

	advice, err := s.doses.CheckMissedDoseRecovery(r.Context(), mux.Vars(r)["userID"], req.MedicationID, req.MissedAt, req.Frequency)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, advice)
}

type takenRequest struct {
	MedicationID string    `json:"medication_id"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Notes        string    `json:"notes"`
}

func (s *server) doseTaken(w http.ResponseWriter, r *http.Request) {
	var req takenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MedicationID == "" || req.ScheduledAt.IsZero() {
		writeError(w, http.StatusBadRequest, "medication_id and scheduled_at are required")
		return
	}

	outcome, err := s.doses.RecordDoseTaken(r.Context(), mux.Vars(r)["userID"], req.MedicationID, req.ScheduledAt, req.Notes)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": outcome.String()})
}

type monitoringRequest struct {
	Timezone string `json:"timezone"`
}

func (s *server) startMonitoring(w http.ResponseWriter, r *http.Request) {
	var req monitoringRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if !validTimezone(req.Timezone) {
		writeError(w, http.StatusBadRequest, "unknown timezone")
		return
	}

	userID := mux.Vars(r)["userID"]
	if err := s.monitors.Start(userID, req.Timezone); err != nil {
		s.fail(w, err)
		return
	}
	status, _ := s.monitors.Status(userID)
	writeJSON(w, http.StatusAccepted, status)
}

func (s *server) stopMonitoring(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.monitors.Stop(mux.Vars(r)["userID"]); !ok {
		writeError(w, http.StatusNotFound, "monitoring is not running")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) monitoringStatus(w http.ResponseWriter, r *http.Request) {
	status, _ := s.monitors.Status(mux.Vars(r)["userID"])
	writeJSON(w, http.StatusOK, status)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "medication not found")
	case errors.Is(err, monitor.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("api: request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(started)))
	})
}

func timezoneParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	tz := strings.TrimSpace(r.URL.Query().Get("tz"))
	if !validTimezone(tz) {
		writeError(w, http.StatusBadRequest, "unknown timezone")
		return "", false
	}
	return tz, true
}

func validTimezone(tz string) bool {
	if tz == "" {
		return true
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
