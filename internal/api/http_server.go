package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dosu/internal/config"
	"dosu/internal/domain"
	"dosu/internal/events"
	"dosu/internal/logging"
	"dosu/internal/metrics"
	"dosu/internal/models"
	"dosu/internal/store"

	"github.com/rs/zerolog"
)

// SelectPatientPath is where a selected slot continues the creation flow.
const SelectPatientPath = "/dosusess/select_patient_to_create_dosusess"

// HTTPServer serves the schedule backend endpoints consumed by the calendar.
type HTTPServer struct {
	cfg    config.APIConfig
	repo   domain.ScheduleRepository
	db     Pinger
	server *http.Server
	events domain.EventPublisher
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, repo domain.ScheduleRepository, db Pinger, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		logger = logging.Nop()
	}
	srv := &HTTPServer{cfg: cfg, repo: repo, db: db, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /dosusess/get_schedule", srv.handleGetSchedule)
	mux.HandleFunc("GET /dosusess/get_dosusess/{id}", srv.handleGetAppointment)
	mux.HandleFunc("POST /dosusess/available_slot_selected", srv.handleSlotSelected)
	mux.HandleFunc("POST /dosusess/create", srv.handleCreate)
	mux.HandleFunc("POST /dosusess/{id}/status", srv.handleStatus)
	mux.HandleFunc("GET /dosutype/get_dosutypes/{id}", srv.handleGetDosutypes)
	mux.HandleFunc("GET /stats/new_patient_count/{year}/{month}", srv.handleNewPatientCount)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /readyz", srv.handleReady)

	handler := loggingMiddleware(logger, NewGuard(cfg).Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

// UseEvents publishes appointment changes on bus.
func (s *HTTPServer) UseEvents(bus domain.EventPublisher) {
	s.events = bus
}

// Handler exposes the routed handler for embedding and tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Schedule backend listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type scheduleRequest struct {
	Date  string `json:"date"`
	Year  string `json:"year"`
	Month string `json:"month"`
}

// handleGetSchedule answers a day schedule when date is given, otherwise the
// month schedule of year/month.
func (s *HTTPServer) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("get_schedule")

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ctx := r.Context()

	if req.Date != "" {
		date, err := time.Parse(models.DateLayout, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
			return
		}
		cfg, err := s.repo.TimeslotConfig(ctx, date.Year(), date.Month())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		appts, err := s.repo.AppointmentsOn(ctx, date)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if appts == nil {
			appts = []models.Appointment{}
		}
		writeJSON(w, http.StatusOK, models.DaySchedule{TimeslotConfig: cfg, Schedule: appts})
		return
	}

	year, month, err := parseYearMonth(req.Year, req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := s.repo.TimeslotConfig(ctx, year, month)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sched, err := s.repo.AppointmentsInMonth(ctx, year, month)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	counts, err := s.repo.NewPatientCounts(ctx, year, month)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if counts == nil {
		counts = []models.NewPatientCount{}
	}
	writeJSON(w, http.StatusOK, models.MonthSchedule{TimeslotConfig: cfg, Schedule: sched, NewPatientCount: counts})
}

func (s *HTTPServer) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("get_dosusess")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := s.repo.AppointmentDetail(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dosusess": detail})
}

func (s *HTTPServer) handleGetDosutypes(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("get_dosutypes")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	types, err := s.repo.Dosutypes(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dosutypes": types})
}

// handleSlotSelected validates the chosen slot and redirects to the patient
// selection step with the slot carried in the query.
func (s *HTTPServer) handleSlotSelected(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("available_slot_selected")
	sel, err := parseSelection(r.PostFormValue("sess_date"), r.PostFormValue("room"), r.PostFormValue("slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := url.Values{}
	q.Set("sess_date", sel.Date)
	q.Set("room", strconv.Itoa(sel.Room))
	q.Set("slot", strconv.Itoa(sel.Slot))
	http.Redirect(w, r, SelectPatientPath+"?"+q.Encode(), http.StatusSeeOther)
}

type createRequest struct {
	Date       string `json:"sess_date"`
	Room       int    `json:"room"`
	Slot       int    `json:"slot"`
	PatientID  int64  `json:"patient_id"`
	DosutypeID int64  `json:"dosutype_id"`
	Note       string `json:"note"`
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create")

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sel, err := parseSelection(req.Date, strconv.Itoa(req.Room), strconv.Itoa(req.Slot))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a := &models.AppointmentDetail{
		Appointment: models.Appointment{
			Date:   sel.Date,
			Room:   sel.Room,
			Slot:   sel.Slot,
			Note:   req.Note,
			Status: models.StatusActive,
		},
		PatientID:  req.PatientID,
		DosutypeID: req.DosutypeID,
	}
	if err := s.repo.CreateAppointment(r.Context(), a); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info().Int64("id", a.ID).Str("date", a.Date).Int("room", a.Room).Int("slot", a.Slot).Msg("Appointment created")
	s.publish(events.EventAppointmentCreated, a)
	writeJSON(w, http.StatusCreated, map[string]any{"dosusess": a})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("status")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	st, err := models.ParseStatus(body.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.repo.UpdateAppointmentStatus(r.Context(), id, st); err != nil {
		s.fail(w, r, err)
		return
	}
	if detail, err := s.repo.AppointmentDetail(r.Context(), id); err == nil {
		s.publish(events.EventAppointmentStatus, detail)
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": st})
}

func (s *HTTPServer) handleNewPatientCount(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("new_patient_count")
	year, month, err := parseYearMonth(r.PathValue("year"), r.PathValue("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	counts, err := s.repo.NewPatientCounts(r.Context(), year, month)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"newPatientCount": counts})
}

func (s *HTTPServer) publish(eventType string, a *models.AppointmentDetail) {
	if s.events == nil {
		return
	}
	err := s.events.PublishJSON(eventType, events.AppointmentPayload{
		AppointmentID: a.ID,
		Date:          a.Date,
		Room:          a.Room,
		Slot:          a.Slot,
		SlotQuantity:  a.SlotQuantity,
		Status:        string(a.Status),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish event")
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// fail maps repository errors onto HTTP statuses.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrSlotTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNoWorker):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "an error occurred while processing the request")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func parseYearMonth(y, m string) (int, time.Month, error) {
	year, err := strconv.Atoi(strings.TrimSpace(y))
	if err != nil || year < 1 {
		return 0, 0, fmt.Errorf("invalid year %q", y)
	}
	month, err := strconv.Atoi(strings.TrimSpace(m))
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("invalid month %q", m)
	}
	return year, time.Month(month), nil
}

func parseSelection(date, room, slot string) (models.SlotSelection, error) {
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return models.SlotSelection{}, fmt.Errorf("invalid sess_date %q", date)
	}
	r, err := strconv.Atoi(room)
	if err != nil || !models.ValidRoom(r) {
		return models.SlotSelection{}, fmt.Errorf("invalid room %q", room)
	}
	sl, err := strconv.Atoi(slot)
	if err != nil || sl < 0 {
		return models.SlotSelection{}, fmt.Errorf("invalid slot %q", slot)
	}
	return models.SlotSelection{Date: date, Room: r, Slot: sl}, nil
}

func loggingMiddleware(logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := requestIDFromHeader(r)
		w.Header().Set(requestIDHeader, requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
