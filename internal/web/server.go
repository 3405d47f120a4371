// Package web serves the calendar front: month and day pages, their HTMX
// fragments, slot clicks and the month export.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"dosu/internal/calendar"
	"dosu/internal/config"
	"dosu/internal/domain"
	"dosu/internal/logging"

	"github.com/rs/zerolog"
)

// Pinger is implemented by backends that can report their readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg     *config.Config
	backend domain.Backend
	day     *calendar.Day
	month   *calendar.Month
	pages   *renderer
	loc     *time.Location
	server  *http.Server
	logger  *zerolog.Logger
	now     func() time.Time
}

func NewServer(cfg *config.Config, backend domain.Backend, bus domain.EventPublisher, logger *zerolog.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	pages, err := newRenderer()
	if err != nil {
		return nil, err
	}

	loc := cfg.Location()
	s := &Server{
		cfg:     cfg,
		backend: backend,
		day:     calendar.NewDay(backend, backend, bus, cfg.Schedule.PrivilegeThreshold, logger),
		month:   calendar.NewMonth(backend, bus, loc, logger),
		pages:   pages,
		loc:     loc,
		logger:  logger,
		now:     time.Now,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := Chain(mux,
		WithCSRF(cfg.Backend.CSRFHeader),
		WithLogging,
		WithRecovery,
		WithRequestID(logger),
	)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleIndex)

	mux.HandleFunc("GET /monthly/{year}/{month}", s.handleMonthPage)
	mux.HandleFunc("GET /monthly/{year}/{month}/export.xlsx", s.handleMonthExport)
	mux.HandleFunc("GET /api/v1/month/{year}/{month}", s.handleMonthFragment)

	mux.HandleFunc("GET /daily/{year}/{month}/{day}", s.handleDayPage)
	mux.HandleFunc("GET /api/v1/day/{year}/{month}/{day}", s.handleDayFragment)
	mux.HandleFunc("POST /api/v1/slots/click", s.handleClick)

	mux.HandleFunc("GET /api/v1/appointments/{id}", s.handleAppointment)
	mux.HandleFunc("GET /api/v1/dosutypes/{patientID}", s.handleDosutypes)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /readyz", s.handleReady)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Calendar listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.backend.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Backend not ready")
			http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}
