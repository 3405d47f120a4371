package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dosu/internal/api"
	"dosu/internal/config"
	"dosu/internal/events"
	"dosu/internal/logging"
	"dosu/internal/metrics"
	"dosu/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const healthInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	bus := events.NewEventBus()
	subscribeAppointmentEvents(bus, &logger)

	grpcServer, err := api.NewGRPCServer(cfg.API, db, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}
	httpServer := api.NewHTTPServer(cfg.API, db, db, &logger)
	httpServer.UseEvents(bus)

	backups := store.NewBackupService(db, cfg.Database.Backup, &logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(grpcServer.Serve)
	g.Go(httpServer.Start)
	g.Go(func() error {
		grpcServer.Watch(ctx, healthInterval)
		return nil
	})
	g.Go(func() error {
		backups.Start(ctx)
		return nil
	})
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Monitoring.PrometheusPort, &logger)
		})
	}

	logger.Info().Str("grpc_addr", grpcServer.Addr()).Int("http_port", cfg.API.HTTP.Port).Msg("Schedule backend started")

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		grpcServer.Shutdown(shutdownCtx)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Schedule backend terminated with error")
		return err
	}
	logger.Info().Msg("Schedule backend stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := logging.Component(baseLogger, "backend-main")

	return cfg, logger, closer, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*store.DB, error) {
	db, err := store.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if cfg.Database.SeedFile == "" {
		err = db.EnsureDefaults(ctx)
	} else {
		err = applySeed(ctx, cfg.Database.SeedFile, db, logger)
	}
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func applySeed(ctx context.Context, path string, db *store.DB, logger *zerolog.Logger) error {
	seed, err := store.LoadSeed(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn().Str("seed_file", path).Msg("seed file not found, starting with defaults")
		return db.EnsureDefaults(ctx)
	}
	if err != nil {
		return err
	}
	if err := seed.Apply(ctx, db); err != nil {
		return fmt.Errorf("apply seed %s: %w", path, err)
	}
	logger.Info().Str("seed_file", path).Int("appointments", len(seed.Appointments)).Msg("seed applied")
	return nil
}

func subscribeAppointmentEvents(bus *events.EventBus, logger *zerolog.Logger) {
	logEvent := func(e *events.Event) error {
		var p events.AppointmentPayload
		if err := e.Decode(&p); err != nil {
			logger.Warn().Err(err).Str("event", e.Type).Msg("decode event")
			return err
		}
		logger.Info().
			Str("event", e.Type).
			Int64("appointment_id", p.AppointmentID).
			Str("date", p.Date).
			Int("room", p.Room).
			Int("slot", p.Slot).
			Str("status", p.Status).
			Msg("appointment changed")
		return nil
	}
	bus.Subscribe(events.EventAppointmentCreated, logEvent)
	bus.Subscribe(events.EventAppointmentStatus, logEvent)
}

func serveMetrics(ctx context.Context, port int, logger *zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
