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

	"dosu/internal/cache"
	"dosu/internal/client"
	"dosu/internal/config"
	"dosu/internal/domain"
	"dosu/internal/events"
	"dosu/internal/logging"
	"dosu/internal/metrics"
	"dosu/internal/web"
	"dosu/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

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

	backend, err := client.New(client.Options{
		BaseURL:    cfg.Backend.BaseURL,
		Timeout:    cfg.Backend.Timeout,
		CSRFHeader: cfg.Backend.CSRFHeader,
		Retry: worker.RetryPolicy{
			MaxRetries:    cfg.Backend.Retry.MaxRetries,
			InitialDelay:  cfg.Backend.Retry.InitialDelay,
			MaxDelay:      cfg.Backend.Retry.MaxDelay,
			BackoffFactor: cfg.Backend.Retry.BackoffFactor,
		},
		Logger: &logger,
	})
	if err != nil {
		return fmt.Errorf("backend client: %w", err)
	}

	responseCache, closeCache := initCache(ctx, cfg, &logger)
	defer closeCache()
	backend.UseCache(responseCache, cfg.Backend.CacheTTL)

	bus := events.NewEventBus()
	subscribeCalendarEvents(bus, &logger)

	server, err := web.NewServer(cfg, backend, bus, &logger)
	if err != nil {
		return fmt.Errorf("web server: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(server.Start)
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Monitoring.PrometheusPort, &logger)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Calendar terminated with error")
		return err
	}
	logger.Info().Msg("Calendar stopped")
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
	logger := logging.Component(baseLogger, "calendar-main")

	return cfg, logger, closer, nil
}

// initCache puts Redis in front of the in-process cache when configured.
// An unreachable Redis is logged and left to the failover to retry.
func initCache(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.Cache, func()) {
	memory := cache.NewMemoryCache()
	if cfg.Redis.Address == "" {
		return memory, func() {}
	}

	redisClient := cache.NewRedisClient(cfg.Redis)
	redisCache := cache.NewRedisCache(redisClient)
	if err := cache.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Redis.Address).Msg("redis connection failed, serving from memory until it recovers")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}

	return cache.NewFailoverCache(redisCache, memory, logger), func() { _ = redisClient.Close() }
}

func subscribeCalendarEvents(bus *events.EventBus, logger *zerolog.Logger) {
	bus.Subscribe(events.EventSlotSelected, func(e *events.Event) error {
		var p events.SlotEventPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		logger.Debug().Str("date", p.Date).Int("room", p.Room).Int("slot", p.Slot).Str("mode", p.Mode).Msg("slot selected")
		return nil
	})
	bus.Subscribe(events.EventScheduleFetchFailed, func(e *events.Event) error {
		logger.Warn().RawJSON("payload", e.Payload).Msg("schedule fetch failed")
		return nil
	})
	bus.Subscribe(events.EventOccupancyDiagnostic, func(e *events.Event) error {
		var p events.DiagnosticPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		logger.Debug().Int64("appointment_id", p.AppointmentID).Str("reason", p.Reason).Msg("occupancy diagnostic published")
		return nil
	})
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
