package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/euskalmet-poller/internal/api/http"
	"github.com/i474232898/euskalmet-poller/internal/auth"
	"github.com/i474232898/euskalmet-poller/internal/config"
	"github.com/i474232898/euskalmet-poller/internal/euskalmet"
	"github.com/i474232898/euskalmet-poller/internal/logging"
	"github.com/i474232898/euskalmet-poller/internal/publish"
	"github.com/i474232898/euskalmet-poller/internal/scheduler"
	"github.com/i474232898/euskalmet-poller/internal/store"
	"github.com/i474232898/euskalmet-poller/internal/weather"
)

const appName = "euskalmet-poller"

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg := logging.New(cfg, version, appName)
	slog.SetDefault(lg)

	cred := auth.Credential{Fingerprint: cfg.Fingerprint, PrivateKey: cfg.PrivateKey}
	lg.Info("starting",
		"credential", cred,
		"stations", len(cfg.Stations),
		"locations", len(cfg.Locations),
	)

	// Shared HTTP client for outbound upstream calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	client := euskalmet.NewClient(euskalmet.Config{
		BaseURL:    cfg.BaseURL,
		HTTPClient: httpClient,
		RPS:        cfg.UpstreamRPS,
		Burst:      cfg.UpstreamBurst,
		Logger:     lg,
	})

	// each subject signs its own tokens so one rejection does not force
	// every other subject to re-sign
	newTokens := func() *auth.Manager {
		return auth.NewManager(cred, auth.Options{SafetyMargin: cfg.TokenSafetyMargin, Logger: lg})
	}

	catalog := weather.NewCatalog(client, newTokens(), lg)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), cfg.CycleTimeout)
	err = catalog.Validate(startupCtx)
	cancelStartup()
	if weather.IsCredentialError(err) {
		lg.Error("credential rejected; check EUSKALMET_FINGERPRINT and the private key", "error", err)
		os.Exit(1)
	}
	if err != nil {
		lg.Warn("could not validate credential; continuing", "error", err)
	}

	// In-memory store with configured retention.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)
	sinks := weather.MultiSink{memStore}

	if cfg.MQTT.Enabled {
		pub := publish.NewPublisher(cfg.MQTT, lg)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := pub.Connect(ctx); err != nil {
			lg.Warn("mqtt not reachable yet; will keep retrying", "error", err)
		}
		cancel()
		defer pub.Disconnect()
		sinks = append(sinks, pub)
	}

	mapper := weather.NewConditionMapper(lg)

	var stations []*weather.StationCoordinator
	for _, subject := range cfg.Stations {
		stations = append(stations, weather.NewStationCoordinator(weather.StationConfig{
			Subject:    subject,
			Tokens:     newTokens(),
			Source:     client.ForSubject(subject.ID),
			Sink:       sinks,
			ReadingLag: cfg.ReadingLag,
			Logger:     lg,
		}))
	}

	var forecasts []*weather.ForecastCoordinator
	for _, subject := range cfg.Locations {
		forecasts = append(forecasts, weather.NewForecastCoordinator(weather.ForecastConfig{
			Subject:  subject,
			Tokens:   newTokens(),
			Source:   client.ForSubject(subject.ID),
			Sink:     sinks,
			Mapper:   mapper,
			Location: cfg.ForecastTimezone,
			Logger:   lg,
		}))
	}

	// Core service tying coordinators to the store.
	service, err := weather.NewService(memStore, catalog, stations, forecasts)
	if err != nil {
		lg.Error("invalid subject configuration", "error", err)
		os.Exit(1)
	}

	// Scheduler that periodically runs every subject's cycle.
	sched := scheduler.New(
		scheduler.FromService(service, cfg.StationInterval, cfg.ForecastInterval),
		cfg.CycleTimeout,
		lg,
	)
	if err := sched.Start(); err != nil {
		lg.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": appName,
			"version": version,
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, service)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			lg.Error("fiber server stopped", "error", err)
		}
	}()
	lg.Info("listening", "port", cfg.Port)

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		lg.Error("error during shutdown", "error", err)
	}
}
