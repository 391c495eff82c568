/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the indemnity back-office server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment, then flags)
  2. Build the rate schedule registry (file or built-in tables)
  3. Open the SQL store (SQLite or Postgres) and migrate
  4. Optional: Redis entity lock, RabbitMQ event publisher
  5. Create the service, API handler and router
  6. Start the SLA monitor
  7. Start server with graceful shutdown

SIGNALS:
  SIGHUP           Reload RATE_SCHEDULES into the live registry. A file that
                   fails validation is logged and the old tables stay.
  SIGINT/SIGTERM   Stop accepting connections, drain requests (30s), stop
                   the monitor, close publisher, lock and database.

EXAMPLES:
  # Local SQLite, built-in partner tables
  JWT_SECRET=dev ./server -db="./data/indemnity.db"

  # Postgres with a schedule file
  JWT_SECRET=... DB_DRIVER=postgres ./server \
    -db="postgres://indemnity@localhost/indemnity?sslmode=disable" \
    -schedules=./config/partners.json

SEE ALSO:
  - config/config.go: Every variable and flag
  - api/server.go: Router configuration
  - store/sqlstore/sqlstore.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/indemnity-engine/api"
	"github.com/warp/indemnity-engine/config"
	"github.com/warp/indemnity-engine/events"
	"github.com/warp/indemnity-engine/factory"
	"github.com/warp/indemnity-engine/indemnity"
	"github.com/warp/indemnity-engine/lock"
	"github.com/warp/indemnity-engine/store/sqlstore"
	"github.com/warp/indemnity-engine/tarification"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	// Rate schedules
	schedules := factory.NewScheduleFactory()
	registry, err := loadRegistry(schedules, cfg.RateSchedules)
	if err != nil {
		return err
	}
	logger.Info("rate schedules loaded", "partners", registry.Partners(), "source", sourceName(cfg.RateSchedules))

	// Store
	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	opts := []indemnity.Option{
		indemnity.WithLogger(logger),
		indemnity.WithSLADays(cfg.SLADays),
	}

	// Optional infrastructure
	if cfg.RedisAddr != "" {
		locker, err := lock.NewRedis(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer locker.Close()
		opts = append(opts, indemnity.WithLocker(locker))
		logger.Info("using redis entity lock", "addr", cfg.RedisAddr)
	}
	if cfg.RabbitMQURL != "" {
		publisher, err := events.DialAMQP(cfg.RabbitMQURL, cfg.EventsQueue)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts = append(opts, indemnity.WithPublisher(publisher))
	}

	svc := indemnity.NewService(tarification.NewEngine(registry), store, opts...)

	handler := api.NewHandler(svc, logger).WithHealthCheck(store.Ping)
	handler.Schedules = schedules
	router := api.NewRouter(handler, api.NewAuthenticator(cfg.JWTSecret), cfg.CORSOrigins)

	monitor := indemnity.NewSLAMonitor(svc)
	monitor.CheckInterval = cfg.SLACheckInterval
	monitor.Enabled = cfg.SLACheckInterval > 0
	monitor.Start()
	defer monitor.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "db_driver", cfg.DBDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for a signal; SIGHUP reloads and keeps serving.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for {
		select {
		case err := <-serverErr:
			return err
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				reloadRegistry(logger, schedules, registry, cfg.RateSchedules)
				continue
			}
			logger.Info("shutting down server", "signal", sig.String())

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			logger.Info("server stopped")
			return nil
		}
	}
}

func loadRegistry(f *factory.ScheduleFactory, path string) (*tarification.Registry, error) {
	if path == "" {
		return tarification.NewDefaultRegistry(), nil
	}
	schedules, err := f.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return tarification.NewRegistry(schedules...)
}

func reloadRegistry(logger *slog.Logger, f *factory.ScheduleFactory, registry *tarification.Registry, path string) {
	if path == "" {
		logger.Warn("schedule reload requested but RATE_SCHEDULES is not set")
		return
	}
	schedules, err := f.LoadFile(path)
	if err == nil {
		err = registry.Replace(schedules)
	}
	if err != nil {
		logger.Error("schedule reload failed, keeping current tables", "path", path, "error", err)
		return
	}
	logger.Info("rate schedules reloaded", "partners", registry.Partners())
}

func sourceName(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}
