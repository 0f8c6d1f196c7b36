/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the policy book server. Handles configuration,
  dependency injection, the recompute scheduler and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env, parse flags (env vars override flag defaults)
  2. Initialize SQLite store
  3. Load engine configuration (YAML/JSON file, else defaults)
  4. Create service, metrics, handler and router
  5. Start recompute scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (default: 8080)
  -db        SQLite database path (default: policies.db)
             Use ":memory:" for in-memory database
  -config    Engine configuration file (.yaml, .yml or .json)
  -schedule  Recompute cron spec (default: "0 3 * * *", "off" disables)

ENVIRONMENT:
  PORT, DB_PATH, ENGINE_CONFIG, RECOMPUTE_SCHEDULE
  LOG_LEVEL    zerolog level (debug, info, warn, error; default info)
  TZ_LOCATION  IANA zone for the schedule and "today" (default UTC)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running recompute)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/policies.db" -config=engine.yaml
  RECOMPUTE_SCHEDULE="30 2 * * *" TZ_LOCATION=America/Mexico_City ./server

SEE ALSO:
  - api/server.go: Router configuration
  - factory/config.go: Engine configuration documents
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/warp/policy-engine/api"
	"github.com/warp/policy-engine/book"
	"github.com/warp/policy-engine/factory"
	"github.com/warp/policy-engine/metrics"
	"github.com/warp/policy-engine/store/sqlite"
)

func main() {
	// A missing .env is normal in production.
	_ = godotenv.Load()

	// Flags
	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envString("DB_PATH", "policies.db"), "SQLite database path")
	configPath := flag.String("config", envString("ENGINE_CONFIG", ""), "Engine configuration file (.yaml/.json)")
	schedule := flag.String("schedule", envString("RECOMPUTE_SCHEDULE", api.DefaultSchedule), `Recompute cron spec ("off" disables)`)
	flag.Parse()

	logger := newLogger(envString("LOG_LEVEL", "info"))

	loc := time.UTC
	if name := os.Getenv("TZ_LOCATION"); name != "" {
		l, err := time.LoadLocation(name)
		if err != nil {
			logger.Warn().Err(err).Str("tz", name).Msg("invalid TZ_LOCATION, using UTC")
		} else {
			loc = l
		}
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal().Err(err).Str("db", *dbPath).Msg("failed to initialize database")
	}
	defer store.Close()

	// Engine configuration
	cfg, err := factory.LoadConfigFile(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("config", *configPath).Msg("failed to load engine configuration")
	}

	// Service
	svc := book.NewService(store, cfg, metrics.New(prometheus.DefaultRegisterer), logger)
	svc.Clock = func() time.Time { return time.Now().In(loc) }

	// Scheduler
	scheduler := api.NewRecomputeScheduler(svc, logger)
	scheduler.Schedule = *schedule
	scheduler.Location = loc
	scheduler.Enabled = !strings.EqualFold(*schedule, "off") && *schedule != ""
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}

	// Handler and router
	handler := api.NewHandler(svc, logger)
	handler.Scheduler = scheduler
	router := api.NewRouter(handler, prometheus.DefaultGatherer)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Int("port", *port).Str("db", *dbPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		Level(lvl).
		With().Timestamp().Str("service", "policy-engine").
		Logger()
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
