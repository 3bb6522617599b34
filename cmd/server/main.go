// Package main is the entry point for the hookbridge event hub server.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hookbridge/hookbridge/internal/config"
	"github.com/hookbridge/hookbridge/internal/database"
	"github.com/hookbridge/hookbridge/internal/handler"
	"github.com/hookbridge/hookbridge/internal/middleware"
	"github.com/hookbridge/hookbridge/internal/models"
	"github.com/hookbridge/hookbridge/internal/pkg/response"
	"github.com/hookbridge/hookbridge/internal/repository"
	"github.com/hookbridge/hookbridge/internal/syncer"
	"github.com/hookbridge/hookbridge/internal/webhook"
)

func main() {
	// Setup structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting hookbridge event hub",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
	)

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	// Run migrations
	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	// Connect to Redis
	redis, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()
	logger.Info("Connected to Redis")

	// Repositories
	subRepo := repository.NewSubscriptionRepository(db.Pool())
	deliveryRepo := repository.NewDeliveryRepository(db.Pool())

	// Webhook delivery engine
	dlq := webhook.NewDeadLetterQueue(cfg.Webhook.DeadLetterMaxSize)
	deliverer := webhook.NewDeliverer(cfg.Webhook, dlq, logger,
		webhook.WithRateLimiter(webhook.NewRedisRateLimiter(redis)),
		webhook.WithRecorder(deliveryRepo),
	)
	dispatcher := webhook.NewDispatcher(deliverer, subRepo, logger)

	// Sync coordination layer
	deduper := syncer.NewDeduper(redis, cfg.Sync, logger)
	resolver := syncer.NewResolver(redis, cfg.Sync, logger)
	lock := syncer.NewLock(redis, cfg.Sync.LockTTL, logger)
	issueStore := syncer.NewRedisIssueStore(redis)

	managers := map[string]*syncer.Manager{
		"github": syncer.NewManager(deduper, resolver,
			syncer.NewGitHubClient(cfg.Trackers.GitHub), issueStore, models.SourceLinear, logger),
		"gitlab": syncer.NewManager(deduper, resolver,
			syncer.NewGitLabClient(cfg.Trackers.GitLab), issueStore, models.SourceLinear, logger),
	}

	// Handlers
	eventHandler := handler.NewEventHandler(dispatcher, logger)
	subHandler := handler.NewSubscriptionHandler(subRepo, deliveryRepo)
	dlqHandler := handler.NewDeadLetterHandler(dlq, deliverer, subRepo)
	syncHandler := handler.NewSyncHandler(managers, resolver, lock)

	// Setup router
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Timeout(30 * time.Second))

	// Health check endpoints
	r.Get("/health", healthHandler())
	r.Get("/ready", readyHandler(db, redis))
	r.Handle("/metrics", promhttp.Handler())

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(redis, middleware.DefaultRateLimitConfig()))

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			response.OK(w, map[string]string{
				"name":    "hookbridge event hub",
				"version": "1.0.0",
			})
		})

		r.Mount("/events", eventHandler.Routes())
		r.Mount("/subscriptions", subHandler.Routes())
		r.Mount("/dead-letters", dlqHandler.Routes())
		r.Mount("/sync", syncHandler.Routes())
	})

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down server", slog.String("signal", sig.String()))

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	logger.Info("Server stopped gracefully")
}

// healthHandler returns a liveness check that succeeds while the process runs.
func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// readyHandler verifies database and Redis connections.
func readyHandler(db *database.Postgres, redis *database.Redis) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"database"}`))
			return
		}

		if err := redis.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"redis"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","database":"connected","redis":"connected"}`))
	}
}
