// Package main is the entry point for the inbox API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tartanilla/admin-inbox/internal/config"
	"github.com/tartanilla/admin-inbox/internal/handler"
	"github.com/tartanilla/admin-inbox/internal/inbox"
	"github.com/tartanilla/admin-inbox/internal/middleware"
	natsclient "github.com/tartanilla/admin-inbox/internal/nats"
	"github.com/tartanilla/admin-inbox/internal/store"
	"github.com/tartanilla/admin-inbox/pkg/logger"
	"github.com/tartanilla/admin-inbox/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting inbox API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "tartanilla-admin-inbox", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS for the row-change feed
	natsClient, err := natsclient.Connect(natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	feed := natsclient.NewFeed(natsClient)

	// Connect to Postgres; writes publish change events through the feed
	pg, err := store.OpenPostgres(cfg.DatabaseDSN, feed)
	if err != nil {
		log.Error("failed to connect to postgres", zap.Error(err))
		os.Exit(1)
	}
	if err := pg.Migrate(); err != nil {
		log.Error("failed to migrate schema", zap.Error(err))
		os.Exit(1)
	}

	// Per-operator inbox sessions
	manager := inbox.NewManager(pg, feed, inbox.ManagerOptions{
		Controller: inbox.Options{
			PageSize:      cfg.MessagePageSize,
			Debounce:      cfg.SearchDebounce,
			RemoteTimeout: cfg.RemoteTimeout,
		},
		ReconnectDelay:       cfg.ReconnectDelay,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
	}, log)
	defer manager.Close()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	inboxHandler := handler.NewInboxHandler(manager, log)
	streamHandler := handler.NewStreamHandler(manager, cfg.InboxEventBuffer, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", inboxHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/select", inboxHandler.Select)
				r.Get("/messages", inboxHandler.OlderMessages)
				r.Post("/messages", inboxHandler.Send)
				r.Put("/status", inboxHandler.UpdateStatus)
			})
		})

		// Inbox-wide surface
		r.Route("/inbox", func(r chi.Router) {
			r.Get("/stream", streamHandler.Stream)
			r.Get("/unread", inboxHandler.Unread)
			r.Delete("/session", inboxHandler.ReleaseSession)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
