package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpAdapter "github.com/code-craka/visa-manager-app-sub001/internal/adapters/primary/http"
	mw "github.com/code-craka/visa-manager-app-sub001/internal/adapters/primary/http/middleware"
	"github.com/code-craka/visa-manager-app-sub001/internal/adapters/primary/websocket"
	"github.com/code-craka/visa-manager-app-sub001/internal/auth"
	"github.com/code-craka/visa-manager-app-sub001/internal/config"
	"github.com/code-craka/visa-manager-app-sub001/internal/infrastructure/logging"
	"github.com/code-craka/visa-manager-app-sub001/internal/infrastructure/metrics"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Structured Logger
	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})

	logger.Info("starting service",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	// 3. Initialize Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	// 4. Initialize Security & Real-time Components
	keyResolver := auth.NewKeyResolver(auth.KeyResolverConfig{
		Endpoint:     cfg.Auth.KeyEndpoint,
		FetchTimeout: cfg.Auth.KeyFetchTimeout,
		CacheTTL:     cfg.Auth.KeyCacheTTL,
		CacheSize:    cfg.Auth.KeyCacheSize,
	}, logger)
	verifier := auth.NewVerifier(keyResolver, cfg.Auth.Algorithm, logger)

	registry := websocket.NewRegistry(websocket.RegistryConfig{
		MaxConnections: cfg.WebSocket.MaxConnections,
		SendBufferSize: cfg.WebSocket.SendBufferSize,
	}, logger, m)

	// notifier is the publish API handed to the CRUD services; they call it
	// synchronously after every committed write.
	notifier := websocket.NewRouter(registry, logger, m)

	supervisor := websocket.NewSupervisor(registry, websocket.SupervisorConfig{
		PingInterval:    cfg.WebSocket.PingInterval,
		LivenessTimeout: cfg.WebSocket.LivenessTimeout,
	}, logger, m)

	supervisorCtx, stopSupervisor := context.WithCancel(context.Background())
	defer stopSupervisor()
	go supervisor.Run(supervisorCtx)

	// 5. Initialize Rate Limiter
	var rateLimiter *mw.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = mw.NewRateLimiter(mw.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
			CleanupInterval:   time.Minute,
			TTL:               3 * time.Minute,
		})
	}

	// 6. Handlers (Primary Adapters)
	wsHandler := httpAdapter.NewWebSocketHandler(registry, verifier, cfg, logger, m)
	statsHandler := httpAdapter.NewStatsHandler(notifier, logger)
	healthHandler := httpAdapter.NewHealthHandler(registry, cfg.App.Version)

	// 7. Setup Router
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.WebSocket.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if rateLimiter != nil {
		r.Use(rateLimiter.Middleware)
	}

	// Health check endpoints (outside /api/v1 for standard probe paths)
	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/health/live", healthHandler.HandleLiveness)
	r.Get("/health/ready", healthHandler.HandleReadiness)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket route (authentication is handled inside the handler)
		r.Get("/ws", wsHandler.ServeHTTP)

		// Observability routes behind bearer auth
		r.Group(func(r chi.Router) {
			r.Use(mw.BearerAuth(verifier))
			r.Get("/ws/stats", statsHandler.HandleStats)
		})
	})

	// 8. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutdown signal received", "signal", sig.String())

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop the liveness supervisor, drain every registered connection, then
	// release the listening transport.
	stopSupervisor()
	registry.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}
