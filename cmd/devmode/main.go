package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kriptik-ai/devmode/internal/adapter/gateway"
	"github.com/kriptik-ai/devmode/internal/adapter/git"
	dmhttp "github.com/kriptik-ai/devmode/internal/adapter/http"
	"github.com/kriptik-ai/devmode/internal/adapter/membus"
	dmnats "github.com/kriptik-ai/devmode/internal/adapter/nats"
	"github.com/kriptik-ai/devmode/internal/adapter/otel"
	"github.com/kriptik-ai/devmode/internal/adapter/postgres"
	"github.com/kriptik-ai/devmode/internal/adapter/ristretto"
	"github.com/kriptik-ai/devmode/internal/adapter/ws"
	"github.com/kriptik-ai/devmode/internal/config"
	"github.com/kriptik-ai/devmode/internal/lockstore"
	"github.com/kriptik-ai/devmode/internal/logger"
	"github.com/kriptik-ai/devmode/internal/resilience"
	"github.com/kriptik-ai/devmode/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"default_model", cfg.Orchestrator.DefaultModel,
		"default_verification_mode", cfg.Orchestrator.DefaultVerificationMode,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownTelemetry, err := otel.Init(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	bus := membus.New()
	defer bus.Close()

	if cfg.NATS.URL != "" {
		bridge, err := dmnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = bridge.Close() }()
		detach := bridge.Attach(bus)
		defer detach()
	}

	hub := ws.NewHub()
	detachHub := hub.Bridge(bus)
	defer detachHub()

	cache, err := ristretto.New(cfg.Cache.MaxBytes)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	// --- Collaborators ---
	gw := gateway.NewClient(cfg.Gateway)
	merger := git.NewMerger(".", cfg.Orchestrator.MaxConcurrentMerges)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	// --- Services ---
	store := postgres.NewStore(pool)
	locks := lockstore.New(lockstore.WithTTL(cfg.Locks.TTL))
	verify := service.NewVerification(gateway.NewRegistry(gw), bus, cache, metrics, cfg.Orchestrator.VerifyAgentTimeout)
	queue := service.NewMergeQueue(store, bus, merger, metrics, int64(cfg.Orchestrator.MaxConcurrentMerges))
	orch := service.NewOrchestrator(cfg.Orchestrator, service.OrchestratorDeps{
		Store:   store,
		Bus:     bus,
		Locks:   locks,
		Cache:   cache,
		Gen:     gw,
		Breaker: breaker,
		Verify:  verify,
		Queue:   queue,
		Metrics: metrics,
	})

	// --- HTTP ---
	handlers := &dmhttp.Handlers{
		Orchestrator: orch,
		Verify:       verify,
		Hub:          hub,
	}

	r := chi.NewRouter()
	r.Use(dmhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(dmhttp.RequestID)
	r.Use(dmhttp.Logger)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(dmhttp.NewRateLimiter(50, 100).Handler)

	dmhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
