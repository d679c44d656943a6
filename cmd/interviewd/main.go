package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fortitwin/interviewd/internal/auth"
	"github.com/fortitwin/interviewd/internal/config"
	"github.com/fortitwin/interviewd/internal/httpapi"
	"github.com/fortitwin/interviewd/internal/inference"
	"github.com/fortitwin/interviewd/internal/interview"
	"github.com/fortitwin/interviewd/internal/observability"
	"github.com/fortitwin/interviewd/internal/report"
	"github.com/fortitwin/interviewd/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("auth init failed: %v", err)
	}

	ctx := context.Background()
	reportStore, err := report.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("report store init failed: %v", err)
	}
	defer reportStore.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("report store: in-memory (set DATABASE_URL for durable reports)")
	} else {
		log.Printf("report store: postgres")
	}

	gateway, err := inference.NewClient(inference.Config{
		Mode:    cfg.InferenceMode,
		HTTPURL: cfg.InferenceHTTPURL,
		Timeout: cfg.InferenceTimeout,
	})
	if err != nil {
		log.Fatalf("inference client init failed: %v", err)
	}

	sessions := session.NewStore(cfg.SessionIdleTimeout)
	sessions.SetEvictHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	finalizer := report.NewFinalizer(reportStore)
	coordinator := interview.New(sessions, gateway, finalizer, metrics, cfg.Greeting)

	api := httpapi.New(cfg, coordinator, verifier, finalizer, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 30*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
