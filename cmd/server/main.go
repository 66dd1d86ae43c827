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

	"github.com/prometheus/client_golang/prometheus"

	"p3am/internal/backend"
	"p3am/internal/platform/config"
	"p3am/internal/platform/httpserver"
	"p3am/internal/platform/logger"
	"p3am/internal/platform/metrics"
	httptransport "p3am/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

// main wires the session gateway: storage, the backend client, the phone
// verification provider and audit sinks behind the session HTTP surface.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("session gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Server, log *slog.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	storage, err := buildStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer storage.close()

	auditSink, err := buildAudit(cfg, log)
	if err != nil {
		return err
	}
	defer auditSink.close()

	client := backend.NewClient(cfg.ServiceAPIURL,
		backend.WithTimeout(cfg.BackendTimeout),
		backend.WithMetrics(m),
	)

	registry := httptransport.NewRegistry(
		managerFactory(cfg, client, storage.store, auditSink.publisher, m, log),
		log, m,
		httptransport.WithCapacity(cfg.SessionCacheSize),
		httptransport.WithIdleTTL(cfg.SessionIdleTTL),
	)
	cookies := httptransport.NewCookieStore(httptransport.CookieConfig{
		HashKey:  []byte(cfg.CookieHashKey),
		BlockKey: []byte(cfg.CookieBlockKey),
		Secure:   cfg.CookieSecure,
	})

	checks := map[string]httptransport.HealthCheck{}
	if storage.health != nil {
		checks["store"] = storage.health
	}
	if auditSink.health != nil {
		checks["audit"] = auditSink.health
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Handler:  httptransport.NewHandler(registry, cookies, log),
		Logger:   log,
		Metrics:  m,
		Gatherer: prometheus.DefaultGatherer,
		Checks:   checks,
	})
	srv := httpserver.New(cfg.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting session gateway",
			"addr", cfg.Addr,
			"backend", cfg.ServiceAPIURL,
			"store", cfg.SessionStore,
			"verification_provider", cfg.Verification.Provider,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down session gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
