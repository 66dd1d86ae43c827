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

	"p3am/internal/devbackend"
	"p3am/internal/platform/config"
	"p3am/internal/platform/httpserver"
	"p3am/internal/platform/logger"
)

// main serves the development backend API with the default seeded accounts.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.IsProduction() {
		slog.Error("the development backend must not run with APP_ENV=production")
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	users, err := devbackend.NewUsers(0, devbackend.DefaultSeed...)
	if err != nil {
		log.Error("failed to seed users", "error", err)
		os.Exit(1)
	}
	tokens := devbackend.NewTokens(cfg.DevBackend.JWTSigningKey, cfg.DevBackend.TokenTTL)
	handler := devbackend.NewHandler(users, tokens, cfg.Verification.SigningKey, log)
	srv := httpserver.New(cfg.DevBackend.Addr, devbackend.NewRouter(handler, log))

	go func() {
		log.Info("starting development backend", "addr", cfg.DevBackend.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
