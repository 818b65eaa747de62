// File: main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	cfg := loadConfig()
	log := initLogger(cfg.LogLevel, cfg.LogJSON)

	ledger, err := OpenOutcomeStore(cfg.DBPath)
	if err != nil {
		log.Error("open outcome store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	loader := NewHTTPLoader(cfg.ImageTimeout)
	sessions := NewSessionStore(
		Config{Image: cfg.Image, FailTimeout: cfg.FailTimeout},
		cfg.SessionTTL, ledger, log,
		func() []Option { return []Option{WithLoader(loader)} },
	)
	sessions.AllowImageHosts(cfg.ImageHosts...)
	defer sessions.CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go sessions.RunSweeper(ctx, time.Minute)

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: newServer(sessions, ledger, cfg.AllowedOrigin, log).routes(cfg.StaticDir),
	}
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
}
