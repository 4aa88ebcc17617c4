package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Prrash278/tuma/internal/config"
	"github.com/Prrash278/tuma/internal/httpapi"
	"github.com/Prrash278/tuma/internal/logging"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}

	logger := logging.Setup(logging.Options{Level: cfg.LogLevel, Local: cfg.Local})

	// Create router with all dependencies
	handler, deps, err := httpapi.NewRouter(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build router")
	}

	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.WithField("addr", addr).Info("Ledger service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server error")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Server forced to shutdown")
	}

	// Stops the ingest worker after it drains, then releases the queue, Redis and the store
	if err := deps.Close(); err != nil {
		logger.WithError(err).Warn("Failed to release dependencies")
	}

	logger.Info("Server exited")
}
