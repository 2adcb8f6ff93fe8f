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

	"github.com/sajanshree/order-api/internal/api"
	"github.com/sajanshree/order-api/internal/config"
	"github.com/sajanshree/order-api/pkg/logger"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()

	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Amounts go over the wire as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	l := logger.NewLogger(cfg.LogLevel)
	defer func() { _ = l.Sync() }()

	l.Info("Starting API server...", "env", cfg.Env, "store", cfg.StoreDriver)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	server, err := api.NewServer(startCtx, cfg, l)
	cancelStart()

	if err != nil {
		l.Error("Failed to initialize server", "error", err)
		_ = l.Sync()
		os.Exit(1)
	}

	errCh := make(chan error, 1)

	// Start the server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown via interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		l.Info("Shutting down server...", "signal", sig.String())
	case err := <-errCh:
		l.Error("Server stopped unexpectedly", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		l.Error("Server forced to shutdown", "error", err)
	} else {
		l.Info("Server exiting")
	}
}
