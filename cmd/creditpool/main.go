package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credit_pool/internal/app"
	"credit_pool/internal/config"
	"credit_pool/internal/utils"
)

const sweepInterval = time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		utils.NewLogger("main", utils.Error).Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	utils.ConfigureLogging(cfg.Log.Level, cfg.Log.Pretty)
	logger := utils.NewLogger("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build store, ledger, pool, router and workers
	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to start credit pool", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	a.Start(ctx, sweepInterval)

	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:         addr,
		Handler:      app.Handler(a),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Credit pool listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Stop background work, then flush the usage archive
	cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown incomplete", "error", err)
	}

	logger.Info("Server exited")
}
