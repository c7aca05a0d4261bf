package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/config"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/httpx"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/logger"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/manualrate"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/pricing"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Server.LogLevel, cfg.Server.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
	svc := pricing.FromConfig(cfg, httpx.New(timeout), log)

	var store manualrate.Store = manualrate.NewMemory()
	if cfg.Redis.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := manualrate.Dial(ctx, cfg.Redis.URL)
		cancel()
		if err != nil {
			log.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		store = manualrate.NewRedis(rdb, manualrate.WithLogger(log.Named("manualrate")))
		log.Info("manual rates stored in redis")
	}

	// WriteTimeout must outlast the per-request upstream timeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           NewServer(svc, store, cfg.Server.DefaultBase, timeout, log).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      timeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("default_base", cfg.Server.DefaultBase))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
}
