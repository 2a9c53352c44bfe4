package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/web3-frozen/agent-signal/internal/config"
	"github.com/web3-frozen/agent-signal/internal/handler"
	"github.com/web3-frozen/agent-signal/internal/lease"
	"github.com/web3-frozen/agent-signal/internal/market"
	"github.com/web3-frozen/agent-signal/internal/market/sources"
	"github.com/web3-frozen/agent-signal/internal/scheduler"
	"github.com/web3-frozen/agent-signal/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected and migrated")

	// Market data adapters, in priority order
	srcs, closeRPC, err := sources.Default(ctx, sources.OptionsFrom(cfg), logger)
	if err != nil {
		logger.Error("failed to set up market data sources", "error", err)
		os.Exit(1)
	}
	defer closeRPC()
	collector := market.NewCollector(db, logger, cfg.AdapterTimeout, srcs...)
	logger.Info("market data sources registered", "sources", collector.SourceNames())

	// Redis job lease (optional; without it every replica runs every job)
	var locker scheduler.Locker
	if cfg.RedisURL != "" {
		var l *lease.Leaser
		for i := 0; i < 6; i++ {
			l, err = lease.New(cfg.RedisURL, cfg.RedisPassword, "")
			if err == nil {
				break
			}
			logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
			time.Sleep(5 * time.Second)
		}
		if err != nil {
			logger.Warn("redis unavailable, running jobs without lease", "error", err)
		} else {
			defer l.Close()
			locker = l
			logger.Info("redis connected for job leases")
		}
	}

	engine := scheduler.NewEngine(db, collector, locker, logger, scheduler.ConfigFrom(cfg))
	go engine.Run(ctx)

	r := handler.NewRouter(db, engine, logger, handler.RouterConfig{
		FrontendOrigin: cfg.FrontendOrigin,
		AdminToken:     cfg.AdminToken,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
