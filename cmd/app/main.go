package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"optionclear/internal/api"
	"optionclear/internal/app"
	"optionclear/internal/engine"
	"optionclear/internal/infra/feed"

	"github.com/shopspring/decimal"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize("configs/config.yaml"); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := bootstrap.Config
	house := bootstrap.House

	// 4. Expiry crank
	crank := engine.NewExpiryCrank(house, time.Duration(cfg.Clearing.CrankPollIntervalSec)*time.Second)
	crank.Start(ctx)
	defer crank.Stop()
	slog.InfoContext(ctx, "Expiry crank started")

	// 5. Price feed worker (optional)
	if cfg.Feed.WSURL != "" {
		publisher := cfg.Feed.Publisher
		worker := feed.NewWorker(cfg.Feed.WSURL, cfg.Feed.Symbols, func(asset string, price decimal.Decimal) error {
			return house.PublishPrice(publisher, asset, price)
		})
		if err := worker.Connect(ctx); err != nil {
			slog.Error("Failed to connect price feed", slog.Any("error", err))
		}
		defer worker.Disconnect()
		slog.InfoContext(ctx, "Price feed started", slog.Int("symbols", len(cfg.Feed.Symbols)))
	}

	// 6. API server (blocks until shutdown)
	server := api.NewServer(cfg.API.ListenAddr, house, bootstrap.Bus, bootstrap.Metrics)
	slog.InfoContext(ctx, "Clearinghouse fully operational. Press Ctrl+C to exit.")
	if err := server.Start(ctx); err != nil {
		slog.Error("API server failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("Shutting down gracefully...")
}
