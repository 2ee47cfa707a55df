package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lexio/internal/app"
	"lexio/internal/config"
	"lexio/internal/logger"
)

func main() {
	handler := logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))
	log := slog.New(handler)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.DB.Close()
	defer func() {
		if err := deps.Mongo.Disconnect(context.Background()); err != nil {
			slog.Warn("mongo disconnect failed", "error", err)
		}
	}()
	defer deps.NSQProducer.Stop()

	a, err := app.New(ctx, cfg, deps, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Embedder.Close(); err != nil {
			slog.Warn("embedder close failed", "error", err)
		}
	}()

	return a.Run(ctx)
}
