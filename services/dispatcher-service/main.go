package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"civic-reporting/pkg/config"
	"civic-reporting/pkg/gateway"
	"civic-reporting/pkg/logging"
	"civic-reporting/pkg/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatcher-service: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log, "dispatcher-service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("dispatcher stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	backend, err := gateway.Connect(ctx, cfg.Remote, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer backend.Close()
	if !backend.Enabled() {
		return errors.New("dispatcher needs REMOTE_DATABASE_DSN and REMOTE_BROKER_URL")
	}

	sub, err := queue.Subscribe(backend.Broker, cfg.Remote.Exchange, cfg.Remote.DispatcherQueue)
	if err != nil {
		return err
	}
	defer sub.Close()

	log.Info("waiting for reports", "exchange", cfg.Remote.Exchange, "queue", cfg.Remote.DispatcherQueue)
	d := &dispatcher{assign: backend.Gateway, log: log}
	return d.run(ctx, sub.Deliveries)
}
