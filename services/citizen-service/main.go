package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"civic-reporting/pkg/caption"
	"civic-reporting/pkg/config"
	"civic-reporting/pkg/gateway"
	"civic-reporting/pkg/geo"
	"civic-reporting/pkg/kvstore"
	"civic-reporting/pkg/localstore"
	"civic-reporting/pkg/logging"
	"civic-reporting/pkg/middleware"
	"civic-reporting/pkg/reportsync"
	"civic-reporting/pkg/session"
	"civic-reporting/pkg/submission"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "citizen-service: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log, "citizen-service")
	if cfg.Auth.UsesDevSecret() {
		log.Warn("AUTH_JWT_SECRET is not set, signing sessions with the built-in development key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("citizen service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	kv, err := kvstore.Open(ctx, cfg.Local)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer kv.Close()

	backend, err := gateway.Connect(ctx, cfg.Remote, cfg.Storage, log, gateway.WithRetention(cfg.Sync.Retention()))
	if err != nil {
		log.Error("remote backend unreachable, running local-only", "error", err)
		backend = &gateway.Backend{Gateway: gateway.Disabled()}
	}
	defer backend.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := newServer(cfg, log, kv, backend.Gateway, reg)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	srv.RegisterOnShutdown(s.closeSockets)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("citizen service listening", "addr", srv.Addr, "remote", backend.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newServer(cfg *config.Config, log *slog.Logger, kv kvstore.Store, remote *gateway.Gateway, reg *prometheus.Registry) *server {
	local := localstore.New(kv, log, localstore.WithRetention(cfg.Sync.Retention()))
	places := geo.NewNominatim(cfg.Geo.BaseURL, cfg.Geo.UserAgent, log)
	images := caption.NewChecker(cfg.Caption.Endpoint, cfg.Caption.APIKey, cfg.Caption.Timeout, log)

	syncer := reportsync.New(local, remote,
		reportsync.WithLogger(log),
		reportsync.WithMetrics(reportsync.NewMetrics(reg)),
		reportsync.WithPollInterval(cfg.Sync.DetailPollInterval),
		reportsync.WithRetention(cfg.Sync.Retention()),
	)

	return &server{
		log:         log,
		syncer:      syncer,
		submit:      submission.NewService(local, remote, places, images, log),
		votes:       local,
		accounts:    session.NewRegistry(kv),
		tokens:      session.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		places:      places,
		httpMetrics: middleware.NewHTTPMetrics(reg),
		gatherer:    reg,
		pageSize:    cfg.Sync.FeedPageSize,
		maxUpload:   cfg.Server.MaxUploadBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}
