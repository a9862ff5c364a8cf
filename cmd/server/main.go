package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/xtrntr/auctionhouse/internal/api"
	"github.com/xtrntr/auctionhouse/internal/auction"
	"github.com/xtrntr/auctionhouse/internal/auth"
	"github.com/xtrntr/auctionhouse/internal/config"
	"github.com/xtrntr/auctionhouse/internal/db"
	"github.com/xtrntr/auctionhouse/internal/memstore"
	"github.com/xtrntr/auctionhouse/internal/notify"
	"github.com/xtrntr/auctionhouse/internal/ws"
)

// store is satisfied by both the Postgres and the in-memory backends
type store interface {
	auction.ListingStore
	auction.BidLedger
	auth.UserStore
}

// Main entry point: sets up storage, the auction engine, the sweeper and the HTTP server
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.GeneratedSecret {
		logger.Warn("JWT secret auto-generated (tokens will be invalidated on restart)")
	}

	// Storage: Postgres when configured, process memory otherwise
	var backend store
	if cfg.DatabaseURL != "" {
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			return err
		}
		backend = database
		logger.Info("using postgres store")
	} else {
		backend = memstore.New()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	// Notification fan-out
	hub := ws.NewHub(logger)
	defer hub.Close()
	deliveries := notify.Multi{notify.LogDelivery{Logger: logger}, hub}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("auctionhouse"))
		if err != nil {
			return err
		}
		defer nc.Drain()
		deliveries = append(deliveries, notify.NewNATSDelivery(nc))
		logger.Info("publishing notifications to NATS", "url", cfg.NATSURL)
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		deliveries = append(deliveries, notify.NewRedisDelivery(rdb))
		logger.Info("publishing notifications to Redis", "addr", cfg.RedisAddr)
	}

	dispatcher := notify.NewDispatcher(deliveries, backend, logger)
	engine := auction.NewEngine(backend, backend, dispatcher,
		auction.WithAuctionDuration(cfg.AuctionDuration),
		auction.WithLogger(logger),
	)
	authService := auth.NewAuthService(backend, cfg.JWTSecret)

	// Close expired auctions in the background
	sweeper := auction.NewSweeper(engine, cfg.SweepInterval, logger)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	handler := api.NewHandler(engine, authService, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewRouter(handler, hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		<-sweepDone
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	<-sweepDone
	return nil
}
