package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"waas-dispatch-service/internal/adapters/lock"
	"waas-dispatch-service/internal/adapters/notify"
	"waas-dispatch-service/internal/adapters/realtime"
	"waas-dispatch-service/internal/adapters/repositories"
	"waas-dispatch-service/internal/adapters/routing"
	"waas-dispatch-service/internal/api"
	"waas-dispatch-service/internal/config"
	"waas-dispatch-service/internal/platform/db"
	"waas-dispatch-service/internal/platform/logger"
	"waas-dispatch-service/internal/ports"
	"waas-dispatch-service/internal/services"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 15 * time.Second

// main is the application composition root.
// It wires concrete adapters (Postgres or memory, ORS, AMQP, Redis) behind
// ports and starts the HTTP server and the maturity sweep.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer closeStore()

	optimizer, err := newOptimizer(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("route optimizer")
	}

	sender, closeSender, err := newNotifier(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("notifier")
	}
	defer closeSender()
	notifier := notify.NewAsync(sender, cfg.Notify.Timeout, log)

	sweepLock, closeLock, err := newSweepLock(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("sweep lock")
	}
	defer closeLock()

	hub := realtime.NewHub(log)

	grouping := services.NewGroupingEngine(store, services.GroupingConfig{
		RadiusKm:  cfg.Grouping.RadiusKm,
		Threshold: cfg.Grouping.Threshold,
		TimeLimit: cfg.Grouping.TimeLimit,
	}, log)
	dispatcher := services.NewDispatchCoordinator(store, optimizer, notifier, services.DispatchConfig{
		OptimizerTimeout: cfg.Optimizer.Timeout,
	}, log)
	tracking := services.NewTrackingService(store, services.NewProgressTracker(cfg.AssumedSpeedKmh), hub, log)
	scheduler := services.NewSweepScheduler(grouping, dispatcher, sweepLock, cfg.Sweep.Interval, cfg.Sweep.Concurrency, log)

	router := api.NewRouter(api.Deps{
		Store:      store,
		Grouping:   grouping,
		Dispatcher: dispatcher,
		Tracking:   tracking,
		Scheduler:  scheduler,
		Hub:        hub,
	}, cfg.Environment, log)

	// Request contexts outlive the signal so in-flight calls can finish;
	// progress streams end when streamCtx is cancelled after Shutdown.
	streamCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	// Read and write timeouts stay unset: they would also cut hijacked
	// websocket connections.
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
	}

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		scheduler.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.Store.Driver).Msg("server listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	cancelStreams()

	// The server may have failed on its own; the sweep still has to stop.
	stop()
	drain(shutdownCtx, sweepDone, notifier, log)
}

type drainer interface {
	Close(ctx context.Context) error
}

// drain waits for the sweep loop to finish its current run, then for pending
// notifications, all within ctx. The store closes only after this returns.
func drain(ctx context.Context, sweepDone <-chan struct{}, notifier drainer, log zerolog.Logger) {
	select {
	case <-sweepDone:
	case <-ctx.Done():
		log.Warn().Msg("sweep still running at shutdown deadline")
	}

	if err := notifier.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("pending notifications dropped")
	}
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ports.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		conn, err := db.Open(ctx, cfg.Store.DatabaseURL, db.Options{MaxOpenConns: cfg.Store.MaxOpenConns})
		if err != nil {
			return nil, nil, err
		}
		if err := repositories.InitSchema(ctx, conn); err != nil {
			conn.Close()
			return nil, nil, err
		}
		return repositories.NewPostgresStore(conn), func() { conn.Close() }, nil

	default:
		store := repositories.NewMemoryStore()
		if cfg.Store.SeedPath != "" {
			n, err := repositories.SeedWorkersFromJSON(ctx, store, cfg.Store.SeedPath)
			switch {
			case errors.Is(err, os.ErrNotExist):
				log.Warn().Str("path", cfg.Store.SeedPath).Msg("worker seed file not found, starting empty")
			case err != nil:
				return nil, nil, err
			default:
				log.Info().Int("workers", n).Msg("workers seeded")
			}
		}
		return store, func() {}, nil
	}
}

// newOptimizer returns nil when no ORS key is configured; dispatch then
// always uses the nearest-neighbor route.
func newOptimizer(cfg *config.Config, log zerolog.Logger) (ports.RouteOptimizer, error) {
	if cfg.Optimizer.APIKey == "" {
		log.Info().Msg("ORS_API_KEY not set, external route optimizer disabled")
		return nil, nil
	}
	o, err := routing.NewORSOptimizer(cfg.Optimizer.APIKey, log, routing.WithBaseURL(cfg.Optimizer.BaseURL))
	if err != nil {
		return nil, err
	}
	return o, nil
}

func newNotifier(cfg *config.Config, log zerolog.Logger) (ports.Notifier, func(), error) {
	if cfg.Notify.AMQPURL == "" {
		log.Info().Msg("AMQP_URL not set, notifications go to the log")
		return notify.NewLogNotifier(log), func() {}, nil
	}

	n, err := notify.NewAMQPNotifier(cfg.Notify.AMQPURL, cfg.Notify.Exchange, cfg.Notify.RoutingKey)
	if err != nil {
		return nil, nil, err
	}
	return n, func() {
		if err := n.Close(); err != nil {
			log.Warn().Err(err).Msg("close amqp notifier")
		}
	}, nil
}

func newSweepLock(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ports.SweepLock, func(), error) {
	if cfg.Sweep.RedisAddr == "" {
		return lock.NewLocalLock(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Sweep.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Sweep.RedisAddr, err)
	}
	return lock.NewRedisLock(client, lock.DefaultKey, cfg.Sweep.LockTTL, log), closer(client, log), nil
}

func closer(c io.Closer, log zerolog.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("close")
		}
	}
}
