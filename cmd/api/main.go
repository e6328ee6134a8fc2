package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-fieldops/internal/config"
	"backend-fieldops/internal/db"
	"backend-fieldops/internal/events"
	"backend-fieldops/internal/logging"
	"backend-fieldops/internal/metrics"
	"backend-fieldops/internal/server"
	"backend-fieldops/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

const pruneEvery = time.Hour

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	connectNATS     func(config.Config, *logging.Logger, *metrics.Collector) (*events.Publisher, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, server.Deps, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		connectNATS:     connectNATS,
		notify:          signal.Notify,
		run:             Run,
	}
}

func connectNATS(cfg config.Config, log *logging.Logger, m *metrics.Collector) (*events.Publisher, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	return events.Connect(cfg.NATSURL, log.WithComponent("events"), m)
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	log := logging.New(cfg.LogLevel)
	mcol := metrics.NewCollector()
	if err := cfg.CheckThresholds(); err != nil {
		log.WithError(err).Warn("using default accuracy thresholds")
	}

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.WithError(err).Warn("postgres connection failed, running without persistence")
		pg = nil
	} else if pg != nil {
		if err := db.EnsureSchema(context.Background(), pg); err != nil {
			log.WithError(err).Error("schema setup failed")
		}
	}

	rdb := deps.connectRedis(cfg)

	pub, err := deps.connectNATS(cfg, log, mcol)
	if err != nil {
		log.WithError(err).Warn("nats connection failed, lifecycle events disabled")
		pub = nil
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	sdeps := server.Deps{DB: pg, Redis: rdb, Events: pub, Log: log, Metrics: mcol}
	if err := deps.run(context.Background(), cfg, sdeps, signals, nil); err != nil {
		log.WithError(err).Error("server exited with error")
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, deps server.Deps, signals <-chan os.Signal, listen ListenFunc) error {
	srv := server.NewServer(cfg, deps)
	log := srv.Log.WithComponent("api")

	if deps.Events != nil {
		sub, err := deps.Events.SubscribeSamples(func(staffID string, s tracking.Sample) {
			srv.Feeds.Dispatch(staffID, s)
		})
		if err != nil {
			log.WithError(err).Warn("sample subscription failed")
		} else {
			defer func() { _ = sub.Unsubscribe() }()
		}
	}

	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go pruneLoop(pruneCtx, srv, cfg.RetainEnded, log)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	if err := srv.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("pending writes dropped at shutdown")
	}
	if deps.Events != nil {
		deps.Events.Close()
	}
	if deps.DB != nil {
		deps.DB.Close()
	}
	if deps.Redis != nil {
		_ = deps.Redis.Close()
	}
	return nil
}

func pruneLoop(ctx context.Context, srv *server.Server, retain time.Duration, log logrus.FieldLogger) {
	if retain <= 0 {
		retain = 24 * time.Hour
	}
	ticker := time.NewTicker(pruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			trips, visits := srv.Prune(now, retain)
			if trips+visits > 0 {
				log.WithFields(logrus.Fields{"trips": trips, "visits": visits}).Info("pruned finished sessions")
			}
		}
	}
}
