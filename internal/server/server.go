package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"backend-fieldops/internal/auth"
	"backend-fieldops/internal/config"
	"backend-fieldops/internal/db"
	"backend-fieldops/internal/events"
	"backend-fieldops/internal/ingest"
	"backend-fieldops/internal/logging"
	"backend-fieldops/internal/metrics"
	"backend-fieldops/internal/persist"
	"backend-fieldops/internal/rates"
	"backend-fieldops/internal/shared/clock"
	"backend-fieldops/internal/store"
	"backend-fieldops/internal/stream"
	"backend-fieldops/internal/tracking"
	"backend-fieldops/internal/trip"
	"backend-fieldops/internal/visit"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Deps are the external connections handed to the server. Any of them may be
// nil; the engine then runs without that collaborator.
type Deps struct {
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Events  *events.Publisher
	Log     *logging.Logger
	Metrics *metrics.Collector
	Clock   clock.Clock
}

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Log     *logging.Logger
	Metrics *metrics.Collector

	Stream *stream.Hub
	Writer *persist.Writer
	Store  *store.Store
	Rates  *rates.Service
	Trips  *trip.Service
	Visits *visit.Service
	Feeds  *ingest.Manager
}

func NewServer(cfg config.Config, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = logging.New(cfg.LogLevel)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector()
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:     app,
		Cfg:     cfg,
		DB:      deps.DB,
		Redis:   deps.Redis,
		Log:     deps.Log,
		Metrics: deps.Metrics,
		Stream:  stream.NewHub(deps.Redis, deps.Log.WithComponent("stream")),
		Writer: persist.NewWriter(persist.Options{
			QueueSize:   cfg.PersistQueueSize,
			MaxAttempts: cfg.PersistMaxAttempts,
			Log:         deps.Log.WithComponent("persist"),
			Metrics:     deps.Metrics,
		}),
	}

	var q db.Querier
	if deps.DB != nil {
		q = deps.DB
		s.Store = store.New(deps.DB)
	}
	s.Rates = rates.NewService(q, deps.Redis, cfg.RateCacheTTL, deps.Log.WithComponent("rates"))

	tripOpts := trip.Options{
		Thresholds:         cfg.Thresholds(),
		Clock:              deps.Clock,
		Rates:              s.Rates,
		DefaultCostPerMile: cfg.DefaultCostPerMile,
		Jobs:               s.Writer,
		Live:               s.Stream,
		Log:                deps.Log.WithComponent("trip"),
		Metrics:            deps.Metrics,
	}
	visitOpts := visit.Options{
		Clock:   deps.Clock,
		Jobs:    s.Writer,
		Log:     deps.Log.WithComponent("visit"),
		Metrics: deps.Metrics,
	}
	if s.Store != nil {
		tripOpts.Sink = s.Store
		visitOpts.Sink = s.Store
	}
	if deps.Events != nil {
		tripOpts.Events = deps.Events
		visitOpts.Events = deps.Events
	}

	s.Trips = trip.NewService(tripOpts)
	visitOpts.Trips = s.Trips
	s.Visits = visit.NewService(visitOpts)

	s.Feeds = ingest.NewManager(s.Trips, ingest.Options{
		Interval:       cfg.FeedInterval,
		DebounceMeters: cfg.DebounceMeters,
		Log:            deps.Log.WithComponent("ingest"),
	})
	s.Trips.OnEnded(func(t trip.Trip) { s.Feeds.Stop(t.StaffID) })

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(s.Metrics.Handler()))

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	trip.RegisterRoutes(s.App.Group("/trips"), s.Trips, jwtMiddleware)
	visit.RegisterRoutes(s.App.Group("/visits"), s.Visits, jwtMiddleware)
	rates.RegisterRoutes(s.App.Group("/staff"), s.Rates, jwtMiddleware)
	if s.Store != nil {
		store.RegisterRoutes(s.App.Group("/staff"), s.Store, jwtMiddleware)
	}
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, s.liveSnapshot)
}

type liveSnapshot struct {
	TripID  string           `json:"trip_id"`
	Metrics tracking.Metrics `json:"metrics"`
}

func (s *Server) liveSnapshot(tripID string) ([]byte, error) {
	m, err := s.Trips.LiveMetrics(tripID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(liveSnapshot{TripID: tripID, Metrics: m})
}

// Prune forgets trips and visits that finished more than retain ago.
func (s *Server) Prune(now time.Time, retain time.Duration) (int, int) {
	cutoff := now.Add(-retain)
	return s.Trips.Prune(cutoff), s.Visits.Prune(cutoff)
}

// Close stops sample feeds, drains pending writes and stops the live relay.
func (s *Server) Close(ctx context.Context) error {
	s.Feeds.Close()
	err := s.Writer.Close(ctx)
	s.Stream.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
