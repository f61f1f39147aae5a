package server

import (
	"context"
	"fmt"
	"time"

	"github.com/lexzee/corpersafe/internal/alert"
	"github.com/lexzee/corpersafe/internal/auth"
	"github.com/lexzee/corpersafe/internal/config"
	"github.com/lexzee/corpersafe/internal/mq"
	"github.com/lexzee/corpersafe/internal/shared/apperrors"
	"github.com/lexzee/corpersafe/internal/stream"
	"github.com/lexzee/corpersafe/internal/tracking"
	"github.com/lexzee/corpersafe/internal/trip"
	"github.com/lexzee/corpersafe/internal/triplog"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Stream   *stream.Hub
	Tracking *tracking.Manager
	Log      *logrus.Logger

	closers []func() error
}

// providerFn picks the alert provider; swapped in tests.
var providerFn = newProvider

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client, log *logrus.Logger) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient, log.WithField("component", "stream")),
		Log:    log,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "sessions": s.Tracking.Active()})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	trips := trip.NewService(s.DB, s.Cfg.StaleAfter)
	logs := triplog.NewService(s.DB)

	provider, closeProvider, err := providerFn(context.Background(), s.Cfg, s.Log)
	if err != nil {
		s.Log.WithError(err).WithField("provider", s.Cfg.AlertProvider).Warn("alert provider unavailable, logging alerts instead")
		provider = alert.NewLogProvider(s.Log.WithField("component", "alert"))
	}
	if closeProvider != nil {
		s.closers = append(s.closers, closeProvider)
	}
	alerts := alert.NewService(s.DB, provider, s.Cfg.PublicBaseURL, s.Log.WithField("component", "alert"))

	source := tracking.NewPushSource(s.Cfg.MaxSampleAge)
	s.Tracking = tracking.NewManager(trackingConfig(s.Cfg), tracking.Deps{
		Trips:  trips,
		Logs:   logs,
		Alerts: alerts,
		Feed:   s.Stream,
		Source: source,
		Log:    s.Log.WithField("component", "tracking"),
	})

	owner := func(c *fiber.Ctx, tripID string) (string, error) {
		t, err := trips.GetTrip(c.Context(), tripID)
		if err != nil {
			return "", err
		}
		return t.PCMID, nil
	}

	watch := func(c *fiber.Ctx, tripID string) error {
		t, err := trips.GetTrip(c.Context(), tripID)
		if err != nil {
			return err
		}
		if t.PCMID != auth.UserID(c) && !auth.IsAdmin(auth.Role(c)) {
			return fmt.Errorf("trip %s: %w", tripID, apperrors.ErrForbidden)
		}
		return nil
	}

	users := auth.NewService(s.Cfg.JWTSecret, s.DB)
	scope := func(c *fiber.Ctx) (trip.Scope, error) {
		u, err := users.Profile(c.Context(), auth.UserID(c))
		if err != nil {
			return trip.Scope{}, err
		}
		return trip.Scope{Role: u.Role, Jurisdiction: u.Jurisdiction}, nil
	}

	auth.RegisterRoutes(s.App.Group("/auth"), users, jwtMiddleware)
	tripRoutes := s.App.Group("/trips")
	trip.RegisterRoutes(tripRoutes, trips, scope, jwtMiddleware)
	triplog.RegisterRoutes(tripRoutes, logs, owner, jwtMiddleware)
	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracking, source, jwtMiddleware)
	alert.RegisterRoutes(s.App.Group("/alerts"), alerts, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, watch, jwtMiddleware)
}

// Close stops every tracking session and releases the change feed and the
// alert transport.
func (s *Server) Close() error {
	s.Tracking.Shutdown()
	var firstErr error
	if err := s.Stream.Close(); err != nil {
		firstErr = err
	}
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func trackingConfig(cfg config.Config) tracking.Config {
	tc := tracking.DefaultConfig()
	if cfg.AutoPauseBelowKmh > 0 {
		tc.Thresholds.PauseBelowKmh = cfg.AutoPauseBelowKmh
	}
	if cfg.AutoResumeAboveKmh > 0 {
		tc.Thresholds.ResumeAboveKmh = cfg.AutoResumeAboveKmh
	}
	if cfg.AutoPauseAfter > 0 {
		tc.Thresholds.StopWindow = cfg.AutoPauseAfter
	}
	if cfg.TripLogInterval > 0 {
		tc.LogInterval = cfg.TripLogInterval
	}
	if cfg.WatchdogInterval > 0 {
		tc.WatchdogInterval = cfg.WatchdogInterval
	}
	if cfg.StaleAfter > 0 {
		tc.StaleAfter = cfg.StaleAfter
	}
	if cfg.LocateTimeout > 0 {
		tc.LocateTimeout = cfg.LocateTimeout
		tc.Watch.TimeoutMs = cfg.LocateTimeout.Milliseconds()
	}
	if cfg.MaxSampleAge > 0 {
		tc.Watch.MaxSampleAgeMs = cfg.MaxSampleAge.Milliseconds()
	}
	return tc
}

func newProvider(ctx context.Context, cfg config.Config, log *logrus.Logger) (alert.Provider, func() error, error) {
	switch cfg.AlertProvider {
	case "twilio":
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
			return nil, nil, fmt.Errorf("twilio credentials not configured")
		}
		return alert.NewTwilioProvider(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber), nil, nil
	case "sns":
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		p, err := alert.NewSNSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	case "amqp":
		conn, pub, err := mq.Connect(cfg.AMQPURL, cfg.AlertExchange, log.WithField("component", "mq"))
		if err != nil {
			return nil, nil, err
		}
		return alert.NewQueueProvider(pub, cfg.AlertExchange), conn.Close, nil
	case "", "log":
		return alert.NewLogProvider(log.WithField("component", "alert")), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown alert provider %q", cfg.AlertProvider)
}
