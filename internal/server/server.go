// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fetch/internal/cache"
	"fetch/internal/config"
	"fetch/internal/database"
	"fetch/internal/delivery"
	"fetch/internal/featureflags"
	"fetch/internal/middleware"
	"fetch/internal/models"
	"fetch/internal/notifications"
	"fetch/internal/observability"
	"fetch/internal/repository"
	"fetch/internal/scheduler"
	"fetch/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	hub          *notifications.Hub
	publisher    *notifications.Publisher
	push         delivery.Handoff
	featureFlags *featureflags.Manager
	scheduler    *scheduler.Scheduler

	accounts      *service.AccountService
	ledger        *service.LedgerService
	friends       *service.FriendService
	notifications *service.NotificationService
	ranking       *service.RankingService
}

// NewServer connects to the database, Redis and the push broker, then wires
// the server. Redis and the broker are optional: without them events stay
// in-process and push handoff is skipped.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	rdb := cache.Connect(cfg.RedisURL)

	push, err := delivery.New(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		observability.Logger.Warn("push broker unreachable, continuing without push handoff",
			slog.String("error", err.Error()))
		push = delivery.Noop{}
	}

	return NewServerWithDeps(cfg, db, rdb, push)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// rdb may be nil and push may be nil.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, rdb *redis.Client, push delivery.Handoff) (*Server, error) {
	if push == nil {
		push = delivery.Noop{}
	}

	accountRepo := repository.NewAccountRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	friendRepo := repository.NewFriendRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	runner := repository.NewTxRunner(db, cfg.StoreRetryBudget())

	hub := notifications.NewHub(notifications.DefaultSubscriberBuffer)
	publisher := notifications.NewPublisher(rdb, hub)
	store := cache.NewStore(rdb)

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          rdb,
		promMiddleware: middleware.InitMetrics("fetch-api"),
		hub:            hub,
		publisher:      publisher,
		push:           push,
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
	}

	s.notifications = service.NewNotificationService(notificationRepo, publisher, push)
	s.accounts = service.NewAccountService(runner, accountRepo, ledgerRepo, activityRepo, hub, publisher, cfg.StartingBalance)
	s.ledger = service.NewLedgerService(runner, accountRepo, ledgerRepo, activityRepo, s.notifications, publisher, store)
	s.friends = service.NewFriendService(friendRepo, accountRepo, s.notifications, publisher)
	s.ranking = service.NewRankingService(accountRepo, store, cfg.LeaderboardCacheTTL(), s.notifications)
	s.scheduler = scheduler.New(scheduler.Config{
		RankRefresh:       cfg.RankRefreshSchedule,
		WeeklyReport:      cfg.WeeklyReportSchedule,
		PointsExpiring:    cfg.PointsExpiringSchedule,
		WeeklyBonus:       cfg.WeeklyBonusSchedule,
		WeeklyBonusAmount: cfg.WeeklyBonusAmount,
	}, s.featureFlags, s.ranking, s.ledger, accountRepo, s.notifications).WithLock(rdb)

	return s, nil
}

// App builds the fiber application with middleware and routes.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "Fetch API",
		BodyLimit: 64 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, err)
			}
			observability.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}
	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		MaxAge:       86400,
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")

	// The change stream authenticates from the query string, so it sits
	// outside the bearer-only group.
	api.Get("/ws", middleware.WebSocketAuthRequired(s.config.JWTSecret), s.WebSocketHandler())

	protected := api.Group("", middleware.AuthRequired(s.config.JWTSecret))

	accounts := protected.Group("/accounts")
	accounts.Post("/", s.CreateAccount)
	accounts.Get("/me", s.GetMyAccount)
	accounts.Get("/search", s.SearchAccounts)
	accounts.Get("/username-available", s.UsernameAvailable)
	accounts.Get("/:id", s.GetAccount)

	protected.Post("/gifts",
		middleware.RateLimit(s.redis, "gifts", s.config.GiftRateLimitPerMinute, time.Minute, middleware.FailOpen),
		s.SendGift)

	ledger := protected.Group("/ledger")
	ledger.Get("/history", s.GetHistory)
	ledger.Get("/entries/:id", s.GetEntry)
	protected.Get("/feed", s.GetFeed)

	// Specific /requests routes before the generic /:userId routes.
	friends := protected.Group("/friends")
	friends.Get("/", s.ListFriends)
	friends.Get("/requests/incoming", s.ListIncomingRequests)
	friends.Get("/requests/outgoing", s.ListOutgoingRequests)
	friends.Post("/requests/:edgeId/accept", s.AcceptFriendRequest)
	friends.Post("/requests/:userId", s.SendFriendRequest)
	friends.Get("/status/:userId", s.GetFriendshipStatus)
	friends.Post("/:userId/block", s.BlockUser)
	friends.Delete("/:userId", s.RemoveFriend)

	notes := protected.Group("/notifications")
	notes.Get("/", s.ListNotifications)
	notes.Get("/unread-count", s.UnreadCount)
	notes.Post("/read-all", s.MarkAllNotificationsRead)
	notes.Post("/:id/read", s.MarkNotificationRead)

	leaderboard := protected.Group("/leaderboard")
	leaderboard.Get("/", s.GetLeaderboard)
	leaderboard.Get("/me", s.GetMyRank)

	protected.Get("/feature-flags", s.GetFeatureFlags)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "up",
		"time":   time.Now().UTC(),
	})
}

// ReadinessCheck reports the database and Redis. Redis is optional, so a
// server running without it is still ready.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := database.Ping(ctx, s.db); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now().UTC(),
	})
}

// GetFeatureFlags returns the flags as evaluated for the caller.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	return c.JSON(s.featureFlags.Snapshot(middleware.UserID(c)))
}

// Start runs the background workers and then serves HTTP until the app is
// shut down.
func (s *Server) Start() error {
	s.shutdownCtx, s.shutdownFn = context.WithCancel(context.Background())

	if err := s.publisher.Start(s.shutdownCtx); err != nil {
		return fmt.Errorf("start event subscriber: %w", err)
	}
	if err := s.scheduler.Start(s.shutdownCtx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	s.app = s.App()
	observability.Logger.Info("server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			observability.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}
	if err := s.scheduler.Stop(ctx); err != nil {
		observability.Logger.Error("error stopping scheduler", slog.String("error", err.Error()))
	}
	if err := s.hub.Shutdown(ctx); err != nil {
		observability.Logger.Error("error shutting down "+s.hub.Name(), slog.String("error", err.Error()))
	}
	if err := s.push.Close(); err != nil {
		observability.Logger.Error("error closing push handoff", slog.String("error", err.Error()))
	}
	if err := database.Close(s.db); err != nil {
		observability.Logger.Error("error closing database", slog.String("error", err.Error()))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			observability.Logger.Error("error closing redis", slog.String("error", err.Error()))
		}
	}

	observability.Logger.Info("server shutdown complete")
	return nil
}
