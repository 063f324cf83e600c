// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "huddle/docs" // swagger docs
	"huddle/internal/account"
	"huddle/internal/auth"
	"huddle/internal/cache"
	"huddle/internal/config"
	"huddle/internal/database"
	"huddle/internal/events"
	"huddle/internal/featureflags"
	"huddle/internal/middleware"
	"huddle/internal/models"
	"huddle/internal/moderation"
	"huddle/internal/notifications"
	"huddle/internal/observability"
	"huddle/internal/presence"
	"huddle/internal/repository"
	"huddle/internal/service"
	"huddle/internal/storage"
	"huddle/internal/sweeper"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/google/uuid"
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

	bus       *events.Bus
	userRepo  repository.UserRepository
	chatRepo  repository.ChatRepository
	groupRepo repository.GroupRepository

	tokens        *auth.TokenStore
	authenticator *auth.Authenticator
	presence      *presence.Tracker
	accounts      *account.Machine
	moderation    *moderation.Coordinator

	notifier *notifications.Notifier
	hub      *notifications.Hub
	sweeper  *sweeper.Runner
	storage  storage.Backend

	featureFlags *featureflags.Manager
	rateLimiter  *middleware.RateLimiter

	userService    *service.UserService
	chatService    *service.ChatService
	messageService *service.MessageService
	groupService   *service.GroupService
}

// NewServer connects to the database and Redis, then builds the server.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Redis is optional; without it presence, revocations and fan-out stay in process.
	redisClient := cache.InitRedis(cfg.RedisURL)

	return NewServerWithDeps(cfg, db, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis and optionally
// performs explicit seeding. redisClient may be nil.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	bundles, err := moderation.LoadBundles(cfg.ModerationBundlesFile)
	if err != nil {
		return nil, fmt.Errorf("moderation bundles: %w", err)
	}

	backend, err := storage.New(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("attachment storage: %w", err)
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("huddle-api"),
		bus:            events.NewBus(),
		userRepo:       repository.NewUserRepository(db),
		chatRepo:       repository.NewChatRepository(db),
		groupRepo:      repository.NewGroupRepository(db),
		storage:        backend,
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		rateLimiter:    middleware.NewRateLimiter(redisClient, cfg.RateLimitEnabled && redisClient != nil),
	}

	s.tokens = auth.NewTokenStore(db, redisClient, auth.Config{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})

	var store presence.Store = presence.NewMemoryStore()
	if cfg.PresenceBackend == "redis" && redisClient != nil {
		store = presence.NewRedisStore(redisClient)
	}
	s.presence = presence.NewTracker(store, db, cfg.PresenceInactivityTimeout)
	s.authenticator = auth.NewAuthenticator(s.tokens, s.presence)

	s.accounts = account.NewMachine(db, s.tokens, s.bus, cfg.TrashTTL)
	s.moderation = moderation.NewCoordinator(db, s.accounts, moderation.NewPolicy(bundles), s.bus)

	s.userService = service.NewUserService(s.userRepo)
	s.chatService = service.NewChatService(db, s.chatRepo, s.userRepo)
	s.messageService = service.NewMessageService(db, s.chatRepo, s.userRepo, s.bus, s.moderation.CanDeleteMessages)
	s.groupService = service.NewGroupService(db, s.groupRepo, s.chatRepo, s.userRepo, s.bus)

	if redisClient != nil {
		s.notifier = notifications.NewNotifier(redisClient, instanceID)
	}
	s.hub = notifications.NewHub(notifications.ClientConfig{
		SendQueue:   cfg.WSSendQueue,
		SendTimeout: cfg.WSSendTimeout,
		IdleTimeout: cfg.WSIdleTimeout,
		MaxFrame:    cfg.WSMaxFrame,
		FrameRate:   cfg.WSFrameRate,
		FrameBurst:  cfg.WSFrameBurst,
	}, s.notifier)

	s.hub.Subscribe(s.bus)
	s.presence.Subscribe(s.bus)

	s.sweeper = sweeper.New(redisClient, instanceID, sweeper.StandardTasks(sweeper.Deps{
		Tokens:           s.tokens,
		Presence:         s.presence,
		Moderation:       s.moderation,
		Accounts:         s.accounts,
		PresenceInterval: cfg.PresenceSweepInterval,
	})...)

	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}
	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before anything that can short-circuit so error responses
	// still carry CORS headers.
	app.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.AllowedOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Idempotency-Key, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		ExposeHeaders:    "Retry-After",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(s.generalRateLimit())
}

// generalRateLimit applies the general budget. Redis-backed when available;
// otherwise a per-process limiter with the same budget.
func (s *Server) generalRateLimit() fiber.Handler {
	if !s.config.RateLimitEnabled {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	skip := func(c *fiber.Ctx) bool {
		return c.Method() == fiber.MethodOptions || c.Path() == "/metrics" || strings.HasPrefix(c.Path(), "/health/")
	}
	if s.redis == nil {
		return limiter.New(limiter.Config{
			Max:          middleware.CategoryGeneral.Limit,
			Expiration:   middleware.CategoryGeneral.Window,
			Next:         skip,
			KeyGenerator: func(c *fiber.Ctx) string { return c.IP() },
			LimitReached: func(c *fiber.Ctx) error {
				return models.RespondError(c, models.NewRateLimitError("Too many requests, please try again later."))
			},
		})
	}
	limit := s.rateLimiter.Limit(middleware.CategoryGeneral)
	return func(c *fiber.Ctx) error {
		if skip(c) {
			return c.Next()
		}
		return limit(c)
	}
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	app.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Huddle Metrics Dashboard",
	}))
	app.Get("/swagger/*", swagger.HandlerDefault)

	authRequired := middleware.AuthRequired(s.authenticator)
	authLimit := s.rateLimiter.Limit(middleware.CategoryAuth)
	uploadLimit := s.rateLimiter.Limit(middleware.CategoryUpload)

	// Auth
	authGroup := app.Group("/auth")
	authGroup.Post("/register", authLimit, s.Register)
	authGroup.Post("/login", authLimit, s.Login)
	authGroup.Post("/refresh", authLimit, s.Refresh)
	authGroup.Post("/logout", authRequired, s.Logout)
	authGroup.Get("/profile", authRequired, s.GetProfile)
	authGroup.Put("/profile", authRequired, s.UpdateProfile)

	// Duplex sessions authenticate inside the upgrade so failures become close codes.
	ws := app.Group("/ws", s.WebSocketUpgrade)
	ws.Get("/chat/:id", s.WebSocketChatHandler())
	ws.Get("/group/:id", s.WebSocketGroupHandler())

	// Presence; /online before /:id.
	users := app.Group("/users", authRequired)
	users.Post("/heartbeat", s.Heartbeat)
	users.Get("/online", s.GetOnlineUsers)
	users.Get("/:id/online-status", s.GetOnlineStatus)

	// Conversations and messages
	chat := app.Group("/chat", authRequired)
	chat.Post("/conversations", s.CreateConversation)
	chat.Get("/conversations", s.GetConversations)
	chat.Get("/conversations/:id/messages", s.GetMessages)
	chat.Post("/conversations/:id/messages", s.SendMessage)
	chat.Post("/conversations/:id/read", s.MarkConversationRead)
	chat.Get("/conversations/:id/search", s.featureFlags.Require(featureflags.MessageSearch), s.SearchMessages)
	chat.Post("/conversations/:id/attachments/presign",
		s.featureFlags.Require(featureflags.Attachments), uploadLimit, s.PresignAttachment)
	chat.Get("/conversations/:id", s.GetConversation)
	chat.Delete("/conversations/:id", s.DeleteConversation)
	chat.Patch("/messages/:id", s.EditMessage)
	chat.Delete("/messages/:id", s.DeleteMessage)
	chat.Post("/messages/:id/forward", s.featureFlags.Require(featureflags.MessageForwarding), s.ForwardMessage)

	// Groups
	groups := app.Group("/groups", authRequired)
	groups.Post("/", s.CreateGroup)
	groups.Get("/", s.GetPublicGroups)
	groups.Post("/:id/join", s.JoinGroup)
	groups.Post("/:id/leave", s.LeaveGroup)
	groups.Get("/:id/members", s.GetGroupMembers)
	groups.Post("/:id/members", s.AddGroupMember)
	groups.Delete("/:id/members/:userId", s.KickGroupMember)
	groups.Put("/:id/members/:userId/role", s.ChangeGroupMemberRole)
	groups.Post("/:id/transfer", s.TransferGroupOwnership)
	groups.Get("/:id", s.GetGroup)
	groups.Delete("/:id", s.DeleteGroup)

	// Moderation
	mods := app.Group("/moderators", authRequired, middleware.RolesRequired(models.RoleAdmin, models.RoleModerator))
	mods.Post("/warn_user", s.WarnUser)
	mods.Post("/suspend_user", s.SuspendUser)
	mods.Post("/ban_user", s.BanUser)
	mods.Post("/delete_message", s.ModerateDeleteMessage)
	mods.Post("/approve_user", middleware.RolesRequired(models.RoleAdmin), s.ApproveUser)
	mods.Get("/audit_events", s.GetAuditEvents)
	mods.Get("/users/:id/history", s.GetModerationHistory)

	// Admin
	admin := app.Group("/admin", authRequired, middleware.RolesRequired(models.RoleAdmin))
	admin.Post("/users/:id/activate", s.ActivateUser)
	admin.Post("/users/:id/force_logout", s.ForceLogoutUser)
	admin.Delete("/users/:id", s.DeleteUser)
	admin.Post("/trash/:id/restore", s.RestoreUser)
	admin.Put("/moderators/:id", s.SetModerator)
	admin.Get("/feature-flags", s.GetFeatureFlags)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now().UTC(),
	})
}

// ReadinessCheck handles readiness probe requests
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
	overallStatus := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"sessions": s.hub.SessionCount(),
		"time":     time.Now().UTC(),
	})
}

// App builds the Fiber application with middleware and routes.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Huddle API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{
					Error:     fe.Message,
					ErrorType: errorTypeForStatus(fe.Code),
					Timestamp: time.Now().UTC(),
				})
			}
			observability.GlobalLogger.ErrorContext(c.UserContext(), "unhandled error",
				slog.String("path", c.Path()),
				slog.String("error", err.Error()),
			)
			return models.RespondError(c, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// Start wires background work and listens on the configured port.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.App()

	if err := s.hub.StartWiring(ctx); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "cross-instance fan-out disabled",
			slog.String("error", err.Error()))
	}
	s.sweeper.Start(ctx)

	observability.GlobalLogger.InfoContext(ctx, "server starting",
		slog.String("port", s.config.Port),
		slog.String("storage", s.storage.Name()),
	)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			observability.GlobalLogger.ErrorContext(ctx, "error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "error shutting down "+s.hub.Name(), slog.String("error", err.Error()))
	}
	s.sweeper.Stop()

	if err := database.Close(s.db); err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "error closing database", slog.String("error", err.Error()))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			observability.GlobalLogger.ErrorContext(ctx, "error closing redis", slog.String("error", err.Error()))
		}
	}

	observability.GlobalLogger.InfoContext(ctx, "server shutdown complete")
	return nil
}

// baseContext outlives individual requests; duplex sessions and room jobs
// run under it.
func (s *Server) baseContext() context.Context {
	if s.shutdownCtx != nil {
		return s.shutdownCtx
	}
	return context.Background()
}
