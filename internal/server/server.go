package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/emilythestrangee/forum/backend/internal/analytics"
	"github.com/emilythestrangee/forum/backend/internal/auth"
	"github.com/emilythestrangee/forum/backend/internal/cache"
	"github.com/emilythestrangee/forum/backend/internal/config"
	"github.com/emilythestrangee/forum/backend/internal/database"
	"github.com/emilythestrangee/forum/backend/internal/handlers"
	"github.com/emilythestrangee/forum/backend/internal/logging"
	"github.com/emilythestrangee/forum/backend/internal/middleware"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/search"
	"github.com/emilythestrangee/forum/backend/internal/storage"
	"github.com/emilythestrangee/forum/backend/internal/webhooks"
)

type Server struct {
	cfg     config.Config
	db      database.Service
	handler *handlers.Handler
	issuer  *auth.Issuer

	dispatcher  *webhooks.Dispatcher
	broadcaster *cache.PGBroadcaster
	pool        *pgxpool.Pool
	stop        context.CancelFunc
}

// New connects every backing service and builds the handlers. Optional
// integrations that are unconfigured or unreachable fall back to disabled
// implementations.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	svc, err := database.New(cfg)
	if err != nil {
		return nil, err
	}
	db := svc.GetDB()
	if err := database.Migrate(db); err != nil {
		svc.Close()
		return nil, err
	}
	log := logging.Logger

	runCtx, stop := context.WithCancel(context.Background())
	s := &Server{cfg: cfg, db: svc, stop: stop}

	c := cache.New()
	if b, err := cache.NewPGBroadcaster(cfg.DSN(), c); err != nil {
		log.Warn("cache invalidation stays local", zap.Error(err))
	} else {
		s.broadcaster = b
		go b.Run(runCtx)
	}

	var stats *analytics.Service
	if pool, err := database.OpenPool(ctx, cfg.DSN()); err != nil {
		log.Warn("analytics disabled", zap.Error(err))
	} else {
		s.pool = pool
		stats = analytics.NewService(pool, c)
	}

	var backend search.Backend = search.Nop{}
	if cfg.SearchEnabled() {
		backend = search.NewAlgolia(cfg.AlgoliaAppID, cfg.AlgoliaAPIKey, cfg.AlgoliaIndexPrefix)
	} else {
		log.Info("search disabled, ALGOLIA_APP_ID not set")
	}

	var otp auth.OTPSender = auth.DisabledOTP{}
	if cfg.OTPEnabled() {
		otp = auth.NewTwilioOTP(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioVerifySID)
	}

	var uploads storage.Uploader = storage.Disabled{}
	if cfg.StorageEnabled() {
		if m, err := storage.NewMinIO(ctx, cfg); err != nil {
			log.Warn("uploads disabled", zap.Error(err))
		} else {
			uploads = m
		}
	}

	s.dispatcher = webhooks.NewDispatcher(db, cfg.WebhookTimeout, cfg.WebhookWorkers)
	s.issuer = auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	s.handler = handlers.NewHandler(handlers.Deps{
		DB:        db,
		Issuer:    s.issuer,
		OTP:       otp,
		Google:    &auth.GoogleVerifier{ClientID: cfg.GoogleClientID},
		Search:    backend,
		Webhooks:  s.dispatcher,
		Cache:     c,
		Analytics: stats,
		Uploads:   uploads,
	})
	return s, nil
}

// NewWithDeps builds a server around already constructed collaborators.
func NewWithDeps(cfg config.Config, svc database.Service, deps handlers.Deps) *Server {
	deps.DB = svc.GetDB()
	if deps.Issuer == nil {
		deps.Issuer = auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	}
	return &Server{
		cfg:     cfg,
		db:      svc,
		issuer:  deps.Issuer,
		handler: handlers.NewHandler(deps),
		stop:    func() {},
	}
}

// HTTPServer wraps the router in an http.Server with the forum's timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              "0.0.0.0:" + s.cfg.Port,
		Handler:           s.RegisterRoutes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

// Close drains queued webhook deliveries and releases connections.
func (s *Server) Close() error {
	s.stop()
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	if s.broadcaster != nil {
		s.broadcaster.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return s.db.Close()
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:  []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

// RegisterRoutes sets up all application routes
func (s *Server) RegisterRoutes() *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(), gin.Recovery())
	r.Use(cors.New(corsConfig(s.cfg.AllowedOrigins)))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		stats := s.db.Health()
		status := http.StatusOK
		if stats["status"] != "up" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": stats["status"], "database": stats})
	})

	db := s.db.GetDB()
	h := s.handler

	api := r.Group("/api")
	{
		// Auth routes (public)
		api.POST("/auth/register", h.Auth.Register)
		api.POST("/auth/login", h.Auth.Login)
		api.POST("/auth/otp/request", h.Auth.RequestOTP)
		api.POST("/auth/otp/verify", h.Auth.VerifyOTP)
		api.POST("/auth/google", h.Auth.GoogleLogin)

		// Public reads
		api.GET("/users/:username", h.User.GetUserProfile)
		api.GET("/categories", h.Category.GetCategories)
		api.GET("/categories/:slug", h.Category.GetCategory)
		api.GET("/tags", h.Tag.GetTags)
		api.GET("/threads", h.Thread.GetThreads)
		api.GET("/threads/:id", middleware.OptionalAuth(s.issuer, db), h.Thread.GetThread)
		api.GET("/threads/:id/posts", h.Post.GetPosts)
		api.GET("/search", h.Search.Search)
		api.GET("/search/all", h.Search.SearchAll)

		// Protected routes (authentication required)
		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(s.issuer, db))
		{
			protected.GET("/me", h.Auth.GetMe)
		}

		// Writes are closed to banned users
		writes := protected.Group("")
		writes.Use(middleware.NotBanned())
		{
			writes.PUT("/users/me", h.User.UpdateMe)
			writes.POST("/users/me/avatar", h.User.UploadAvatar)
			writes.POST("/uploads", h.User.UploadImage)

			writes.POST("/threads", h.Thread.CreateThread)
			writes.PUT("/threads/:id", h.Thread.UpdateThread)
			writes.DELETE("/threads/:id", h.Thread.DeleteThread)
			writes.POST("/threads/:id/subscribe", h.Thread.Subscribe)
			writes.DELETE("/threads/:id/subscribe", h.Thread.Unsubscribe)

			writes.POST("/threads/:id/posts", h.Post.CreatePost)
			writes.PUT("/posts/:id", h.Post.UpdatePost)
			writes.DELETE("/posts/:id", h.Post.DeletePost)
			writes.POST("/posts/:id/vote", h.Post.VotePost)

			writes.POST("/reports", h.Report.CreateReport)
		}

		mod := writes.Group("")
		mod.Use(middleware.RequireRole(models.RoleModerator))
		{
			mod.POST("/threads/:id/lock", h.Thread.ToggleLock)
			mod.POST("/threads/:id/pin", h.Thread.TogglePin)
			mod.POST("/tags", h.Tag.CreateTag)
			mod.GET("/mod/reports", h.Report.GetReports)
			mod.PUT("/mod/reports/:id", h.Report.ResolveReport)
			mod.POST("/mod/users/:id/ban", h.Moderation.BanUser)
			mod.DELETE("/mod/users/:id/ban", h.Moderation.UnbanUser)
		}

		admin := writes.Group("")
		admin.Use(middleware.RequireRole(models.RoleAdmin))
		{
			admin.POST("/categories", h.Category.CreateCategory)
			admin.PUT("/categories/:id", h.Category.UpdateCategory)
			admin.DELETE("/categories/:id", h.Category.DeleteCategory)
			admin.DELETE("/tags/:id", h.Tag.DeleteTag)
			admin.PUT("/admin/users/:id/role", h.Moderation.SetRole)
			admin.GET("/admin/analytics", h.Analytics.GetOverview)

			admin.GET("/admin/webhooks", h.Webhook.GetWebhooks)
			admin.POST("/admin/webhooks", h.Webhook.CreateWebhook)
			admin.PUT("/admin/webhooks/:id", h.Webhook.UpdateWebhook)
			admin.DELETE("/admin/webhooks/:id", h.Webhook.DeleteWebhook)
			admin.POST("/admin/webhooks/:id/test", h.Webhook.TestWebhook)
			admin.GET("/admin/webhooks/:id/deliveries", h.Webhook.GetDeliveries)
		}
	}

	return r
}
