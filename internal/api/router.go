// Package api wires together all HTTP routes for the ProcureFlow backend.
//
// Route grouping philosophy:
//   - Everything under /api/v1 requires a bearer credential (JWT or API key);
//     there is no anonymous application surface. Which operations a caller may
//     perform is decided per-request by the policy evaluator, not by route
//     placement.
//   - Organization lifecycle routes (create, suspend, reactivate, list-all)
//     are additionally gated by RequirePlatformAdmin at registration time
//     because no tenant-scoped decision can ever allow them.
//   - /api/v1/dev is only reachable with DEV_MODE set and exists so local
//     stacks can mint tokens without an identity provider.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/procureflow/procureflow/internal/api/admin"
	"github.com/procureflow/procureflow/internal/api/requisitions"
	"github.com/procureflow/procureflow/internal/audit"
	"github.com/procureflow/procureflow/internal/config"
	"github.com/procureflow/procureflow/internal/db/repositories"
	"github.com/procureflow/procureflow/internal/jobs"
	"github.com/procureflow/procureflow/internal/ledger"
	"github.com/procureflow/procureflow/internal/middleware"
	"github.com/procureflow/procureflow/internal/notify"
	"github.com/procureflow/procureflow/internal/safego"
	"github.com/procureflow/procureflow/internal/workflow"
)

// BackgroundServices holds references to background jobs and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	mailer       *jobs.NotificationMailer
	shipper      *audit.MultiShipper
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines and flushes the audit shippers. It
// should be called after the HTTP server has been shut down so that in-flight
// requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.mailer != nil {
		bg.mailer.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Warn("audit shipper close failed", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()

	// Initialize repositories
	sqlxDB := sqlx.NewDb(db, "postgres")
	userRepo := repositories.NewUserRepository(sqlxDB)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	orgRepo := repositories.NewOrganizationRepository(db)
	projectRepo := repositories.NewProjectRepository(db)
	budgetRepo := repositories.NewBudgetRepository(db)
	reqRepo := repositories.NewRequisitionRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	notifRepo := repositories.NewNotificationRepository(db)

	// External audit destinations. The MultiShipper is shared by the recorder
	// (workflow transitions, policy denials) and the HTTP audit middleware.
	var shipper *audit.MultiShipper
	if cfg.Audit.Enabled && len(cfg.Audit.Shippers) > 0 {
		var err error
		shipper, err = audit.NewMultiShipper(shipperConfigs(cfg.Audit.Shippers))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize audit shippers: %w", err)
		}
	}

	// Workflow core: budget ledger, audit recorder, notification dispatcher,
	// and the transition engine on top of them.
	budgetLedger := ledger.New(budgetRepo, budgetRepo,
		ledger.WithMaxRetries(cfg.Ledger.MaxRetries))

	recorderOpts := []audit.RecorderOption{}
	if shipper != nil {
		recorderOpts = append(recorderOpts, audit.WithShipper(shipper))
	}
	recorder := audit.NewRecorder(auditRepo, recorderOpts...)

	dispatcher := notify.NewDispatcher(notifRepo)

	engine := workflow.NewEngine(reqRepo, budgetLedger, recorder, dispatcher,
		workflow.WithOrganizationStore(orgRepo))

	// Outbox delivery runs regardless of route registration; it is a no-op
	// when notifications are disabled or SMTP is not configured.
	mailer := jobs.NewNotificationMailer(notifRepo, reqRepo, projectRepo, userRepo, &cfg.Notifications)
	safego.Go(func() { mailer.Start(context.Background()) })

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint
	router.GET("/ready", readinessHandler(db))

	// API version
	router.GET("/version", versionHandler())

	// Handlers
	reqHandlers := requisitions.NewHandlers(db, engine)
	orgHandlers := admin.NewOrganizationHandlers(db)
	projectHandlers := admin.NewProjectHandlers(db)
	accountHandlers := admin.NewAccountHandlers(db)
	apiKeyHandlers := admin.NewAPIKeyHandlers(cfg, db)
	auditHandlers := admin.NewAuditHandlers(db)

	// Rate limiters. With a Redis address configured the limit is shared
	// across replicas; otherwise each replica enforces it locally.
	var rateLimiters []*middleware.RateLimiter
	rateLimit := func() gin.HandlerFunc { return func(c *gin.Context) { c.Next() } }
	if cfg.Security.RateLimiting.Enabled {
		limitCfg := middleware.RateLimitConfig{
			RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
			BurstSize:         cfg.Security.RateLimiting.Burst,
			CleanupInterval:   5 * time.Minute,
		}
		if addr := cfg.Security.RateLimiting.RedisAddr; addr != "" {
			client := redis.NewClient(&redis.Options{Addr: addr})
			rateLimit = func() gin.HandlerFunc {
				return middleware.RedisRateLimitMiddleware(client, limitCfg)
			}
		} else {
			limiter := middleware.NewRateLimiter(limitCfg)
			rateLimiters = append(rateLimiters, limiter)
			rateLimit = func() gin.HandlerFunc {
				return middleware.RateLimitMiddleware(limiter)
			}
		}
	}

	// A typed-nil *MultiShipper must not reach the middleware's interface
	// nil check.
	var httpShipper audit.Shipper
	if shipper != nil {
		httpShipper = shipper
	}

	apiV1 := router.Group("/api/v1")
	apiV1.Use(rateLimit())
	apiV1.Use(middleware.AuthMiddleware(apiKeyRepo, projectRepo))
	apiV1.Use(middleware.AuditShipperMiddleware(httpShipper, slog.Default()))
	{
		// Requisition lifecycle
		reqGroup := apiV1.Group("/requisitions")
		{
			reqGroup.POST("", reqHandlers.CreateHandler())
			reqGroup.GET("", reqHandlers.ListHandler())
			reqGroup.GET("/:id", reqHandlers.GetHandler())
			reqGroup.PUT("/:id", reqHandlers.UpdateHandler())
			reqGroup.DELETE("/:id", reqHandlers.DeleteHandler())
			reqGroup.GET("/:id/history", reqHandlers.HistoryHandler())
			reqGroup.POST("/:id/transitions", reqHandlers.TransitionHandler())
		}

		// Organization lifecycle is platform-operator territory; membership
		// and read endpoints are decided per-request by the policy evaluator.
		orgsGroup := apiV1.Group("/organizations")
		{
			platformGroup := orgsGroup.Group("")
			platformGroup.Use(middleware.RequirePlatformAdmin())
			{
				platformGroup.GET("", orgHandlers.ListOrganizationsHandler())
				platformGroup.POST("", orgHandlers.CreateOrganizationHandler())
				platformGroup.POST("/:id/suspend", orgHandlers.SuspendOrganizationHandler())
				platformGroup.POST("/:id/reactivate", orgHandlers.ReactivateOrganizationHandler())
			}

			orgsGroup.GET("/:id", orgHandlers.GetOrganizationHandler())
			orgsGroup.PUT("/:id", orgHandlers.UpdateOrganizationHandler())
			orgsGroup.GET("/:id/members", orgHandlers.ListMembersHandler())
			orgsGroup.POST("/:id/members", orgHandlers.AddMemberHandler())
			orgsGroup.DELETE("/:id/members/:user_id", orgHandlers.RemoveMemberHandler())
		}

		// Projects, workflow role grants, and budget accounts
		projectsGroup := apiV1.Group("/projects")
		{
			projectsGroup.GET("", projectHandlers.ListProjectsHandler())
			projectsGroup.POST("", projectHandlers.CreateProjectHandler())
			projectsGroup.GET("/:id", projectHandlers.GetProjectHandler())
			projectsGroup.PUT("/:id", projectHandlers.UpdateProjectHandler())
			projectsGroup.GET("/:id/requisitions", projectHandlers.ListProjectRequisitionsHandler())
			projectsGroup.GET("/:id/roles", projectHandlers.ListRolesHandler())
			projectsGroup.POST("/:id/roles", projectHandlers.GrantRoleHandler())
			projectsGroup.DELETE("/:id/roles/:user_id", projectHandlers.RevokeRoleHandler())
			projectsGroup.GET("/:id/accounts", accountHandlers.ListAccountsHandler())
			projectsGroup.POST("/:id/accounts", accountHandlers.CreateAccountHandler())
		}

		accountsGroup := apiV1.Group("/accounts")
		{
			accountsGroup.GET("/:id", accountHandlers.GetAccountHandler())
			accountsGroup.PUT("/:id/allocation", accountHandlers.UpdateAllocationHandler())
		}

		// API keys
		apiKeysGroup := apiV1.Group("/apikeys")
		{
			apiKeysGroup.GET("", apiKeyHandlers.ListAPIKeysHandler())
			apiKeysGroup.POST("", apiKeyHandlers.CreateAPIKeyHandler())
			apiKeysGroup.DELETE("/:id", apiKeyHandlers.DeleteAPIKeyHandler())
		}

		// Audit trail and notification outbox
		apiV1.GET("/audit", auditHandlers.ListAuditHandler())
		apiV1.GET("/notifications", auditHandlers.ListNotificationsHandler())

		// Caller identity
		apiV1.GET("/auth/me", meHandler())
	}

	// Development-only endpoints (token minting). Registration is gated twice:
	// routes only exist in dev mode, and the middleware re-checks per request.
	if admin.IsDevMode() {
		devHandlers := admin.NewDevHandlers(cfg, db)
		devGroup := router.Group("/api/v1/dev")
		devGroup.Use(admin.DevModeMiddleware())
		{
			devGroup.POST("/token", devHandlers.DevTokenHandler())
		}
		slog.Warn("development endpoints enabled", "path", "/api/v1/dev")
	}

	bg := &BackgroundServices{
		mailer:       mailer,
		shipper:      shipper,
		rateLimiters: rateLimiters,
	}

	return router, bg, nil
}

// shipperConfigs converts the viper-decoded audit section into the shipper
// package's own config types.
func shipperConfigs(configs []config.AuditShipperConfig) []audit.ShipperConfig {
	out := make([]audit.ShipperConfig, 0, len(configs))
	for _, c := range configs {
		sc := audit.ShipperConfig{
			Enabled: c.Enabled,
			Type:    c.Type,
		}
		switch c.Type {
		case "webhook":
			sc.Webhook = &audit.WebhookConfig{
				URL:           c.Webhook.URL,
				Headers:       c.Webhook.Headers,
				Timeout:       time.Duration(c.Webhook.TimeoutSecs) * time.Second,
				BatchSize:     c.Webhook.BatchSize,
				FlushInterval: c.Webhook.FlushInterval,
			}
		case "file":
			sc.File = &audit.FileConfig{
				Path:       c.File.Path,
				MaxSizeMB:  c.File.MaxSizeMB,
				MaxBackups: c.File.MaxBackups,
			}
		}
		out = append(out, sc)
	}
	return out
}

// meHandler returns the resolved actor for the presented credential. Useful
// for debugging tenancy and role claims without consulting the issuer.
// GET /api/v1/auth/me
func meHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.CurrentActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user_id":         actor.UserID,
			"organization_id": actor.OrganizationID,
			"org_role":        actor.OrgRole,
			"workflow_roles":  actor.WorkflowRoles,
			"platform_admin":  actor.PlatformAdmin,
		})
	}
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service. The database
// is the only hard dependency; the mail server and audit destinations are
// best-effort and must not gate traffic.
func readinessHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
