// Package api wires together all HTTP routes for the Heirloom backend.
//
// Route grouping philosophy:
//   - /health, /ready, and /version are unauthenticated probes.
//   - GET /claims/verify is the only other public route: it is the landing page
//     for the verification link emailed to a family's original owner, who may
//     not have an account at all.
//   - Everything under /api/v1 except /auth/register and /auth/login requires a
//     bearer token.
//
// Middleware ordering is Security → RateLimit → Auth → Audit → Handler; see the
// package comment in internal/middleware.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/heirloom-app/heirloom/internal/api/accounts"
	claimsapi "github.com/heirloom-app/heirloom/internal/api/claims"
	"github.com/heirloom-app/heirloom/internal/api/families"
	"github.com/heirloom-app/heirloom/internal/audit"
	"github.com/heirloom-app/heirloom/internal/claims"
	"github.com/heirloom-app/heirloom/internal/config"
	"github.com/heirloom-app/heirloom/internal/db/repositories"
	"github.com/heirloom-app/heirloom/internal/email"
	"github.com/heirloom-app/heirloom/internal/jobs"
	"github.com/heirloom-app/heirloom/internal/middleware"
	"github.com/heirloom-app/heirloom/internal/notify"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	sweeper      *jobs.ClaimSweeper
	sweepCancel  context.CancelFunc
	rateLimiters []*middleware.RateLimiter
	redisLimiter *middleware.RedisRateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.sweeper != nil {
		bg.sweepCancel()
		bg.sweeper.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.redisLimiter != nil {
		if err := bg.redisLimiter.Close(); err != nil {
			slog.Error("failed to close redis rate limiter", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB, shipper audit.Shipper) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	familyRepo := repositories.NewFamilyRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	// Wrap *sql.DB with sqlx for the claim, endorsement, and notification repositories
	sqlxDB := sqlx.NewDb(db, "postgres")
	claimRepo := repositories.NewClaimRepository(sqlxDB)
	endorsementRepo := repositories.NewEndorsementRepository(sqlxDB)
	notifRepo := repositories.NewNotificationRepository(sqlxDB)

	// Outbound email (SES). Runs in disabled mode without AWS configuration.
	mailer, err := email.NewSender(context.Background(), cfg.Notifications, cfg.Server.GetPublicURL())
	if err != nil {
		log.Fatalf("Failed to initialize email sender: %v", err)
	}

	// The claim service drives the whole admin-claim workflow
	claimService := claims.NewService(
		familyRepo,
		claimRepo,
		endorsementRepo,
		userRepo,
		notify.New(notifRepo),
		mailer,
		auditRepo,
		cfg.Claims.CoolingOff(),
		cfg.Claims.EmailTokenTTL(),
	)

	// Background sweeper: expires stale email challenges and grants claims whose
	// cooling-off period has elapsed.
	sweeper := jobs.NewClaimSweeper(claimService, cfg.Claims.SweepIntervalMinutes)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go sweeper.Start(sweepCtx)

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

	// Initialize handlers
	accountHandlers := accounts.NewAccountHandlers(cfg, db, sqlxDB)
	familyHandlers := families.NewFamilyHandlers(cfg, db)
	claimHandlers := claimsapi.NewClaimHandlers(cfg, claimService)

	// Rate limiters. With a Redis URL configured the budgets are shared across
	// replicas; otherwise each process keeps in-memory token buckets.
	var redisLimiter *middleware.RedisRateLimiter
	if cfg.Security.RateLimiting.RedisURL != "" {
		redisLimiter, err = middleware.NewRedisRateLimiter(cfg.Security.RateLimiting.RedisURL, middleware.DefaultRateLimitConfig())
		if err != nil {
			log.Fatalf("Failed to connect rate limiter to Redis: %v", err)
		}
		slog.Info("rate limiting backed by redis")
	}

	var memLimiters []*middleware.RateLimiter
	limitWith := func(scope string, limitCfg middleware.RateLimitConfig) gin.HandlerFunc {
		if !cfg.Security.RateLimiting.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		if redisLimiter != nil {
			return middleware.RedisRateLimitMiddleware(redisLimiter.WithScope(scope, limitCfg))
		}
		rl := middleware.NewRateLimiter(limitCfg)
		memLimiters = append(memLimiters, rl)
		return middleware.RateLimitMiddleware(rl)
	}

	authLimit := limitWith("auth", middleware.AuthRateLimitConfig())
	generalLimit := limitWith("general", middleware.DefaultRateLimitConfig())
	claimLimit := limitWith("claim", middleware.ClaimRateLimitConfig())

	// Public email verification landing page. Rate limited with the auth tier
	// since tokens are guessable only by brute force.
	router.GET("/claims/verify", authLimit, claimHandlers.VerifyEmailPageHandler())

	// API endpoints
	apiV1 := router.Group("/api/v1")
	{
		// Public authentication endpoints (no auth required, but rate limited)
		authGroup := apiV1.Group("/auth")
		authGroup.Use(authLimit)
		{
			authGroup.POST("/register", accountHandlers.RegisterHandler())
			authGroup.POST("/login", accountHandlers.LoginHandler())
		}

		// Authenticated-only endpoints
		authenticatedGroup := apiV1.Group("")
		authenticatedGroup.Use(generalLimit)
		authenticatedGroup.Use(middleware.AuthMiddleware(userRepo))
		authenticatedGroup.Use(middleware.AuditMiddlewareWithShipper(auditRepo, shipper, &cfg.Audit))
		{
			// Profile
			authenticatedGroup.GET("/users/me", accountHandlers.MeHandler())
			authenticatedGroup.PUT("/users/me", accountHandlers.UpdateMeHandler())

			// In-app notifications
			authenticatedGroup.GET("/notifications", accountHandlers.ListNotificationsHandler())
			authenticatedGroup.POST("/notifications/:id/read", accountHandlers.MarkNotificationReadHandler())

			// Families and membership
			authenticatedGroup.POST("/families", familyHandlers.CreateFamilyHandler())
			authenticatedGroup.GET("/families", familyHandlers.ListFamiliesHandler())
			authenticatedGroup.GET("/families/:id", familyHandlers.GetFamilyHandler())
			authenticatedGroup.POST("/families/:id/members", familyHandlers.AddMemberHandler())
			authenticatedGroup.DELETE("/families/:id/members/:user_id", familyHandlers.RemoveMemberHandler())

			// Admin-claim workflow. Claim and endorsement writes carry a
			// stricter rate limit than general reads.
			authenticatedGroup.POST("/families/:id/claims", claimLimit, claimHandlers.CreateClaimHandler())
			authenticatedGroup.GET("/families/:id/claims", claimHandlers.ListFamilyClaimsHandler())
			authenticatedGroup.GET("/claims/:id", claimHandlers.GetClaimHandler())
			authenticatedGroup.POST("/claims/:id/endorsements", claimLimit, claimHandlers.EndorseHandler())
			authenticatedGroup.GET("/claims/:id/endorsements", claimHandlers.ListEndorsementsHandler())
			authenticatedGroup.POST("/claims/:id/process", claimHandlers.ProcessClaimHandler())
		}
	}

	bg := &BackgroundServices{
		sweeper:      sweeper,
		sweepCancel:  sweepCancel,
		rateLimiters: memLimiters,
		redisLimiter: redisLimiter,
	}

	return router, bg
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
// readinessHandler returns the readiness status of the service
func readinessHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
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

		// Log the request
		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
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

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the global
	// handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
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
