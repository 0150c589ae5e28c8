// Package api wires together all HTTP routes for the SecureLMS backend.
//
// Route grouping philosophy:
//   - /api/v1/auth/login and /auth/register are unauthenticated but sit
//     behind the strict auth rate limit, since they are the brute-force
//     surface.
//   - Everything else under /api/v1/ requires a valid session and passes
//     the working-hours gate before any handler runs.
//   - /api/v1/admin/ additionally requires the SYSTEM_ADMIN role.
//
// Audit writes happen inside the guard and the enforcement point rather
// than in a trailing middleware: every entry must be chained, and only the
// code that made the decision knows which action and status to record.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/securelms/securelms/internal/api/adminapi"
	"github.com/securelms/securelms/internal/api/authapi"
	"github.com/securelms/securelms/internal/api/resources"
	"github.com/securelms/securelms/internal/audit"
	"github.com/securelms/securelms/internal/auth"
	"github.com/securelms/securelms/internal/config"
	"github.com/securelms/securelms/internal/db/repositories"
	"github.com/securelms/securelms/internal/enforce"
	"github.com/securelms/securelms/internal/jobs"
	"github.com/securelms/securelms/internal/middleware"
	"github.com/securelms/securelms/internal/policy"
)

// BackgroundServices holds references to background jobs and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a
// termination signal.
type BackgroundServices struct {
	chainVerifier *jobs.ChainVerifier
	rateLimiters  []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests are drained
// first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.chainVerifier != nil {
		bg.chainVerifier.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router around an already
// constructed audit chain. The chain is built by cmd/server so the startup
// event can be appended before the HTTP surface exists.
func NewRouter(cfg *config.Config, db *sqlx.DB, chain *audit.Chain) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	resourceRepo := repositories.NewResourceRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	// Policy engine and enforcement point
	engine := policy.NewEngine(cfg.Policy.WorkStart, cfg.Policy.WorkEnd)
	enforcer := enforce.NewEnforcer(engine, resourceRepo, chain)

	// Authentication guard
	hasher := auth.NewHasher(cfg.Auth.PasswordPepper, auth.Argon2Params{
		MemoryKiB:   cfg.Auth.Argon2.MemoryKiB,
		Iterations:  cfg.Auth.Argon2.Iterations,
		Parallelism: cfg.Auth.Argon2.Parallelism,
		SaltLength:  16,
		KeyLength:   32,
	})
	mfa := auth.NewMFA(auth.TOTPParams{
		Issuer: cfg.MFA.Issuer,
		Period: cfg.MFA.Period,
		Digits: cfg.MFA.Digits,
		Skew:   cfg.MFA.Skew,
	})
	guard := auth.NewGuard(userRepo, hasher, mfa, chain,
		auth.WithLockPolicy(cfg.Auth.LockThreshold, cfg.Auth.LockDuration))

	// Background chain verification
	chainVerifier := jobs.NewChainVerifier(auditRepo, chain, cfg.Audit.VerifyIntervalMinutes)
	chainVerifier.Start(context.Background())

	// Handler sets
	authHandlers := authapi.NewHandlers(guard, userRepo, hasher, mfa, chain, cfg.Auth.SessionTTL)
	resourceHandlers := resources.NewHandlers(resourceRepo, enforcer, chain)
	auditHandlers := adminapi.NewAuditHandlers(auditRepo, chain)
	userHandlers := adminapi.NewUserHandlers(userRepo)

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeaders(middleware.HeaderPolicy{
		HSTSEnabled:           cfg.Security.Headers.HSTSEnabled,
		HSTSMaxAge:            cfg.Security.Headers.HSTSMaxAgeSeconds,
		HSTSIncludeSubdomains: cfg.Security.Headers.HSTSIncludeSubdomains,
	}))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// API version
	router.GET("/version", versionHandler())

	// Rate limiters: strict for credential endpoints, default elsewhere
	authLimiter := middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
	apiLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())

	v1 := router.Group("/api/v1")

	// Unauthenticated credential endpoints behind the strict limiter
	authGroup := v1.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware(authLimiter))
	{
		authGroup.POST("/login", authHandlers.LoginHandler())
		authGroup.POST("/register", authHandlers.RegisterHandler())
	}

	// Authenticated session endpoints: valid token + working-hours gate
	session := v1.Group("/auth")
	session.Use(middleware.RateLimitMiddleware(apiLimiter))
	session.Use(middleware.AuthMiddleware())
	session.Use(middleware.AccessWindow(engine, nil))
	{
		session.POST("/logout", authHandlers.LogoutHandler())
		session.PUT("/password", authHandlers.ChangePasswordHandler())
		session.POST("/mfa/enroll", authHandlers.EnrollMFAHandler())
		session.POST("/mfa/activate", authHandlers.ActivateMFAHandler())
	}

	// Resource endpoints
	res := v1.Group("/resources")
	res.Use(middleware.RateLimitMiddleware(apiLimiter))
	res.Use(middleware.AuthMiddleware())
	res.Use(middleware.AccessWindow(engine, nil))
	{
		res.POST("", resourceHandlers.CreateResourceHandler())
		res.GET("", resourceHandlers.ListResourcesHandler())
		res.GET("/:id", resourceHandlers.GetResourceHandler())
		res.POST("/:id/share", resourceHandlers.ShareResourceHandler())
		res.GET("/:id/share", resourceHandlers.ListGrantsHandler())
		res.DELETE("/:id/share/:grantee_id", resourceHandlers.RevokeGrantHandler())
	}

	// Admin endpoints: SYSTEM_ADMIN only, exempt from the working-hours
	// gate so the audit trail stays reachable around the clock
	admin := v1.Group("/admin")
	admin.Use(middleware.RateLimitMiddleware(apiLimiter))
	admin.Use(middleware.AuthMiddleware())
	admin.Use(middleware.RequireRole(string(policy.RoleSystemAdmin)))
	{
		admin.GET("/audit-logs", auditHandlers.ListAuditLogsHandler())
		admin.GET("/audit-logs/verify", auditHandlers.VerifyChainHandler())
		admin.GET("/users", userHandlers.ListUsersHandler())
	}

	bg := &BackgroundServices{
		chainVerifier: chainVerifier,
		rateLimiters:  []*middleware.RateLimiter{authLimiter, apiLimiter},
	}
	return router, bg
}

// @Summary      Health check
// @Description  Returns the health status of the service. Checks database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
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

// LoggerMiddleware provides structured request logging
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
