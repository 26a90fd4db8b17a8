// Package api wires together all HTTP routes for the storefront identity backend.
//
// Route grouping:
//   - /auth/* and the request/approve/login endpoints under /admin, /employee and
//     /superadmin are public. They are rate limited per client IP because they
//     accept passwords, one-time codes and approval tokens.
//   - /users/me and the staff listings require a session (AuthMiddleware) plus the
//     operation's permission from auth.Permissions (RequireOperation).
//   - The superadmin management routes use SuperAdminMiddleware, which re-reads
//     the account so that a ban or demotion takes effect before the token expires.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/vaultplay/storefront-auth/internal/api/admin"
	"github.com/vaultplay/storefront-auth/internal/api/authn"
	"github.com/vaultplay/storefront-auth/internal/api/provisioning"
	"github.com/vaultplay/storefront-auth/internal/audit"
	"github.com/vaultplay/storefront-auth/internal/auth"
	"github.com/vaultplay/storefront-auth/internal/config"
	"github.com/vaultplay/storefront-auth/internal/crypto"
	"github.com/vaultplay/storefront-auth/internal/db/models"
	"github.com/vaultplay/storefront-auth/internal/db/repositories"
	"github.com/vaultplay/storefront-auth/internal/jobs"
	"github.com/vaultplay/storefront-auth/internal/middleware"
	"github.com/vaultplay/storefront-auth/internal/notify"
	"github.com/vaultplay/storefront-auth/internal/safego"
	"github.com/vaultplay/storefront-auth/internal/services"
)

const authRateLimitScope = "auth"

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Start() once the server is up and Shutdown() when the process receives
// a termination signal.
type BackgroundServices struct {
	sweeper     *jobs.ExpirySweeper
	rateLimiter *middleware.RateLimiter
	redis       *redis.Client
	shipper     *audit.MultiShipper
}

// Start launches the background jobs.
func (bg *BackgroundServices) Start(ctx context.Context) {
	if bg.sweeper != nil {
		safego.Go("expiry-sweeper", func() { bg.sweeper.Start(ctx) })
	}
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.sweeper != nil {
		bg.sweeper.Stop()
	}
	if bg.rateLimiter != nil {
		bg.rateLimiter.Stop()
	}
	if bg.redis != nil {
		if err := bg.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// pinger is satisfied by *sql.DB and *sqlx.DB.
type pinger interface {
	PingContext(ctx context.Context) error
}

// application is everything the routes depend on. NewRouter builds it from
// configuration; tests build it from fakes.
type application struct {
	login        authn.LoginFlow
	provisioning provisioning.Workflow
	accounts     admin.AccountManager
	sessions     middleware.SessionValidator
	accountStore middleware.AccountLoader
	authLimiter  middleware.Limiter
	db           pinger
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, database *sqlx.DB) (*gin.Engine, *BackgroundServices, error) {
	logger := slog.Default()
	bg := &BackgroundServices{}

	// Key material and session signing
	keyCipher, err := crypto.KeyCipherFromSecret(cfg.Crypto.EncryptionKey, cfg.Crypto.KeySalt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize key cipher: %w", err)
	}
	signer := crypto.NewSignatureService(keyCipher)

	secret, err := auth.ResolveSessionSecret(cfg.Auth.JWTSecret, auth.IsDevMode())
	if err != nil {
		return nil, nil, fmt.Errorf("security configuration error: %w", err)
	}
	sessions := auth.NewSessionIssuer(secret, cfg.Auth.SessionTTL)

	// Repositories
	accountRepo := repositories.NewAccountRepository(database)
	requestRepo := repositories.NewElevationRequestRepository(database)
	auditRepo := repositories.NewAuditRepository(database)

	// Audit log, mirrored to any configured shippers
	var shipper audit.Shipper
	if len(cfg.Audit.Shippers) > 0 {
		ms, err := audit.NewMultiShipper(cfg.Audit.Shippers, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize audit shippers: %w", err)
		}
		if ms.Len() > 0 {
			shipper = ms
			bg.shipper = ms
		}
	}
	recorder := audit.NewRecorder(auditRepo, shipper, logger)

	mailer := notify.New(&cfg.Notifications, logger)

	// Services
	provisioningSvc := services.NewProvisioningService(accountRepo, requestRepo, signer, recorder, mailer,
		services.ProvisioningOptions{
			SuperAdminSecretKey: cfg.Provisioning.SuperAdminSecretKey,
			ApproverEmail:       cfg.Provisioning.ApproverEmail,
			From:                cfg.Notifications.SMTP.From,
			TTL: func(t models.Tier) time.Duration {
				if ttl := cfg.Provisioning.RequestTTL(string(t)); ttl > 0 {
					return ttl
				}
				return services.DefaultRequestTTL(t)
			},
		}, logger)
	loginSvc := services.NewLoginService(accountRepo, sessions, recorder, mailer,
		services.LoginOptions{
			CodeTTL: cfg.Auth.CodeTTL,
			From:    cfg.Notifications.CodesFrom,
		}, logger)
	accountSvc := services.NewAccountService(accountRepo, auditRepo, recorder, signer, logger)

	// Auth endpoint rate limiting
	var limiter middleware.Limiter
	if rl := cfg.Security.RateLimiting; rl.Enabled {
		limitCfg := middleware.AuthRateLimitConfig()
		if rl.RequestsPerMinute > 0 {
			limitCfg.RequestsPerMinute = rl.RequestsPerMinute
		}
		if rl.Burst > 0 {
			limitCfg.BurstSize = rl.Burst
		}
		if strings.EqualFold(rl.Backend, "redis") {
			client := redis.NewClient(&redis.Options{
				Addr:     rl.Redis.Address,
				Password: rl.Redis.Password,
				DB:       rl.Redis.DB,
			})
			bg.redis = client
			limiter = middleware.NewRedisRateLimiter(client, limitCfg)
			logger.Info("auth rate limiting enabled", "backend", "redis", "address", rl.Redis.Address)
		} else {
			memory := middleware.NewRateLimiter(limitCfg)
			bg.rateLimiter = memory
			limiter = memory
			logger.Info("auth rate limiting enabled", "backend", "memory")
		}
	}

	bg.sweeper = jobs.NewExpirySweeper(requestRepo, accountRepo, cfg.Provisioning.SweepInterval, logger)

	router := newEngine(cfg, &application{
		login:        loginSvc,
		provisioning: provisioningSvc,
		accounts:     accountSvc,
		sessions:     sessions,
		accountStore: accountRepo,
		authLimiter:  limiter,
		db:           database,
	})
	return router, bg, nil
}

// newEngine registers middleware and routes.
func newEngine(cfg *config.Config, app *application) *gin.Engine {
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoints
	router.GET("/health", healthCheckHandler(app.db))
	router.GET("/ready", readinessHandler(app.db))
	router.GET("/version", versionHandler())

	authHandlers := authn.NewHandlers(app.login)
	provHandlers := provisioning.NewHandlers(app.provisioning)
	userHandlers := admin.NewUserHandlers(app.accounts)

	var throttle gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if app.authLimiter != nil {
		throttle = middleware.RateLimitMiddleware(app.authLimiter, authRateLimitScope)
	}
	requireSession := middleware.AuthMiddleware(app.sessions)
	requireSuperAdmin := middleware.SuperAdminMiddleware(app.sessions, app.accountStore)

	// Registration and login
	authGroup := router.Group("/auth", throttle)
	{
		authGroup.POST("/register", authHandlers.Register())
		authGroup.POST("/verify-register-otp", authHandlers.VerifyRegistration())
		authGroup.POST("/resend-register-otp", authHandlers.ResendRegistrationCode())
		authGroup.POST("/login", authHandlers.Login(services.SurfaceStandard))
		authGroup.POST("/verify-otp", authHandlers.VerifyOTP(services.SurfaceStandard))
	}

	// Self-service profile
	usersGroup := router.Group("/users/me", requireSession)
	{
		usersGroup.GET("", middleware.RequireOperation(auth.OpProfileRead), userHandlers.MeHandler())
		usersGroup.PUT("", middleware.RequireOperation(auth.OpProfileUpdate), userHandlers.UpdateMeHandler())
		usersGroup.DELETE("", middleware.RequireOperation(auth.OpProfileDeactivate), userHandlers.DeactivateMeHandler())
	}

	// Admin and employee tiers share the request/approve flow and the user listing
	for _, tier := range []models.Tier{models.TierAdmin, models.TierEmployee} {
		group := router.Group("/" + string(tier))
		group.POST("/request", throttle, provHandlers.Submit(tier))
		group.POST("/approve", throttle, provHandlers.Approve(tier))
		group.GET("/users", requireSession, middleware.RequireOperation(auth.OpUsersList), userHandlers.ListUsersHandler())
		group.DELETE("/users/:userId", requireSession, middleware.RequireOperation(auth.OpUsersDelete), userHandlers.DeleteUserHandler())
	}
	router.GET("/employee/logs", requireSession, middleware.RequireOperation(auth.OpAuditRead), userHandlers.ListAuditLogsHandler())

	// Super admin
	superGroup := router.Group("/superadmin")
	{
		superGroup.POST("/request", throttle, provHandlers.Submit(models.TierSuperAdmin))
		superGroup.POST("/register", throttle, provHandlers.Approve(models.TierSuperAdmin))
		superGroup.POST("/login", throttle, authHandlers.Login(services.SurfaceSuperAdmin))
		superGroup.POST("/verify-otp", throttle, authHandlers.VerifyOTP(services.SurfaceSuperAdmin))
		superGroup.POST("/verify-signature", throttle, userHandlers.VerifySignatureHandler())

		managed := superGroup.Group("", requireSuperAdmin)
		managed.GET("/users/all", middleware.RequireOperation(auth.OpUsersList), userHandlers.ListUsersHandler())
		managed.GET("/employees/all", middleware.RequireOperation(auth.OpEmployeesList), userHandlers.ListEmployeesHandler())
		managed.POST("/users/:userId/ban", middleware.RequireOperation(auth.OpUsersBan), userHandlers.BanUserHandler())
		managed.POST("/users/:userId/unban", middleware.RequireOperation(auth.OpUsersUnban), userHandlers.UnbanUserHandler())
		managed.GET("/logs", middleware.RequireOperation(auth.OpAuditRead), userHandlers.ListAuditLogsHandler())
	}

	return router
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
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
// @Description  Returns whether the service is ready to accept traffic. Checks database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
func readinessHandler(db pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
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
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// Version is the service release, reported by /version and `server version`.
const Version = "0.1.0"

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}

		requestID, _ := c.Get(middleware.RequestIDKey)
		// Query strings are not logged.
		slog.LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.String("account_id", middleware.AccountID(c)),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PUT, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		wildcard := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" {
				allowed, wildcard = true, true
				break
			}
			if allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			// Credentials are never combined with a wildcard allow-list.
			if !wildcard {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
