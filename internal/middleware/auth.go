// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, request IDs and metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	RequestID → Metrics → Security → RateLimit → Auth → RBAC → Handler
//
// Security headers run early so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attempts before any DB work.
// Auth populates the account identity and role; RBAC reads from that context.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/vaultplay/storefront-auth/internal/api/respond"
	"github.com/vaultplay/storefront-auth/internal/apperr"
	"github.com/vaultplay/storefront-auth/internal/auth"
	"github.com/vaultplay/storefront-auth/internal/db/models"
	"github.com/vaultplay/storefront-auth/internal/services"
)

// Context keys set by the authentication middleware.
const (
	AccountIDKey = "account_id"
	RoleKey      = "role"
	AccountKey   = "account"
)

// SessionValidator validates session tokens.
type SessionValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// AccountLoader loads an account by ID.
type AccountLoader interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

// AuthMiddleware requires a valid session token. The account ID and role from
// the token are stored in the context; the account itself is not loaded.
func AuthMiddleware(sessions SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authenticate(c, sessions)
		if !ok {
			return
		}
		c.Set(AccountIDKey, claims.AccountID)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// SuperAdminMiddleware requires a valid session token for an active,
// unbanned superadmin account. Unlike AuthMiddleware it re-reads the account
// so that a ban or demotion takes effect before the token expires.
func SuperAdminMiddleware(sessions SessionValidator, accounts AccountLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authenticate(c, sessions)
		if !ok {
			return
		}

		account, err := accounts.GetByID(c.Request.Context(), claims.AccountID)
		if err != nil {
			respond.Error(c, apperr.Server(err, "failed to load account"))
			return
		}
		if account == nil {
			respond.Error(c, apperr.Unauthorized("account not found"))
			return
		}
		if account.Role != auth.RoleSuperAdmin {
			respond.Error(c, apperr.Forbidden("super admin access required"))
			return
		}
		if account.IsBanned || !account.IsActive {
			respond.Error(c, apperr.Forbidden("account disabled"))
			return
		}

		c.Set(AccountIDKey, account.ID)
		c.Set(RoleKey, account.Role)
		c.Set(AccountKey, account)
		c.Next()
	}
}

func authenticate(c *gin.Context, sessions SessionValidator) (*auth.Claims, bool) {
	token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
	if err != nil {
		respond.Error(c, apperr.Unauthorized("missing or malformed authorization header"))
		return nil, false
	}
	claims, err := sessions.Validate(token)
	if err != nil {
		respond.Error(c, apperr.Unauthorized("invalid or expired session"))
		return nil, false
	}
	return claims, true
}

// AccountID returns the authenticated account ID, or "" when unauthenticated.
func AccountID(c *gin.Context) string {
	return c.GetString(AccountIDKey)
}

// Role returns the authenticated role, or "" when unauthenticated.
func Role(c *gin.Context) auth.Role {
	if v, ok := c.Get(RoleKey); ok {
		if r, ok := v.(auth.Role); ok {
			return r
		}
	}
	return ""
}

// Origin describes the client of the current request for audit entries.
func Origin(c *gin.Context) services.Origin {
	return services.Origin{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// Actor returns the authenticated caller of the current request.
func Actor(c *gin.Context) services.Actor {
	return services.Actor{ID: AccountID(c), Role: Role(c), Origin: Origin(c)}
}
