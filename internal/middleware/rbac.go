// Package middleware (rbac.go) implements role-based authorization middleware.
//
// Roles are read from the session token rather than reloaded per request.
// Operations that must observe a ban or demotion immediately are mounted
// behind SuperAdminMiddleware, which re-reads the account.

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/vaultplay/storefront-auth/internal/api/respond"
	"github.com/vaultplay/storefront-auth/internal/apperr"
	"github.com/vaultplay/storefront-auth/internal/auth"
)

// RequireOperation checks that the authenticated role may perform op
// according to auth.Permissions.
func RequireOperation(op auth.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := Role(c)
		if role == "" {
			respond.Error(c, apperr.Unauthorized("authentication required"))
			return
		}
		if err := auth.RequireRole(role, auth.AllowedRoles(op)...); err != nil {
			respond.Error(c, err)
			return
		}
		c.Next()
	}
}
