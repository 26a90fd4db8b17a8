// Package admin implements the account management endpoints used by staff
// and the self-service profile endpoints. Role checks happen twice: the
// router guards each route with middleware.RequireOperation and the account
// service enforces the per-target rules.
package admin

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/vaultplay/storefront-auth/internal/api/respond"
	"github.com/vaultplay/storefront-auth/internal/db/models"
	"github.com/vaultplay/storefront-auth/internal/middleware"
	"github.com/vaultplay/storefront-auth/internal/services"
)

// AccountManager is the part of services.AccountService the handlers use.
type AccountManager interface {
	ListUsers(ctx context.Context, actor services.Actor, query string, page services.Page) (*services.AccountPage, error)
	ListEmployees(ctx context.Context, actor services.Actor, query string, page services.Page) (*services.AccountPage, error)
	Delete(ctx context.Context, actor services.Actor, targetID string) error
	Ban(ctx context.Context, actor services.Actor, targetID, reason string) (*models.Account, error)
	Unban(ctx context.Context, actor services.Actor, targetID string) (*models.Account, error)
	ListAuditLogs(ctx context.Context, actor services.Actor, q services.AuditQuery) (*services.AuditPage, error)
	GetProfile(ctx context.Context, actor services.Actor) (*models.Account, error)
	UpdateProfile(ctx context.Context, actor services.Actor, upd services.ProfileUpdate) (*models.Account, error)
	Deactivate(ctx context.Context, actor services.Actor) error
	VerifySignature(employeeID, publicKey, signature string) (bool, error)
}

// UserHandlers handles account management endpoints
type UserHandlers struct {
	accounts AccountManager
}

// NewUserHandlers creates a new UserHandlers instance
func NewUserHandlers(accounts AccountManager) *UserHandlers {
	return &UserHandlers{accounts: accounts}
}

// BanRequest is the body of the ban endpoint.
type BanRequest struct {
	Reason string `json:"reason"`
}

// pageFromQuery reads limit and offset. Invalid values fall back to the
// service defaults.
func pageFromQuery(c *gin.Context) services.Page {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return services.Page{Limit: limit, Offset: offset}
}

// @Summary      List users
// @Description  Lists accounts visible to the caller. Employees and admins see user accounts; a superadmin sees every non-superadmin account.
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        q       query  string  false  "Username or email substring"
// @Param        limit   query  int     false  "Page size, max 200 (default 50)"
// @Param        offset  query  int     false  "Offset"
// @Success      200  {object}  services.AccountPage
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Router       /admin/users [get]
// ListUsersHandler lists accounts
// GET /admin/users?q=&limit=50&offset=0
func (h *UserHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := h.accounts.ListUsers(c.Request.Context(), middleware.Actor(c), c.Query("q"), pageFromQuery(c))
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// @Summary      List employees
// @Description  Lists staff accounts. Superadmin only.
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "employees, total, limit, offset"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Router       /superadmin/employees/all [get]
// ListEmployeesHandler lists employee and admin accounts
func (h *UserHandlers) ListEmployeesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := h.accounts.ListEmployees(c.Request.Context(), middleware.Actor(c), c.Query("q"), pageFromQuery(c))
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"employees": page.Accounts,
			"total":     page.Total,
			"limit":     page.Limit,
			"offset":    page.Offset,
		})
	}
}

// @Summary      Delete user
// @Description  Permanently deletes an account.
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        userId  path  string  true  "Account ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /admin/users/{userId} [delete]
// DeleteUserHandler deletes an account
// DELETE /admin/users/:userId
func (h *UserHandlers) DeleteUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.accounts.Delete(c.Request.Context(), middleware.Actor(c), c.Param("userId")); err != nil {
			respond.Error(c, err)
			return
		}
		respond.Message(c, "User deleted")
	}
}

// @Summary      Ban user
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        userId  path  string      true  "Account ID"
// @Param        body    body  BanRequest  true  "Reason"
// @Success      200  {object}  map[string]interface{}  "message, user"
// @Failure      400  {object}  map[string]interface{}  "Reason missing"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /superadmin/users/{userId}/ban [post]
func (h *UserHandlers) BanUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "invalid request body")
			return
		}
		account, err := h.accounts.Ban(c.Request.Context(), middleware.Actor(c), c.Param("userId"), req.Reason)
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "User banned successfully", "user": account})
	}
}

// @Summary      Unban user
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        userId  path  string  true  "Account ID"
// @Success      200  {object}  map[string]interface{}  "message, user"
// @Router       /superadmin/users/{userId}/unban [post]
func (h *UserHandlers) UnbanUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := h.accounts.Unban(c.Request.Context(), middleware.Actor(c), c.Param("userId"))
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "User unbanned successfully", "user": account})
	}
}
