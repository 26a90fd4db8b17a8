// profile.go implements the self-service endpoints under /users/me.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vaultplay/storefront-auth/internal/api/respond"
	"github.com/vaultplay/storefront-auth/internal/middleware"
	"github.com/vaultplay/storefront-auth/internal/services"
)

// UpdateProfileRequest is the body of PUT /users/me. Omitted fields are left
// unchanged.
type UpdateProfileRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
}

// @Summary      Current account
// @Tags         Profile
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  models.Account
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /users/me [get]
func (h *UserHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := h.accounts.GetProfile(c.Request.Context(), middleware.Actor(c))
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, account)
	}
}

// @Summary      Update current account
// @Tags         Profile
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  UpdateProfileRequest  true  "username and/or email"
// @Success      200  {object}  models.Account
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      409  {object}  map[string]interface{}  "Username or email taken"
// @Router       /users/me [put]
func (h *UserHandlers) UpdateMeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "invalid request body")
			return
		}
		account, err := h.accounts.UpdateProfile(c.Request.Context(), middleware.Actor(c), services.ProfileUpdate{
			Username: req.Username,
			Email:    req.Email,
		})
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, account)
	}
}

// @Summary      Deactivate current account
// @Description  Closes the caller's account. The username and email stay reserved.
// @Tags         Profile
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "message"
// @Router       /users/me [delete]
func (h *UserHandlers) DeactivateMeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.accounts.Deactivate(c.Request.Context(), middleware.Actor(c)); err != nil {
			respond.Error(c, err)
			return
		}
		respond.Message(c, "Account deactivated")
	}
}
