// Package provisioning implements the elevation request endpoints: applying
// for an admin, employee or superadmin account and redeeming the approval
// token that was mailed to the approver.
package provisioning

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vaultplay/storefront-auth/internal/api/respond"
	"github.com/vaultplay/storefront-auth/internal/db/models"
	"github.com/vaultplay/storefront-auth/internal/middleware"
	"github.com/vaultplay/storefront-auth/internal/services"
)

// Workflow is the part of services.ProvisioningService the handlers use.
type Workflow interface {
	Submit(ctx context.Context, in services.SubmitInput) (*models.ElevationRequest, error)
	Approve(ctx context.Context, in services.ApproveInput) (*models.Account, error)
}

// Handlers serves the elevation request endpoints.
type Handlers struct {
	workflow Workflow
}

// NewHandlers creates provisioning handlers backed by workflow.
func NewHandlers(workflow Workflow) *Handlers {
	return &Handlers{workflow: workflow}
}

// SubmitRequest is the body of the request endpoints. EmployeeID is required
// for the employee and superadmin tiers; SecretKey only for superadmin.
type SubmitRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	EmployeeID string `json:"employeeId"`
	SecretKey  string `json:"secretKey"`
}

// ApproveRequest is the body of the approve endpoints.
type ApproveRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

var submittedMessages = map[models.Tier]string{
	models.TierAdmin:      "Admin request sent for approval",
	models.TierEmployee:   "Employee request sent for approval",
	models.TierSuperAdmin: "Super admin request sent. Check email for approval token.",
}

var approvedMessages = map[models.Tier]string{
	models.TierAdmin:      "Admin approved and account created",
	models.TierEmployee:   "Employee approved and account created",
	models.TierSuperAdmin: "Super Admin registered successfully",
}

// @Summary      Request an elevated account
// @Description  Stores an elevation request and mails its approval token to the approver. The token is never returned to the applicant.
// @Tags         Provisioning
// @Accept       json
// @Produce      json
// @Param        body  body  SubmitRequest  true  "Applicant"
// @Success      200  {object}  map[string]interface{}  "message, expiresAt"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      403  {object}  map[string]interface{}  "Invalid secret key (superadmin)"
// @Failure      409  {object}  map[string]interface{}  "Username, email or employee id taken"
// @Router       /employee/request [post]
func (h *Handlers) Submit(tier models.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "invalid request body")
			return
		}
		in := services.SubmitInput{
			Tier:       tier,
			Username:   req.Username,
			Email:      req.Email,
			Password:   req.Password,
			EmployeeID: req.EmployeeID,
		}
		if tier == models.TierSuperAdmin {
			in.SecretKey = req.SecretKey
		}

		request, err := h.workflow.Submit(c.Request.Context(), in)
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":   submittedMessages[tier],
			"expiresAt": request.ExpiresAt,
		})
	}
}

// @Summary      Approve an elevation request
// @Description  Redeems an approval token and creates the account. Each token can be redeemed once.
// @Tags         Provisioning
// @Accept       json
// @Produce      json
// @Param        body  body  ApproveRequest  true  "email (admin/employee) and token"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "Expired request"
// @Failure      401  {object}  map[string]interface{}  "Invalid token"
// @Failure      404  {object}  map[string]interface{}  "No pending request"
// @Router       /employee/approve [post]
func (h *Handlers) Approve(tier models.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ApproveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "invalid request body")
			return
		}
		account, err := h.workflow.Approve(c.Request.Context(), services.ApproveInput{
			Tier:   tier,
			Email:  req.Email,
			Token:  req.Token,
			Origin: middleware.Origin(c),
		})
		if err != nil {
			respond.Error(c, err)
			return
		}

		status := http.StatusOK
		if tier == models.TierSuperAdmin {
			status = http.StatusCreated
		}
		c.JSON(status, gin.H{
			"message": approvedMessages[tier],
			"userId":  account.ID,
		})
	}
}
