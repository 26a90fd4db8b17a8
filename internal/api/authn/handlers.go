// Package authn implements the public registration and two-step login
// endpoints. The standard and super-admin surfaces share one handler set; the
// surface only changes which accounts may log in and the JSON field that
// carries the account ID.
package authn

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vaultplay/storefront-auth/internal/api/respond"
	"github.com/vaultplay/storefront-auth/internal/middleware"
	"github.com/vaultplay/storefront-auth/internal/services"
)

// LoginFlow is the part of services.LoginService the handlers use.
type LoginFlow interface {
	RegisterInit(ctx context.Context, in services.RegisterInput) (string, error)
	VerifyRegistration(ctx context.Context, accountID, code string) error
	ResendRegistrationCode(ctx context.Context, email string) error
	Login(ctx context.Context, in services.LoginInput) (*services.LoginChallenge, error)
	VerifyOTP(ctx context.Context, in services.VerifyInput) (*services.Session, error)
}

// Handlers serves the authentication endpoints.
type Handlers struct {
	flow LoginFlow
}

// NewHandlers creates authentication handlers backed by flow.
func NewHandlers(flow LoginFlow) *Handlers {
	return &Handlers{flow: flow}
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CodeRequest carries an account ID and the one-time code sent to it.
type CodeRequest struct {
	UserID       string `json:"userId"`
	SuperAdminID string `json:"superAdminId"`
	OTP          string `json:"otp"`
}

func (r CodeRequest) accountID() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.SuperAdminID
}

// LoginRequest is the body of the login endpoints.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ResendRequest is the body of POST /auth/resend-register-otp.
type ResendRequest struct {
	Email string `json:"email"`
}

// @Summary      Register
// @Description  Creates an unverified user account and emails a verification code.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  RegisterRequest  true  "New account"
// @Success      201  {object}  map[string]interface{}  "message, userId"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      409  {object}  map[string]interface{}  "Username or email taken"
// @Router       /auth/register [post]
func (h *Handlers) Register() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "invalid request body")
			return
		}
		id, err := h.flow.RegisterInit(c.Request.Context(), services.RegisterInput{
			Username: req.Username,
			Email:    req.Email,
			Password: req.Password,
		})
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "OTP sent", "userId": id})
	}
}

// @Summary      Verify registration
// @Description  Confirms a new account with the code sent by Register.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  CodeRequest  true  "userId and otp"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "Expired or missing code"
// @Failure      401  {object}  map[string]interface{}  "Wrong code"
// @Router       /auth/verify-register-otp [post]
func (h *Handlers) VerifyRegistration() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "invalid request body")
			return
		}
		if err := h.flow.VerifyRegistration(c.Request.Context(), req.accountID(), req.OTP); err != nil {
			respond.Error(c, err)
			return
		}
		respond.Message(c, "Account verified")
	}
}

// ResendRegistrationCode always answers 200 so the endpoint cannot be used to
// probe which emails are registered.
func (h *Handlers) ResendRegistrationCode() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "invalid request body")
			return
		}
		if err := h.flow.ResendRegistrationCode(c.Request.Context(), req.Email); err != nil {
			respond.Error(c, err)
			return
		}
		respond.Message(c, "If the account exists and is unverified, a new code has been sent")
	}
}

// @Summary      Login
// @Description  Checks the password and emails a one-time code. The session is issued by verify-otp.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Credentials"
// @Success      200  {object}  map[string]interface{}  "twoFactorRequired, userId"
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Failure      403  {object}  map[string]interface{}  "Account not verified, banned or inactive"
// @Router       /auth/login [post]
func (h *Handlers) Login(surface services.Surface) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "invalid request body")
			return
		}
		challenge, err := h.flow.Login(c.Request.Context(), services.LoginInput{
			Email:    req.Email,
			Password: req.Password,
			Surface:  surface,
		})
		if err != nil {
			respond.Error(c, err)
			return
		}

		body := gin.H{"twoFactorRequired": challenge.TwoFactorRequired, "expiresAt": challenge.ExpiresAt}
		if surface == services.SurfaceSuperAdmin {
			body["superAdminId"] = challenge.AccountID
		} else {
			body["userId"] = challenge.AccountID
		}
		c.JSON(http.StatusOK, body)
	}
}

// @Summary      Verify login code
// @Description  Exchanges the emailed one-time code for a session token valid for one day.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  CodeRequest  true  "userId (or superAdminId) and otp"
// @Success      200  {object}  map[string]interface{}  "token, expiresAt"
// @Failure      400  {object}  map[string]interface{}  "Expired or missing code"
// @Failure      401  {object}  map[string]interface{}  "Wrong code"
// @Router       /auth/verify-otp [post]
func (h *Handlers) VerifyOTP(surface services.Surface) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "invalid request body")
			return
		}
		session, err := h.flow.VerifyOTP(c.Request.Context(), services.VerifyInput{
			AccountID: req.accountID(),
			Code:      req.OTP,
			Surface:   surface,
			Origin:    middleware.Origin(c),
		})
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": session.Token, "expiresAt": session.ExpiresAt})
	}
}
