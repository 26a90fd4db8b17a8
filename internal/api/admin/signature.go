// signature.go implements the public employee signature check.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vaultplay/storefront-auth/internal/api/respond"
)

// VerifySignatureRequest is the body of POST /superadmin/verify-signature.
type VerifySignatureRequest struct {
	EmployeeID       string `json:"employeeId"`
	PublicKey        string `json:"publicKey"`
	DigitalSignature string `json:"digitalSignature"`
}

// @Summary      Verify an employee signature
// @Description  Checks that digitalSignature is a signature of employeeId under publicKey. Public.
// @Tags         Provisioning
// @Accept       json
// @Produce      json
// @Param        body  body  VerifySignatureRequest  true  "Signature to check"
// @Success      200  {object}  map[string]interface{}  "valid, employeeId"
// @Failure      400  {object}  map[string]interface{}  "Missing field"
// @Router       /superadmin/verify-signature [post]
func (h *UserHandlers) VerifySignatureHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VerifySignatureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "invalid request body")
			return
		}
		valid, err := h.accounts.VerifySignature(req.EmployeeID, req.PublicKey, req.DigitalSignature)
		if err != nil {
			respond.Error(c, err)
			return
		}

		message := "Signature is invalid"
		if valid {
			message = "Signature is valid"
		}
		c.JSON(http.StatusOK, gin.H{
			"valid":      valid,
			"message":    message,
			"employeeId": req.EmployeeID,
		})
	}
}
