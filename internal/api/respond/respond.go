// Package respond writes JSON error responses for handlers and middleware.
// Every service error is mapped to a status from its apperr kind; internal
// causes are logged and never written to the client.
package respond

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vaultplay/storefront-auth/internal/apperr"
)

// requestIDKey mirrors middleware.RequestIDKey without importing middleware.
const requestIDKey = "request_id"

// Status returns the HTTP status code for err.
func Status(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrExpired),
		errors.Is(err, apperr.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrAuth),
		errors.Is(err, apperr.ErrInvalidToken),
		errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// Error aborts the request with the status and caller-safe body for err.
// Structured fields on the error are copied into the body next to "error".
func Error(c *gin.Context, err error) {
	status := Status(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", c.GetString(requestIDKey),
			"error", err)
	}

	body := gin.H{"error": apperr.Message(err)}
	if status != http.StatusInternalServerError {
		for k, v := range apperr.Fields(err) {
			if k != "error" {
				body[k] = v
			}
		}
	}
	c.AbortWithStatusJSON(status, body)
}

// BadRequest aborts with a 400 for a malformed request body.
func BadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": message})
}

// Message writes a 200 with a single message field.
func Message(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{"message": message})
}
