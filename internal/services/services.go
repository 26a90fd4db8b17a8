// Package services implements the storefront identity workflows on top of the
// repositories: elevation request provisioning, two-factor login and account
// management. Services return *apperr.Error values for every expected
// failure; anything else is an internal error and is logged, never shown.
package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/vaultplay/storefront-auth/internal/apperr"
	"github.com/vaultplay/storefront-auth/internal/audit"
	"github.com/vaultplay/storefront-auth/internal/crypto"
	"github.com/vaultplay/storefront-auth/internal/db/models"
	"github.com/vaultplay/storefront-auth/internal/db/repositories"
	"github.com/vaultplay/storefront-auth/internal/notify"
	"github.com/vaultplay/storefront-auth/internal/telemetry"
)

// AccountStore is the credential store.
type AccountStore interface {
	Create(ctx context.Context, a *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	FindConflicts(ctx context.Context, username, email string, employeeID *string, excludeID string) (repositories.Conflicts, error)
	SetCode(ctx context.Context, id, codeHash string, expiresAt time.Time) (bool, error)
	ConsumeLoginCode(ctx context.Context, id, codeHash string, at time.Time) (bool, error)
	ConsumeRegistrationCode(ctx context.Context, id, codeHash string) (bool, error)
	SetBan(ctx context.Context, id string, banned bool, reason *string) (bool, error)
	UpdateProfile(ctx context.Context, id, username, email string) (*models.Account, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, f repositories.AccountFilter) ([]*models.Account, int, error)
}

// ElevationStore holds pending elevation requests.
type ElevationStore interface {
	Create(ctx context.Context, req *models.ElevationRequest) error
	FindPendingByEmail(ctx context.Context, tier models.Tier, email string) (*models.ElevationRequest, error)
	FindPendingByTokenHash(ctx context.Context, tier models.Tier, tokenHash string) (*models.ElevationRequest, error)
	FindPendingConflicts(ctx context.Context, tier models.Tier, username, email string, employeeID *string, now time.Time) (repositories.Conflicts, error)
	DeleteExpired(ctx context.Context, tier models.Tier, now time.Time) (int64, error)
	Approve(ctx context.Context, requestID string, account *models.Account, now time.Time) error
}

// AuditRecorder appends to the audit log. Recording never fails the caller.
type AuditRecorder interface {
	Record(ctx context.Context, ev audit.Event)
}

// AuditReader lists audit log entries.
type AuditReader interface {
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
}

// Signer creates and checks identity key material for signed tiers.
type Signer interface {
	NewIdentity(identifier string) (*crypto.Identity, error)
	Verify(identifier, signatureHex, publicPEM string) bool
}

// Origin identifies where a request came from, for the audit log.
type Origin struct {
	IP        string
	UserAgent string
}

func conflictError(c repositories.Conflicts) *apperr.Error {
	fields := c.Fields()
	return apperr.Conflict("%s already in use", strings.Join(fields, ", ")).
		With("fields", strings.Join(fields, ","))
}

// storeError maps repository errors to apperr kinds. Unique violations that
// slipped past the pre-checks become conflicts.
func storeError(err error, op string) error {
	var dup *repositories.DuplicateError
	if errors.As(err, &dup) {
		if dup.Field == "" {
			return apperr.Conflict("record already exists")
		}
		return apperr.Conflict("%s already in use", dup.Field).With("fields", dup.Field)
	}
	return apperr.Server(err, "%s failed", op)
}

func invalidField(field string, err error) *apperr.Error {
	return apperr.Validation("%s %v", field, err).With("field", field)
}

// deliver sends msg and records the outcome. Delivery failures are logged and
// counted but not returned.
func deliver(ctx context.Context, mailer notify.Mailer, logger *slog.Logger, kind string, msg notify.Message) {
	if err := mailer.Send(ctx, msg); err != nil {
		telemetry.NotificationsSentTotal.WithLabelValues(kind, "failed").Inc()
		logger.WarnContext(ctx, "notification delivery failed", "kind", kind, "to", msg.To, "error", err)
		return
	}
	telemetry.NotificationsSentTotal.WithLabelValues(kind, "sent").Inc()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
