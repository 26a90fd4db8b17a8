package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vaultplay/storefront-auth/internal/apperr"
	"github.com/vaultplay/storefront-auth/internal/audit"
	"github.com/vaultplay/storefront-auth/internal/auth"
	"github.com/vaultplay/storefront-auth/internal/db/models"
	"github.com/vaultplay/storefront-auth/internal/db/repositories"
	"github.com/vaultplay/storefront-auth/internal/notify"
	"github.com/vaultplay/storefront-auth/internal/telemetry"
	"github.com/vaultplay/storefront-auth/internal/validation"
	"github.com/vaultplay/storefront-auth/pkg/checksum"
)

// ProvisioningOptions configures a ProvisioningService.
type ProvisioningOptions struct {
	// SuperAdminSecretKey gates superadmin submissions. Empty disables the tier.
	SuperAdminSecretKey string
	// ApproverEmail receives approval tokens.
	ApproverEmail string
	// From is the sender address on approval emails.
	From string
	// TTL returns how long a request of the tier stays approvable.
	TTL func(models.Tier) time.Duration
	// Passwords hashes applicant passwords. Zero value uses auth.Passwords.
	Passwords auth.Hasher
	// Now overrides the clock in tests.
	Now func() time.Time
}

// DefaultRequestTTL returns the built-in lifetime for a tier: 24 hours for
// superadmin, 10 minutes otherwise.
func DefaultRequestTTL(t models.Tier) time.Duration {
	if t == models.TierSuperAdmin {
		return 24 * time.Hour
	}
	return 10 * time.Minute
}

// SubmitInput is an application for an elevated account.
type SubmitInput struct {
	Tier       models.Tier
	Username   string
	Email      string
	Password   string
	EmployeeID string
	// SecretKey is only consulted for the superadmin tier.
	SecretKey string
}

// ApproveInput redeems an approval token. Email selects the request for the
// admin and employee tiers; superadmin requests are found by token alone.
type ApproveInput struct {
	Tier   models.Tier
	Email  string
	Token  string
	Origin Origin
}

// ProvisioningService runs the elevation request workflow: submit a request,
// deliver its approval token out of band, then redeem the token exactly once
// to create the account.
type ProvisioningService struct {
	accounts AccountStore
	requests ElevationStore
	signer   Signer
	recorder AuditRecorder
	mailer   notify.Mailer
	opts     ProvisioningOptions
	logger   *slog.Logger
}

// NewProvisioningService creates a ProvisioningService.
func NewProvisioningService(
	accounts AccountStore,
	requests ElevationStore,
	signer Signer,
	recorder AuditRecorder,
	mailer notify.Mailer,
	opts ProvisioningOptions,
	logger *slog.Logger,
) *ProvisioningService {
	if opts.TTL == nil {
		opts.TTL = DefaultRequestTTL
	}
	if opts.Passwords.Cost == 0 {
		opts.Passwords = auth.Passwords
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProvisioningService{
		accounts: accounts,
		requests: requests,
		signer:   signer,
		recorder: recorder,
		mailer:   mailer,
		opts:     opts,
		logger:   logger.With("component", "provisioning"),
	}
}

// Submit validates and stores a new elevation request and sends its approval
// token to the approver mailbox. The returned request never carries the raw
// token.
func (s *ProvisioningService) Submit(ctx context.Context, in SubmitInput) (*models.ElevationRequest, error) {
	req, err := s.submit(ctx, in)
	telemetry.ProvisioningRequestsTotal.WithLabelValues(string(in.Tier), submitOutcome(err)).Inc()
	return req, err
}

func (s *ProvisioningService) submit(ctx context.Context, in SubmitInput) (*models.ElevationRequest, error) {
	tier, err := models.ParseTier(string(in.Tier))
	if err != nil {
		return nil, apperr.Validation("unknown request tier").With("field", "tier")
	}

	username := strings.TrimSpace(in.Username)
	email := validation.NormalizeEmail(in.Email)
	employeeID := strings.TrimSpace(in.EmployeeID)

	if err := validation.ValidateUsername(username); err != nil {
		return nil, invalidField("username", err)
	}
	if err := validation.ValidateEmail(email); err != nil {
		return nil, invalidField("email", err)
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, invalidField("password", err)
	}
	if tier.RequiresEmployeeID() || employeeID != "" {
		if err := validation.ValidateEmployeeID(employeeID); err != nil {
			return nil, invalidField("employeeId", err)
		}
	}

	if tier == models.TierSuperAdmin && !s.secretKeyMatches(in.SecretKey) {
		return nil, apperr.Forbidden("invalid secret key")
	}

	now := s.opts.Now().UTC()

	if n, err := s.requests.DeleteExpired(ctx, tier, now); err != nil {
		s.logger.WarnContext(ctx, "failed to purge expired requests", "tier", tier, "error", err)
	} else if n > 0 {
		telemetry.SweptRecordsTotal.WithLabelValues("elevation_request").Add(float64(n))
	}

	empID := optionalString(employeeID)
	taken, err := s.accounts.FindConflicts(ctx, username, email, empID, "")
	if err != nil {
		return nil, apperr.Server(err, "conflict check failed")
	}
	pending, err := s.requests.FindPendingConflicts(ctx, tier, username, email, empID, now)
	if err != nil {
		return nil, apperr.Server(err, "conflict check failed")
	}
	taken.Username = taken.Username || pending.Username
	taken.Email = taken.Email || pending.Email
	taken.EmployeeID = taken.EmployeeID || pending.EmployeeID
	if taken.Any() {
		return nil, conflictError(taken)
	}

	passwordHash, err := s.opts.Passwords.Hash(in.Password)
	if err != nil {
		return nil, apperr.Server(err, "password hashing failed")
	}

	token, err := auth.GenerateApprovalToken()
	if err != nil {
		return nil, apperr.Server(err, "token generation failed")
	}

	req := &models.ElevationRequest{
		ID:                uuid.New().String(),
		Tier:              tier,
		Username:          username,
		Email:             email,
		PasswordHash:      passwordHash,
		EmployeeID:        empID,
		ApprovalTokenHash: checksum.HashString(token),
		ExpiresAt:         now.Add(s.opts.TTL(tier)),
		CreatedAt:         now,
	}

	if tier.Signed() {
		identity, err := s.signer.NewIdentity(employeeID)
		if err != nil {
			return nil, apperr.Server(err, "identity generation failed")
		}
		req.PublicKey = &identity.PublicKey
		req.EncryptedPrivateKey = &identity.EncryptedPrivateKey
		req.DigitalSignature = &identity.Signature
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, storeError(err, "request insert")
	}

	s.logger.InfoContext(ctx, "elevation request submitted",
		"request_id", req.ID, "tier", tier, "username", username, "expires_at", req.ExpiresAt)

	approval := notify.ApprovalRequest{
		Tier:       string(tier),
		Username:   username,
		Email:      email,
		EmployeeID: employeeID,
		Token:      token,
		ExpiresAt:  req.ExpiresAt,
	}
	if req.PublicKey != nil {
		approval.PublicKey = *req.PublicKey
		approval.Signature = *req.DigitalSignature
	}
	deliver(ctx, s.mailer, s.logger, "approval", notify.ApprovalMessage(s.opts.ApproverEmail, s.opts.From, approval))

	return req, nil
}

func (s *ProvisioningService) secretKeyMatches(given string) bool {
	want := s.opts.SuperAdminSecretKey
	if want == "" || given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(given)) == 1
}

// Approve redeems an approval token and creates the account. A token can be
// redeemed once: the request is marked used in the same transaction that
// inserts the account.
func (s *ProvisioningService) Approve(ctx context.Context, in ApproveInput) (*models.Account, error) {
	account, err := s.approve(ctx, in)
	telemetry.ProvisioningApprovalsTotal.WithLabelValues(string(in.Tier), approveOutcome(err)).Inc()
	return account, err
}

func (s *ProvisioningService) approve(ctx context.Context, in ApproveInput) (*models.Account, error) {
	tier, err := models.ParseTier(string(in.Tier))
	if err != nil {
		return nil, apperr.Validation("unknown request tier").With("field", "tier")
	}

	token := strings.ToLower(strings.TrimSpace(in.Token))
	if err := validation.ValidateApprovalToken(token); err != nil {
		if errors.Is(err, validation.ErrRequired) {
			return nil, invalidField("token", err)
		}
		return nil, apperr.InvalidToken("invalid approval token")
	}
	email := validation.NormalizeEmail(in.Email)
	if tier != models.TierSuperAdmin && email == "" {
		return nil, invalidField("email", validation.ErrRequired)
	}
	tokenHash := checksum.HashString(token)

	var req *models.ElevationRequest
	if tier == models.TierSuperAdmin {
		req, err = s.requests.FindPendingByTokenHash(ctx, tier, tokenHash)
	} else {
		req, err = s.requests.FindPendingByEmail(ctx, tier, email)
	}
	if err != nil {
		return nil, apperr.Server(err, "request lookup failed")
	}
	if req == nil {
		return nil, apperr.NotFound("no pending request found")
	}

	now := s.opts.Now().UTC()
	if req.Expired(now) {
		return nil, apperr.Expired("approval token has expired")
	}
	if !checksum.Equal(req.ApprovalTokenHash, tokenHash) {
		return nil, apperr.InvalidToken("invalid approval token")
	}

	account := req.NewAccount(uuid.New().String(), now)
	if err := s.requests.Approve(ctx, req.ID, account, now); err != nil {
		if errors.Is(err, repositories.ErrNotPending) {
			return nil, apperr.NotFound("no pending request found")
		}
		return nil, storeError(err, "approval")
	}

	s.logger.InfoContext(ctx, "elevation request approved",
		"request_id", req.ID, "tier", tier, "account_id", account.ID)

	s.recorder.Record(ctx, audit.Event{
		Action:    models.ApprovalAction(tier),
		TargetID:  account.ID,
		IPAddress: in.Origin.IP,
		UserAgent: in.Origin.UserAgent,
		Details:   "request " + req.ID,
	})

	return account, nil
}

func submitOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, apperr.ErrValidation):
		return "invalid"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrForbidden):
		return "forbidden"
	}
	return "error"
}

func approveOutcome(err error) string {
	switch {
	case err == nil:
		return "approved"
	case errors.Is(err, apperr.ErrValidation):
		return "invalid"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrExpired):
		return "expired"
	case errors.Is(err, apperr.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	}
	return "error"
}
