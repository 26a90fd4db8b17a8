package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vaultplay/storefront-auth/internal/apperr"
	"github.com/vaultplay/storefront-auth/internal/audit"
	"github.com/vaultplay/storefront-auth/internal/auth"
	"github.com/vaultplay/storefront-auth/internal/db/models"
	"github.com/vaultplay/storefront-auth/internal/notify"
	"github.com/vaultplay/storefront-auth/internal/telemetry"
	"github.com/vaultplay/storefront-auth/internal/validation"
)

// Surface selects which login entry point is in use. The superadmin surface
// only admits superadmin accounts.
type Surface string

const (
	SurfaceStandard   Surface = ""
	SurfaceSuperAdmin Surface = "superadmin"
)

// SessionMinter issues session credentials.
type SessionMinter interface {
	Issue(accountID string, role auth.Role) (string, time.Time, error)
}

// LoginOptions configures a LoginService.
type LoginOptions struct {
	// CodeTTL is the lifetime of a one-time code. Zero uses auth.DefaultCodeTTL.
	CodeTTL time.Duration
	// From is the sender address on code emails.
	From string
	// Passwords and Codes default to auth.Passwords and auth.Codes.
	Passwords auth.Hasher
	Codes     auth.Hasher
	// Now overrides the clock in tests.
	Now func() time.Time
}

// RegisterInput is a self-service sign-up.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginInput is the first login step.
type LoginInput struct {
	Email    string
	Password string
	Surface  Surface
}

// LoginChallenge is returned when the password step succeeds. The session is
// only issued after the one-time code is verified.
type LoginChallenge struct {
	TwoFactorRequired bool      `json:"twoFactorRequired"`
	AccountID         string    `json:"userId"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

// VerifyInput is the second login step.
type VerifyInput struct {
	AccountID string
	Code      string
	Surface   Surface
	Origin    Origin
}

// Session is an issued session credential.
type Session struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Account   *models.Account `json:"user"`
}

// LoginService runs self-service registration and the two-step login.
type LoginService struct {
	accounts AccountStore
	sessions SessionMinter
	recorder AuditRecorder
	mailer   notify.Mailer
	opts     LoginOptions
	logger   *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewLoginService creates a LoginService.
func NewLoginService(
	accounts AccountStore,
	sessions SessionMinter,
	recorder AuditRecorder,
	mailer notify.Mailer,
	opts LoginOptions,
	logger *slog.Logger,
) *LoginService {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = auth.DefaultCodeTTL
	}
	if opts.Passwords.Cost == 0 {
		opts.Passwords = auth.Passwords
	}
	if opts.Codes.Cost == 0 {
		opts.Codes = auth.Codes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginService{
		accounts: accounts,
		sessions: sessions,
		recorder: recorder,
		mailer:   mailer,
		opts:     opts,
		logger:   logger.With("component", "login"),
	}
}

// RegisterInit creates an unverified user account and emails it a
// verification code. It returns the new account ID.
func (s *LoginService) RegisterInit(ctx context.Context, in RegisterInput) (string, error) {
	id, err := s.registerInit(ctx, in)
	telemetry.LoginAttemptsTotal.WithLabelValues("registration", attemptOutcome(err)).Inc()
	return id, err
}

func (s *LoginService) registerInit(ctx context.Context, in RegisterInput) (string, error) {
	username := strings.TrimSpace(in.Username)
	email := validation.NormalizeEmail(in.Email)

	if err := validation.ValidateUsername(username); err != nil {
		return "", invalidField("username", err)
	}
	if err := validation.ValidateEmail(email); err != nil {
		return "", invalidField("email", err)
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return "", invalidField("password", err)
	}

	taken, err := s.accounts.FindConflicts(ctx, username, email, nil, "")
	if err != nil {
		return "", apperr.Server(err, "conflict check failed")
	}
	if taken.Any() {
		return "", conflictError(taken)
	}

	passwordHash, err := s.opts.Passwords.Hash(in.Password)
	if err != nil {
		return "", apperr.Server(err, "password hashing failed")
	}
	code, codeHash, err := s.newCode()
	if err != nil {
		return "", err
	}

	now := s.opts.Now().UTC()
	expiresAt := now.Add(s.opts.CodeTTL)
	account := &models.Account{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         auth.RoleUser,
		OTPHash:      &codeHash,
		OTPExpiresAt: &expiresAt,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return "", storeError(err, "account insert")
	}

	s.logger.InfoContext(ctx, "account registered", "account_id", account.ID)
	deliver(ctx, s.mailer, s.logger, "registration_code",
		notify.CodeMessage(email, s.opts.From, notify.PurposeRegistration, code, s.opts.CodeTTL))

	return account.ID, nil
}

// ResendRegistrationCode issues a fresh verification code to an unverified
// account. It reports success whether or not the email is known.
func (s *LoginService) ResendRegistrationCode(ctx context.Context, email string) error {
	email = validation.NormalizeEmail(email)
	if err := validation.ValidateEmail(email); err != nil {
		return invalidField("email", err)
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return apperr.Server(err, "account lookup failed")
	}
	if account == nil || account.IsVerified {
		return nil
	}

	code, codeHash, err := s.newCode()
	if err != nil {
		return err
	}
	if ok, err := s.accounts.SetCode(ctx, account.ID, codeHash, s.opts.Now().UTC().Add(s.opts.CodeTTL)); err != nil {
		return apperr.Server(err, "code update failed")
	} else if !ok {
		return nil
	}

	deliver(ctx, s.mailer, s.logger, "registration_code",
		notify.CodeMessage(account.Email, s.opts.From, notify.PurposeRegistration, code, s.opts.CodeTTL))
	return nil
}

// VerifyRegistration redeems a registration code and marks the account verified.
func (s *LoginService) VerifyRegistration(ctx context.Context, accountID, code string) error {
	err := s.verifyRegistration(ctx, accountID, code)
	telemetry.LoginAttemptsTotal.WithLabelValues("registration_code", attemptOutcome(err)).Inc()
	return err
}

func (s *LoginService) verifyRegistration(ctx context.Context, accountID, code string) error {
	if strings.TrimSpace(accountID) == "" {
		return invalidField("userId", validation.ErrRequired)
	}
	if err := validation.ValidateCode(code); err != nil {
		return invalidField("otp", err)
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return apperr.Server(err, "account lookup failed")
	}
	if account == nil {
		return apperr.NotFound("account not found")
	}
	if account.IsVerified {
		return apperr.InvalidState("account already verified")
	}
	if err := s.checkCode(account, code); err != nil {
		return err
	}

	ok, err := s.accounts.ConsumeRegistrationCode(ctx, account.ID, *account.OTPHash)
	if err != nil {
		return apperr.Server(err, "code redemption failed")
	}
	if !ok {
		return apperr.InvalidState("no verification code outstanding")
	}

	s.logger.InfoContext(ctx, "account verified", "account_id", account.ID)
	return nil
}

// Login checks the password and account state, then emails a one-time code.
// Unknown emails and wrong passwords fail identically.
func (s *LoginService) Login(ctx context.Context, in LoginInput) (*LoginChallenge, error) {
	ch, err := s.login(ctx, in)
	telemetry.LoginAttemptsTotal.WithLabelValues("password", attemptOutcome(err)).Inc()
	return ch, err
}

func (s *LoginService) login(ctx context.Context, in LoginInput) (*LoginChallenge, error) {
	email := validation.NormalizeEmail(in.Email)
	if email == "" {
		return nil, invalidField("email", validation.ErrRequired)
	}
	if in.Password == "" {
		return nil, invalidField("password", validation.ErrRequired)
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Server(err, "account lookup failed")
	}
	if account == nil {
		// Spend the same bcrypt work as a real comparison.
		s.opts.Passwords.Matches(in.Password, s.dummyPasswordHash())
		return nil, apperr.Auth()
	}
	if !s.opts.Passwords.Matches(in.Password, account.PasswordHash) {
		return nil, apperr.Auth()
	}
	if in.Surface == SurfaceSuperAdmin && account.Role != auth.RoleSuperAdmin {
		return nil, apperr.Auth()
	}
	if err := accountGate(account); err != nil {
		return nil, err
	}

	code, codeHash, err := s.newCode()
	if err != nil {
		return nil, err
	}
	expiresAt := s.opts.Now().UTC().Add(s.opts.CodeTTL)
	ok, err := s.accounts.SetCode(ctx, account.ID, codeHash, expiresAt)
	if err != nil {
		return nil, apperr.Server(err, "code update failed")
	}
	if !ok {
		return nil, apperr.Auth()
	}

	deliver(ctx, s.mailer, s.logger, "login_code",
		notify.CodeMessage(account.Email, s.opts.From, notify.PurposeLogin, code, s.opts.CodeTTL))

	return &LoginChallenge{TwoFactorRequired: true, AccountID: account.ID, ExpiresAt: expiresAt}, nil
}

// VerifyOTP redeems a login code and issues a session. The code is cleared by
// a compare-and-clear update, so of two concurrent verifications only one
// succeeds.
func (s *LoginService) VerifyOTP(ctx context.Context, in VerifyInput) (*Session, error) {
	sess, err := s.verifyOTP(ctx, in)
	telemetry.LoginAttemptsTotal.WithLabelValues("code", attemptOutcome(err)).Inc()
	return sess, err
}

func (s *LoginService) verifyOTP(ctx context.Context, in VerifyInput) (*Session, error) {
	if strings.TrimSpace(in.AccountID) == "" {
		return nil, invalidField("userId", validation.ErrRequired)
	}
	if err := validation.ValidateCode(in.Code); err != nil {
		return nil, invalidField("otp", err)
	}

	account, err := s.accounts.GetByID(ctx, in.AccountID)
	if err != nil {
		return nil, apperr.Server(err, "account lookup failed")
	}
	if account == nil {
		return nil, apperr.Auth()
	}
	if in.Surface == SurfaceSuperAdmin && account.Role != auth.RoleSuperAdmin {
		return nil, apperr.Auth()
	}
	if err := accountGate(account); err != nil {
		return nil, err
	}
	if err := s.checkCode(account, in.Code); err != nil {
		return nil, err
	}

	now := s.opts.Now().UTC()
	ok, err := s.accounts.ConsumeLoginCode(ctx, account.ID, *account.OTPHash, now)
	if err != nil {
		return nil, apperr.Server(err, "code redemption failed")
	}
	if !ok {
		return nil, apperr.InvalidState("no verification code outstanding")
	}
	account.OTPHash = nil
	account.OTPExpiresAt = nil
	account.LastLoginAt = &now

	token, expiresAt, err := s.sessions.Issue(account.ID, account.Role)
	if err != nil {
		return nil, apperr.Server(err, "session issue failed")
	}

	action := models.ActionLogin
	if in.Surface == SurfaceSuperAdmin {
		action = models.ActionSuperAdminLogin
	}
	s.recorder.Record(ctx, audit.Event{
		Action:    action,
		ActorID:   account.ID,
		IPAddress: in.Origin.IP,
		UserAgent: in.Origin.UserAgent,
	})
	s.logger.InfoContext(ctx, "login completed", "account_id", account.ID, "role", account.Role)

	return &Session{Token: token, ExpiresAt: expiresAt, Account: account}, nil
}

// checkCode applies the outstanding, expiry and match rules in that order.
// An expired code is left in place for the sweeper so repeated attempts keep
// seeing the same result.
func (s *LoginService) checkCode(account *models.Account, code string) error {
	if !account.HasOutstandingCode() {
		return apperr.InvalidState("no verification code outstanding")
	}
	if account.CodeExpired(s.opts.Now().UTC()) {
		return apperr.Expired("verification code has expired")
	}
	if !s.opts.Codes.Matches(code, *account.OTPHash) {
		return apperr.Auth()
	}
	return nil
}

func (s *LoginService) newCode() (code, hash string, err error) {
	code, err = auth.GenerateCode()
	if err != nil {
		return "", "", apperr.Server(err, "code generation failed")
	}
	hash, err = s.opts.Codes.Hash(code)
	if err != nil {
		return "", "", apperr.Server(err, "code hashing failed")
	}
	return code, hash, nil
}

func (s *LoginService) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.opts.Passwords.Hash(uuid.New().String())
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

// accountGate rejects accounts that may not complete a login.
func accountGate(a *models.Account) error {
	if !a.IsVerified {
		return apperr.Forbidden("account not verified")
	}
	if a.IsBanned {
		reason := ""
		if a.BanReason != nil {
			reason = *a.BanReason
		}
		return apperr.Forbidden("account banned").With("reason", reason)
	}
	if !a.IsActive {
		return apperr.Forbidden("account inactive")
	}
	return nil
}

func attemptOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrValidation):
		return "invalid_input"
	case errors.Is(err, apperr.ErrAuth):
		return "invalid"
	case errors.Is(err, apperr.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperr.ErrExpired):
		return "expired"
	case errors.Is(err, apperr.ErrInvalidState):
		return "no_code"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	}
	return "error"
}
