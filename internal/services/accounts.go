package services

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/vaultplay/storefront-auth/internal/apperr"
	"github.com/vaultplay/storefront-auth/internal/audit"
	"github.com/vaultplay/storefront-auth/internal/auth"
	"github.com/vaultplay/storefront-auth/internal/db/models"
	"github.com/vaultplay/storefront-auth/internal/db/repositories"
	"github.com/vaultplay/storefront-auth/internal/validation"
)

const (
	// SelfDeactivatedReason is the ban reason recorded when a user closes
	// their own account.
	SelfDeactivatedReason = "User self-deleted account"

	maxBanReasonLength = 500
	maxPageSize        = 200
	defaultPageSize    = 50
)

// Actor is the authenticated caller of a management operation.
type Actor struct {
	ID     string
	Role   auth.Role
	Origin Origin
}

// Page bounds a listing.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// AccountPage is one page of accounts.
type AccountPage struct {
	Accounts []*models.Account `json:"users"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// AuditPage is one page of audit log entries.
type AuditPage struct {
	Logs   []*models.AuditLog `json:"logs"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// AuditQuery filters ListAuditLogs.
type AuditQuery struct {
	ActorID string
	Action  string
	Page    Page
}

// ProfileUpdate carries the fields a user may change about themselves. Nil
// fields are left unchanged.
type ProfileUpdate struct {
	Username *string
	Email    *string
}

// AccountService implements account management: listings, bans, deletion,
// the audit log and self-service profile operations. Every operation checks
// auth.Permissions before touching the store.
type AccountService struct {
	accounts AccountStore
	logs     AuditReader
	recorder AuditRecorder
	signer   Signer
	logger   *slog.Logger
}

// NewAccountService creates an AccountService.
func NewAccountService(accounts AccountStore, logs AuditReader, recorder AuditRecorder, signer Signer, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		accounts: accounts,
		logs:     logs,
		recorder: recorder,
		signer:   signer,
		logger:   logger.With("component", "accounts"),
	}
}

// ListUsers lists the accounts visible to the actor. Employees and admins see
// user accounts; a superadmin sees every account except other superadmins.
func (s *AccountService) ListUsers(ctx context.Context, actor Actor, query string, page Page) (*AccountPage, error) {
	if err := auth.RequireRole(actor.Role, auth.AllowedRoles(auth.OpUsersList)...); err != nil {
		return nil, err
	}
	roles := []auth.Role{auth.RoleUser}
	if actor.Role == auth.RoleSuperAdmin {
		roles = []auth.Role{auth.RoleUser, auth.RoleEmployee, auth.RoleAdmin}
	}
	return s.list(ctx, roles, query, page)
}

// ListEmployees lists staff accounts (employees and admins).
func (s *AccountService) ListEmployees(ctx context.Context, actor Actor, query string, page Page) (*AccountPage, error) {
	if err := auth.RequireRole(actor.Role, auth.AllowedRoles(auth.OpEmployeesList)...); err != nil {
		return nil, err
	}
	return s.list(ctx, []auth.Role{auth.RoleEmployee, auth.RoleAdmin}, query, page)
}

func (s *AccountService) list(ctx context.Context, roles []auth.Role, query string, page Page) (*AccountPage, error) {
	page = page.normalize()
	accounts, total, err := s.accounts.List(ctx, repositories.AccountFilter{
		Roles:  roles,
		Query:  query,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		return nil, apperr.Server(err, "account listing failed")
	}
	return &AccountPage{Accounts: accounts, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// target loads the account an operation applies to. Superadmin accounts can
// never be targeted.
func (s *AccountService) target(ctx context.Context, id string) (*models.Account, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalidField("userId", validation.ErrRequired)
	}
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Server(err, "account lookup failed")
	}
	if account == nil {
		return nil, apperr.NotFound("user not found")
	}
	if account.Role == auth.RoleSuperAdmin {
		return nil, apperr.Forbidden("super admin accounts cannot be modified")
	}
	return account, nil
}

// Delete removes an account. Employees and admins may only delete user
// accounts; other targets are reported as not found.
func (s *AccountService) Delete(ctx context.Context, actor Actor, targetID string) error {
	if err := auth.RequireRole(actor.Role, auth.AllowedRoles(auth.OpUsersDelete)...); err != nil {
		return err
	}
	account, err := s.target(ctx, targetID)
	if err != nil {
		return err
	}
	if actor.Role != auth.RoleSuperAdmin && account.Role != auth.RoleUser {
		return apperr.NotFound("user not found")
	}

	ok, err := s.accounts.Delete(ctx, account.ID)
	if err != nil {
		return apperr.Server(err, "account delete failed")
	}
	if !ok {
		return apperr.NotFound("user not found")
	}

	s.logger.InfoContext(ctx, "account deleted", "account_id", account.ID, "actor_id", actor.ID)
	s.recorder.Record(ctx, audit.Event{
		Action:    models.ActionUserDeleted,
		ActorID:   actor.ID,
		TargetID:  account.ID,
		IPAddress: actor.Origin.IP,
		UserAgent: actor.Origin.UserAgent,
		Details:   string(account.Role) + " " + account.Username,
	})
	return nil
}

// Ban bans an account with a reason.
func (s *AccountService) Ban(ctx context.Context, actor Actor, targetID, reason string) (*models.Account, error) {
	if err := auth.RequireRole(actor.Role, auth.AllowedRoles(auth.OpUsersBan)...); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalidField("reason", validation.ErrRequired)
	}
	if utf8.RuneCountInString(reason) > maxBanReasonLength {
		return nil, apperr.Validation("reason must be at most %d characters", maxBanReasonLength).With("field", "reason")
	}
	return s.setBan(ctx, actor, targetID, true, &reason)
}

// Unban lifts a ban.
func (s *AccountService) Unban(ctx context.Context, actor Actor, targetID string) (*models.Account, error) {
	if err := auth.RequireRole(actor.Role, auth.AllowedRoles(auth.OpUsersUnban)...); err != nil {
		return nil, err
	}
	return s.setBan(ctx, actor, targetID, false, nil)
}

func (s *AccountService) setBan(ctx context.Context, actor Actor, targetID string, banned bool, reason *string) (*models.Account, error) {
	account, err := s.target(ctx, targetID)
	if err != nil {
		return nil, err
	}
	ok, err := s.accounts.SetBan(ctx, account.ID, banned, reason)
	if err != nil {
		return nil, apperr.Server(err, "ban update failed")
	}
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	account.IsBanned = banned
	account.BanReason = reason

	action := models.ActionUserUnbanned
	details := ""
	if banned {
		action = models.ActionUserBanned
		details = *reason
	}
	s.logger.InfoContext(ctx, "account ban state changed", "account_id", account.ID, "banned", banned, "actor_id", actor.ID)
	s.recorder.Record(ctx, audit.Event{
		Action:    action,
		ActorID:   actor.ID,
		TargetID:  account.ID,
		IPAddress: actor.Origin.IP,
		UserAgent: actor.Origin.UserAgent,
		Details:   details,
	})
	return account, nil
}

// ListAuditLogs returns audit log entries, newest first.
func (s *AccountService) ListAuditLogs(ctx context.Context, actor Actor, q AuditQuery) (*AuditPage, error) {
	if err := auth.RequireRole(actor.Role, auth.AllowedRoles(auth.OpAuditRead)...); err != nil {
		return nil, err
	}
	page := q.Page.normalize()

	var filters repositories.AuditFilters
	if q.ActorID != "" {
		filters.ActorID = &q.ActorID
	}
	if q.Action != "" {
		action := models.AuditAction(q.Action)
		filters.Action = &action
	}

	logs, total, err := s.logs.ListAuditLogs(ctx, filters, page.Limit, page.Offset)
	if err != nil {
		return nil, apperr.Server(err, "audit log listing failed")
	}
	return &AuditPage{Logs: logs, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// GetProfile returns the actor's own account.
func (s *AccountService) GetProfile(ctx context.Context, actor Actor) (*models.Account, error) {
	if err := auth.RequireRole(actor.Role, auth.AllowedRoles(auth.OpProfileRead)...); err != nil {
		return nil, err
	}
	account, err := s.accounts.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, apperr.Server(err, "account lookup failed")
	}
	if account == nil {
		return nil, apperr.NotFound("user not found")
	}
	return account, nil
}

// UpdateProfile changes the actor's username and/or email.
func (s *AccountService) UpdateProfile(ctx context.Context, actor Actor, upd ProfileUpdate) (*models.Account, error) {
	if err := auth.RequireRole(actor.Role, auth.AllowedRoles(auth.OpProfileUpdate)...); err != nil {
		return nil, err
	}
	current, err := s.GetProfile(ctx, actor)
	if err != nil {
		return nil, err
	}

	username, email := current.Username, current.Email
	if upd.Username != nil {
		username = strings.TrimSpace(*upd.Username)
		if err := validation.ValidateUsername(username); err != nil {
			return nil, invalidField("username", err)
		}
	}
	if upd.Email != nil {
		email = validation.NormalizeEmail(*upd.Email)
		if err := validation.ValidateEmail(email); err != nil {
			return nil, invalidField("email", err)
		}
	}
	if username == current.Username && email == current.Email {
		return current, nil
	}

	taken, err := s.accounts.FindConflicts(ctx, username, email, nil, current.ID)
	if err != nil {
		return nil, apperr.Server(err, "conflict check failed")
	}
	if taken.Any() {
		return nil, conflictError(taken)
	}

	updated, err := s.accounts.UpdateProfile(ctx, current.ID, username, email)
	if err != nil {
		return nil, storeError(err, "profile update")
	}
	if updated == nil {
		return nil, apperr.NotFound("user not found")
	}
	return updated, nil
}

// Deactivate closes the actor's own account. The account is banned rather
// than removed so the username and email stay reserved.
func (s *AccountService) Deactivate(ctx context.Context, actor Actor) error {
	if err := auth.RequireRole(actor.Role, auth.AllowedRoles(auth.OpProfileDeactivate)...); err != nil {
		return err
	}
	reason := SelfDeactivatedReason
	ok, err := s.accounts.SetBan(ctx, actor.ID, true, &reason)
	if err != nil {
		return apperr.Server(err, "deactivation failed")
	}
	if !ok {
		return apperr.NotFound("user not found")
	}
	s.recorder.Record(ctx, audit.Event{
		Action:    models.ActionAccountDeactivated,
		ActorID:   actor.ID,
		TargetID:  actor.ID,
		IPAddress: actor.Origin.IP,
		UserAgent: actor.Origin.UserAgent,
	})
	return nil
}

// VerifySignature checks that signature binds employeeID to publicKey.
func (s *AccountService) VerifySignature(employeeID, publicKey, signature string) (bool, error) {
	switch {
	case strings.TrimSpace(employeeID) == "":
		return false, invalidField("employeeId", validation.ErrRequired)
	case strings.TrimSpace(publicKey) == "":
		return false, invalidField("publicKey", validation.ErrRequired)
	case strings.TrimSpace(signature) == "":
		return false, invalidField("signature", validation.ErrRequired)
	}
	return s.signer.Verify(strings.TrimSpace(employeeID), strings.TrimSpace(signature), publicKey), nil
}
