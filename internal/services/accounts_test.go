package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaultplay/storefront-auth/internal/apperr"
	"github.com/vaultplay/storefront-auth/internal/auth"
	"github.com/vaultplay/storefront-auth/internal/db/models"
)

type accountsFixture struct {
	svc      *AccountService
	accounts *memAccounts
	logs     *memAuditReader
	audit    *recordingAudit
}

func newAccountsFixture(t *testing.T) *accountsFixture {
	t.Helper()
	f := &accountsFixture{
		accounts: newMemAccounts(),
		logs:     &memAuditReader{},
		audit:    &recordingAudit{},
	}
	f.svc = NewAccountService(f.accounts, f.logs, f.audit, &fakeSigner{}, nil)

	for _, a := range []struct {
		id   string
		role auth.Role
	}{
		{"user1", auth.RoleUser},
		{"user2", auth.RoleUser},
		{"emp1", auth.RoleEmployee},
		{"emp2", auth.RoleEmployee},
		{"admin1", auth.RoleAdmin},
		{"root1", auth.RoleSuperAdmin},
	} {
		f.accounts.put(t, &models.Account{
			ID:         a.id,
			Username:   a.id,
			Email:      a.id + "@example.com",
			Role:       a.role,
			IsVerified: true,
			IsActive:   true,
		})
	}
	return f
}

func actorAs(id string, role auth.Role) Actor {
	return Actor{ID: id, Role: role, Origin: Origin{IP: "198.51.100.4", UserAgent: "test"}}
}

var (
	asUser       = actorAs("user1", auth.RoleUser)
	asEmployee   = actorAs("emp1", auth.RoleEmployee)
	asAdmin      = actorAs("admin1", auth.RoleAdmin)
	asSuperAdmin = actorAs("root1", auth.RoleSuperAdmin)
)

func TestPermissionTableIsEnforced(t *testing.T) {
	f := newAccountsFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   Actor
		op      func(Actor) error
		allowed bool
	}{
		{"user lists users", asUser, func(a Actor) error { _, err := f.svc.ListUsers(ctx, a, "", Page{}); return err }, false},
		{"employee lists users", asEmployee, func(a Actor) error { _, err := f.svc.ListUsers(ctx, a, "", Page{}); return err }, true},
		{"admin lists employees", asAdmin, func(a Actor) error { _, err := f.svc.ListEmployees(ctx, a, "", Page{}); return err }, false},
		{"superadmin lists employees", asSuperAdmin, func(a Actor) error { _, err := f.svc.ListEmployees(ctx, a, "", Page{}); return err }, true},
		{"admin bans", asAdmin, func(a Actor) error { _, err := f.svc.Ban(ctx, a, "user2", "spam"); return err }, false},
		{"admin unbans", asAdmin, func(a Actor) error { _, err := f.svc.Unban(ctx, a, "user2"); return err }, false},
		{"employee reads audit", asEmployee, func(a Actor) error { _, err := f.svc.ListAuditLogs(ctx, a, AuditQuery{}); return err }, false},
		{"superadmin reads audit", asSuperAdmin, func(a Actor) error { _, err := f.svc.ListAuditLogs(ctx, a, AuditQuery{}); return err }, true},
		{"user deletes", asUser, func(a Actor) error { return f.svc.Delete(ctx, a, "user2") }, false},
		{"user reads profile", asUser, func(a Actor) error { _, err := f.svc.GetProfile(ctx, a); return err }, true},
		{"unknown role reads profile", actorAs("x", "guest"), func(a Actor) error { _, err := f.svc.GetProfile(ctx, a); return err }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op(tt.actor)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, apperr.ErrForbidden)
			assert.Equal(t, "insufficient permissions", apperr.Message(err))
		})
	}
}

func TestListUsers_RolesByActor(t *testing.T) {
	f := newAccountsFixture(t)
	ctx := context.Background()

	page, err := f.svc.ListUsers(ctx, asEmployee, "", Page{})
	require.NoError(t, err)
	assert.Equal(t, []auth.Role{auth.RoleUser}, f.accounts.lastList.Roles)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, defaultPageSize, page.Limit)

	page, err = f.svc.ListUsers(ctx, asSuperAdmin, "ali", Page{Limit: 1000, Offset: -3})
	require.NoError(t, err)
	assert.ElementsMatch(t, []auth.Role{auth.RoleUser, auth.RoleEmployee, auth.RoleAdmin}, f.accounts.lastList.Roles)
	assert.Equal(t, "ali", f.accounts.lastList.Query)
	assert.Equal(t, maxPageSize, page.Limit)
	assert.Zero(t, page.Offset)
	assert.Equal(t, 5, page.Total, "superadmins are never listed")
}

func TestListEmployees(t *testing.T) {
	f := newAccountsFixture(t)
	page, err := f.svc.ListEmployees(context.Background(), asSuperAdmin, "", Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	for _, a := range page.Accounts {
		assert.True(t, a.Role.IsStaff())
	}
}

func TestDelete(t *testing.T) {
	t.Run("employee deletes a user", func(t *testing.T) {
		f := newAccountsFixture(t)
		require.NoError(t, f.svc.Delete(context.Background(), asEmployee, "user2"))
		assert.Nil(t, f.accounts.get("user2"))
		require.Len(t, f.audit.events, 1)
		ev := f.audit.events[0]
		assert.Equal(t, models.ActionUserDeleted, ev.Action)
		assert.Equal(t, "emp1", ev.ActorID)
		assert.Equal(t, "user2", ev.TargetID)
	})

	t.Run("employee cannot see other staff", func(t *testing.T) {
		f := newAccountsFixture(t)
		err := f.svc.Delete(context.Background(), asEmployee, "emp2")
		require.ErrorIs(t, err, apperr.ErrNotFound)
		assert.NotNil(t, f.accounts.get("emp2"))
	})

	t.Run("superadmin deletes staff", func(t *testing.T) {
		f := newAccountsFixture(t)
		require.NoError(t, f.svc.Delete(context.Background(), asSuperAdmin, "admin1"))
		assert.Nil(t, f.accounts.get("admin1"))
	})

	t.Run("superadmin targets are protected", func(t *testing.T) {
		f := newAccountsFixture(t)
		err := f.svc.Delete(context.Background(), asSuperAdmin, "root1")
		require.ErrorIs(t, err, apperr.ErrForbidden)
		assert.NotNil(t, f.accounts.get("root1"))
	})

	t.Run("missing target", func(t *testing.T) {
		f := newAccountsFixture(t)
		err := f.svc.Delete(context.Background(), asAdmin, "ghost")
		require.ErrorIs(t, err, apperr.ErrNotFound)
		assert.Empty(t, f.audit.events)
	})
}

func TestBanAndUnban(t *testing.T) {
	f := newAccountsFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ban(ctx, asSuperAdmin, "user2", "   ")
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "reason", apperr.Fields(err)["field"])

	_, err = f.svc.Ban(ctx, asSuperAdmin, "user2", strings.Repeat("x", maxBanReasonLength+1))
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Ban(ctx, asSuperAdmin, "root1", "nope")
	require.ErrorIs(t, err, apperr.ErrForbidden)

	acc, err := f.svc.Ban(ctx, asSuperAdmin, "user2", "chargeback fraud")
	require.NoError(t, err)
	assert.True(t, acc.IsBanned)
	stored := f.accounts.get("user2")
	assert.True(t, stored.IsBanned)
	assert.Equal(t, "chargeback fraud", *stored.BanReason)

	acc, err = f.svc.Unban(ctx, asSuperAdmin, "user2")
	require.NoError(t, err)
	assert.False(t, acc.IsBanned)
	assert.Nil(t, f.accounts.get("user2").BanReason)

	assert.Equal(t, []models.AuditAction{models.ActionUserBanned, models.ActionUserUnbanned}, f.audit.actions())
	assert.Equal(t, "chargeback fraud", f.audit.events[0].Details)
}

func TestBan_BlocksLogin(t *testing.T) {
	f := newAccountsFixture(t)
	ctx := context.Background()
	hash, err := fastHasher.Hash(testPassword)
	require.NoError(t, err)
	f.accounts.put(t, &models.Account{
		ID: "carol", Username: "carol", Email: "carol@example.com",
		PasswordHash: hash, Role: auth.RoleUser, IsVerified: true, IsActive: true,
	})
	login := NewLoginService(f.accounts, &fakeSessions{}, f.audit, &captureMailer{}, LoginOptions{
		Passwords: fastHasher, Codes: fastHasher,
	}, nil)

	_, err = f.svc.Ban(ctx, asSuperAdmin, "carol", "abuse")
	require.NoError(t, err)

	_, err = login.Login(ctx, LoginInput{Email: "carol@example.com", Password: testPassword})
	require.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "abuse", apperr.Fields(err)["reason"])
}

func TestListAuditLogs_Filters(t *testing.T) {
	f := newAccountsFixture(t)
	page, err := f.svc.ListAuditLogs(context.Background(), asSuperAdmin, AuditQuery{
		ActorID: "emp1",
		Action:  "user_deleted",
		Page:    Page{Limit: 25, Offset: 50},
	})
	require.NoError(t, err)
	assert.Len(t, page.Logs, 1)
	require.NotNil(t, f.logs.filters.ActorID)
	assert.Equal(t, "emp1", *f.logs.filters.ActorID)
	require.NotNil(t, f.logs.filters.Action)
	assert.Equal(t, models.ActionUserDeleted, *f.logs.filters.Action)
	assert.Equal(t, 25, f.logs.limit)
	assert.Equal(t, 50, f.logs.offset)
}

func TestUpdateProfile(t *testing.T) {
	f := newAccountsFixture(t)
	ctx := context.Background()
	name := func(s string) *string { return &s }

	_, err := f.svc.UpdateProfile(ctx, asUser, ProfileUpdate{Username: name("user2")})
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, "username", apperr.Fields(err)["fields"])

	_, err = f.svc.UpdateProfile(ctx, asUser, ProfileUpdate{Email: name("not-an-email")})
	require.ErrorIs(t, err, apperr.ErrValidation)

	same, err := f.svc.UpdateProfile(ctx, asUser, ProfileUpdate{Username: name("user1")})
	require.NoError(t, err)
	assert.Equal(t, "user1", same.Username)

	updated, err := f.svc.UpdateProfile(ctx, asUser, ProfileUpdate{Username: name("alice"), Email: name(" alice@example.com ")})
	require.NoError(t, err)
	assert.Equal(t, "alice", updated.Username)
	assert.Equal(t, "alice@example.com", updated.Email)
	assert.Equal(t, "alice", f.accounts.get("user1").Username)
}

func TestDeactivate(t *testing.T) {
	f := newAccountsFixture(t)
	require.NoError(t, f.svc.Deactivate(context.Background(), asUser))

	stored := f.accounts.get("user1")
	assert.True(t, stored.IsBanned)
	assert.Equal(t, SelfDeactivatedReason, *stored.BanReason)
	assert.Equal(t, []models.AuditAction{models.ActionAccountDeactivated}, f.audit.actions())

	err := f.svc.Deactivate(context.Background(), actorAs("ghost", auth.RoleUser))
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestVerifySignature(t *testing.T) {
	f := newAccountsFixture(t)

	ok, err := f.svc.VerifySignature("EMP001", "-----BEGIN PUBLIC KEY-----\nEMP001", "sig:EMP001")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.VerifySignature("EMP002", "-----BEGIN PUBLIC KEY-----\nEMP001", "sig:EMP001")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.VerifySignature("", "pem", "sig")
	require.ErrorIs(t, err, apperr.ErrValidation)
}
