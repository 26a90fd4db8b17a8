package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/vaultplay/storefront-auth/internal/auth"
	"github.com/vaultplay/storefront-auth/internal/db/models"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newAccountRepo(t *testing.T) (*AccountRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAccountRepository(sqlx.NewDb(db, "sqlmock")), mock
}

var accountMinCols = []string{
	"id", "username", "email", "password_hash", "role", "employee_id",
	"is_verified", "otp_hash", "otp_expires_at", "is_banned", "ban_reason", "is_active",
	"created_at", "updated_at",
}

func sampleAccountRow() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(accountMinCols).
		AddRow("acc-1", "alice", "alice@example.com", "$2a$12$hash", "user", nil,
			true, nil, nil, false, nil, true, now, now)
}

func sampleAccount() *models.Account {
	now := time.Now()
	return &models.Account{
		ID:           "acc-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "$2a$12$hash",
		Role:         auth.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestAccountCreate_Success(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectExec("INSERT INTO accounts").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), sampleAccount()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAccountCreate_DuplicateEmail(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectExec("INSERT INTO accounts").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "accounts_email_key"})

	err := repo.Create(context.Background(), sampleAccount())
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	var dup *DuplicateError
	if !errors.As(err, &dup) || dup.Field != "email" {
		t.Errorf("expected duplicate field email, got %+v", dup)
	}
}

func TestAccountCreate_OtherError(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectExec("INSERT INTO accounts").WillReturnError(errors.New("boom"))

	err := repo.Create(context.Background(), sampleAccount())
	if err == nil || errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected plain error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// GetByID / GetByEmail
// ---------------------------------------------------------------------------

func TestAccountGetByID_Found(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectQuery("SELECT.*FROM accounts WHERE id").
		WithArgs("acc-1").
		WillReturnRows(sampleAccountRow())

	a, err := repo.GetByID(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == nil || a.Username != "alice" || a.Role != auth.RoleUser {
		t.Errorf("unexpected account: %+v", a)
	}
}

func TestAccountGetByID_NotFound(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectQuery("SELECT.*FROM accounts WHERE id").
		WillReturnRows(sqlmock.NewRows(accountMinCols))

	a, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != nil {
		t.Errorf("expected nil, got %+v", a)
	}
}

func TestAccountGetByEmail_CaseInsensitive(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectQuery(`LOWER\(email\) = LOWER`).
		WithArgs("ALICE@example.com").
		WillReturnRows(sampleAccountRow())

	a, err := repo.GetByEmail(context.Background(), "ALICE@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == nil {
		t.Fatal("expected account, got nil")
	}
}

func TestAccountGetByEmail_Error(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectQuery("SELECT.*FROM accounts").WillReturnError(sql.ErrConnDone)

	if _, err := repo.GetByEmail(context.Background(), "a@b.c"); err == nil {
		t.Fatal("expected error")
	}
}

// ---------------------------------------------------------------------------
// FindConflicts
// ---------------------------------------------------------------------------

func TestAccountFindConflicts(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectQuery("SELECT username, email, employee_id").
		WillReturnRows(sqlmock.NewRows([]string{"username", "email", "employee_id"}).
			AddRow("alice", "other@example.com", nil).
			AddRow("bob", "ALICE@example.com", "EMP-1"))

	c, err := repo.FindConflicts(context.Background(), "alice", "alice@example.com", strPtr("EMP-1"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Username || !c.Email || !c.EmployeeID {
		t.Errorf("expected all conflicts, got %+v", c)
	}
	if got := c.Fields(); len(got) != 3 || got[2] != "employeeId" {
		t.Errorf("Fields() = %v", got)
	}
}

func TestAccountFindConflicts_None(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectQuery("SELECT username, email, employee_id").
		WillReturnRows(sqlmock.NewRows([]string{"username", "email", "employee_id"}))

	c, err := repo.FindConflicts(context.Background(), "alice", "alice@example.com", nil, "acc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Any() {
		t.Errorf("expected no conflicts, got %+v", c)
	}
}

// ---------------------------------------------------------------------------
// Codes
// ---------------------------------------------------------------------------

func TestAccountSetCode(t *testing.T) {
	repo, mock := newAccountRepo(t)
	exp := time.Now().Add(5 * time.Minute)
	mock.ExpectExec("UPDATE accounts.*SET otp_hash").
		WithArgs("acc-1", "hash", exp).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.SetCode(context.Background(), "acc-1", "hash", exp)
	if err != nil || !ok {
		t.Fatalf("SetCode = %v, %v", ok, err)
	}
}

func TestAccountConsumeLoginCode(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"won", 1, true},
		{"lost race", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newAccountRepo(t)
			at := time.Now()
			mock.ExpectExec("UPDATE accounts.*last_login_at.*WHERE id = .* AND otp_hash = ").
				WithArgs("acc-1", "hash", at).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := repo.ConsumeLoginCode(context.Background(), "acc-1", "hash", at)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.want {
				t.Errorf("ConsumeLoginCode = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestAccountConsumeRegistrationCode(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectExec("UPDATE accounts.*is_verified = TRUE").
		WithArgs("acc-1", "hash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.ConsumeRegistrationCode(context.Background(), "acc-1", "hash")
	if err != nil || !ok {
		t.Fatalf("ConsumeRegistrationCode = %v, %v", ok, err)
	}
}

func TestAccountClearExpiredCodes(t *testing.T) {
	repo, mock := newAccountRepo(t)
	now := time.Now()
	mock.ExpectExec("UPDATE accounts.*otp_expires_at <= ").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ClearExpiredCodes(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("cleared = %d, want 3", n)
	}
}

// ---------------------------------------------------------------------------
// SetBan / Delete / UpdateProfile
// ---------------------------------------------------------------------------

func TestAccountSetBan_UnbanClearsReason(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectExec("UPDATE accounts.*is_banned").
		WithArgs("acc-1", false, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.SetBan(context.Background(), "acc-1", false, strPtr("spam"))
	if err != nil || !ok {
		t.Fatalf("SetBan = %v, %v", ok, err)
	}
}

func TestAccountSetBan_Missing(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectExec("UPDATE accounts.*is_banned").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.SetBan(context.Background(), "missing", true, strPtr("spam"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected false for missing account")
	}
}

func TestAccountDelete(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectExec("DELETE FROM accounts").
		WithArgs("acc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Delete(context.Background(), "acc-1")
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
}

func TestAccountUpdateProfile_Duplicate(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectQuery("UPDATE accounts.*RETURNING").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "accounts_username_key"})

	_, err := repo.UpdateProfile(context.Background(), "acc-1", "bob", "bob@example.com")
	var dup *DuplicateError
	if !errors.As(err, &dup) || dup.Field != "username" {
		t.Fatalf("expected username duplicate, got %v", err)
	}
}

func TestAccountUpdateProfile_Success(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectQuery("UPDATE accounts.*RETURNING").
		WithArgs("acc-1", "alice", "alice@example.com").
		WillReturnRows(sampleAccountRow())

	a, err := repo.UpdateProfile(context.Background(), "acc-1", "alice", "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == nil || a.ID != "acc-1" {
		t.Errorf("unexpected account: %+v", a)
	}
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestAccountList_WithQuery(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM accounts WHERE role = ANY.*ILIKE`).
		WithArgs(sqlmock.AnyArg(), `%al\_i%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT .* FROM accounts WHERE role = ANY.*ORDER BY created_at DESC LIMIT`).
		WithArgs(sqlmock.AnyArg(), `%al\_i%`, 100, 0).
		WillReturnRows(sampleAccountRow())

	accounts, total, err := repo.List(context.Background(), AccountFilter{
		Roles: []auth.Role{auth.RoleUser},
		Query: " al_i ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(accounts) != 1 {
		t.Errorf("total=%d len=%d", total, len(accounts))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAccountList_Empty(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT .* FROM accounts").
		WithArgs(sqlmock.AnyArg(), 10, 20).
		WillReturnRows(sqlmock.NewRows(accountMinCols))

	accounts, total, err := repo.List(context.Background(), AccountFilter{
		Roles: []auth.Role{auth.RoleEmployee}, Limit: 10, Offset: 20,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 || accounts == nil || len(accounts) != 0 {
		t.Errorf("expected empty non-nil slice, got %v (total %d)", accounts, total)
	}
}

func TestAccountList_CountError(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("db down"))

	if _, _, err := repo.List(context.Background(), AccountFilter{Roles: []auth.Role{auth.RoleUser}}); err == nil {
		t.Fatal("expected error")
	}
}
