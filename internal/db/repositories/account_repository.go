// account_repository.go implements AccountRepository, the credential store for
// every role. One-time code redemption is a single conditional UPDATE so two
// concurrent verifications cannot both succeed.
package repositories

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/vaultplay/storefront-auth/internal/auth"
	"github.com/vaultplay/storefront-auth/internal/db/models"
)

const accountColumns = `id, username, email, password_hash, role, employee_id,
	is_verified, otp_hash, otp_expires_at, is_banned, ban_reason, is_active,
	public_key, encrypted_private_key, digital_signature,
	last_login_at, created_at, updated_at`

const insertAccountQuery = `
	INSERT INTO accounts (
		id, username, email, password_hash, role, employee_id,
		is_verified, otp_hash, otp_expires_at, is_banned, ban_reason, is_active,
		public_key, encrypted_private_key, digital_signature,
		created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

// AccountFilter narrows List results
type AccountFilter struct {
	Roles  []auth.Role
	Query  string // case-insensitive substring of username or email
	Limit  int
	Offset int
}

// Conflicts reports which identity fields are already taken
type Conflicts struct {
	Username   bool
	Email      bool
	EmployeeID bool
}

// Any reports whether at least one field is taken.
func (c Conflicts) Any() bool {
	return c.Username || c.Email || c.EmployeeID
}

// Fields lists the taken fields in a stable order.
func (c Conflicts) Fields() []string {
	var fields []string
	if c.Username {
		fields = append(fields, "username")
	}
	if c.Email {
		fields = append(fields, "email")
	}
	if c.EmployeeID {
		fields = append(fields, "employeeId")
	}
	return fields
}

// AccountRepository handles account database operations
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func insertAccount(ctx context.Context, ex sqlx.ExecerContext, a *models.Account) error {
	_, err := ex.ExecContext(ctx, insertAccountQuery,
		a.ID,
		a.Username,
		a.Email,
		a.PasswordHash,
		a.Role,
		a.EmployeeID,
		a.IsVerified,
		a.OTPHash,
		a.OTPExpiresAt,
		a.IsBanned,
		a.BanReason,
		a.IsActive,
		a.PublicKey,
		a.EncryptedPrivateKey,
		a.DigitalSignature,
		a.CreatedAt,
		a.UpdatedAt,
	)
	return translateError(err)
}

// Create inserts a new account. Unique violations are returned as *DuplicateError.
func (r *AccountRepository) Create(ctx context.Context, a *models.Account) error {
	return insertAccount(ctx, r.db, a)
}

// GetByID retrieves an account by ID. Returns nil, nil when not found.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	var a models.Account
	err := r.db.GetContext(ctx, &a, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByEmail retrieves an account by email, ignoring case. Returns nil, nil when not found.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var a models.Account
	err := r.db.GetContext(ctx, &a, `SELECT `+accountColumns+` FROM accounts WHERE LOWER(email) = LOWER($1)`, email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindConflicts reports which of username, email and employeeID already
// belong to an account other than excludeID. excludeID may be empty.
func (r *AccountRepository) FindConflicts(ctx context.Context, username, email string, employeeID *string, excludeID string) (Conflicts, error) {
	query := `
		SELECT username, email, employee_id
		FROM accounts
		WHERE (username = $1 OR LOWER(email) = LOWER($2) OR ($3::text IS NOT NULL AND employee_id = $3))
		  AND ($4 = '' OR id::text <> $4)`

	var rows []struct {
		Username   string  `db:"username"`
		Email      string  `db:"email"`
		EmployeeID *string `db:"employee_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, username, email, employeeID, excludeID); err != nil {
		return Conflicts{}, err
	}

	var c Conflicts
	for _, row := range rows {
		if row.Username == username {
			c.Username = true
		}
		if strings.EqualFold(row.Email, email) {
			c.Email = true
		}
		if employeeID != nil && row.EmployeeID != nil && *row.EmployeeID == *employeeID {
			c.EmployeeID = true
		}
	}
	return c, nil
}

// SetCode stores a one-time code hash and expiry, replacing any outstanding
// code. Returns false if the account does not exist.
func (r *AccountRepository) SetCode(ctx context.Context, id, codeHash string, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE accounts
		SET otp_hash = $2, otp_expires_at = $3, updated_at = NOW()
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, codeHash, expiresAt)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ConsumeLoginCode clears the outstanding code and records the login, but
// only while the stored hash still equals codeHash. Returns false when another
// request consumed or replaced the code first.
func (r *AccountRepository) ConsumeLoginCode(ctx context.Context, id, codeHash string, at time.Time) (bool, error) {
	query := `
		UPDATE accounts
		SET otp_hash = NULL, otp_expires_at = NULL, last_login_at = $3, updated_at = NOW()
		WHERE id = $1 AND otp_hash = $2`

	res, err := r.db.ExecContext(ctx, query, id, codeHash, at)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ConsumeRegistrationCode clears the outstanding code and marks the account
// verified under the same compare-and-clear rule as ConsumeLoginCode.
func (r *AccountRepository) ConsumeRegistrationCode(ctx context.Context, id, codeHash string) (bool, error) {
	query := `
		UPDATE accounts
		SET otp_hash = NULL, otp_expires_at = NULL, is_verified = TRUE, updated_at = NOW()
		WHERE id = $1 AND otp_hash = $2`

	res, err := r.db.ExecContext(ctx, query, id, codeHash)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ClearExpiredCodes removes every code whose expiry is at or before now.
func (r *AccountRepository) ClearExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE accounts
		SET otp_hash = NULL, otp_expires_at = NULL
		WHERE otp_expires_at IS NOT NULL AND otp_expires_at <= $1`

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetBan bans or unbans an account. The reason is cleared on unban.
// Returns false if the account does not exist.
func (r *AccountRepository) SetBan(ctx context.Context, id string, banned bool, reason *string) (bool, error) {
	if !banned {
		reason = nil
	}
	query := `
		UPDATE accounts
		SET is_banned = $2, ban_reason = $3, updated_at = NOW()
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, banned, reason)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// UpdateProfile changes username and email and returns the updated account.
// Returns nil, nil if the account does not exist.
func (r *AccountRepository) UpdateProfile(ctx context.Context, id, username, email string) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET username = $2, email = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns

	var a models.Account
	err := r.db.GetContext(ctx, &a, query, id, username, email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err)
	}
	return &a, nil
}

// Delete removes an account. Returns false if it did not exist.
func (r *AccountRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// List returns accounts matching the filter, newest first, with the total
// number of matches.
func (r *AccountRepository) List(ctx context.Context, f AccountFilter) ([]*models.Account, int, error) {
	roles := make([]string, len(f.Roles))
	for i, role := range f.Roles {
		roles[i] = string(role)
	}

	where := `WHERE role = ANY($1)`
	args := []interface{}{pq.Array(roles)}
	if q := strings.TrimSpace(f.Query); q != "" {
		where += ` AND (username ILIKE $2 OR email ILIKE $2)`
		args = append(args, "%"+escapeLike(q)+"%")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM accounts `+where, args...); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	n := len(args)
	query := `SELECT ` + accountColumns + ` FROM accounts ` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	args = append(args, limit, f.Offset)

	accounts := []*models.Account{}
	if err := r.db.SelectContext(ctx, &accounts, query, args...); err != nil {
		return nil, 0, err
	}
	return accounts, total, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
