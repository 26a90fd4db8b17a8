// elevation_request_repository.go implements ElevationRequestRepository. Pending
// requests for every tier share one table; Approve consumes a request and
// creates its account in a single transaction.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vaultplay/storefront-auth/internal/db/models"
)

const elevationColumns = `id, tier, username, email, password_hash, employee_id,
	approval_token_hash, public_key, encrypted_private_key, digital_signature,
	expires_at, used, used_at, account_id, created_at`

// ElevationRequestRepository handles elevation request database operations
type ElevationRequestRepository struct {
	db *sqlx.DB
}

// NewElevationRequestRepository creates a new ElevationRequestRepository
func NewElevationRequestRepository(db *sqlx.DB) *ElevationRequestRepository {
	return &ElevationRequestRepository{db: db}
}

// Create inserts a new pending request. Unique violations against another
// pending request of the same tier are returned as *DuplicateError.
func (r *ElevationRequestRepository) Create(ctx context.Context, req *models.ElevationRequest) error {
	query := `
		INSERT INTO elevation_requests (
			id, tier, username, email, password_hash, employee_id,
			approval_token_hash, public_key, encrypted_private_key, digital_signature,
			expires_at, used, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, $12)`

	_, err := r.db.ExecContext(ctx, query,
		req.ID,
		req.Tier,
		req.Username,
		req.Email,
		req.PasswordHash,
		req.EmployeeID,
		req.ApprovalTokenHash,
		req.PublicKey,
		req.EncryptedPrivateKey,
		req.DigitalSignature,
		req.ExpiresAt,
		req.CreatedAt,
	)
	return translateError(err)
}

// FindPendingByEmail returns the unused request of the tier for email.
// Expired requests are included so the caller can distinguish them from
// missing ones. Returns nil, nil when none exists.
func (r *ElevationRequestRepository) FindPendingByEmail(ctx context.Context, tier models.Tier, email string) (*models.ElevationRequest, error) {
	query := `SELECT ` + elevationColumns + ` FROM elevation_requests
		WHERE tier = $1 AND LOWER(email) = LOWER($2) AND NOT used
		ORDER BY created_at DESC
		LIMIT 1`
	return r.getOne(ctx, query, tier, email)
}

// FindPendingByTokenHash returns the unused request of the tier whose
// approval token hashes to tokenHash. Returns nil, nil when none exists.
func (r *ElevationRequestRepository) FindPendingByTokenHash(ctx context.Context, tier models.Tier, tokenHash string) (*models.ElevationRequest, error) {
	query := `SELECT ` + elevationColumns + ` FROM elevation_requests
		WHERE tier = $1 AND approval_token_hash = $2 AND NOT used`
	return r.getOne(ctx, query, tier, strings.ToLower(tokenHash))
}

func (r *ElevationRequestRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.ElevationRequest, error) {
	var req models.ElevationRequest
	err := r.db.GetContext(ctx, &req, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// FindPendingConflicts reports which identity fields collide with an unused,
// unexpired request of the same tier.
func (r *ElevationRequestRepository) FindPendingConflicts(ctx context.Context, tier models.Tier, username, email string, employeeID *string, now time.Time) (Conflicts, error) {
	query := `
		SELECT username, email, employee_id
		FROM elevation_requests
		WHERE tier = $1 AND NOT used AND expires_at > $2
		  AND (username = $3 OR LOWER(email) = LOWER($4) OR ($5::text IS NOT NULL AND employee_id = $5))`

	var rows []struct {
		Username   string  `db:"username"`
		Email      string  `db:"email"`
		EmployeeID *string `db:"employee_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, tier, now, username, email, employeeID); err != nil {
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

// DeleteExpired removes unused requests whose expiry is at or before now.
// When tier is empty every tier is purged.
func (r *ElevationRequestRepository) DeleteExpired(ctx context.Context, tier models.Tier, now time.Time) (int64, error) {
	query := `DELETE FROM elevation_requests WHERE NOT used AND expires_at <= $1 AND ($2 = '' OR tier = $2)`
	res, err := r.db.ExecContext(ctx, query, now, string(tier))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Approve atomically marks the request used and inserts the account. The
// conditional update is the single point that decides the winner when two
// approvals race: the loser sees ErrNotPending. If the account insert
// violates a unique index the whole transaction is rolled back and a
// *DuplicateError is returned, leaving the request pending.
func (r *ElevationRequestRepository) Approve(ctx context.Context, requestID string, account *models.Account, now time.Time) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approve transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE elevation_requests
		SET used = TRUE, used_at = $2, account_id = $3
		WHERE id = $1 AND NOT used AND expires_at > $2`,
		requestID, now, account.ID,
	)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotPending
	}

	if err = insertAccount(ctx, tx, account); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit approve transaction: %w", err)
	}
	return nil
}
