// Package models - elevation_request.go defines the pending application for a
// privileged account. One record type serves every tier; the tier decides the
// required fields, the lifetime and the role the approved account receives.
package models

import (
	"fmt"
	"time"

	"github.com/vaultplay/storefront-auth/internal/auth"
)

// Tier is the privilege level an elevation request asks for
type Tier string

const (
	TierAdmin      Tier = "admin"
	TierEmployee   Tier = "employee"
	TierSuperAdmin Tier = "superadmin"
)

// ParseTier converts a string to a Tier
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	switch t {
	case TierAdmin, TierEmployee, TierSuperAdmin:
		return t, nil
	}
	return "", fmt.Errorf("invalid tier: %s", s)
}

// Role returns the role an approved request of this tier is granted.
func (t Tier) Role() auth.Role {
	switch t {
	case TierSuperAdmin:
		return auth.RoleSuperAdmin
	case TierEmployee:
		return auth.RoleEmployee
	default:
		return auth.RoleAdmin
	}
}

// Signed reports whether requests of this tier carry a key pair and signature
// binding the employee identifier.
func (t Tier) Signed() bool {
	return t == TierEmployee || t == TierSuperAdmin
}

// RequiresEmployeeID reports whether an employee identifier must be supplied.
func (t Tier) RequiresEmployeeID() bool {
	return t.Signed()
}

// ElevationRequest is a pending, time-limited application for a privileged account
type ElevationRequest struct {
	ID           string  `db:"id" json:"id"`
	Tier         Tier    `db:"tier" json:"tier"`
	Username     string  `db:"username" json:"username"`
	Email        string  `db:"email" json:"email"`
	PasswordHash string  `db:"password_hash" json:"-"`
	EmployeeID   *string `db:"employee_id" json:"employeeId,omitempty"`

	// ApprovalTokenHash is the SHA-256 hex digest of the approval token. The
	// raw token is never stored.
	ApprovalTokenHash string `db:"approval_token_hash" json:"-"`

	PublicKey           *string `db:"public_key" json:"publicKey,omitempty"`
	EncryptedPrivateKey *string `db:"encrypted_private_key" json:"-"`
	DigitalSignature    *string `db:"digital_signature" json:"digitalSignature,omitempty"`

	ExpiresAt time.Time  `db:"expires_at" json:"expiresAt"`
	Used      bool       `db:"used" json:"used"`
	UsedAt    *time.Time `db:"used_at" json:"usedAt,omitempty"`
	AccountID *string    `db:"account_id" json:"accountId,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}

// Expired reports whether the request can no longer be approved.
func (r *ElevationRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// NewAccount materializes the account an approved request turns into. Key
// material and the password hash are carried over unchanged.
func (r *ElevationRequest) NewAccount(id string, now time.Time) *Account {
	return &Account{
		ID:                  id,
		Username:            r.Username,
		Email:               r.Email,
		PasswordHash:        r.PasswordHash,
		Role:                r.Tier.Role(),
		EmployeeID:          r.EmployeeID,
		IsVerified:          true,
		IsActive:            true,
		PublicKey:           r.PublicKey,
		EncryptedPrivateKey: r.EncryptedPrivateKey,
		DigitalSignature:    r.DigitalSignature,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}
