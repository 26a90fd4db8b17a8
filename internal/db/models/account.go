// Package models - account.go defines the Account model shared by every role:
// credentials, verification and one-time code state, moderation flags, and the
// key material attached to signed staff accounts.
package models

import (
	"time"

	"github.com/vaultplay/storefront-auth/internal/auth"
)

// Account represents a user, employee, admin or super-admin
type Account struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         auth.Role `db:"role" json:"role"`
	EmployeeID   *string   `db:"employee_id" json:"employeeId,omitempty"`

	IsVerified   bool       `db:"is_verified" json:"isVerified"`
	OTPHash      *string    `db:"otp_hash" json:"-"`
	OTPExpiresAt *time.Time `db:"otp_expires_at" json:"-"`

	IsBanned  bool    `db:"is_banned" json:"isBanned"`
	BanReason *string `db:"ban_reason" json:"banReason,omitempty"`
	IsActive  bool    `db:"is_active" json:"isActive"`

	PublicKey           *string `db:"public_key" json:"publicKey,omitempty"`
	EncryptedPrivateKey *string `db:"encrypted_private_key" json:"-"`
	DigitalSignature    *string `db:"digital_signature" json:"digitalSignature,omitempty"`

	LastLoginAt *time.Time `db:"last_login_at" json:"lastLogin,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

// HasOutstandingCode reports whether a one-time code is waiting to be redeemed.
func (a *Account) HasOutstandingCode() bool {
	return a.OTPHash != nil && a.OTPExpiresAt != nil
}

// CodeExpired reports whether the outstanding code has passed its expiry.
func (a *Account) CodeExpired(now time.Time) bool {
	return a.OTPExpiresAt != nil && !now.Before(*a.OTPExpiresAt)
}

// IsSigned reports whether the account carries an identity key pair.
func (a *Account) IsSigned() bool {
	return a.PublicKey != nil && a.DigitalSignature != nil
}
