// Package auth - roles.go defines the closed set of account roles and the
// single table mapping each protected operation to the roles allowed to run it.
package auth

import "github.com/vaultplay/storefront-auth/internal/apperr"

// Role is an account tier
type Role string

const (
	RoleUser       Role = "user"
	RoleEmployee   Role = "employee"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleEmployee, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsStaff reports whether r is an employee or admin account.
func (r Role) IsStaff() bool {
	return r == RoleEmployee || r == RoleAdmin
}

// Operation names a protected action
type Operation string

const (
	OpProfileRead       Operation = "profile:read"
	OpProfileUpdate     Operation = "profile:update"
	OpProfileDeactivate Operation = "profile:deactivate"

	OpUsersList   Operation = "users:list"
	OpUsersDelete Operation = "users:delete"
	OpUsersBan    Operation = "users:ban"
	OpUsersUnban  Operation = "users:unban"

	OpEmployeesList Operation = "employees:list"

	OpAuditRead Operation = "audit:read"
)

var everyone = []Role{RoleUser, RoleEmployee, RoleAdmin, RoleSuperAdmin}

// Permissions maps each operation to the roles allowed to perform it. Finer
// rules that depend on the target account (who may delete whom) are enforced
// by the operation itself.
var Permissions = map[Operation][]Role{
	OpProfileRead:       everyone,
	OpProfileUpdate:     everyone,
	OpProfileDeactivate: everyone,

	OpUsersList:   {RoleEmployee, RoleAdmin, RoleSuperAdmin},
	OpUsersDelete: {RoleEmployee, RoleAdmin, RoleSuperAdmin},

	OpEmployeesList: {RoleSuperAdmin},
	OpUsersBan:      {RoleSuperAdmin},
	OpUsersUnban:    {RoleSuperAdmin},
	OpAuditRead:     {RoleSuperAdmin},
}

// AllowedRoles returns the roles permitted to perform op.
func AllowedRoles(op Operation) []Role {
	return Permissions[op]
}

// Can reports whether role may perform op.
func Can(role Role, op Operation) bool {
	return RequireRole(role, AllowedRoles(op)...) == nil
}

// RequireRole fails with a forbidden error unless actual is one of allowed.
func RequireRole(actual Role, allowed ...Role) error {
	for _, r := range allowed {
		if r == actual {
			return nil
		}
	}
	return apperr.Forbidden("insufficient permissions")
}
