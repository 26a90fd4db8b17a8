// Package models - audit_log.go defines the append-only AuditLog record for
// security-relevant events: logins, bans, deletions and elevation approvals.
package models

import "time"

// AuditAction tags the kind of event recorded
type AuditAction string

const (
	ActionLogin                     AuditAction = "login"
	ActionSuperAdminLogin           AuditAction = "superadmin_login"
	ActionUserBanned                AuditAction = "user_banned"
	ActionUserUnbanned              AuditAction = "user_unbanned"
	ActionUserDeleted               AuditAction = "user_deleted"
	ActionAccountDeactivated        AuditAction = "account_deactivated"
	ActionAdminRequestApproved      AuditAction = "admin_request_approved"
	ActionEmployeeRequestApproved   AuditAction = "employee_request_approved"
	ActionSuperAdminRequestApproved AuditAction = "superadmin_request_approved"
)

// ApprovalAction returns the audit action recorded when a request of tier t is approved.
func ApprovalAction(t Tier) AuditAction {
	switch t {
	case TierSuperAdmin:
		return ActionSuperAdminRequestApproved
	case TierEmployee:
		return ActionEmployeeRequestApproved
	default:
		return ActionAdminRequestApproved
	}
}

// AuditLog represents an immutable audit log entry
type AuditLog struct {
	ID        string      `db:"id" json:"id"`
	ActorID   *string     `db:"actor_id" json:"actorId,omitempty"` // Nullable for anonymous actions
	Action    AuditAction `db:"action" json:"action"`
	IPAddress *string     `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent *string     `db:"user_agent" json:"userAgent,omitempty"`
	TargetID  *string     `db:"target_id" json:"targetId,omitempty"`
	Details   *string     `db:"details" json:"details,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
}
