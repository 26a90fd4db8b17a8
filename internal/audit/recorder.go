package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vaultplay/storefront-auth/internal/db/models"
)

// Store persists audit log rows.
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Event describes something worth auditing.
type Event struct {
	Action    models.AuditAction
	ActorID   string
	TargetID  string
	IPAddress string
	UserAgent string
	Details   string
}

// Recorder writes events to the audit store and forwards them to the
// configured shippers. Recording is best-effort: failures are logged and
// never returned to the caller, whose state change has already committed.
type Recorder struct {
	store   Store
	shipper Shipper
	logger  *slog.Logger
	now     func() time.Time
}

// NewRecorder creates a Recorder. shipper may be nil.
func NewRecorder(store Store, shipper Shipper, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, shipper: shipper, logger: logger, now: time.Now}
}

// Record appends ev to the audit log.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	row := &models.AuditLog{
		ID:        uuid.New().String(),
		Action:    ev.Action,
		ActorID:   optional(ev.ActorID),
		TargetID:  optional(ev.TargetID),
		IPAddress: optional(ev.IPAddress),
		UserAgent: optional(ev.UserAgent),
		Details:   optional(ev.Details),
		CreatedAt: r.now().UTC(),
	}

	if err := r.store.CreateAuditLog(ctx, row); err != nil {
		r.logger.ErrorContext(ctx, "failed to write audit log",
			"action", ev.Action, "actor_id", ev.ActorID, "target_id", ev.TargetID, "error", err)
	}

	if r.shipper == nil {
		return
	}
	entry := &LogEntry{
		ID:        row.ID,
		Timestamp: row.CreatedAt,
		Action:    string(ev.Action),
		ActorID:   ev.ActorID,
		TargetID:  ev.TargetID,
		IPAddress: ev.IPAddress,
		UserAgent: ev.UserAgent,
		Details:   ev.Details,
	}
	if err := r.shipper.Ship(ctx, entry); err != nil {
		r.logger.WarnContext(ctx, "failed to ship audit log", "action", ev.Action, "error", err)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
