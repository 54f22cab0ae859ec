package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sitewise/sitewise/internal/db"
)

const (
	EventUserSignup          = "user.signup"
	EventLoginFailed         = "auth.login_failed"
	EventProjectCreated      = "project.created"
	EventProjectUpdated      = "project.updated"
	EventProjectDeleted      = "project.deleted"
	EventInviteCreated       = "invite.created"
	EventInviteCancelled     = "invite.cancelled"
	EventInviteAccepted      = "invite.accepted"
	EventMemberRemoved       = "member.removed"
	EventPermissionsUpdated  = "member.permissions_updated"
	EventExpenseCreated      = "expense.created"
	EventExpenseApproved     = "expense.approved"
	EventExpenseRejected     = "expense.rejected"
	EventExpenseDeleted      = "expense.deleted"
	EventExpenseRestored     = "expense.restored"
	EventReceiptUploaded     = "expense.receipt_uploaded"
)

// Event represents an audit log entry.
type Event struct {
	ID          uuid.UUID              `db:"id"`
	ProjectID   uuid.NullUUID          `db:"project_id"`
	ActorUserID uuid.NullUUID          `db:"actor_user_id"`
	Action      string                 `db:"action"`
	Meta        map[string]interface{} `db:"meta"`
	CreatedAt   time.Time              `db:"created_at"`
}

// Writer provides methods to write audit log entries.
type Writer struct {
	db *db.DB
}

func NewWriter(database *db.DB) *Writer {
	return &Writer{db: database}
}

// LogParams contains parameters for logging an audit event.
type LogParams struct {
	ProjectID   *uuid.UUID
	ActorUserID *uuid.UUID
	Action      string
	Meta        map[string]interface{}
}

func (w *Writer) Log(ctx context.Context, params LogParams) error {
	metaJSON := []byte("{}")
	if params.Meta != nil {
		b, err := json.Marshal(params.Meta)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal audit meta")
			return err
		}
		metaJSON = b
	}

	query := `
		INSERT INTO audit_log (project_id, actor_user_id, action, meta)
		VALUES ($1, $2, $3, $4)
	`

	projectID := toNullUUID(params.ProjectID)
	actorUserID := toNullUUID(params.ActorUserID)

	_, err := w.db.Pool.Exec(ctx, query, projectID, actorUserID, params.Action, metaJSON)
	if err != nil {
		log.Error().Err(err).Str("action", params.Action).Msg("Failed to write audit log")
		return err
	}

	log.Info().
		Str("action", params.Action).
		Interface("project_id", params.ProjectID).
		Interface("actor_user_id", params.ActorUserID).
		Msg("Audit event logged")

	return nil
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func (w *Writer) LogUserSignup(ctx context.Context, userID uuid.UUID, email string) error {
	return w.Log(ctx, LogParams{
		ActorUserID: &userID,
		Action:      EventUserSignup,
		Meta: map[string]interface{}{
			"email": email,
		},
	})
}

func (w *Writer) LogLoginFailed(ctx context.Context, email, ip string) error {
	return w.Log(ctx, LogParams{
		Action: EventLoginFailed,
		Meta: map[string]interface{}{
			"email": email,
			"ip":    ip,
		},
	})
}

func (w *Writer) LogProjectCreated(ctx context.Context, projectID, userID uuid.UUID, name string) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &userID,
		Action:      EventProjectCreated,
		Meta: map[string]interface{}{
			"name": name,
		},
	})
}

func (w *Writer) LogProjectUpdated(ctx context.Context, projectID, userID uuid.UUID, meta map[string]interface{}) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &userID,
		Action:      EventProjectUpdated,
		Meta:        meta,
	})
}

func (w *Writer) LogProjectDeleted(ctx context.Context, projectID, userID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &userID,
		Action:      EventProjectDeleted,
		Meta:        map[string]interface{}{},
	})
}

func (w *Writer) LogInviteCreated(ctx context.Context, projectID, actorUserID, inviteID uuid.UUID, role string) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &actorUserID,
		Action:      EventInviteCreated,
		Meta: map[string]interface{}{
			"invite_id": inviteID.String(),
			"role":      role,
		},
	})
}

func (w *Writer) LogInviteCancelled(ctx context.Context, projectID, actorUserID, inviteID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &actorUserID,
		Action:      EventInviteCancelled,
		Meta: map[string]interface{}{
			"invite_id": inviteID.String(),
		},
	})
}

func (w *Writer) LogInviteAccepted(ctx context.Context, projectID, actorUserID, inviteID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &actorUserID,
		Action:      EventInviteAccepted,
		Meta: map[string]interface{}{
			"invite_id": inviteID.String(),
		},
	})
}

func (w *Writer) LogMemberRemoved(ctx context.Context, projectID, actorUserID, targetUserID uuid.UUID, role string) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &actorUserID,
		Action:      EventMemberRemoved,
		Meta: map[string]interface{}{
			"target_user_id": targetUserID.String(),
			"role":           role,
		},
	})
}

func (w *Writer) LogPermissionsUpdated(ctx context.Context, projectID, actorUserID, targetUserID uuid.UUID, canDeleteExpenses, canDeleteMembers bool) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &actorUserID,
		Action:      EventPermissionsUpdated,
		Meta: map[string]interface{}{
			"target_user_id":      targetUserID.String(),
			"can_delete_expenses": canDeleteExpenses,
			"can_delete_members":  canDeleteMembers,
		},
	})
}

func (w *Writer) LogExpenseEvent(ctx context.Context, action string, projectID, expenseID, actorUserID uuid.UUID, meta map[string]interface{}) error {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["expense_id"] = expenseID.String()
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &actorUserID,
		Action:      action,
		Meta:        meta,
	})
}
