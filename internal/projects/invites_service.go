package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"github.com/sitewise/sitewise/internal/validation"
)

const inviteTTL = 7 * 24 * time.Hour

// CreateInvite creates a pending invitation. Admin only; the assigned role is
// fixed at invitation time. Returns the invitation and the one-time token;
// only the token hash is stored.
func (s *Service) CreateInvite(ctx context.Context, projectID, actorUserID uuid.UUID, email *string, role MemberRole) (*Invitation, string, error) {
	if !role.IsValid() {
		return nil, "", ErrInvalidMemberRole
	}

	if email != nil {
		normalized, err := validation.NormalizeEmail(*email)
		if err != nil {
			return nil, "", validation.FieldErrors{"email": err.Error()}
		}
		email = &normalized
	}

	project, err := s.GetByID(ctx, projectID)
	if err != nil {
		return nil, "", err
	}
	if project.AdminID != actorUserID {
		return nil, "", ErrInsufficientPermissions
	}

	var invite Invitation
	for attempt := 0; attempt < 3; attempt++ {
		token, tokenHash, err := GenerateInviteToken()
		if err != nil {
			return nil, "", err
		}

		expiresAt := time.Now().UTC().Add(inviteTTL)

		err = s.db.Pool.QueryRow(ctx, `
			INSERT INTO invitations (
			  project_id, project_name, invited_by, email, member_role, token_hash, expires_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, project_id, project_name, invited_by, email, member_role,
			          status, created_at, expires_at
		`, projectID, project.Name, actorUserID, email, role, tokenHash, expiresAt).Scan(
			&invite.ID,
			&invite.ProjectID,
			&invite.ProjectName,
			&invite.InvitedBy,
			&invite.Email,
			&invite.MemberRole,
			&invite.Status,
			&invite.CreatedAt,
			&invite.ExpiresAt,
		)
		if err == nil {
			return &invite, token, nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Token hash collision (extremely unlikely); retry.
			continue
		}
		return nil, "", fmt.Errorf("failed to create invitation: %w", err)
	}

	return nil, "", fmt.Errorf("failed to create invitation: token collision retry exhausted")
}

// ListInvites returns a project's invitations with lazily-evaluated expiry
// folded into the reported status. Admin or director only.
func (s *Service) ListInvites(ctx context.Context, projectID, actorUserID uuid.UUID) ([]Invitation, error) {
	access, err := s.LoadAccess(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !access.HasAdminControl(actorUserID) {
		return nil, ErrInsufficientPermissions
	}

	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, project_id, project_name, invited_by, email, member_role,
		       status, created_at, expires_at, accepted_by, accepted_at
		FROM invitations
		WHERE project_id = $1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var invites []Invitation
	for rows.Next() {
		var inv Invitation
		err := rows.Scan(
			&inv.ID,
			&inv.ProjectID,
			&inv.ProjectName,
			&inv.InvitedBy,
			&inv.Email,
			&inv.MemberRole,
			&inv.Status,
			&inv.CreatedAt,
			&inv.ExpiresAt,
			&inv.AcceptedBy,
			&inv.AcceptedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		inv.Status = inv.EffectiveStatus(now)
		invites = append(invites, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitations: %w", err)
	}

	return invites, nil
}

// CancelInvite cancels a pending invitation. Admin only.
func (s *Service) CancelInvite(ctx context.Context, projectID, inviteID, actorUserID uuid.UUID) error {
	project, err := s.GetByID(ctx, projectID)
	if err != nil {
		return err
	}
	if project.AdminID != actorUserID {
		return ErrInsufficientPermissions
	}

	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE invitations
		SET status = 'cancelled'
		WHERE id = $1
		  AND project_id = $2
		  AND status = 'pending'
	`, inviteID, projectID)
	if err != nil {
		return fmt.Errorf("failed to cancel invitation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// The row may exist in a terminal state; that is a conflict, not a 404.
		var status InviteStatus
		err := s.db.Pool.QueryRow(ctx, `
			SELECT status FROM invitations WHERE id = $1 AND project_id = $2
		`, inviteID, projectID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInviteNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load invitation: %w", err)
		}
		return ErrInviteNotPending
	}

	return nil
}

// AcceptResult describes a successful invitation acceptance.
type AcceptResult struct {
	InviteID  uuid.UUID
	ProjectID uuid.UUID
	Role      MemberRole
}

// AcceptInvite consumes an invitation token and adds the accepting user as a
// member. The whole operation runs in one transaction with the invitation row
// locked, so two concurrent accepts cannot both succeed: the loser sees the
// row already accepted and gets ErrInviteNotPending, or trips the membership
// primary key and gets ErrAlreadyMember.
func (s *Service) AcceptInvite(ctx context.Context, token string, userID uuid.UUID) (*AcceptResult, error) {
	if !ValidateInviteTokenFormat(token) {
		return nil, ErrInviteNotFound
	}
	tokenHash := HashInviteToken(token)

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var invite Invitation
	err = tx.QueryRow(ctx, `
		SELECT id, project_id, project_name, invited_by, email, member_role,
		       status, created_at, expires_at, accepted_by, accepted_at
		FROM invitations
		WHERE token_hash = $1
		FOR UPDATE
	`, tokenHash).Scan(
		&invite.ID,
		&invite.ProjectID,
		&invite.ProjectName,
		&invite.InvitedBy,
		&invite.Email,
		&invite.MemberRole,
		&invite.Status,
		&invite.CreatedAt,
		&invite.ExpiresAt,
		&invite.AcceptedBy,
		&invite.AcceptedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}

	now := time.Now().UTC()
	if invite.Status != InviteStatusPending {
		return nil, ErrInviteNotPending
	}
	if invite.IsExpired(now) {
		return nil, ErrInviteExpired
	}

	var adminID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT admin_id FROM projects WHERE id = $1`, invite.ProjectID).Scan(&adminID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if adminID == userID {
		return nil, ErrAdminCannotJoin
	}

	var userEmail, userName string
	var photoURL *string
	err = tx.QueryRow(ctx, `SELECT email, name, photo_url FROM users WHERE id = $1`, userID).Scan(&userEmail, &userName, &photoURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if invite.Email != nil && !strings.EqualFold(userEmail, *invite.Email) {
		return nil, ErrInviteEmailMismatch
	}

	// Membership uniqueness is enforced here, at the write, rather than
	// deduplicated on every read.
	_, err = tx.Exec(ctx, `
		INSERT INTO project_members (project_id, user_id, role, name, email, photo_url)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, invite.ProjectID, userID, invite.MemberRole, userName, userEmail, photoURL)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAlreadyMember
		}
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE invitations
		SET status = 'accepted', accepted_by = $2, accepted_at = NOW()
		WHERE id = $1
		  AND status = 'pending'
	`, invite.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark invitation accepted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrInviteNotPending
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &AcceptResult{
		InviteID:  invite.ID,
		ProjectID: invite.ProjectID,
		Role:      invite.MemberRole,
	}, nil
}

// SweepExpired flips stale pending invitations to expired. Validity checks
// never depend on this; it exists to keep listings tidy. Idempotent, safe to
// run repeatedly from the cron scheduler.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE invitations
		SET status = 'expired'
		WHERE status = 'pending'
		  AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired invitations: %w", err)
	}

	if tag.RowsAffected() > 0 {
		log.Info().Int64("expired", tag.RowsAffected()).Msg("Marked stale invitations as expired")
	}

	return tag.RowsAffected(), nil
}
