package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sitewise/sitewise/internal/db"
)

// MembersService wraps member mutations. Split from Service only for wiring
// clarity; it shares the same pool.
type MembersService struct {
	db *db.DB
}

func NewMembersService(database *db.DB) *MembersService {
	return &MembersService{db: database}
}

// ListMembers returns all members of a project. The caller must have checked
// membership already.
func (s *MembersService) ListMembers(ctx context.Context, projectID uuid.UUID) ([]Member, error) {
	return listMembers(ctx, s.db.Pool, projectID)
}

// RemoveResult reports what RemoveMember did, so the caller can notify the
// admin when a director performed the removal.
type RemoveResult struct {
	Removed         Member
	AdminID         uuid.UUID
	ActorIsAdmin    bool
	ActorIsDirector bool
}

// RemoveMember removes a project member. Permitted for the admin, or for a
// director holding the can_delete_members grant. Director grants for the
// removed user are dropped in the same transaction.
func (s *MembersService) RemoveMember(ctx context.Context, projectID, actorUserID, targetUserID uuid.UUID) (*RemoveResult, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	access, err := LoadAccess(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	if !access.IsMember(actorUserID) {
		return nil, ErrNotMember
	}
	if !access.CanDeleteMembers(actorUserID) {
		return nil, ErrInsufficientPermissions
	}

	var removed Member
	err = tx.QueryRow(ctx, `
		SELECT project_id, user_id, role, name, email, photo_url, joined_at
		FROM project_members
		WHERE project_id = $1 AND user_id = $2
		FOR UPDATE
	`, projectID, targetUserID).Scan(
		&removed.ProjectID,
		&removed.UserID,
		&removed.Role,
		&removed.Name,
		&removed.Email,
		&removed.PhotoURL,
		&removed.JoinedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to load member: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM project_members
		WHERE project_id = $1 AND user_id = $2
	`, projectID, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrMemberNotFound
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM director_permissions
		WHERE project_id = $1 AND user_id = $2
	`, projectID, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to drop director permissions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &RemoveResult{
		Removed:         removed,
		AdminID:         access.Project.AdminID,
		ActorIsAdmin:    access.IsAdmin(actorUserID),
		ActorIsDirector: access.IsDirector(actorUserID),
	}, nil
}

// leave drops the caller's own membership along with any director grants.
// The caller must have verified membership and that the user is not the admin.
func (s *MembersService) leave(ctx context.Context, projectID, userID uuid.UUID) (int64, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		DELETE FROM project_members
		WHERE project_id = $1 AND user_id = $2
	`, projectID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to leave project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrMemberNotFound
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM director_permissions
		WHERE project_id = $1 AND user_id = $2
	`, projectID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to drop director permissions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return tag.RowsAffected(), nil
}
