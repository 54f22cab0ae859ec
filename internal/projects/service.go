package projects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/sitewise/sitewise/internal/db"
)

var (
	// ErrProjectNotFound is returned when a project does not exist
	ErrProjectNotFound = errors.New("project not found")

	// ErrNotMember is returned when a user is neither admin nor member of a project
	ErrNotMember = errors.New("user is not a member of this project")

	// ErrMemberNotFound is returned when the target membership does not exist
	ErrMemberNotFound = errors.New("member not found")

	// ErrInsufficientPermissions is returned when a user lacks the capability
	// for the requested operation
	ErrInsufficientPermissions = errors.New("insufficient permissions")

	// ErrInvalidStatus is returned for an unknown project status
	ErrInvalidStatus = errors.New("invalid project status")

	// ErrNegativeBudget is returned when a budget below zero is supplied
	ErrNegativeBudget = errors.New("budget must not be negative")
)

// Service provides project-related operations
type Service struct {
	db *db.DB
}

// NewService creates a new project service
func NewService(database *db.DB) *Service {
	return &Service{db: database}
}

// Querier is satisfied by both db.Pool and pgx.Tx, so access snapshots can be
// loaded inside or outside a transaction.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProjectSummary is a project joined with the requesting user's relationship
// to it.
type ProjectSummary struct {
	Project
	Role string `db:"role" json:"role"` // "admin", "director" or "labour"
}

// Create creates a project owned by the creating user.
func (s *Service) Create(ctx context.Context, adminID uuid.UUID, name string, description *string, budget float64, startDate time.Time, endDate *time.Time) (*Project, error) {
	if budget < 0 {
		return nil, ErrNegativeBudget
	}

	var project Project
	err := s.db.Pool.QueryRow(ctx, `
		INSERT INTO projects (name, description, budget, admin_id, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, name, description, budget, total_spent, status, admin_id,
		          start_date, end_date, created_at, updated_at
	`, name, description, budget, adminID, startDate, endDate).Scan(
		&project.ID,
		&project.Name,
		&project.Description,
		&project.Budget,
		&project.TotalSpent,
		&project.Status,
		&project.AdminID,
		&project.StartDate,
		&project.EndDate,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	return &project, nil
}

// GetByID retrieves a project by ID
func (s *Service) GetByID(ctx context.Context, projectID uuid.UUID) (*Project, error) {
	return getProject(ctx, s.db.Pool, projectID)
}

func getProject(ctx context.Context, q Querier, projectID uuid.UUID) (*Project, error) {
	var project Project
	err := q.QueryRow(ctx, `
		SELECT id, name, description, budget, total_spent, status, admin_id,
		       start_date, end_date, created_at, updated_at
		FROM projects
		WHERE id = $1
	`, projectID).Scan(
		&project.ID,
		&project.Name,
		&project.Description,
		&project.Budget,
		&project.TotalSpent,
		&project.Status,
		&project.AdminID,
		&project.StartDate,
		&project.EndDate,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &project, nil
}

// LoadAccess loads the project with its members and director grants as one
// permission snapshot.
func (s *Service) LoadAccess(ctx context.Context, projectID uuid.UUID) (*Access, error) {
	return LoadAccess(ctx, s.db.Pool, projectID)
}

func LoadAccess(ctx context.Context, q Querier, projectID uuid.UUID) (*Access, error) {
	project, err := getProject(ctx, q, projectID)
	if err != nil {
		return nil, err
	}

	members, err := listMembers(ctx, q, projectID)
	if err != nil {
		return nil, err
	}

	grants, err := loadDirectorGrants(ctx, q, projectID)
	if err != nil {
		return nil, err
	}

	return &Access{Project: project, Members: members, Grants: grants}, nil
}

func listMembers(ctx context.Context, q Querier, projectID uuid.UUID) ([]Member, error) {
	rows, err := q.Query(ctx, `
		SELECT project_id, user_id, role, name, email, photo_url, joined_at
		FROM project_members
		WHERE project_id = $1
		ORDER BY joined_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.Name, &m.Email, &m.PhotoURL, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}

	return members, nil
}

func loadDirectorGrants(ctx context.Context, q Querier, projectID uuid.UUID) (map[uuid.UUID]DirectorGrants, error) {
	rows, err := q.Query(ctx, `
		SELECT user_id, can_delete_expenses, can_delete_members
		FROM director_permissions
		WHERE project_id = $1
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load director permissions: %w", err)
	}
	defer rows.Close()

	grants := make(map[uuid.UUID]DirectorGrants)
	for rows.Next() {
		var userID uuid.UUID
		var g DirectorGrants
		if err := rows.Scan(&userID, &g.CanDeleteExpenses, &g.CanDeleteMembers); err != nil {
			return nil, fmt.Errorf("failed to scan director permissions: %w", err)
		}
		grants[userID] = g
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating director permissions: %w", err)
	}

	return grants, nil
}

// ListForUser retrieves every project the user belongs to, merging the
// admin-of and member-of relations. There is no stored per-user project list;
// the two queries are the authoritative membership index.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]ProjectSummary, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT p.id, p.name, p.description, p.budget, p.total_spent, p.status,
		       p.admin_id, p.start_date, p.end_date, p.created_at, p.updated_at,
		       'admin' AS role
		FROM projects p
		WHERE p.admin_id = $1
		UNION
		SELECT p.id, p.name, p.description, p.budget, p.total_spent, p.status,
		       p.admin_id, p.start_date, p.end_date, p.created_at, p.updated_at,
		       m.role::text AS role
		FROM projects p
		INNER JOIN project_members m ON p.id = m.project_id
		WHERE m.user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user projects: %w", err)
	}
	defer rows.Close()

	var projects []ProjectSummary
	for rows.Next() {
		var p ProjectSummary
		err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.Description,
			&p.Budget,
			&p.TotalSpent,
			&p.Status,
			&p.AdminID,
			&p.StartDate,
			&p.EndDate,
			&p.CreatedAt,
			&p.UpdatedAt,
			&p.Role,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project rows: %w", err)
	}

	return projects, nil
}

// UpdateRequest carries optional project mutations. Nil fields are left
// untouched.
type UpdateRequest struct {
	Name        *string
	Description *string
	Budget      *float64
	Status      *Status
	EndDate     *time.Time
}

// Update mutates project attributes. Admin only.
func (s *Service) Update(ctx context.Context, projectID, actorUserID uuid.UUID, req UpdateRequest) (*Project, error) {
	project, err := s.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.AdminID != actorUserID {
		return nil, ErrInsufficientPermissions
	}

	if req.Status != nil && !req.Status.IsValid() {
		return nil, ErrInvalidStatus
	}
	if req.Budget != nil && *req.Budget < 0 {
		return nil, ErrNegativeBudget
	}

	var updated Project
	err = s.db.Pool.QueryRow(ctx, `
		UPDATE projects
		SET name = COALESCE($2, name),
		    description = COALESCE($3, description),
		    budget = COALESCE($4, budget),
		    status = COALESCE($5, status),
		    end_date = COALESCE($6, end_date),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, description, budget, total_spent, status, admin_id,
		          start_date, end_date, created_at, updated_at
	`, projectID, req.Name, req.Description, req.Budget, req.Status, req.EndDate).Scan(
		&updated.ID,
		&updated.Name,
		&updated.Description,
		&updated.Budget,
		&updated.TotalSpent,
		&updated.Status,
		&updated.AdminID,
		&updated.StartDate,
		&updated.EndDate,
		&updated.CreatedAt,
		&updated.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}

	return &updated, nil
}

// Delete removes a project and everything under it. Admin only. Expenses,
// invitations, members and director grants go with it through foreign-key
// cascades, so the single DELETE is the whole transaction.
func (s *Service) Delete(ctx context.Context, projectID, actorUserID uuid.UUID) error {
	project, err := s.GetByID(ctx, projectID)
	if err != nil {
		return err
	}
	if project.AdminID != actorUserID {
		return ErrInsufficientPermissions
	}

	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProjectNotFound
	}

	log.Info().
		Str("project_id", projectID.String()).
		Str("admin_id", actorUserID.String()).
		Msg("Project deleted with cascading expenses and invitations")

	return nil
}

// UpdateDirectorGrants sets the per-director delete capabilities. Admin only;
// the target must be a director member.
func (s *Service) UpdateDirectorGrants(ctx context.Context, projectID, actorUserID, targetUserID uuid.UUID, grants DirectorGrants) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	project, err := getProject(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if project.AdminID != actorUserID {
		return ErrInsufficientPermissions
	}

	var role MemberRole
	err = tx.QueryRow(ctx, `
		SELECT role
		FROM project_members
		WHERE project_id = $1 AND user_id = $2
	`, projectID, targetUserID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrMemberNotFound
		}
		return fmt.Errorf("failed to load member role: %w", err)
	}
	if role != RoleDirector {
		return ErrInsufficientPermissions
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO director_permissions (project_id, user_id, can_delete_expenses, can_delete_members)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, user_id)
		DO UPDATE SET can_delete_expenses = $3, can_delete_members = $4, updated_at = NOW()
	`, projectID, targetUserID, grants.CanDeleteExpenses, grants.CanDeleteMembers)
	if err != nil {
		return fmt.Errorf("failed to update director permissions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// RequireMember checks that the user is admin or member and returns the
// access snapshot for further checks.
func (s *Service) RequireMember(ctx context.Context, projectID, userID uuid.UUID) (*Access, error) {
	access, err := s.LoadAccess(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !access.IsMember(userID) {
		return nil, ErrNotMember
	}
	return access, nil
}
