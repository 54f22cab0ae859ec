package projects

import (
	"time"

	"github.com/google/uuid"
)

// Status represents a project's lifecycle state
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusOnHold    Status = "on_hold"
	StatusCancelled Status = "cancelled"
)

// IsValid reports whether the status is one of the known states
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusOnHold, StatusCancelled:
		return true
	}
	return false
}

// MemberRole is a per-project member role. The admin is the project owner and
// is never listed among members.
type MemberRole string

const (
	RoleDirector MemberRole = "director"
	RoleLabour   MemberRole = "labour"
)

// IsValid reports whether the role is one of the known member roles
func (r MemberRole) IsValid() bool {
	return r == RoleDirector || r == RoleLabour
}

// Project represents a construction project with a budget
type Project struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Description *string    `db:"description" json:"description,omitempty"`
	Budget      float64    `db:"budget" json:"budget"`
	TotalSpent  float64    `db:"total_spent" json:"total_spent"`
	Status      Status     `db:"status" json:"status"`
	AdminID     uuid.UUID  `db:"admin_id" json:"admin_id"`
	StartDate   time.Time  `db:"start_date" json:"start_date"`
	EndDate     *time.Time `db:"end_date" json:"end_date,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// RemainingBudget returns budget minus approved spend
func (p *Project) RemainingBudget() float64 {
	return p.Budget - p.TotalSpent
}

// BudgetUtilization returns spend as a percentage of budget, 0 when budget is 0
func (p *Project) BudgetUtilization() float64 {
	if p.Budget == 0 {
		return 0
	}
	return p.TotalSpent / p.Budget * 100
}

// IsOverBudget reports whether approved spend exceeds the budget
func (p *Project) IsOverBudget() bool {
	return p.TotalSpent > p.Budget
}

// Member represents a director or labour member of a project.
// Name, email and photo are snapshotted from the user at accept time.
type Member struct {
	ProjectID uuid.UUID  `db:"project_id" json:"project_id"`
	UserID    uuid.UUID  `db:"user_id" json:"user_id"`
	Role      MemberRole `db:"role" json:"role"`
	Name      string     `db:"name" json:"name"`
	Email     string     `db:"email" json:"email"`
	PhotoURL  *string    `db:"photo_url" json:"photo_url,omitempty"`
	JoinedAt  time.Time  `db:"joined_at" json:"joined_at"`
}

// IsDirector reports whether the member holds the director role
func (m *Member) IsDirector() bool {
	return m.Role == RoleDirector
}

// IsLabour reports whether the member holds the labour role
func (m *Member) IsLabour() bool {
	return m.Role == RoleLabour
}

// DirectorGrants are the admin-delegated per-director capabilities.
// Directors can always approve and reject; deletion is opt-in per director.
type DirectorGrants struct {
	CanDeleteExpenses bool `json:"can_delete_expenses"`
	CanDeleteMembers  bool `json:"can_delete_members"`
}

// Access resolves what a given user may do and see within one project.
// It is a pure snapshot: load it once, then every predicate is a plain
// function of project, members and grants, independent of member ordering.
type Access struct {
	Project *Project
	Members []Member
	Grants  map[uuid.UUID]DirectorGrants
}

// IsAdmin reports whether the user owns the project
func (a *Access) IsAdmin(userID uuid.UUID) bool {
	return a.Project.AdminID == userID
}

func (a *Access) memberRole(userID uuid.UUID) (MemberRole, bool) {
	for i := range a.Members {
		if a.Members[i].UserID == userID {
			return a.Members[i].Role, true
		}
	}
	return "", false
}

// IsDirector reports whether the user is a director member
func (a *Access) IsDirector(userID uuid.UUID) bool {
	role, ok := a.memberRole(userID)
	return ok && role == RoleDirector
}

// IsLabour reports whether the user is a labour member
func (a *Access) IsLabour(userID uuid.UUID) bool {
	role, ok := a.memberRole(userID)
	return ok && role == RoleLabour
}

// IsMember reports whether the user is the admin or any member
func (a *Access) IsMember(userID uuid.UUID) bool {
	if a.IsAdmin(userID) {
		return true
	}
	_, ok := a.memberRole(userID)
	return ok
}

// HasAdminControl reports whether the user is the admin or a director
func (a *Access) HasAdminControl(userID uuid.UUID) bool {
	return a.IsAdmin(userID) || a.IsDirector(userID)
}

// CanSeeDetails reports whether the user may see budget and aggregate spend.
// Labour members cannot.
func (a *Access) CanSeeDetails(userID uuid.UUID) bool {
	return a.IsAdmin(userID) || a.IsDirector(userID)
}

// CanManageExpenses reports whether the user may approve or reject expenses.
// Directors hold this unconditionally, unlike the delete capabilities.
func (a *Access) CanManageExpenses(userID uuid.UUID) bool {
	return a.IsAdmin(userID) || a.IsDirector(userID)
}

// CanDeleteExpenses reports whether the user may soft-delete others' expenses
func (a *Access) CanDeleteExpenses(userID uuid.UUID) bool {
	if a.IsAdmin(userID) {
		return true
	}
	if !a.IsDirector(userID) {
		return false
	}
	return a.Grants[userID].CanDeleteExpenses
}

// CanDeleteMembers reports whether the user may remove members
func (a *Access) CanDeleteMembers(userID uuid.UUID) bool {
	if a.IsAdmin(userID) {
		return true
	}
	if !a.IsDirector(userID) {
		return false
	}
	return a.Grants[userID].CanDeleteMembers
}

// DirectorIDs returns the user IDs of all director members
func (a *Access) DirectorIDs() []uuid.UUID {
	var ids []uuid.UUID
	for i := range a.Members {
		if a.Members[i].Role == RoleDirector {
			ids = append(ids, a.Members[i].UserID)
		}
	}
	return ids
}
