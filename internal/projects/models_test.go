package projects

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func testAccess(adminID, directorID, labourID uuid.UUID, grants map[uuid.UUID]DirectorGrants) *Access {
	projectID := uuid.New()
	now := time.Now()
	return &Access{
		Project: &Project{ID: projectID, Name: "Site A", Budget: 1000, AdminID: adminID, Status: StatusActive, StartDate: now},
		Members: []Member{
			{ProjectID: projectID, UserID: directorID, Role: RoleDirector, Name: "Dana", Email: "dana@example.com", JoinedAt: now},
			{ProjectID: projectID, UserID: labourID, Role: RoleLabour, Name: "Lee", Email: "lee@example.com", JoinedAt: now},
		},
		Grants: grants,
	}
}

func TestAccess_RolePredicates(t *testing.T) {
	adminID, directorID, labourID := uuid.New(), uuid.New(), uuid.New()
	stranger := uuid.New()
	a := testAccess(adminID, directorID, labourID, nil)

	assert.True(t, a.IsAdmin(adminID))
	assert.False(t, a.IsAdmin(directorID))

	assert.True(t, a.IsDirector(directorID))
	assert.False(t, a.IsDirector(adminID)) // admin is not listed as a member
	assert.True(t, a.IsLabour(labourID))

	assert.True(t, a.IsMember(adminID))
	assert.True(t, a.IsMember(directorID))
	assert.True(t, a.IsMember(labourID))
	assert.False(t, a.IsMember(stranger))
}

func TestAccess_ApprovalAuthority(t *testing.T) {
	adminID, directorID, labourID := uuid.New(), uuid.New(), uuid.New()
	a := testAccess(adminID, directorID, labourID, nil)

	// Directors approve unconditionally; no grant involved.
	assert.True(t, a.CanManageExpenses(adminID))
	assert.True(t, a.CanManageExpenses(directorID))
	assert.False(t, a.CanManageExpenses(labourID))

	assert.True(t, a.CanSeeDetails(directorID))
	assert.False(t, a.CanSeeDetails(labourID))
}

func TestAccess_DeleteCapabilitiesAreGrantGated(t *testing.T) {
	adminID, directorID, labourID := uuid.New(), uuid.New(), uuid.New()

	// No grants at all: only the admin can delete.
	a := testAccess(adminID, directorID, labourID, nil)
	assert.True(t, a.CanDeleteExpenses(adminID))
	assert.False(t, a.CanDeleteExpenses(directorID))
	assert.False(t, a.CanDeleteMembers(directorID))

	// Grants are independent of each other.
	a = testAccess(adminID, directorID, labourID, map[uuid.UUID]DirectorGrants{
		directorID: {CanDeleteExpenses: true, CanDeleteMembers: false},
	})
	assert.True(t, a.CanDeleteExpenses(directorID))
	assert.False(t, a.CanDeleteMembers(directorID))

	// A grant row for a labour member confers nothing.
	a = testAccess(adminID, directorID, labourID, map[uuid.UUID]DirectorGrants{
		labourID: {CanDeleteExpenses: true, CanDeleteMembers: true},
	})
	assert.False(t, a.CanDeleteExpenses(labourID))
	assert.False(t, a.CanDeleteMembers(labourID))
}

func TestAccess_IndependentOfMemberOrder(t *testing.T) {
	adminID, directorID, labourID := uuid.New(), uuid.New(), uuid.New()
	a := testAccess(adminID, directorID, labourID, map[uuid.UUID]DirectorGrants{
		directorID: {CanDeleteExpenses: true},
	})

	// Reverse the member slice; every predicate must answer the same.
	b := &Access{Project: a.Project, Grants: a.Grants, Members: []Member{a.Members[1], a.Members[0]}}

	for _, id := range []uuid.UUID{adminID, directorID, labourID} {
		assert.Equal(t, a.IsMember(id), b.IsMember(id))
		assert.Equal(t, a.IsDirector(id), b.IsDirector(id))
		assert.Equal(t, a.CanManageExpenses(id), b.CanManageExpenses(id))
		assert.Equal(t, a.CanDeleteExpenses(id), b.CanDeleteExpenses(id))
		assert.Equal(t, a.CanDeleteMembers(id), b.CanDeleteMembers(id))
	}
}

func TestProject_BudgetDerivations(t *testing.T) {
	p := &Project{Budget: 1000, TotalSpent: 250}
	assert.Equal(t, 750.0, p.RemainingBudget())
	assert.Equal(t, 25.0, p.BudgetUtilization())
	assert.False(t, p.IsOverBudget())

	p.TotalSpent = 1200
	assert.True(t, p.IsOverBudget())

	zero := &Project{Budget: 0, TotalSpent: 10}
	assert.Equal(t, 0.0, zero.BudgetUtilization())
}

func TestInvitation_LazyExpiry(t *testing.T) {
	now := time.Now()

	pending := &Invitation{Status: InviteStatusPending, ExpiresAt: now.Add(time.Hour)}
	assert.True(t, pending.IsValid(now))
	assert.Equal(t, InviteStatusPending, pending.EffectiveStatus(now))

	// Past expires_at the invitation reads expired even though the stored
	// status still says pending.
	stale := &Invitation{Status: InviteStatusPending, ExpiresAt: now.Add(-time.Minute)}
	assert.False(t, stale.IsValid(now))
	assert.True(t, stale.IsExpired(now))
	assert.Equal(t, InviteStatusExpired, stale.EffectiveStatus(now))

	cancelled := &Invitation{Status: InviteStatusCancelled, ExpiresAt: now.Add(time.Hour)}
	assert.False(t, cancelled.IsValid(now))
	assert.Equal(t, InviteStatusCancelled, cancelled.EffectiveStatus(now))

	accepted := &Invitation{Status: InviteStatusAccepted, ExpiresAt: now.Add(-time.Hour)}
	assert.Equal(t, InviteStatusAccepted, accepted.EffectiveStatus(now))
}
