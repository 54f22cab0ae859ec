package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewise/sitewise/internal/auth"
	"github.com/sitewise/sitewise/internal/db"
	"github.com/sitewise/sitewise/internal/expenses"
	"github.com/sitewise/sitewise/internal/projects"
)

func insertUser(t *testing.T, pool *pgxpool.Pool, name, email string) uuid.UUID {
	t.Helper()

	hash, err := auth.HashPassword("integration-test-password")
	require.NoError(t, err)

	id := uuid.New()
	_, err = pool.Exec(context.Background(), `
		INSERT INTO users (id, email, password_hash, name)
		VALUES ($1, $2, $3, $4)
	`, id, email, hash, name)
	require.NoError(t, err)
	return id
}

func totalSpent(t *testing.T, pool *pgxpool.Pool, projectID uuid.UUID) float64 {
	t.Helper()

	var spent float64
	err := pool.QueryRow(context.Background(),
		"SELECT total_spent FROM projects WHERE id = $1", projectID).Scan(&spent)
	require.NoError(t, err)
	return spent
}

// TestIntegration_ExpenseWorkflow drives the full lifecycle against a real
// database: project creation, invitation, submission, approval, soft-delete
// and restore, checking the budget counter at every step.
func TestIntegration_ExpenseWorkflow(t *testing.T) {
	pool, cleanup := newTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	database := db.New(pool)
	projectService := projects.NewService(database)
	expenseService := expenses.NewService(database)

	adminID := insertUser(t, pool, "Ada Admin", "ada@example.com")
	labourID := insertUser(t, pool, "Lee Labour", "lee@example.com")

	project, err := projectService.Create(ctx, adminID, "Riverside Villa", nil, 100000, time.Now(), nil)
	require.NoError(t, err)
	assert.Equal(t, float64(0), totalSpent(t, pool, project.ID))

	// Bring the labourer on board through an invitation.
	email := "lee@example.com"
	_, token, err := projectService.CreateInvite(ctx, project.ID, adminID, &email, projects.RoleLabour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	accepted, err := projectService.AcceptInvite(ctx, token, labourID)
	require.NoError(t, err)
	assert.Equal(t, project.ID, accepted.ProjectID)
	assert.Equal(t, projects.RoleLabour, accepted.Role)

	// A second acceptance of the same token must fail: tokens are single-use.
	_, err = projectService.AcceptInvite(ctx, token, labourID)
	require.Error(t, err)

	// Admin-recorded expenses are approved immediately and hit the budget.
	adminResult, err := expenseService.Create(ctx, adminID, expenses.CreateInput{
		ProjectID:     project.ID,
		Title:         "Cement delivery",
		Amount:        1500,
		Category:      expenses.CategoryMaterials,
		PaymentMethod: expenses.PaymentBankTransfer,
		PaymentStatus: expenses.PaymentStatusPaid,
		ExpenseDate:   time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, adminResult.AutoApproved)
	assert.True(t, adminResult.Expense.IsApproved())
	assert.Equal(t, float64(1500), totalSpent(t, pool, project.ID))

	// Labour submissions stay pending and leave the budget alone.
	labourResult, err := expenseService.Create(ctx, labourID, expenses.CreateInput{
		ProjectID:     project.ID,
		Title:         "Scaffolding rental",
		Amount:        800,
		Category:      expenses.CategoryEquipment,
		PaymentMethod: expenses.PaymentCash,
		PaymentStatus: expenses.PaymentStatusPaid,
		ExpenseDate:   time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, labourResult.AutoApproved)
	assert.True(t, labourResult.Expense.IsPending())
	assert.Equal(t, float64(1500), totalSpent(t, pool, project.ID))

	// Approval applies the amount once, and only once.
	approved, err := expenseService.Approve(ctx, labourResult.Expense.ID, adminID)
	require.NoError(t, err)
	assert.True(t, approved.IsApproved())
	assert.Equal(t, float64(2300), totalSpent(t, pool, project.ID))

	_, err = expenseService.Approve(ctx, labourResult.Expense.ID, adminID)
	assert.ErrorIs(t, err, expenses.ErrAlreadyDecided)
	assert.Equal(t, float64(2300), totalSpent(t, pool, project.ID))

	// Deleting an approved expense hands its amount back to the budget.
	deleted, err := expenseService.SoftDelete(ctx, labourResult.Expense.ID, adminID)
	require.NoError(t, err)
	assert.True(t, deleted.Expense.IsDeleted)
	assert.Equal(t, float64(1500), totalSpent(t, pool, project.ID))

	// Restoring takes it back out again.
	restored, err := expenseService.Restore(ctx, labourResult.Expense.ID, adminID)
	require.NoError(t, err)
	assert.False(t, restored.Expense.IsDeleted)
	assert.Equal(t, float64(2300), totalSpent(t, pool, project.ID))

	// The labourer still sees only their own expenses.
	visible, err := expenseService.List(ctx, project.ID, labourID, false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "Scaffolding rental", visible[0].Title)
}

func TestIntegration_InviteSweepExpiresStaleInvitations(t *testing.T) {
	pool, cleanup := newTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database := db.New(pool)
	projectService := projects.NewService(database)

	adminID := insertUser(t, pool, "Ada Admin", "ada2@example.com")
	project, err := projectService.Create(ctx, adminID, "Warehouse Refit", nil, 50000, time.Now(), nil)
	require.NoError(t, err)

	invite, _, err := projectService.CreateInvite(ctx, project.ID, adminID, nil, projects.RoleDirector)
	require.NoError(t, err)

	// Backdate the invitation so the sweep considers it stale.
	_, err = pool.Exec(ctx,
		"UPDATE invitations SET expires_at = NOW() - INTERVAL '1 hour' WHERE id = $1", invite.ID)
	require.NoError(t, err)

	swept, err := projectService.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	var status string
	err = pool.QueryRow(ctx, "SELECT status FROM invitations WHERE id = $1", invite.ID).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, "expired", status)
}
