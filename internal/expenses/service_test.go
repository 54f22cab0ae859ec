package expenses

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/sitewise/sitewise/internal/db"
	"github.com/sitewise/sitewise/internal/projects"
	"github.com/sitewise/sitewise/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var expenseColumns = []string{
	"id", "project_id", "title", "description", "amount", "category", "payment_method",
	"approval_status", "payment_status", "paid_amount", "receipt_ref",
	"created_by", "created_by_name", "approved_by", "approved_by_name", "approved_at",
	"rejection_reason", "expense_date", "is_deleted", "deleted_by", "deleted_at",
	"added_by_admin", "added_by_admin_id", "added_by_admin_name",
	"expense_for_user_id", "expense_for_user_name", "created_at", "updated_at",
}

var projectColumns = []string{
	"id", "name", "description", "budget", "total_spent", "status", "admin_id",
	"start_date", "end_date", "created_at", "updated_at",
}

var memberColumns = []string{"project_id", "user_id", "role", "name", "email", "photo_url", "joined_at"}

var grantColumns = []string{"user_id", "can_delete_expenses", "can_delete_members"}

type fixture struct {
	projectID  uuid.UUID
	adminID    uuid.UUID
	directorID uuid.UUID
	labourID   uuid.UUID
	now        time.Time
}

func newFixture() fixture {
	return fixture{
		projectID:  uuid.New(),
		adminID:    uuid.New(),
		directorID: uuid.New(),
		labourID:   uuid.New(),
		now:        time.Now(),
	}
}

func setupService(t *testing.T) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewService(&db.DB{Pool: mock}), mock
}

// anyArgs builds n pgxmock.AnyArg() matchers for expectations that do not
// care about argument values.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

// expectAccessLoad queues the three queries behind projects.LoadAccess.
func expectAccessLoad(mock pgxmock.PgxPoolIface, f fixture) {
	mock.ExpectQuery(`SELECT .+ FROM projects`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(projectColumns).AddRow(
			f.projectID, "Site A", nil, 100000.0, 0.0, "active", f.adminID,
			f.now, nil, f.now, f.now,
		))
	mock.ExpectQuery(`SELECT .+ FROM project_members`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(memberColumns).
			AddRow(f.projectID, f.directorID, "director", "Dana Director", "dana@example.com", nil, f.now).
			AddRow(f.projectID, f.labourID, "labour", "Lee Labour", "lee@example.com", nil, f.now))
	mock.ExpectQuery(`SELECT .+ FROM director_permissions`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(grantColumns).
			AddRow(f.directorID, true, false))
}

func pendingExpenseRow(f fixture, expenseID uuid.UUID, createdBy uuid.UUID, amount float64) *pgxmock.Rows {
	return pgxmock.NewRows(expenseColumns).AddRow(
		expenseID, f.projectID, "Cement", nil, amount, "Materials", "Cash",
		"pending", "paid", amount, nil,
		createdBy, "Lee Labour", nil, nil, nil,
		nil, f.now, false, nil, nil,
		false, nil, nil, nil, nil, f.now, f.now,
	)
}

func TestCreate_AdminAutoApprovesAndIncrementsSpend(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()
	expenseID := uuid.New()

	mock.ExpectBegin()
	expectAccessLoad(mock, f)
	mock.ExpectQuery(`SELECT name FROM users`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Alex Admin"))
	mock.ExpectQuery(`INSERT INTO expenses`).
		WithArgs(anyArgs(19)...).
		WillReturnRows(pgxmock.NewRows(expenseColumns).AddRow(
			expenseID, f.projectID, "Cement", nil, 500.0, "Materials", "Cash",
			"approved", "paid", 500.0, nil,
			f.adminID, "Alex Admin", &f.adminID, strPtr("Alex Admin"), &f.now,
			nil, f.now, false, nil, nil,
			false, nil, nil, nil, nil, f.now, f.now,
		))
	mock.ExpectExec(`UPDATE projects\s+SET total_spent = total_spent`).
		WithArgs(f.projectID, 500.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	result, err := svc.Create(context.Background(), f.adminID, CreateInput{
		ProjectID:     f.projectID,
		Title:         "Cement",
		Amount:        500,
		Category:      CategoryMaterials,
		PaymentMethod: PaymentCash,
		PaymentStatus: PaymentStatusPaid,
		ExpenseDate:   f.now,
	})

	require.NoError(t, err)
	assert.True(t, result.AutoApproved)
	assert.Equal(t, ApprovalApproved, result.Expense.ApprovalStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_MemberSubmissionStaysPendingWithoutSpend(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()
	expenseID := uuid.New()

	mock.ExpectBegin()
	expectAccessLoad(mock, f)
	mock.ExpectQuery(`SELECT name FROM users`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Lee Labour"))
	mock.ExpectQuery(`INSERT INTO expenses`).
		WithArgs(anyArgs(19)...).
		WillReturnRows(pendingExpenseRow(f, expenseID, f.labourID, 250.0))
	// No projects update: pending expenses never touch total_spent.
	mock.ExpectCommit()

	result, err := svc.Create(context.Background(), f.labourID, CreateInput{
		ProjectID:     f.projectID,
		Title:         "Cement",
		Amount:        250,
		Category:      CategoryMaterials,
		PaymentMethod: PaymentCash,
		PaymentStatus: PaymentStatusPaid,
		ExpenseDate:   f.now,
	})

	require.NoError(t, err)
	assert.False(t, result.AutoApproved)
	assert.Equal(t, ApprovalPending, result.Expense.ApprovalStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_NonMemberRejected(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()
	stranger := uuid.New()

	mock.ExpectBegin()
	expectAccessLoad(mock, f)
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), stranger, CreateInput{
		ProjectID:     f.projectID,
		Title:         "Cement",
		Amount:        100,
		Category:      CategoryMaterials,
		PaymentMethod: PaymentCash,
		PaymentStatus: PaymentStatusPaid,
		ExpenseDate:   f.now,
	})

	assert.ErrorIs(t, err, projects.ErrNotMember)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_OnBehalfRequiresAdmin(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()

	mock.ExpectBegin()
	expectAccessLoad(mock, f)
	mock.ExpectQuery(`SELECT name FROM users`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Dana Director"))
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), f.directorID, CreateInput{
		ProjectID:        f.projectID,
		Title:            "Cement",
		Amount:           100,
		Category:         CategoryMaterials,
		PaymentMethod:    PaymentCash,
		PaymentStatus:    PaymentStatusPaid,
		ExpenseDate:      f.now,
		ExpenseForUserID: &f.labourID,
	})

	assert.ErrorIs(t, err, projects.ErrInsufficientPermissions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_PartialPaymentValidation(t *testing.T) {
	svc, _ := setupService(t)
	f := newFixture()

	_, err := svc.Create(context.Background(), f.labourID, CreateInput{
		ProjectID:     f.projectID,
		Title:         "Cement",
		Amount:        100,
		Category:      CategoryMaterials,
		PaymentMethod: PaymentCash,
		PaymentStatus: PaymentStatusPartial,
		PaidAmount:    100, // must be strictly below amount
		ExpenseDate:   f.now,
	})

	var fields validation.FieldErrors
	require.ErrorAs(t, err, &fields)
	assert.Contains(t, fields, "paid_amount")
}

func TestApprove_IncrementsSpendExactlyOnce(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()
	expenseID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM expenses`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pendingExpenseRow(f, expenseID, f.labourID, 250.0))
	expectAccessLoad(mock, f)
	mock.ExpectQuery(`SELECT name FROM users`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Dana Director"))
	mock.ExpectQuery(`UPDATE expenses`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(expenseColumns).AddRow(
			expenseID, f.projectID, "Cement", nil, 250.0, "Materials", "Cash",
			"approved", "paid", 250.0, nil,
			f.labourID, "Lee Labour", &f.directorID, strPtr("Dana Director"), &f.now,
			nil, f.now, false, nil, nil,
			false, nil, nil, nil, nil, f.now, f.now,
		))
	mock.ExpectExec(`UPDATE projects\s+SET total_spent = total_spent`).
		WithArgs(f.projectID, 250.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	expense, err := svc.Approve(context.Background(), expenseID, f.directorID)

	require.NoError(t, err)
	assert.Equal(t, ApprovalApproved, expense.ApprovalStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprove_AlreadyDecided(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()
	expenseID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM expenses`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(expenseColumns).AddRow(
			expenseID, f.projectID, "Cement", nil, 250.0, "Materials", "Cash",
			"approved", "paid", 250.0, nil,
			f.labourID, "Lee Labour", &f.adminID, strPtr("Alex Admin"), &f.now,
			nil, f.now, false, nil, nil,
			false, nil, nil, nil, nil, f.now, f.now,
		))
	expectAccessLoad(mock, f)
	mock.ExpectRollback()

	_, err := svc.Approve(context.Background(), expenseID, f.adminID)

	assert.ErrorIs(t, err, ErrAlreadyDecided)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprove_LabourForbidden(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()
	expenseID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM expenses`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pendingExpenseRow(f, expenseID, f.labourID, 250.0))
	expectAccessLoad(mock, f)
	mock.ExpectRollback()

	_, err := svc.Approve(context.Background(), expenseID, f.labourID)

	assert.ErrorIs(t, err, projects.ErrInsufficientPermissions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReject_RequiresReason(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Reject(context.Background(), uuid.New(), uuid.New(), "")

	var fields validation.FieldErrors
	require.ErrorAs(t, err, &fields)
	assert.Contains(t, fields, "rejection_reason")
}

func TestSoftDelete_ApprovedExpenseReversesSpend(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()
	expenseID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM expenses`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(expenseColumns).AddRow(
			expenseID, f.projectID, "Cement", nil, 250.0, "Materials", "Cash",
			"approved", "paid", 250.0, nil,
			f.labourID, "Lee Labour", &f.adminID, strPtr("Alex Admin"), &f.now,
			nil, f.now, false, nil, nil,
			false, nil, nil, nil, nil, f.now, f.now,
		))
	expectAccessLoad(mock, f)
	mock.ExpectQuery(`UPDATE expenses`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(expenseColumns).AddRow(
			expenseID, f.projectID, "Cement", nil, 250.0, "Materials", "Cash",
			"approved", "paid", 250.0, nil,
			f.labourID, "Lee Labour", &f.adminID, strPtr("Alex Admin"), &f.now,
			nil, f.now, true, &f.adminID, &f.now,
			false, nil, nil, nil, nil, f.now, f.now,
		))
	mock.ExpectExec(`UPDATE projects\s+SET total_spent = total_spent`).
		WithArgs(f.projectID, -250.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	result, err := svc.SoftDelete(context.Background(), expenseID, f.adminID)

	require.NoError(t, err)
	assert.True(t, result.Expense.IsDeleted)
	assert.Equal(t, f.adminID, result.AdminID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDelete_CreatorMayDeleteOwnPending(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()
	expenseID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM expenses`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pendingExpenseRow(f, expenseID, f.labourID, 250.0))
	expectAccessLoad(mock, f)
	mock.ExpectQuery(`UPDATE expenses`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(expenseColumns).AddRow(
			expenseID, f.projectID, "Cement", nil, 250.0, "Materials", "Cash",
			"pending", "paid", 250.0, nil,
			f.labourID, "Lee Labour", nil, nil, nil,
			nil, f.now, true, &f.labourID, &f.now,
			false, nil, nil, nil, nil, f.now, f.now,
		))
	// Pending expenses never contributed to total_spent, so nothing to reverse.
	mock.ExpectCommit()

	result, err := svc.SoftDelete(context.Background(), expenseID, f.labourID)

	require.NoError(t, err)
	assert.True(t, result.Expense.IsDeleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDelete_DirectorWithoutGrantForbidden(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()
	expenseID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM expenses`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pendingExpenseRow(f, expenseID, f.labourID, 250.0))
	// Director exists but holds no delete grant.
	mock.ExpectQuery(`SELECT .+ FROM projects`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(projectColumns).AddRow(
			f.projectID, "Site A", nil, 100000.0, 0.0, "active", f.adminID,
			f.now, nil, f.now, f.now,
		))
	mock.ExpectQuery(`SELECT .+ FROM project_members`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(memberColumns).
			AddRow(f.projectID, f.directorID, "director", "Dana Director", "dana@example.com", nil, f.now))
	mock.ExpectQuery(`SELECT .+ FROM director_permissions`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(grantColumns))
	mock.ExpectRollback()

	_, err := svc.SoftDelete(context.Background(), expenseID, f.directorID)

	assert.ErrorIs(t, err, projects.ErrInsufficientPermissions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestore_ReappliesSpendForApprovedExpense(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()
	expenseID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM expenses`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(expenseColumns).AddRow(
			expenseID, f.projectID, "Cement", nil, 250.0, "Materials", "Cash",
			"approved", "paid", 250.0, nil,
			f.labourID, "Lee Labour", &f.adminID, strPtr("Alex Admin"), &f.now,
			nil, f.now, true, &f.adminID, &f.now,
			false, nil, nil, nil, nil, f.now, f.now,
		))
	expectAccessLoad(mock, f)
	mock.ExpectQuery(`UPDATE expenses`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(expenseColumns).AddRow(
			expenseID, f.projectID, "Cement", nil, 250.0, "Materials", "Cash",
			"approved", "paid", 250.0, nil,
			f.labourID, "Lee Labour", &f.adminID, strPtr("Alex Admin"), &f.now,
			nil, f.now, false, nil, nil,
			false, nil, nil, nil, nil, f.now, f.now,
		))
	mock.ExpectExec(`UPDATE projects\s+SET total_spent = total_spent`).
		WithArgs(f.projectID, 250.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	result, err := svc.Restore(context.Background(), expenseID, f.adminID)

	require.NoError(t, err)
	assert.False(t, result.Expense.IsDeleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestore_NotDeleted(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()
	expenseID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM expenses`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pendingExpenseRow(f, expenseID, f.labourID, 250.0))
	expectAccessLoad(mock, f)
	mock.ExpectRollback()

	_, err := svc.Restore(context.Background(), expenseID, f.adminID)

	assert.ErrorIs(t, err, ErrNotDeleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_LabourSeesOnlyOwnExpenses(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()
	ownID := uuid.New()
	otherID := uuid.New()

	expectAccessLoad(mock, f)
	mock.ExpectQuery(`SELECT .+ FROM expenses`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(expenseColumns).
			AddRow(
				ownID, f.projectID, "Cement", nil, 250.0, "Materials", "Cash",
				"pending", "paid", 250.0, nil,
				f.labourID, "Lee Labour", nil, nil, nil,
				nil, f.now, false, nil, nil,
				false, nil, nil, nil, nil, f.now, f.now,
			).
			AddRow(
				otherID, f.projectID, "Scaffolding", nil, 900.0, "Equipment", "Cash",
				"pending", "paid", 900.0, nil,
				f.directorID, "Dana Director", nil, nil, nil,
				nil, f.now, false, nil, nil,
				false, nil, nil, nil, nil, f.now, f.now,
			))

	list, err := svc.List(context.Background(), f.projectID, f.labourID, false)

	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ownID, list[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_DeletedListingRequiresAdminControl(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()

	expectAccessLoad(mock, f)

	_, err := svc.List(context.Background(), f.projectID, f.labourID, true)

	assert.ErrorIs(t, err, projects.ErrInsufficientPermissions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachReceipt_LocksRowAndReturnsPreviousRef(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()
	expenseID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM expenses WHERE id = \$1 FOR UPDATE`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(expenseColumns).AddRow(
			expenseID, f.projectID, "Cement", nil, 250.0, "Materials", "Cash",
			"pending", "paid", 250.0, strPtr("old-ref.jpg"),
			f.labourID, "Lee Labour", nil, nil, nil,
			nil, f.now, false, nil, nil,
			false, nil, nil, nil, nil, f.now, f.now,
		))
	expectAccessLoad(mock, f)
	mock.ExpectExec(`UPDATE expenses\s+SET receipt_ref`).
		WithArgs(expenseID, "new-ref.jpg").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	previous, err := svc.AttachReceipt(context.Background(), expenseID, f.labourID, "new-ref.jpg")

	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.Equal(t, "old-ref.jpg", *previous)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachReceipt_DeletedExpenseRejected(t *testing.T) {
	svc, mock := setupService(t)
	f := newFixture()
	expenseID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM expenses WHERE id = \$1 FOR UPDATE`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(expenseColumns).AddRow(
			expenseID, f.projectID, "Cement", nil, 250.0, "Materials", "Cash",
			"pending", "paid", 250.0, nil,
			f.labourID, "Lee Labour", nil, nil, nil,
			nil, f.now, true, &f.adminID, &f.now,
			false, nil, nil, nil, nil, f.now, f.now,
		))
	expectAccessLoad(mock, f)
	mock.ExpectRollback()

	_, err := svc.AttachReceipt(context.Background(), expenseID, f.labourID, "new-ref.jpg")

	assert.ErrorIs(t, err, ErrExpenseDeleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string {
	return &s
}
