package expenses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sitewise/sitewise/internal/db"
	"github.com/sitewise/sitewise/internal/projects"
	"github.com/sitewise/sitewise/internal/validation"
)

var (
	// ErrExpenseNotFound is returned when an expense does not exist or is not
	// visible to the actor
	ErrExpenseNotFound = errors.New("expense not found")

	// ErrAlreadyDecided is returned when approving or rejecting an expense
	// that is no longer pending. Approval is applied exactly once; the budget
	// increment can never double-count.
	ErrAlreadyDecided = errors.New("expense has already been approved or rejected")

	// ErrExpenseDeleted is returned when acting on a soft-deleted expense
	ErrExpenseDeleted = errors.New("expense has been deleted")

	// ErrNotDeleted is returned when restoring an expense that is not deleted
	ErrNotDeleted = errors.New("expense is not deleted")
)

// Service owns the expense lifecycle: creation, approval, rejection,
// soft-delete and restore, plus the budget accounting that goes with it.
// Every transition that touches Project.total_spent runs the status change
// and the increment in one transaction.
type Service struct {
	db *db.DB
}

// NewService creates a new expense service
func NewService(database *db.DB) *Service {
	return &Service{db: database}
}

// CreateInput carries everything needed to record an expense.
type CreateInput struct {
	ProjectID     uuid.UUID
	Title         string
	Description   *string
	Amount        float64
	Category      Category
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	PaidAmount    float64
	ReceiptRef    *string
	ExpenseDate   time.Time

	// ExpenseForUserID is set when an admin records the expense on behalf of
	// a member.
	ExpenseForUserID *uuid.UUID
}

// Validate checks the input at the data layer, not just the UI boundary.
func (in *CreateInput) Validate() validation.FieldErrors {
	fields := validation.FieldErrors{}

	if err := validation.ValidateName(in.Title); err != nil {
		fields.Add("title", err.Error())
	}
	if in.Amount <= 0 {
		fields.Add("amount", "amount must be greater than zero")
	}
	if !in.Category.IsValid() {
		fields.Add("category", "unknown category")
	}
	if !in.PaymentMethod.IsValid() {
		fields.Add("payment_method", "unknown payment method")
	}
	if !in.PaymentStatus.IsValid() {
		fields.Add("payment_status", "unknown payment status")
	}
	if in.PaidAmount < 0 {
		fields.Add("paid_amount", "paid amount must not be negative")
	}
	if in.PaymentStatus == PaymentStatusPartial {
		if in.PaidAmount <= 0 || in.PaidAmount >= in.Amount {
			fields.Add("paid_amount", "partial payment requires 0 < paid amount < amount")
		}
	}
	if in.ExpenseDate.IsZero() {
		fields.Add("expense_date", "expense date is required")
	}

	if len(fields) > 0 {
		return fields
	}
	return nil
}

// CreateResult reports what Create did. Access is the permission snapshot the
// decision was made against, so callers can fan out notifications without a
// second read.
type CreateResult struct {
	Expense      *Expense
	AutoApproved bool
	Access       *projects.Access
}

// Create records an expense. Admin-created expenses are auto-approved and the
// project's total_spent is incremented in the same transaction; everyone
// else's start out pending and do not touch the budget.
func (s *Service) Create(ctx context.Context, actorUserID uuid.UUID, in CreateInput) (*CreateResult, error) {
	if fields := in.Validate(); fields != nil {
		return nil, fields
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	access, err := projects.LoadAccess(ctx, tx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if !access.IsMember(actorUserID) {
		return nil, projects.ErrNotMember
	}

	actorName, err := lookupUserName(ctx, tx, actorUserID)
	if err != nil {
		return nil, err
	}

	isAdmin := access.IsAdmin(actorUserID)

	var addedByAdminID *uuid.UUID
	var addedByAdminName, expenseForName *string
	if in.ExpenseForUserID != nil && *in.ExpenseForUserID != actorUserID {
		if !isAdmin {
			return nil, projects.ErrInsufficientPermissions
		}
		name, err := memberName(access, *in.ExpenseForUserID)
		if err != nil {
			return nil, err
		}
		addedByAdminID = &actorUserID
		addedByAdminName = &actorName
		expenseForName = &name
	} else {
		in.ExpenseForUserID = nil
	}

	paidAmount := NormalizePaidAmount(in.PaymentStatus, in.Amount, in.PaidAmount)

	status := ApprovalPending
	var approvedBy *uuid.UUID
	var approvedByName *string
	if isAdmin {
		status = ApprovalApproved
		approvedBy = &actorUserID
		approvedByName = &actorName
	}

	var expense Expense
	err = tx.QueryRow(ctx, `
		INSERT INTO expenses (
		  project_id, title, description, amount, category, payment_method,
		  approval_status, payment_status, paid_amount, receipt_ref,
		  created_by, created_by_name, approved_by, approved_by_name, approved_at,
		  expense_date, added_by_admin, added_by_admin_id, added_by_admin_name,
		  expense_for_user_id, expense_for_user_name
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        CASE WHEN $7 = 'approved' THEN NOW() ELSE NULL END,
		        $15, $16, $17, $18, $19, $20)
		RETURNING id, project_id, title, description, amount, category, payment_method,
		          approval_status, payment_status, paid_amount, receipt_ref,
		          created_by, created_by_name, approved_by, approved_by_name, approved_at,
		          rejection_reason, expense_date, is_deleted, deleted_by, deleted_at,
		          added_by_admin, added_by_admin_id, added_by_admin_name,
		          expense_for_user_id, expense_for_user_name, created_at, updated_at
	`, in.ProjectID, in.Title, in.Description, in.Amount, in.Category, in.PaymentMethod,
		status, in.PaymentStatus, paidAmount, in.ReceiptRef,
		actorUserID, actorName, approvedBy, approvedByName,
		in.ExpenseForUserID != nil, addedByAdminID, addedByAdminName,
		in.ExpenseForUserID, expenseForName).Scan(scanDest(&expense)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create expense: %w", err)
	}

	if status == ApprovalApproved {
		if err := addToTotalSpent(ctx, tx, in.ProjectID, in.Amount); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &CreateResult{
		Expense:      &expense,
		AutoApproved: status == ApprovalApproved,
		Access:       access,
	}, nil
}

// GetByID retrieves an expense visible to the actor. Labour members only see
// expenses recorded for themselves; anything else reads as not found.
func (s *Service) GetByID(ctx context.Context, expenseID, actorUserID uuid.UUID) (*Expense, error) {
	expense, err := getExpense(ctx, s.db.Pool, expenseID, false)
	if err != nil {
		return nil, err
	}

	access, err := projects.LoadAccess(ctx, s.db.Pool, expense.ProjectID)
	if err != nil {
		return nil, err
	}
	if !access.IsMember(actorUserID) {
		return nil, projects.ErrNotMember
	}
	if access.IsLabour(actorUserID) && expense.DisplayUserID() != actorUserID {
		return nil, ErrExpenseNotFound
	}

	return expense, nil
}

// List returns a project's expenses, most recent first. Admin and directors
// see everything; labour members see only their own. Soft-deleted expenses
// are included only when includeDeleted is set and the actor has admin
// control (the restore listing).
func (s *Service) List(ctx context.Context, projectID, actorUserID uuid.UUID, includeDeleted bool) ([]Expense, error) {
	access, err := projects.LoadAccess(ctx, s.db.Pool, projectID)
	if err != nil {
		return nil, err
	}
	if !access.IsMember(actorUserID) {
		return nil, projects.ErrNotMember
	}
	if includeDeleted && !access.HasAdminControl(actorUserID) {
		return nil, projects.ErrInsufficientPermissions
	}

	query := `
		SELECT id, project_id, title, description, amount, category, payment_method,
		       approval_status, payment_status, paid_amount, receipt_ref,
		       created_by, created_by_name, approved_by, approved_by_name, approved_at,
		       rejection_reason, expense_date, is_deleted, deleted_by, deleted_at,
		       added_by_admin, added_by_admin_id, added_by_admin_name,
		       expense_for_user_id, expense_for_user_name, created_at, updated_at
		FROM expenses
		WHERE project_id = $1
	`
	if !includeDeleted {
		query += ` AND is_deleted = FALSE`
	}
	query += ` ORDER BY expense_date DESC, created_at DESC`

	rows, err := s.db.Pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	labourOnly := access.IsLabour(actorUserID)

	var result []Expense
	for rows.Next() {
		var e Expense
		if err := rows.Scan(scanDest(&e)...); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		if labourOnly && e.DisplayUserID() != actorUserID {
			continue
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expenses: %w", err)
	}

	return result, nil
}

// Approve transitions a pending expense to approved and adds its amount to
// the project's total_spent, exactly once. Permitted for the admin and for
// any director.
func (s *Service) Approve(ctx context.Context, expenseID, actorUserID uuid.UUID) (*Expense, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	expense, err := getExpenseForUpdate(ctx, tx, expenseID)
	if err != nil {
		return nil, err
	}

	access, err := projects.LoadAccess(ctx, tx, expense.ProjectID)
	if err != nil {
		return nil, err
	}
	if !access.IsMember(actorUserID) {
		return nil, projects.ErrNotMember
	}
	if !access.CanManageExpenses(actorUserID) {
		return nil, projects.ErrInsufficientPermissions
	}

	if expense.IsDeleted {
		return nil, ErrExpenseDeleted
	}
	if expense.ApprovalStatus != ApprovalPending {
		return nil, ErrAlreadyDecided
	}

	actorName, err := lookupUserName(ctx, tx, actorUserID)
	if err != nil {
		return nil, err
	}

	var updated Expense
	err = tx.QueryRow(ctx, `
		UPDATE expenses
		SET approval_status = 'approved',
		    approved_by = $2,
		    approved_by_name = $3,
		    approved_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, project_id, title, description, amount, category, payment_method,
		          approval_status, payment_status, paid_amount, receipt_ref,
		          created_by, created_by_name, approved_by, approved_by_name, approved_at,
		          rejection_reason, expense_date, is_deleted, deleted_by, deleted_at,
		          added_by_admin, added_by_admin_id, added_by_admin_name,
		          expense_for_user_id, expense_for_user_name, created_at, updated_at
	`, expenseID, actorUserID, actorName).Scan(scanDest(&updated)...)
	if err != nil {
		return nil, fmt.Errorf("failed to approve expense: %w", err)
	}

	if err := addToTotalSpent(ctx, tx, expense.ProjectID, expense.Amount); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &updated, nil
}

// Reject transitions a pending expense to rejected. Requires a non-empty
// reason; never touches total_spent.
func (s *Service) Reject(ctx context.Context, expenseID, actorUserID uuid.UUID, reason string) (*Expense, error) {
	if reason == "" {
		return nil, validation.FieldErrors{"rejection_reason": "rejection reason is required"}
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	expense, err := getExpenseForUpdate(ctx, tx, expenseID)
	if err != nil {
		return nil, err
	}

	access, err := projects.LoadAccess(ctx, tx, expense.ProjectID)
	if err != nil {
		return nil, err
	}
	if !access.IsMember(actorUserID) {
		return nil, projects.ErrNotMember
	}
	if !access.CanManageExpenses(actorUserID) {
		return nil, projects.ErrInsufficientPermissions
	}

	if expense.IsDeleted {
		return nil, ErrExpenseDeleted
	}
	if expense.ApprovalStatus != ApprovalPending {
		return nil, ErrAlreadyDecided
	}

	var updated Expense
	err = tx.QueryRow(ctx, `
		UPDATE expenses
		SET approval_status = 'rejected',
		    rejection_reason = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, project_id, title, description, amount, category, payment_method,
		          approval_status, payment_status, paid_amount, receipt_ref,
		          created_by, created_by_name, approved_by, approved_by_name, approved_at,
		          rejection_reason, expense_date, is_deleted, deleted_by, deleted_at,
		          added_by_admin, added_by_admin_id, added_by_admin_name,
		          expense_for_user_id, expense_for_user_name, created_at, updated_at
	`, expenseID, reason).Scan(scanDest(&updated)...)
	if err != nil {
		return nil, fmt.Errorf("failed to reject expense: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &updated, nil
}

// MutationResult reports a delete/restore outcome along with who may need to
// be notified.
type MutationResult struct {
	Expense         *Expense
	AdminID         uuid.UUID
	ActorIsDirector bool
}

// SoftDelete marks an expense deleted without removing it. Permitted for the
// creator while the expense is still pending, for the admin, and for
// directors holding the can_delete_expenses grant. Deleting an approved
// expense reverses its budget contribution in the same transaction.
func (s *Service) SoftDelete(ctx context.Context, expenseID, actorUserID uuid.UUID) (*MutationResult, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	expense, err := getExpenseForUpdate(ctx, tx, expenseID)
	if err != nil {
		return nil, err
	}

	access, err := projects.LoadAccess(ctx, tx, expense.ProjectID)
	if err != nil {
		return nil, err
	}
	if !access.IsMember(actorUserID) {
		return nil, projects.ErrNotMember
	}

	creatorDeletingOwnPending := actorUserID == expense.CreatedBy && expense.IsPending()
	if !creatorDeletingOwnPending && !access.CanDeleteExpenses(actorUserID) {
		return nil, projects.ErrInsufficientPermissions
	}

	if expense.IsDeleted {
		return nil, ErrExpenseDeleted
	}

	var updated Expense
	err = tx.QueryRow(ctx, `
		UPDATE expenses
		SET is_deleted = TRUE,
		    deleted_by = $2,
		    deleted_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, project_id, title, description, amount, category, payment_method,
		          approval_status, payment_status, paid_amount, receipt_ref,
		          created_by, created_by_name, approved_by, approved_by_name, approved_at,
		          rejection_reason, expense_date, is_deleted, deleted_by, deleted_at,
		          added_by_admin, added_by_admin_id, added_by_admin_name,
		          expense_for_user_id, expense_for_user_name, created_at, updated_at
	`, expenseID, actorUserID).Scan(scanDest(&updated)...)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expense: %w", err)
	}

	if expense.IsApproved() {
		if err := addToTotalSpent(ctx, tx, expense.ProjectID, -expense.Amount); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &MutationResult{
		Expense:         &updated,
		AdminID:         access.Project.AdminID,
		ActorIsDirector: access.IsDirector(actorUserID),
	}, nil
}

// Restore reverses a soft delete. Permitted for the admin and for directors
// holding the can_delete_expenses grant. Restoring an approved expense
// re-adds its amount to total_spent, so a delete/restore round trip leaves
// the budget untouched.
func (s *Service) Restore(ctx context.Context, expenseID, actorUserID uuid.UUID) (*MutationResult, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	expense, err := getExpenseForUpdate(ctx, tx, expenseID)
	if err != nil {
		return nil, err
	}

	access, err := projects.LoadAccess(ctx, tx, expense.ProjectID)
	if err != nil {
		return nil, err
	}
	if !access.IsMember(actorUserID) {
		return nil, projects.ErrNotMember
	}
	if !access.CanDeleteExpenses(actorUserID) {
		return nil, projects.ErrInsufficientPermissions
	}

	if !expense.IsDeleted {
		return nil, ErrNotDeleted
	}

	var updated Expense
	err = tx.QueryRow(ctx, `
		UPDATE expenses
		SET is_deleted = FALSE,
		    deleted_by = NULL,
		    deleted_at = NULL,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, project_id, title, description, amount, category, payment_method,
		          approval_status, payment_status, paid_amount, receipt_ref,
		          created_by, created_by_name, approved_by, approved_by_name, approved_at,
		          rejection_reason, expense_date, is_deleted, deleted_by, deleted_at,
		          added_by_admin, added_by_admin_id, added_by_admin_name,
		          expense_for_user_id, expense_for_user_name, created_at, updated_at
	`, expenseID).Scan(scanDest(&updated)...)
	if err != nil {
		return nil, fmt.Errorf("failed to restore expense: %w", err)
	}

	if expense.IsApproved() {
		if err := addToTotalSpent(ctx, tx, expense.ProjectID, expense.Amount); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &MutationResult{
		Expense:         &updated,
		AdminID:         access.Project.AdminID,
		ActorIsDirector: access.IsDirector(actorUserID),
	}, nil
}

// AttachReceipt stores the receipt reference on an expense and returns the
// previous reference, if any, so the caller can clean up the old blob.
// Permitted for the creator and the admin.
func (s *Service) AttachReceipt(ctx context.Context, expenseID, actorUserID uuid.UUID, ref string) (previous *string, err error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	expense, err := getExpenseForUpdate(ctx, tx, expenseID)
	if err != nil {
		return nil, err
	}

	access, err := projects.LoadAccess(ctx, tx, expense.ProjectID)
	if err != nil {
		return nil, err
	}
	if actorUserID != expense.CreatedBy && !access.IsAdmin(actorUserID) {
		return nil, projects.ErrInsufficientPermissions
	}
	if expense.IsDeleted {
		return nil, ErrExpenseDeleted
	}

	_, err = tx.Exec(ctx, `
		UPDATE expenses
		SET receipt_ref = $2, updated_at = NOW()
		WHERE id = $1
	`, expenseID, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to attach receipt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return expense.ReceiptRef, nil
}

func getExpense(ctx context.Context, q projects.Querier, expenseID uuid.UUID, forUpdate bool) (*Expense, error) {
	query := `
		SELECT id, project_id, title, description, amount, category, payment_method,
		       approval_status, payment_status, paid_amount, receipt_ref,
		       created_by, created_by_name, approved_by, approved_by_name, approved_at,
		       rejection_reason, expense_date, is_deleted, deleted_by, deleted_at,
		       added_by_admin, added_by_admin_id, added_by_admin_name,
		       expense_for_user_id, expense_for_user_name, created_at, updated_at
		FROM expenses
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var expense Expense
	err := q.QueryRow(ctx, query, expenseID).Scan(scanDest(&expense)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExpenseNotFound
		}
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}

	return &expense, nil
}

func getExpenseForUpdate(ctx context.Context, tx pgx.Tx, expenseID uuid.UUID) (*Expense, error) {
	return getExpense(ctx, tx, expenseID, true)
}

// addToTotalSpent applies a budget delta as an atomic read-modify-write so
// concurrent approvals cannot lose updates.
func addToTotalSpent(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, delta float64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE projects
		SET total_spent = total_spent + $2, updated_at = NOW()
		WHERE id = $1
	`, projectID, delta)
	if err != nil {
		return fmt.Errorf("failed to update project spend: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return projects.ErrProjectNotFound
	}
	return nil
}

func lookupUserName(ctx context.Context, q projects.Querier, userID uuid.UUID) (string, error) {
	var name string
	err := q.QueryRow(ctx, `SELECT name FROM users WHERE id = $1`, userID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("user not found")
		}
		return "", fmt.Errorf("failed to load user: %w", err)
	}
	return name, nil
}

func memberName(access *projects.Access, userID uuid.UUID) (string, error) {
	for i := range access.Members {
		if access.Members[i].UserID == userID {
			return access.Members[i].Name, nil
		}
	}
	return "", projects.ErrMemberNotFound
}

// scanDest returns the scan destinations matching the canonical expense
// column list used by every query in this package.
func scanDest(e *Expense) []any {
	return []any{
		&e.ID,
		&e.ProjectID,
		&e.Title,
		&e.Description,
		&e.Amount,
		&e.Category,
		&e.PaymentMethod,
		&e.ApprovalStatus,
		&e.PaymentStatus,
		&e.PaidAmount,
		&e.ReceiptRef,
		&e.CreatedBy,
		&e.CreatedByName,
		&e.ApprovedBy,
		&e.ApprovedByName,
		&e.ApprovedAt,
		&e.RejectionReason,
		&e.ExpenseDate,
		&e.IsDeleted,
		&e.DeletedBy,
		&e.DeletedAt,
		&e.AddedByAdmin,
		&e.AddedByAdminID,
		&e.AddedByAdminName,
		&e.ExpenseForUserID,
		&e.ExpenseForUserName,
		&e.CreatedAt,
		&e.UpdatedAt,
	}
}
