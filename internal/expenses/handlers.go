package expenses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sitewise/sitewise/internal/apperrors"
	"github.com/sitewise/sitewise/internal/audit"
	"github.com/sitewise/sitewise/internal/auth"
	"github.com/sitewise/sitewise/internal/notify"
	"github.com/sitewise/sitewise/internal/projects"
	"github.com/sitewise/sitewise/internal/validation"
)

// CreateRequest is the submit-expense payload.
type CreateRequest struct {
	Title            string     `json:"title"`
	Description      *string    `json:"description"`
	Amount           float64    `json:"amount"`
	Category         string     `json:"category"`
	PaymentMethod    string     `json:"payment_method"`
	PaymentStatus    string     `json:"payment_status"`
	PaidAmount       float64    `json:"paid_amount"`
	ExpenseDate      *time.Time `json:"expense_date"`
	ExpenseForUserID *uuid.UUID `json:"expense_for_user_id"`
}

// HandleCreate submits an expense to a project. Admin submissions are
// approved immediately; member submissions go to the pending queue and the
// admin and directors are notified.
func HandleCreate(service *Service, auditor *audit.Writer, notifier *notify.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid project ID")
			return
		}

		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		expenseDate := time.Now().UTC()
		if req.ExpenseDate != nil {
			expenseDate = *req.ExpenseDate
		}

		result, err := service.Create(r.Context(), userID, CreateInput{
			ProjectID:        projectID,
			Title:            req.Title,
			Description:      req.Description,
			Amount:           req.Amount,
			Category:         Category(req.Category),
			PaymentMethod:    PaymentMethod(req.PaymentMethod),
			PaymentStatus:    PaymentStatus(req.PaymentStatus),
			PaidAmount:       req.PaidAmount,
			ExpenseDate:      expenseDate,
			ExpenseForUserID: req.ExpenseForUserID,
		})
		if err != nil {
			writeExpenseError(w, r, err, "Failed to create expense")
			return
		}

		expense := result.Expense
		auditMeta := map[string]interface{}{
			"amount":        expense.Amount,
			"category":      string(expense.Category),
			"auto_approved": result.AutoApproved,
		}
		if err := auditor.LogExpenseEvent(r.Context(), audit.EventExpenseCreated, projectID, expense.ID, userID, auditMeta); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		if !result.AutoApproved {
			notifySubmission(r.Context(), notifier, result.Access, expense, userID)
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"expense": expense,
		})
	}
}

// HandleList lists a project's expenses. ?include_deleted=true adds
// soft-deleted records for admin and directors (the restore view).
func HandleList(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid project ID")
			return
		}

		includeDeleted := r.URL.Query().Get("include_deleted") == "true"

		list, err := service.List(r.Context(), projectID, userID, includeDeleted)
		if err != nil {
			writeExpenseError(w, r, err, "Failed to list expenses")
			return
		}
		if list == nil {
			list = []Expense{}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"expenses": list,
		})
	}
}

// HandleGet returns a single expense.
func HandleGet(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		expenseID, err := uuid.Parse(chi.URLParam(r, "expenseID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid expense ID")
			return
		}

		expense, err := service.GetByID(r.Context(), expenseID, userID)
		if err != nil {
			writeExpenseError(w, r, err, "Failed to load expense")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"expense": expense,
		})
	}
}

// HandleApprove approves a pending expense.
func HandleApprove(service *Service, auditor *audit.Writer, notifier *notify.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		expenseID, err := uuid.Parse(chi.URLParam(r, "expenseID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid expense ID")
			return
		}

		expense, err := service.Approve(r.Context(), expenseID, userID)
		if err != nil {
			writeExpenseError(w, r, err, "Failed to approve expense")
			return
		}

		if err := auditor.LogExpenseEvent(r.Context(), audit.EventExpenseApproved, expense.ProjectID, expense.ID, userID, map[string]interface{}{
			"amount": expense.Amount,
		}); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		if expense.CreatedBy != userID {
			notifier.Push(r.Context(), notify.Message{
				UserID: expense.CreatedBy,
				Title:  "Expense approved",
				Body:   fmt.Sprintf("%q was approved", expense.Title),
				Type:   notify.TypeExpenseApproved,
				Payload: map[string]any{
					"expense_id": expense.ID.String(),
					"project_id": expense.ProjectID.String(),
				},
			})
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"expense": expense,
		})
	}
}

// RejectRequest carries the mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// HandleReject rejects a pending expense. The reason is required and is sent
// back to the submitter.
func HandleReject(service *Service, auditor *audit.Writer, notifier *notify.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		expenseID, err := uuid.Parse(chi.URLParam(r, "expenseID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid expense ID")
			return
		}

		var req RejectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		expense, err := service.Reject(r.Context(), expenseID, userID, req.Reason)
		if err != nil {
			writeExpenseError(w, r, err, "Failed to reject expense")
			return
		}

		if err := auditor.LogExpenseEvent(r.Context(), audit.EventExpenseRejected, expense.ProjectID, expense.ID, userID, map[string]interface{}{
			"reason": req.Reason,
		}); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		if expense.CreatedBy != userID {
			notifier.Push(r.Context(), notify.Message{
				UserID: expense.CreatedBy,
				Title:  "Expense rejected",
				Body:   fmt.Sprintf("%q was rejected: %s", expense.Title, req.Reason),
				Type:   notify.TypeExpenseRejected,
				Payload: map[string]any{
					"expense_id": expense.ID.String(),
					"project_id": expense.ProjectID.String(),
					"reason":     req.Reason,
				},
			})
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"expense": expense,
		})
	}
}

// HandleDelete soft-deletes an expense. When a director performs the delete,
// the admin is notified and can restore it from the deleted listing.
func HandleDelete(service *Service, auditor *audit.Writer, notifier *notify.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		expenseID, err := uuid.Parse(chi.URLParam(r, "expenseID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid expense ID")
			return
		}

		result, err := service.SoftDelete(r.Context(), expenseID, userID)
		if err != nil {
			writeExpenseError(w, r, err, "Failed to delete expense")
			return
		}

		expense := result.Expense
		if err := auditor.LogExpenseEvent(r.Context(), audit.EventExpenseDeleted, expense.ProjectID, expense.ID, userID, map[string]interface{}{
			"amount":       expense.Amount,
			"was_approved": expense.IsApproved(),
		}); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		if result.ActorIsDirector {
			notifier.Push(r.Context(), notify.Message{
				UserID: result.AdminID,
				Title:  "Expense deleted",
				Body:   fmt.Sprintf("%q was deleted by a director and can be restored", expense.Title),
				Type:   notify.TypeExpenseDeleted,
				Payload: map[string]any{
					"expense_id": expense.ID.String(),
					"project_id": expense.ProjectID.String(),
				},
			})
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"expense": expense,
		})
	}
}

// HandleRestore reverses a soft delete.
func HandleRestore(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		expenseID, err := uuid.Parse(chi.URLParam(r, "expenseID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid expense ID")
			return
		}

		result, err := service.Restore(r.Context(), expenseID, userID)
		if err != nil {
			writeExpenseError(w, r, err, "Failed to restore expense")
			return
		}

		expense := result.Expense
		if err := auditor.LogExpenseEvent(r.Context(), audit.EventExpenseRestored, expense.ProjectID, expense.ID, userID, map[string]interface{}{
			"amount": expense.Amount,
		}); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"expense": expense,
		})
	}
}

// notifySubmission tells everyone with approval authority about a new pending
// expense, skipping the submitter.
func notifySubmission(ctx context.Context, notifier *notify.Client, access *projects.Access, expense *Expense, submitterID uuid.UUID) {
	recipients := []uuid.UUID{access.Project.AdminID}
	recipients = append(recipients, access.DirectorIDs()...)

	seen := map[uuid.UUID]bool{submitterID: true}
	var targets []uuid.UUID
	for _, id := range recipients {
		if !seen[id] {
			seen[id] = true
			targets = append(targets, id)
		}
	}

	notifier.PushAll(ctx, targets,
		"New expense submitted",
		fmt.Sprintf("%s submitted %q for approval", expense.DisplayName(), expense.Title),
		notify.TypeExpenseSubmitted,
		map[string]any{
			"expense_id": expense.ID.String(),
			"project_id": expense.ProjectID.String(),
			"amount":     expense.Amount,
		})
}

// writeExpenseError maps service errors onto the HTTP envelope.
func writeExpenseError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var fields validation.FieldErrors
	switch {
	case errors.As(err, &fields):
		apperrors.WriteValidationError(w, r, fields)
	case errors.Is(err, ErrExpenseNotFound),
		errors.Is(err, projects.ErrProjectNotFound),
		errors.Is(err, projects.ErrNotMember),
		errors.Is(err, projects.ErrMemberNotFound):
		apperrors.WriteNotFound(w, r, "Expense not found")
	case errors.Is(err, projects.ErrInsufficientPermissions):
		apperrors.WriteForbidden(w, r, "You do not have permission to do that")
	case errors.Is(err, ErrAlreadyDecided):
		apperrors.WriteConflict(w, r, "Expense has already been approved or rejected")
	case errors.Is(err, ErrExpenseDeleted):
		apperrors.WriteConflict(w, r, "Expense has been deleted")
	case errors.Is(err, ErrNotDeleted):
		apperrors.WriteConflict(w, r, "Expense is not deleted")
	default:
		log.Error().Err(err).Msg(fallback)
		apperrors.WriteInternalError(w, r, fallback)
	}
}
