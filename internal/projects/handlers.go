package projects

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sitewise/sitewise/internal/apperrors"
	"github.com/sitewise/sitewise/internal/audit"
	"github.com/sitewise/sitewise/internal/auth"
	"github.com/sitewise/sitewise/internal/validation"
)

// CreateProjectRequest is the create-project payload.
type CreateProjectRequest struct {
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	Budget      float64    `json:"budget"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
}

// projectView is a project shaped for one viewer. Budget figures are omitted
// for labour members.
type projectView struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	Status      Status     `json:"status"`
	AdminID     uuid.UUID  `json:"admin_id"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Budget          *float64 `json:"budget,omitempty"`
	TotalSpent      *float64 `json:"total_spent,omitempty"`
	RemainingBudget *float64 `json:"remaining_budget,omitempty"`
}

func viewProject(p *Project, showBudget bool) projectView {
	v := projectView{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Status:      p.Status,
		AdminID:     p.AdminID,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if showBudget {
		budget := p.Budget
		spent := p.TotalSpent
		remaining := p.RemainingBudget()
		v.Budget = &budget
		v.TotalSpent = &spent
		v.RemainingBudget = &remaining
	}
	return v
}

// HandleCreateProject creates a project owned by the authenticated user.
func HandleCreateProject(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		var req CreateProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		fields := validation.FieldErrors{}
		req.Name = strings.TrimSpace(req.Name)
		if err := validation.ValidateName(req.Name); err != nil {
			fields.Add("name", err.Error())
		}
		if req.Budget < 0 {
			fields.Add("budget", "budget must not be negative")
		}
		if len(fields) > 0 {
			apperrors.WriteValidationError(w, r, fields)
			return
		}

		startDate := time.Now().UTC()
		if req.StartDate != nil {
			startDate = *req.StartDate
		}

		project, err := service.Create(r.Context(), userID, req.Name, req.Description, req.Budget, startDate, req.EndDate)
		if err != nil {
			writeProjectError(w, r, err, "Failed to create project")
			return
		}

		if err := auditor.LogProjectCreated(r.Context(), project.ID, userID, project.Name); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"project": viewProject(project, true),
		})
	}
}

// HandleListProjects lists every project the user belongs to, with their role
// on each. Budget figures are stripped from projects where the user is labour.
func HandleListProjects(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		summaries, err := service.ListForUser(r.Context(), userID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list projects")
			apperrors.WriteInternalError(w, r, "Failed to list projects")
			return
		}

		type summaryView struct {
			projectView
			Role string `json:"role"`
		}

		views := make([]summaryView, 0, len(summaries))
		for i := range summaries {
			showBudget := summaries[i].Role != string(RoleLabour)
			views = append(views, summaryView{
				projectView: viewProject(&summaries[i].Project, showBudget),
				Role:        summaries[i].Role,
			})
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"projects": views,
		})
	}
}

// HandleGetProject returns one project for a member. Labour members get the
// redacted view without budget figures.
func HandleGetProject(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid project ID")
			return
		}

		access, err := service.RequireMember(r.Context(), projectID, userID)
		if err != nil {
			writeProjectError(w, r, err, "Failed to load project")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"project": viewProject(access.Project, access.CanSeeDetails(userID)),
		})
	}
}

// UpdateProjectRequest carries optional project mutations.
type UpdateProjectRequest struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	Budget      *float64   `json:"budget"`
	Status      *string    `json:"status"`
	EndDate     *time.Time `json:"end_date"`
}

// HandleUpdateProject patches project attributes. Admin only.
func HandleUpdateProject(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid project ID")
			return
		}

		var req UpdateProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		update := UpdateRequest{
			Description: req.Description,
			Budget:      req.Budget,
			EndDate:     req.EndDate,
		}
		if req.Name != nil {
			trimmed := strings.TrimSpace(*req.Name)
			if err := validation.ValidateName(trimmed); err != nil {
				apperrors.WriteValidationError(w, r, validation.FieldErrors{"name": err.Error()})
				return
			}
			update.Name = &trimmed
		}
		if req.Status != nil {
			status := Status(*req.Status)
			update.Status = &status
		}

		project, err := service.Update(r.Context(), projectID, userID, update)
		if err != nil {
			writeProjectError(w, r, err, "Failed to update project")
			return
		}

		if err := auditor.LogProjectUpdated(r.Context(), projectID, userID, map[string]interface{}{
			"status": string(project.Status),
		}); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"project": viewProject(project, true),
		})
	}
}

// HandleDeleteProject removes a project and everything under it. Admin only.
func HandleDeleteProject(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid project ID")
			return
		}

		if err := service.Delete(r.Context(), projectID, userID); err != nil {
			writeProjectError(w, r, err, "Failed to delete project")
			return
		}

		if err := auditor.LogProjectDeleted(r.Context(), projectID, userID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
			"status": "deleted",
		})
	}
}

// PermissionsRequest sets a director's delete capabilities.
type PermissionsRequest struct {
	CanDeleteExpenses bool `json:"can_delete_expenses"`
	CanDeleteMembers  bool `json:"can_delete_members"`
}

// HandleUpdatePermissions grants or revokes a director's delete capabilities.
// Admin only; approval authority is never configurable here.
func HandleUpdatePermissions(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid project ID")
			return
		}
		targetUserID, err := uuid.Parse(chi.URLParam(r, "userID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid user ID")
			return
		}

		var req PermissionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		err = service.UpdateDirectorGrants(r.Context(), projectID, userID, targetUserID, DirectorGrants{
			CanDeleteExpenses: req.CanDeleteExpenses,
			CanDeleteMembers:  req.CanDeleteMembers,
		})
		if err != nil {
			writeProjectError(w, r, err, "Failed to update permissions")
			return
		}

		if err := auditor.LogPermissionsUpdated(r.Context(), projectID, userID, targetUserID, req.CanDeleteExpenses, req.CanDeleteMembers); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"user_id":             targetUserID,
			"can_delete_expenses": req.CanDeleteExpenses,
			"can_delete_members":  req.CanDeleteMembers,
		})
	}
}

// writeProjectError maps project service errors onto the HTTP envelope.
func writeProjectError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var fields validation.FieldErrors
	switch {
	case errors.As(err, &fields):
		apperrors.WriteValidationError(w, r, fields)
	case errors.Is(err, ErrProjectNotFound), errors.Is(err, ErrNotMember):
		apperrors.WriteNotFound(w, r, "Project not found")
	case errors.Is(err, ErrMemberNotFound):
		apperrors.WriteNotFound(w, r, "Member not found")
	case errors.Is(err, ErrInsufficientPermissions):
		apperrors.WriteForbidden(w, r, "You do not have permission to do that")
	case errors.Is(err, ErrInvalidStatus):
		apperrors.WriteValidationError(w, r, validation.FieldErrors{"status": "unknown project status"})
	case errors.Is(err, ErrNegativeBudget):
		apperrors.WriteValidationError(w, r, validation.FieldErrors{"budget": "budget must not be negative"})
	default:
		log.Error().Err(err).Msg(fallback)
		apperrors.WriteInternalError(w, r, fallback)
	}
}
