package projects

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sitewise/sitewise/internal/apperrors"
	"github.com/sitewise/sitewise/internal/audit"
	"github.com/sitewise/sitewise/internal/auth"
	"github.com/sitewise/sitewise/internal/validation"
)

// CreateInviteRequest is the create-invitation payload. Email is optional;
// when set, only that address can accept.
type CreateInviteRequest struct {
	Email *string `json:"email"`
	Role  string  `json:"role"`
}

// HandleCreateInvite creates a single-use invitation link. Admin only. The
// plaintext token appears exactly once, in this response.
func HandleCreateInvite(service *Service, auditor *audit.Writer, baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid project ID")
			return
		}

		var req CreateInviteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		invite, token, err := service.CreateInvite(r.Context(), projectID, userID, req.Email, MemberRole(req.Role))
		if err != nil {
			writeInviteError(w, r, err, "Failed to create invitation")
			return
		}

		if err := auditor.LogInviteCreated(r.Context(), projectID, userID, invite.ID, string(invite.MemberRole)); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"invitation": invite,
			"token":      token,
			"invite_url": fmt.Sprintf("%s/invite/%s", baseURL, token),
		})
	}
}

// HandleListInvites lists a project's invitations. Admin or director only.
func HandleListInvites(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid project ID")
			return
		}

		invites, err := service.ListInvites(r.Context(), projectID, userID)
		if err != nil {
			writeInviteError(w, r, err, "Failed to list invitations")
			return
		}
		if invites == nil {
			invites = []Invitation{}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"invitations": invites,
		})
	}
}

// HandleCancelInvite cancels a pending invitation. Admin only.
func HandleCancelInvite(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid project ID")
			return
		}
		inviteID, err := uuid.Parse(chi.URLParam(r, "inviteID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid invitation ID")
			return
		}

		if err := service.CancelInvite(r.Context(), projectID, inviteID, userID); err != nil {
			writeInviteError(w, r, err, "Failed to cancel invitation")
			return
		}

		if err := auditor.LogInviteCancelled(r.Context(), projectID, userID, inviteID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
			"status": "cancelled",
		})
	}
}

// AcceptInviteRequest carries the one-time invitation token.
type AcceptInviteRequest struct {
	Token string `json:"token"`
}

// HandleAcceptInvite consumes an invitation token and joins the caller to the
// project under the invitation's role.
func HandleAcceptInvite(service *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		var req AcceptInviteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		result, err := service.AcceptInvite(r.Context(), req.Token, userID)
		if err != nil {
			writeInviteError(w, r, err, "Failed to accept invitation")
			return
		}

		if err := auditor.LogInviteAccepted(r.Context(), result.ProjectID, userID, result.InviteID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		log.Info().
			Str("project_id", result.ProjectID.String()).
			Str("user_id", userID.String()).
			Str("role", string(result.Role)).
			Msg("Invitation accepted")

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"project_id": result.ProjectID,
			"role":       result.Role,
		})
	}
}

// writeInviteError maps invitation errors onto the HTTP envelope. Expired,
// cancelled and already-used invitations all read as 409 so the client can
// show a meaningful message, while an unknown token reads as 404.
func writeInviteError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var fields validation.FieldErrors
	switch {
	case errors.As(err, &fields):
		apperrors.WriteValidationError(w, r, fields)
	case errors.Is(err, ErrInvalidMemberRole):
		apperrors.WriteValidationError(w, r, validation.FieldErrors{"role": "role must be director or labour"})
	case errors.Is(err, ErrInviteNotFound):
		apperrors.WriteNotFound(w, r, "Invitation not found")
	case errors.Is(err, ErrInviteExpired):
		apperrors.WriteConflict(w, r, "Invitation has expired")
	case errors.Is(err, ErrInviteNotPending):
		apperrors.WriteConflict(w, r, "Invitation is no longer valid")
	case errors.Is(err, ErrInviteEmailMismatch):
		apperrors.WriteForbidden(w, r, "Invitation was issued for a different email address")
	case errors.Is(err, ErrAlreadyMember):
		apperrors.WriteConflict(w, r, "You are already a member of this project")
	case errors.Is(err, ErrAdminCannotJoin):
		apperrors.WriteConflict(w, r, "The project admin cannot join as a member")
	default:
		writeProjectError(w, r, err, fallback)
	}
}
