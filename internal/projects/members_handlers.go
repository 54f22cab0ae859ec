package projects

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sitewise/sitewise/internal/apperrors"
	"github.com/sitewise/sitewise/internal/audit"
	"github.com/sitewise/sitewise/internal/auth"
	"github.com/sitewise/sitewise/internal/notify"
)

// memberView is a member plus their director grants, when any exist.
type memberView struct {
	Member
	Grants *DirectorGrants `json:"permissions,omitempty"`
}

// HandleListMembers lists a project's members. Any member may look; director
// grants are attached so the admin UI can render the permission toggles.
func HandleListMembers(service *Service, members *MembersService) http.HandlerFunc {
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

		views := make([]memberView, 0, len(access.Members))
		for _, m := range access.Members {
			v := memberView{Member: m}
			if g, ok := access.Grants[m.UserID]; ok && m.IsDirector() {
				grants := g
				v.Grants = &grants
			}
			views = append(views, v)
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"members": views,
		})
	}
}

// HandleRemoveMember removes a member from a project. The removed user is
// notified; when a director performed the removal, the admin is notified too.
func HandleRemoveMember(members *MembersService, auditor *audit.Writer, notifier *notify.Client) http.HandlerFunc {
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

		result, err := members.RemoveMember(r.Context(), projectID, userID, targetUserID)
		if err != nil {
			writeProjectError(w, r, err, "Failed to remove member")
			return
		}

		if err := auditor.LogMemberRemoved(r.Context(), projectID, userID, targetUserID, string(result.Removed.Role)); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		notifier.Push(r.Context(), notify.Message{
			UserID: targetUserID,
			Title:  "Removed from project",
			Body:   "You have been removed from a project",
			Type:   notify.TypeMemberRemoved,
			Payload: map[string]any{
				"project_id": projectID.String(),
			},
		})

		if result.ActorIsDirector {
			notifier.Push(r.Context(), notify.Message{
				UserID: result.AdminID,
				Title:  "Member removed",
				Body:   fmt.Sprintf("%s was removed by a director and can be re-invited", result.Removed.Name),
				Type:   notify.TypeMemberRemoved,
				Payload: map[string]any{
					"project_id": projectID.String(),
					"user_id":    targetUserID.String(),
				},
			})
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"removed": result.Removed,
		})
	}
}

// HandleLeaveProject lets a member remove themselves. The admin cannot leave;
// they delete the project instead.
func HandleLeaveProject(service *Service, members *MembersService, auditor *audit.Writer) http.HandlerFunc {
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
		if access.IsAdmin(userID) {
			apperrors.WriteConflict(w, r, "The project admin cannot leave; delete the project instead")
			return
		}

		if _, err := members.leave(r.Context(), projectID, userID); err != nil {
			writeProjectError(w, r, err, "Failed to leave project")
			return
		}

		if err := auditor.LogMemberRemoved(r.Context(), projectID, userID, userID, "self"); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		log.Info().
			Str("project_id", projectID.String()).
			Str("user_id", userID.String()).
			Msg("Member left project")

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
			"status": "left",
		})
	}
}
