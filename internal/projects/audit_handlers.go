package projects

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sitewise/sitewise/internal/apperrors"
	"github.com/sitewise/sitewise/internal/audit"
	"github.com/sitewise/sitewise/internal/auth"
)

// HandleProjectHistory returns the project's recent audit trail. Admin or
// director only; labour members have no view into project history.
func HandleProjectHistory(service *Service, reader *audit.Reader) http.HandlerFunc {
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
		if !access.HasAdminControl(userID) {
			apperrors.WriteForbidden(w, r, "You do not have permission to do that")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		items, err := reader.ListByProject(r.Context(), projectID, limit)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load audit trail")
			apperrors.WriteInternalError(w, r, "Failed to load project history")
			return
		}
		if items == nil {
			items = []audit.ListItem{}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"events": items,
		})
	}
}
