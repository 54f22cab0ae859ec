package expenses

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sitewise/sitewise/internal/apperrors"
	"github.com/sitewise/sitewise/internal/audit"
	"github.com/sitewise/sitewise/internal/auth"
	"github.com/sitewise/sitewise/internal/receipts"
)

// HandleUploadReceipt attaches a receipt file to an expense. Multipart form
// with a "receipt" part; replaces and cleans up any previous receipt.
func HandleUploadReceipt(service *Service, store *receipts.Store, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		expenseID, err := uuid.Parse(chi.URLParam(r, "expenseID"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid expense ID")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, store.MaxBytes())
		if err := r.ParseMultipartForm(store.MaxBytes()); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				apperrors.WritePayloadTooLarge(w, r, "Receipt exceeds the maximum allowed size")
				return
			}
			apperrors.WriteBadRequest(w, r, "Invalid multipart request")
			return
		}

		file, header, err := r.FormFile("receipt")
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Missing receipt file")
			return
		}
		defer file.Close()

		ref, err := store.Save(header.Header.Get("Content-Type"), file)
		if err != nil {
			switch {
			case errors.Is(err, receipts.ErrUnsupportedType):
				apperrors.WriteBadRequest(w, r, "Receipt must be a JPEG, PNG, WebP or PDF")
			case errors.Is(err, receipts.ErrTooLarge):
				apperrors.WritePayloadTooLarge(w, r, "Receipt exceeds the maximum allowed size")
			default:
				log.Error().Err(err).Msg("Failed to store receipt")
				apperrors.WriteInternalError(w, r, "Failed to store receipt")
			}
			return
		}

		previous, err := service.AttachReceipt(r.Context(), expenseID, userID, ref)
		if err != nil {
			store.Delete(ref)
			writeExpenseError(w, r, err, "Failed to attach receipt")
			return
		}
		if previous != nil {
			store.Delete(*previous)
		}

		expense, err := service.GetByID(r.Context(), expenseID, userID)
		if err != nil {
			writeExpenseError(w, r, err, "Failed to reload expense")
			return
		}

		if err := auditor.LogExpenseEvent(r.Context(), audit.EventReceiptUploaded, expense.ProjectID, expenseID, userID, map[string]interface{}{
			"receipt_ref": ref,
		}); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"expense": expense,
		})
	}
}

// HandleDownloadReceipt streams an expense's receipt. Visibility follows the
// expense itself.
func HandleDownloadReceipt(service *Service, store *receipts.Store) http.HandlerFunc {
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
		if expense.ReceiptRef == nil {
			apperrors.WriteNotFound(w, r, "Expense has no receipt")
			return
		}

		reader, contentType, err := store.Open(*expense.ReceiptRef)
		if err != nil {
			log.Error().Err(err).Str("ref", *expense.ReceiptRef).Msg("Failed to open receipt")
			apperrors.WriteNotFound(w, r, "Receipt file not found")
			return
		}
		defer reader.Close()

		w.Header().Set("Content-Type", contentType)
		if _, err := io.Copy(w, reader); err != nil {
			log.Warn().Err(err).Msg("Failed to stream receipt")
		}
	}
}
