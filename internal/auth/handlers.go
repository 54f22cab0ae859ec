package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"github.com/sitewise/sitewise/internal/apperrors"
	"github.com/sitewise/sitewise/internal/audit"
	"github.com/sitewise/sitewise/internal/db"
	"github.com/sitewise/sitewise/internal/validation"
)

// GlobalRole is the coarse account-level role, distinct from per-project
// member roles. Platform admins are promoted through the admin CLI.
type GlobalRole string

const (
	GlobalRoleAdmin       GlobalRole = "admin"
	GlobalRoleStakeholder GlobalRole = "stakeholder"
)

// User represents an account profile.
type User struct {
	ID               uuid.UUID  `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	Phone            *string    `json:"phone,omitempty"`
	PhotoURL         *string    `json:"photo_url,omitempty"`
	Role             GlobalRole `json:"role"`
	EmailVerified    bool       `json:"email_verified"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
}

// SignupRequest represents the signup request payload
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// SessionResponse is returned by signup and login.
type SessionResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CSRFToken string    `json:"csrf_token"`
}

// HandleSignup processes user registration
func HandleSignup(database *db.DB, auditor *audit.Writer, jwtSecret string, sessionDays int, isProduction bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		fields := validation.FieldErrors{}

		email, err := validation.NormalizeEmail(req.Email)
		if err != nil {
			fields.Add("email", err.Error())
		}
		if len(req.Password) < 8 {
			fields.Add("password", "password must be at least 8 characters")
		}
		req.Name = strings.TrimSpace(req.Name)
		if err := validation.ValidateName(req.Name); err != nil {
			fields.Add("name", err.Error())
		}
		if len(fields) > 0 {
			apperrors.WriteValidationError(w, r, fields)
			return
		}

		passwordHash, err := HashPassword(req.Password)
		if err != nil {
			log.Error().Err(err).Msg("Failed to hash password")
			apperrors.WriteInternalError(w, r, "Failed to create account")
			return
		}

		var userID uuid.UUID
		err = database.Pool.QueryRow(r.Context(), `
			INSERT INTO users (email, password_hash, name)
			VALUES ($1, $2, $3)
			RETURNING id
		`, email, passwordHash, req.Name).Scan(&userID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
				apperrors.WriteConflict(w, r, "Email address already registered")
				return
			}

			log.Error().Err(err).Str("email", email).Msg("Failed to insert user")
			apperrors.WriteInternalError(w, r, "Failed to create account")
			return
		}

		if err := auditor.LogUserSignup(r.Context(), userID, email); err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to log audit event")
			// Don't fail the signup if the audit log fails
		}

		csrfToken, err := startSession(w, userID, jwtSecret, sessionDays, isProduction)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create session")
			apperrors.WriteInternalError(w, r, "Failed to create session")
			return
		}

		log.Info().
			Str("user_id", userID.String()).
			Str("email", email).
			Msg("User signed up successfully")

		apperrors.WriteSuccess(w, r, http.StatusCreated, SessionResponse{
			UserID:    userID,
			Email:     email,
			Name:      req.Name,
			CSRFToken: csrfToken,
		})
	}
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin processes user authentication
func HandleLogin(database *db.DB, auditor *audit.Writer, jwtSecret string, sessionDays int, isProduction bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		email := strings.TrimSpace(req.Email)
		if email == "" || req.Password == "" {
			apperrors.WriteUnauthorized(w, r, "Invalid credentials")
			return
		}

		var userID uuid.UUID
		var passwordHash, name string
		err := database.Pool.QueryRow(r.Context(),
			`SELECT id, password_hash, name FROM users WHERE email = $1`, email,
		).Scan(&userID, &passwordHash, &name)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				log.Debug().Str("email", email).Msg("Login failed: user not found")
				recordLoginFailure(r, auditor, email)
				apperrors.WriteUnauthorized(w, r, "Invalid credentials")
				return
			}
			log.Error().Err(err).Str("email", email).Msg("Failed to query user")
			apperrors.WriteInternalError(w, r, "Login failed")
			return
		}

		if err := VerifyPassword(passwordHash, req.Password); err != nil {
			log.Debug().Str("email", email).Msg("Login failed: wrong password")
			recordLoginFailure(r, auditor, email)
			apperrors.WriteUnauthorized(w, r, "Invalid credentials")
			return
		}

		csrfToken, err := startSession(w, userID, jwtSecret, sessionDays, isProduction)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create session")
			apperrors.WriteInternalError(w, r, "Failed to create session")
			return
		}

		log.Info().
			Str("user_id", userID.String()).
			Str("email", email).
			Msg("User logged in successfully")

		apperrors.WriteSuccess(w, r, http.StatusOK, SessionResponse{
			UserID:    userID,
			Email:     email,
			Name:      name,
			CSRFToken: csrfToken,
		})
	}
}

// HandleLogout clears the session cookie.
func HandleLogout(w http.ResponseWriter, r *http.Request) {
	ClearSessionCookie(w)

	userID := GetUserID(r.Context())
	if userID != uuid.Nil {
		log.Info().Str("user_id", userID.String()).Msg("User logged out")
	}

	apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
		"status": "logged_out",
	})
}

// HandleMe returns the authenticated user's profile.
func HandleMe(database *db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := GetUserID(r.Context())

		user, err := loadUser(r, database, userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				apperrors.WriteNotFound(w, r, "User not found")
				return
			}
			log.Error().Err(err).Msg("Failed to load profile")
			apperrors.WriteInternalError(w, r, "Failed to load profile")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"user": user,
		})
	}
}

// UpdateMeRequest carries optional profile mutations. Nil fields are left
// untouched.
type UpdateMeRequest struct {
	Name             *string `json:"name"`
	Phone            *string `json:"phone"`
	PhotoURL         *string `json:"photo_url"`
	TwoFactorEnabled *bool   `json:"two_factor_enabled"`
}

// HandleUpdateMe patches the authenticated user's profile.
func HandleUpdateMe(database *db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := GetUserID(r.Context())

		var req UpdateMeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		if req.Name != nil {
			trimmed := strings.TrimSpace(*req.Name)
			if err := validation.ValidateName(trimmed); err != nil {
				apperrors.WriteValidationError(w, r, validation.FieldErrors{"name": err.Error()})
				return
			}
			req.Name = &trimmed
		}

		_, err := database.Pool.Exec(r.Context(), `
			UPDATE users
			SET name = COALESCE($2, name),
			    phone = COALESCE($3, phone),
			    photo_url = COALESCE($4, photo_url),
			    two_factor_enabled = COALESCE($5, two_factor_enabled),
			    updated_at = NOW()
			WHERE id = $1
		`, userID, req.Name, req.Phone, req.PhotoURL, req.TwoFactorEnabled)
		if err != nil {
			log.Error().Err(err).Msg("Failed to update profile")
			apperrors.WriteInternalError(w, r, "Failed to update profile")
			return
		}

		user, err := loadUser(r, database, userID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to reload profile")
			apperrors.WriteInternalError(w, r, "Failed to load profile")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"user": user,
		})
	}
}

func loadUser(r *http.Request, database *db.DB, userID uuid.UUID) (*User, error) {
	var user User
	err := database.Pool.QueryRow(r.Context(), `
		SELECT id, email, name, phone, photo_url, role, email_verified, two_factor_enabled
		FROM users
		WHERE id = $1
	`, userID).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Phone,
		&user.PhotoURL,
		&user.Role,
		&user.EmailVerified,
		&user.TwoFactorEnabled,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// startSession issues the JWT session cookie plus a fresh CSRF token.
func startSession(w http.ResponseWriter, userID uuid.UUID, jwtSecret string, sessionDays int, isProduction bool) (string, error) {
	token, err := CreateToken(userID, jwtSecret, sessionDays)
	if err != nil {
		return "", err
	}
	SetSessionCookie(w, token, sessionDays, isProduction)

	csrfToken, err := GenerateCSRFToken()
	if err != nil {
		return "", err
	}
	SetCSRFCookie(w, csrfToken, isProduction)

	return csrfToken, nil
}

func recordLoginFailure(r *http.Request, auditor *audit.Writer, email string) {
	if err := auditor.LogLoginFailed(r.Context(), email, r.RemoteAddr); err != nil {
		log.Error().Err(err).Msg("Failed to log audit event")
	}
}
