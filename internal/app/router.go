package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sitewise/sitewise/internal/apperrors"
	"github.com/sitewise/sitewise/internal/audit"
	"github.com/sitewise/sitewise/internal/auth"
	"github.com/sitewise/sitewise/internal/config"
	"github.com/sitewise/sitewise/internal/db"
	"github.com/sitewise/sitewise/internal/expenses"
	"github.com/sitewise/sitewise/internal/notify"
	"github.com/sitewise/sitewise/internal/projects"
	"github.com/sitewise/sitewise/internal/receipts"
)

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(database *db.DB, cfg *config.Config, receiptStore *receipts.Store) *chi.Mux {
	r := chi.NewRouter()

	isProduction := !cfg.IsDev()

	// Middleware stack
	r.Use(middleware.RealIP)
	r.Use(apperrors.RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.BaseURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(auth.AuthMiddleware(cfg.JWTSecret))

	// Shared services
	auditor := audit.NewWriter(database)
	auditReader := audit.NewReader(database)
	notifier := notify.NewClient(cfg.PushRelayURL, cfg.PushTimeoutMS)
	projectService := projects.NewService(database)
	memberService := projects.NewMembersService(database)
	expenseService := expenses.NewService(database)

	// Health check routes (no authentication required)
	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(database))

	// API routes - Authentication
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(CSRFMiddleware())

		r.Post("/signup", auth.HandleSignup(database, auditor, cfg.JWTSecret, cfg.SessionDays, isProduction))

		// Login with rate limiting (10 requests per minute)
		r.With(LoginRateLimitMiddleware()).Post("/login", auth.HandleLogin(database, auditor, cfg.JWTSecret, cfg.SessionDays, isProduction))

		r.With(auth.RequireAuth).Post("/logout", auth.HandleLogout)
		r.With(auth.RequireAuth).Get("/me", auth.HandleMe(database))
		r.With(auth.RequireAuth).Put("/me", auth.HandleUpdateMe(database))
	})

	// API routes - Projects and everything under them
	r.Route("/api/v1/projects", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(CSRFMiddleware())
		r.Use(auth.RequireAuth)
		r.Use(APIRateLimitMiddleware(cfg.RateLimitRPM))

		// Project CRUD
		r.Post("/", projects.HandleCreateProject(projectService, auditor))
		r.Get("/", projects.HandleListProjects(projectService))
		r.Get("/{projectID}", projects.HandleGetProject(projectService))
		r.Put("/{projectID}", projects.HandleUpdateProject(projectService, auditor))
		r.Delete("/{projectID}", projects.HandleDeleteProject(projectService, auditor))

		// Members
		r.Get("/{projectID}/members", projects.HandleListMembers(projectService, memberService))
		r.Delete("/{projectID}/members/{userID}", projects.HandleRemoveMember(memberService, auditor, notifier))
		r.Post("/{projectID}/leave", projects.HandleLeaveProject(projectService, memberService, auditor))

		// Director permissions
		r.Put("/{projectID}/members/{userID}/permissions", projects.HandleUpdatePermissions(projectService, auditor))

		// Invitations
		r.Post("/{projectID}/invitations", projects.HandleCreateInvite(projectService, auditor, cfg.BaseURL))
		r.Get("/{projectID}/invitations", projects.HandleListInvites(projectService))
		r.Delete("/{projectID}/invitations/{inviteID}", projects.HandleCancelInvite(projectService, auditor))

		// Expenses under a project
		r.Post("/{projectID}/expenses", expenses.HandleCreate(expenseService, auditor, notifier))
		r.Get("/{projectID}/expenses", expenses.HandleList(expenseService))

		// Audit trail
		r.Get("/{projectID}/history", projects.HandleProjectHistory(projectService, auditReader))
	})

	// API routes - Invitation acceptance (token-addressed, not project-scoped)
	r.Route("/api/v1/invitations", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(CSRFMiddleware())
		r.Use(auth.RequireAuth)

		r.Post("/accept", projects.HandleAcceptInvite(projectService, auditor))
	})

	// API routes - Expenses addressed directly
	r.Route("/api/v1/expenses", func(r chi.Router) {
		r.Use(CSRFMiddleware())
		r.Use(auth.RequireAuth)
		r.Use(APIRateLimitMiddleware(cfg.RateLimitRPM))

		r.With(ContentTypeJSON).Get("/{expenseID}", expenses.HandleGet(expenseService))
		r.With(ContentTypeJSON).Post("/{expenseID}/approve", expenses.HandleApprove(expenseService, auditor, notifier))
		r.With(ContentTypeJSON).Post("/{expenseID}/reject", expenses.HandleReject(expenseService, auditor, notifier))
		r.With(ContentTypeJSON).Delete("/{expenseID}", expenses.HandleDelete(expenseService, auditor, notifier))
		r.With(ContentTypeJSON).Post("/{expenseID}/restore", expenses.HandleRestore(expenseService, auditor))

		// Receipts (multipart upload, binary download)
		r.Post("/{expenseID}/receipt", expenses.HandleUploadReceipt(expenseService, receiptStore, auditor))
		r.Get("/{expenseID}/receipt", expenses.HandleDownloadReceipt(expenseService, receiptStore))
	})

	return r
}

// handleHealthz returns a simple liveness check
// Always returns 200 OK if the service is running
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleReadyz returns a readiness check that includes database connectivity
// Returns 200 OK if service is ready to accept traffic, 503 if not
func handleReadyz(database *db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := database.Pool.Ping(r.Context()); err != nil {
			apperrors.WriteServiceUnavailable(w, r, "Database connection failed")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
			"status": "ready",
			"db":     "ok",
		})
	}
}
