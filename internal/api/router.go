package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/herbalyze/herbalyze/internal/config"
	"github.com/herbalyze/herbalyze/pkg/models"
)

func NewRouter(cfg *config.Config, h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "https://herbalyze.app", "https://*.herbalyze.app"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"herbalyze-api","version":"0.1.0"}`))
	})

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Group(func(r chi.Router) {
			r.Post("/auth/register", h.HandleRegister())
			r.Post("/auth/login", h.HandleLogin())
			r.Post("/auth/refresh", h.HandleRefresh())
			r.Post("/auth/wallet/nonce", h.HandleWalletNonce())
			r.Post("/auth/wallet/verify", h.HandleWalletVerify())
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg))

			// Profile; open to pending roles so applicants can fill in
			// their details and upload credentials.
			r.Get("/profile", h.HandleGetProfile())
			r.Put("/profile", h.HandleUpdateProfile())
			r.Post("/doctor/verification", h.HandleDoctorVerification())

			// Directory
			r.With(RequireRoles(models.RolePatient, models.RoleDoctor, models.RoleAdmin)).
				Post("/directory/lookup", h.HandleDirectoryLookup())

			// Consent
			r.Group(func(r chi.Router) {
				r.Use(RequireRoles(models.RolePatient))
				r.Post("/consent/grant", h.HandleGrantConsent())
				r.Post("/consent/revoke", h.HandleRevokeConsent())
			})
			r.With(RequireRoles(models.RolePatient, models.RoleDoctor, models.RoleAdmin)).
				Get("/consent/check", h.HandleCheckConsent())
			r.With(RequireRoles(models.RoleDoctor)).
				Get("/consent/patients", h.HandleConsentedPatients())

			// Records
			r.With(RequireRoles(models.RoleDoctor)).
				Post("/records", h.HandleSubmitRecord())
			r.With(RequireRoles(models.RolePatient, models.RoleDoctor)).
				Get("/records", h.HandleListRecords())

			// Admin
			r.Group(func(r chi.Router) {
				r.Use(RequireRoles(models.RoleAdmin))
				r.Get("/admin/doctor-requests", h.HandleListDoctorRequests())
				r.Post("/admin/doctor-requests/{id}/approve", h.HandleApproveDoctor())
				r.Post("/admin/doctor-requests/{id}/reject", h.HandleRejectDoctor())
				r.Get("/admin/approval/{wallet}", h.HandleApprovalStatus())
				r.Delete("/admin/approval/{wallet}", h.HandleRevokeApproval())
			})
		})
	})

	return r
}
