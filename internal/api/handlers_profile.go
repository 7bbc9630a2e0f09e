package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/herbalyze/herbalyze/internal/database"
	"github.com/herbalyze/herbalyze/internal/ledger"
	"github.com/herbalyze/herbalyze/internal/session"
	"github.com/herbalyze/herbalyze/pkg/models"
)

const maxVerificationUpload = 10 << 20 // 10 MiB

// =============================================================================
// Profile handlers
// =============================================================================

func (h *Handlers) HandleGetProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		// Session cache first; it mirrors the DB row.
		if blob, err := h.sessions.Get(r.Context(), claims.Wallet); err == nil && blob != nil {
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"wallet":       blob.Wallet,
				"display_name": blob.DisplayName,
				"institution":  blob.Institution,
				"role":         blob.Role,
			})
			return
		}

		profile, err := h.db.GetProfileByWallet(r.Context(), claims.Wallet)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				respondJSON(w, http.StatusOK, map[string]interface{}{
					"wallet": claims.Wallet,
					"role":   claims.Role,
				})
				return
			}
			respondError(w, http.StatusInternalServerError, "Failed to load profile")
			return
		}

		respondJSON(w, http.StatusOK, profile)
	}
}

func (h *Handlers) HandleUpdateProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		var req struct {
			DisplayName string `json:"display_name"`
			Institution string `json:"institution"`
			Phone       string `json:"phone"`
			BirthDate   string `json:"birth_date"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if req.DisplayName == "" {
			respondError(w, http.StatusBadRequest, "Display name is required")
			return
		}

		user, err := h.db.GetUserByWallet(r.Context(), claims.Wallet)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to load user")
			return
		}

		profile := &models.Profile{
			UserID:      user.ID,
			Wallet:      user.Wallet,
			DisplayName: req.DisplayName,
			Institution: req.Institution,
			Phone:       req.Phone,
			BirthDate:   req.BirthDate,
		}
		if err := h.db.UpsertProfile(r.Context(), profile); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to save profile")
			return
		}

		_ = h.sessions.Set(r.Context(), user.Wallet, &session.Blob{
			Wallet:      user.Wallet,
			DisplayName: profile.DisplayName,
			Institution: profile.Institution,
			Role:        string(user.Role),
			UpdatedAt:   time.Now().UTC(),
		})

		respondJSON(w, http.StatusOK, profile)
	}
}

// HandleDirectoryLookup resolves a batch of wallet addresses to display
// names, for rendering record and consent lists.
func (h *Handlers) HandleDirectoryLookup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Wallets []string `json:"wallets"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if len(req.Wallets) == 0 {
			respondJSON(w, http.StatusOK, map[string]interface{}{"entries": []models.DirectoryEntry{}})
			return
		}
		if len(req.Wallets) > 100 {
			respondError(w, http.StatusBadRequest, "At most 100 wallets per lookup")
			return
		}

		normalized := make([]string, 0, len(req.Wallets))
		for _, raw := range req.Wallets {
			addr, err := ledger.ParseAddress(raw)
			if err != nil {
				respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid wallet address %q", raw))
				return
			}
			normalized = append(normalized, ledger.Normalize(addr))
		}

		entries, err := h.db.LookupDirectory(r.Context(), normalized)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to look up directory")
			return
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
	}
}

// =============================================================================
// Doctor verification
// =============================================================================

// HandleDoctorVerification accepts a credential document upload and queues
// the wallet for admin review.
func (h *Handlers) HandleDoctorVerification() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		switch claims.Role {
		case models.RolePendingDoctor, models.RoleRejectedDoctor:
		case models.RolePatient, models.RoleDoctor, models.RoleAdmin:
			respondError(w, http.StatusConflict, "Account is not awaiting doctor verification")
			return
		default:
			respondError(w, http.StatusForbidden, "Unknown role")
			return
		}

		if err := r.ParseMultipartForm(maxVerificationUpload); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid multipart form")
			return
		}

		file, header, err := r.FormFile("document")
		if err != nil {
			respondError(w, http.StatusBadRequest, "Credential document is required")
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		switch ext {
		case ".pdf", ".png", ".jpg", ".jpeg":
		default:
			respondError(w, http.StatusBadRequest, "Document must be a PDF or image")
			return
		}

		user, err := h.db.GetUserByWallet(r.Context(), claims.Wallet)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to load user")
			return
		}

		if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to store document")
			return
		}

		documentPath := filepath.Join(h.cfg.UploadDir, fmt.Sprintf("%s_%d%s", user.ID, time.Now().UnixNano(), ext))
		dst, err := os.Create(documentPath)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to store document")
			return
		}
		if _, err := io.Copy(dst, io.LimitReader(file, maxVerificationUpload)); err != nil {
			dst.Close()
			os.Remove(documentPath)
			respondError(w, http.StatusInternalServerError, "Failed to store document")
			return
		}
		dst.Close()

		request, err := h.db.CreateDoctorRequest(r.Context(), user.ID, user.Wallet, documentPath)
		if err != nil {
			os.Remove(documentPath)
			respondError(w, http.StatusInternalServerError, "Failed to create verification request")
			return
		}

		// A rejected doctor re-submitting goes back to pending.
		if user.Role == models.RoleRejectedDoctor {
			if err := h.db.UpdateUserRole(r.Context(), user.ID, models.RolePendingDoctor); err != nil {
				respondError(w, http.StatusInternalServerError, "Failed to update role")
				return
			}
		}

		respondJSON(w, http.StatusCreated, request)
	}
}
