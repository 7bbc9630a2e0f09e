package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/herbalyze/herbalyze/internal/database"
	"github.com/herbalyze/herbalyze/internal/ledger"
	"github.com/herbalyze/herbalyze/pkg/models"
)

// =============================================================================
// Admin handlers
// =============================================================================

// HandleListDoctorRequests lists verification requests, filtered by the
// optional ?status= query (default pending).
func (h *Handlers) HandleListDoctorRequests() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status == "" {
			status = "pending"
		}
		switch status {
		case "pending", "approved", "rejected":
		default:
			respondError(w, http.StatusBadRequest, "Status must be pending, approved or rejected")
			return
		}

		requests, err := h.db.ListDoctorRequests(r.Context(), status)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to list requests")
			return
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{"requests": requests})
	}
}

// HandleApproveDoctor marks the request approved, promotes the user and
// registers the wallet on the ledger. The admin's own wallet signs the
// approval transaction.
func (h *Handlers) HandleApproveDoctor() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		request, err := h.db.GetDoctorRequest(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				respondError(w, http.StatusNotFound, "Request not found")
				return
			}
			respondError(w, http.StatusInternalServerError, "Failed to load request")
			return
		}

		if request.Status != "pending" {
			respondError(w, http.StatusConflict, "Request has already been reviewed")
			return
		}

		adminWallet, err := ledger.ParseAddress(claims.Wallet)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Invalid wallet claim")
			return
		}
		doctorWallet, err := ledger.ParseAddress(request.Wallet)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Request has an invalid wallet")
			return
		}

		// On-chain registration first: if it fails the request stays
		// pending and can be retried. An already-registered wallet is
		// fine; the DB review still has to happen.
		txHash, err := h.admin.ApproveUser(r.Context(), adminWallet, doctorWallet)
		alreadyRegistered := errors.Is(err, ledger.ErrNoopToggle)
		if err != nil && !alreadyRegistered {
			respondLedgerError(w, err)
			return
		}

		adminUser, err := h.db.GetUserByWallet(r.Context(), claims.Wallet)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to load reviewer")
			return
		}

		if err := h.db.ReviewDoctorRequest(r.Context(), request.ID, "approved", adminUser.ID); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to update request")
			return
		}
		if err := h.db.UpdateUserRole(r.Context(), request.UserID, models.RoleDoctor); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to update role")
			return
		}

		resp := map[string]string{"status": "approved"}
		if !alreadyRegistered {
			resp["tx_hash"] = txHash.Hex()
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

// HandleRejectDoctor marks the request rejected. Nothing touches the
// ledger; the wallet was never registered.
func (h *Handlers) HandleRejectDoctor() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		request, err := h.db.GetDoctorRequest(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				respondError(w, http.StatusNotFound, "Request not found")
				return
			}
			respondError(w, http.StatusInternalServerError, "Failed to load request")
			return
		}

		if request.Status != "pending" {
			respondError(w, http.StatusConflict, "Request has already been reviewed")
			return
		}

		adminUser, err := h.db.GetUserByWallet(r.Context(), claims.Wallet)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to load reviewer")
			return
		}

		if err := h.db.ReviewDoctorRequest(r.Context(), request.ID, "rejected", adminUser.ID); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to update request")
			return
		}
		if err := h.db.UpdateUserRole(r.Context(), request.UserID, models.RoleRejectedDoctor); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to update role")
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
	}
}

// HandleRevokeApproval removes a wallet's on-chain registration, for
// off-boarding a doctor whose credentials lapsed.
func (h *Handlers) HandleRevokeApproval() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		wallet, err := ledger.ParseAddress(chi.URLParam(r, "wallet"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid wallet address")
			return
		}
		adminWallet, err := ledger.ParseAddress(claims.Wallet)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Invalid wallet claim")
			return
		}

		txHash, err := h.admin.RevokeUser(r.Context(), adminWallet, wallet)
		if err != nil {
			respondLedgerError(w, err)
			return
		}

		user, err := h.db.GetUserByWallet(r.Context(), ledger.Normalize(wallet))
		if err == nil && user.Role == models.RoleDoctor {
			_ = h.db.UpdateUserRole(r.Context(), user.ID, models.RoleRejectedDoctor)
		}

		respondJSON(w, http.StatusOK, map[string]string{
			"status":  "revoked",
			"tx_hash": txHash.Hex(),
		})
	}
}

// HandleApprovalStatus checks a wallet's on-chain registration, for the
// admin dashboard.
func (h *Handlers) HandleApprovalStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wallet, err := ledger.ParseAddress(chi.URLParam(r, "wallet"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid wallet address")
			return
		}

		approved, err := h.admin.IsApprovedUser(r.Context(), wallet)
		if err != nil {
			respondLedgerError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"wallet":   ledger.Normalize(wallet),
			"approved": approved,
		})
	}
}
