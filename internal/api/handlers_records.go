package api

import (
	"encoding/json"
	"net/http"

	"github.com/herbalyze/herbalyze/internal/ledger"
	"github.com/herbalyze/herbalyze/internal/records"
)

// =============================================================================
// Record handlers
// =============================================================================

// HandleSubmitRecord encrypts a clinical payload and appends it to the
// ledger on behalf of the authenticated doctor.
func (h *Handlers) HandleSubmitRecord() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		var req struct {
			Patient string               `json:"patient"`
			Payload records.ClearPayload `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		patient, err := ledger.ParseAddress(req.Patient)
		if err != nil {
			respondError(w, http.StatusBadRequest, "A valid patient wallet is required")
			return
		}

		caller, err := ledger.ParseAddress(claims.Wallet)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Invalid wallet claim")
			return
		}

		if err := req.Payload.Validate(); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		txHash, err := h.records.Submit(r.Context(), caller, patient, req.Payload)
		if err != nil {
			respondLedgerError(w, err)
			return
		}

		respondJSON(w, http.StatusCreated, map[string]string{
			"status":  "recorded",
			"tx_hash": txHash.Hex(),
		})
	}
}

// HandleListRecords scans the ledger and returns the records the caller may
// read, newest first.
func (h *Handlers) HandleListRecords() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		caller, err := ledger.ParseAddress(claims.Wallet)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Invalid wallet claim")
			return
		}

		visible, err := h.records.ScanVisibleTo(r.Context(), caller, claims.Role)
		if err != nil {
			respondLedgerError(w, err)
			return
		}

		if visible == nil {
			visible = []records.Record{}
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"records": visible,
			"count":   len(visible),
		})
	}
}
