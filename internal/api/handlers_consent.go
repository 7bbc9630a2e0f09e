package api

import (
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/herbalyze/herbalyze/internal/ledger"
)

// =============================================================================
// Consent handlers
// =============================================================================

// decodeCounterparty reads the single-wallet body shared by grant and
// revoke.
func decodeCounterparty(r *http.Request) (common.Address, error) {
	var req struct {
		Doctor string `json:"doctor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return common.Address{}, err
	}
	return ledger.ParseAddress(req.Doctor)
}

// HandleGrantConsent lets the authenticated patient open their records to a
// doctor. The patient's own wallet signs the transaction.
func (h *Handlers) HandleGrantConsent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		doctor, err := decodeCounterparty(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, "A valid doctor wallet is required")
			return
		}

		patient, err := ledger.ParseAddress(claims.Wallet)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Invalid wallet claim")
			return
		}

		txHash, err := h.consent.Grant(r.Context(), patient, doctor)
		if err != nil {
			respondLedgerError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{
			"status":  "granted",
			"tx_hash": txHash.Hex(),
		})
	}
}

// HandleRevokeConsent closes a previously granted consent edge.
func (h *Handlers) HandleRevokeConsent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		doctor, err := decodeCounterparty(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, "A valid doctor wallet is required")
			return
		}

		patient, err := ledger.ParseAddress(claims.Wallet)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Invalid wallet claim")
			return
		}

		txHash, err := h.consent.Revoke(r.Context(), patient, doctor)
		if err != nil {
			respondLedgerError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{
			"status":  "revoked",
			"tx_hash": txHash.Hex(),
		})
	}
}

// HandleCheckConsent reports whether a patient->doctor edge is open.
func (h *Handlers) HandleCheckConsent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patient, err := ledger.ParseAddress(r.URL.Query().Get("patient"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "A valid patient wallet is required")
			return
		}
		doctor, err := ledger.ParseAddress(r.URL.Query().Get("doctor"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "A valid doctor wallet is required")
			return
		}

		granted, err := h.consent.Check(r.Context(), patient, doctor)
		if err != nil {
			respondLedgerError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"patient": ledger.Normalize(patient),
			"doctor":  ledger.Normalize(doctor),
			"granted": granted,
		})
	}
}

// HandleConsentedPatients lists the patients who currently allow the
// authenticated doctor, joined with directory names where known.
func (h *Handlers) HandleConsentedPatients() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		doctor, err := ledger.ParseAddress(claims.Wallet)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Invalid wallet claim")
			return
		}

		patients, err := h.consent.PatientsFor(r.Context(), doctor)
		if err != nil {
			respondLedgerError(w, err)
			return
		}

		wallets := make([]string, 0, len(patients))
		for _, p := range patients {
			wallets = append(wallets, ledger.Normalize(p))
		}

		names := make(map[string]string)
		if len(wallets) > 0 {
			if entries, err := h.db.LookupDirectory(r.Context(), wallets); err == nil {
				for _, e := range entries {
					names[e.Wallet] = e.DisplayName
				}
			}
		}

		type patientEntry struct {
			Wallet      string `json:"wallet"`
			DisplayName string `json:"display_name,omitempty"`
		}
		out := make([]patientEntry, 0, len(wallets))
		for _, wallet := range wallets {
			out = append(out, patientEntry{Wallet: wallet, DisplayName: names[wallet]})
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{"patients": out})
	}
}
