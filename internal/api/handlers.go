package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/bcrypt"

	"github.com/herbalyze/herbalyze/internal/auth"
	"github.com/herbalyze/herbalyze/internal/config"
	"github.com/herbalyze/herbalyze/internal/database"
	"github.com/herbalyze/herbalyze/internal/ledger"
	"github.com/herbalyze/herbalyze/internal/records"
	"github.com/herbalyze/herbalyze/internal/session"
	"github.com/herbalyze/herbalyze/pkg/models"
)

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondCodedError carries a machine-readable code alongside the message so
// clients can branch without string matching.
func respondCodedError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": message, "code": code})
}

// respondLedgerError maps the ledger error taxonomy onto HTTP statuses and
// stable codes.
func respondLedgerError(w http.ResponseWriter, err error) {
	var revert *ledger.RevertError

	switch {
	case errors.Is(err, records.ErrConsentMissing):
		respondCodedError(w, http.StatusForbidden, "consent_missing",
			"The patient has not granted you consent to upload records")
	case errors.Is(err, ledger.ErrNotApproved):
		respondCodedError(w, http.StatusForbidden, "not_approved",
			"Your wallet has not been approved by an admin yet")
	case errors.Is(err, ledger.ErrNoopToggle):
		respondCodedError(w, http.StatusConflict, "noop_toggle",
			"The consent edge is already in the requested state")
	case errors.Is(err, ledger.ErrUserRejected):
		respondCodedError(w, http.StatusBadRequest, "user_rejected",
			"Transaction was rejected at the signing prompt")
	case errors.Is(err, ledger.ErrWalletUnavailable):
		respondCodedError(w, http.StatusServiceUnavailable, "wallet_unavailable",
			"No signing wallet is available on this node")
	case errors.As(err, &revert):
		respondCodedError(w, http.StatusUnprocessableEntity, "transaction_reverted",
			"Transaction reverted: "+revert.Reason)
	case errors.Is(err, ledger.ErrNetworkUnreachable):
		respondCodedError(w, http.StatusBadGateway, "ledger_unreachable",
			"The ledger node is unreachable")
	default:
		respondError(w, http.StatusInternalServerError, "Ledger operation failed")
	}
}

// =============================================================================
// Handler dependencies
// =============================================================================

// Store is the slice of the database layer the handlers use.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash, wallet string, role models.Role) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByWallet(ctx context.Context, wallet string) (*models.User, error)
	UpdateUserRole(ctx context.Context, id string, role models.Role) error

	UpsertProfile(ctx context.Context, p *models.Profile) error
	GetProfileByWallet(ctx context.Context, wallet string) (*models.Profile, error)
	LookupDirectory(ctx context.Context, wallets []string) ([]models.DirectoryEntry, error)

	CreateDoctorRequest(ctx context.Context, userID, wallet, documentPath string) (*models.DoctorRequest, error)
	ListDoctorRequests(ctx context.Context, status string) ([]models.DoctorRequest, error)
	GetDoctorRequest(ctx context.Context, id string) (*models.DoctorRequest, error)
	ReviewDoctorRequest(ctx context.Context, id, status, reviewerID string) error

	CreateRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	ConsumeRefreshToken(ctx context.Context, token string) (string, error)
	SaveWalletNonce(ctx context.Context, wallet, nonce, message string, expiresAt time.Time) error
	ConsumeWalletNonce(ctx context.Context, wallet string) (string, error)
}

// ConsentService mirrors consent.Manager.
type ConsentService interface {
	Grant(ctx context.Context, patient, doctor common.Address) (common.Hash, error)
	Revoke(ctx context.Context, patient, doctor common.Address) (common.Hash, error)
	Check(ctx context.Context, patient, doctor common.Address) (bool, error)
	PatientsFor(ctx context.Context, doctor common.Address) ([]common.Address, error)
}

// RecordService mirrors records.Service.
type RecordService interface {
	Submit(ctx context.Context, caller, patient common.Address, payload records.ClearPayload) (common.Hash, error)
	ScanVisibleTo(ctx context.Context, caller common.Address, role models.Role) ([]records.Record, error)
}

// LedgerAdmin is the on-chain user registry surface admins operate.
type LedgerAdmin interface {
	ApproveUser(ctx context.Context, from, addr common.Address) (common.Hash, error)
	RevokeUser(ctx context.Context, from, addr common.Address) (common.Hash, error)
	IsApprovedUser(ctx context.Context, addr common.Address) (bool, error)
}

// Handlers bundles the services the HTTP layer dispatches into.
type Handlers struct {
	cfg      *config.Config
	db       Store
	consent  ConsentService
	records  RecordService
	admin    LedgerAdmin
	sessions session.Store
}

func NewHandlers(cfg *config.Config, db Store, consent ConsentService, recs RecordService, admin LedgerAdmin, sessions session.Store) *Handlers {
	return &Handlers{
		cfg:      cfg,
		db:       db,
		consent:  consent,
		records:  recs,
		admin:    admin,
		sessions: sessions,
	}
}

// issueTokens generates and persists a token pair for the user.
func (h *Handlers) issueTokens(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	accessToken, err := auth.GenerateAccessToken(h.cfg.JWTSecret, user, time.Duration(h.cfg.JWTExpiration)*time.Hour)
	if err != nil {
		return nil, err
	}

	refreshToken, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().UTC().AddDate(0, 0, h.cfg.RefreshExpiration)
	if err := h.db.CreateRefreshToken(ctx, user.ID, refreshToken, expiresAt); err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    h.cfg.JWTExpiration * 3600,
	}, nil
}

// =============================================================================
// Auth handlers
// =============================================================================

func (h *Handlers) HandleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			Wallet   string `json:"wallet"`
			Role     string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		// Validate input
		if req.Email == "" || req.Password == "" || req.Wallet == "" {
			respondError(w, http.StatusBadRequest, "Email, password and wallet are required")
			return
		}

		if len(req.Password) < 8 {
			respondError(w, http.StatusBadRequest, "Password must be at least 8 characters")
			return
		}

		wallet, err := ledger.ParseAddress(req.Wallet)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid wallet address")
			return
		}

		// Doctors start as pending until an admin reviews their
		// verification documents.
		role := models.RolePatient
		switch req.Role {
		case "", "patient":
		case "doctor":
			role = models.RolePendingDoctor
		default:
			respondError(w, http.StatusBadRequest, "Role must be patient or doctor")
			return
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to process password")
			return
		}

		user, err := h.db.CreateUser(r.Context(), strings.ToLower(req.Email), string(hashedPassword), ledger.Normalize(wallet), role)
		if err != nil {
			if errors.Is(err, database.ErrDuplicateEmail) {
				respondError(w, http.StatusConflict, "Email already registered")
				return
			}
			if errors.Is(err, database.ErrDuplicateWallet) {
				respondError(w, http.StatusConflict, "Wallet already registered")
				return
			}
			respondError(w, http.StatusInternalServerError, "Failed to create user")
			return
		}

		tokens, err := h.issueTokens(r.Context(), user)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to generate tokens")
			return
		}

		respondJSON(w, http.StatusCreated, map[string]interface{}{
			"user":   user,
			"tokens": tokens,
		})
	}
}

func (h *Handlers) HandleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		user, err := h.db.GetUserByEmail(r.Context(), strings.ToLower(req.Email))
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				respondError(w, http.StatusUnauthorized, "Invalid email or password")
				return
			}
			respondError(w, http.StatusInternalServerError, "Failed to look up user")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			respondError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}

		tokens, err := h.issueTokens(r.Context(), user)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to generate tokens")
			return
		}

		// Session state is best effort; auth already succeeded.
		_ = h.sessions.SetLastWallet(r.Context(), user.Wallet)

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"user":   user,
			"tokens": tokens,
		})
	}
}

func (h *Handlers) HandleRefresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
			respondError(w, http.StatusBadRequest, "Refresh token is required")
			return
		}

		userID, err := h.db.ConsumeRefreshToken(r.Context(), req.RefreshToken)
		if err != nil {
			if errors.Is(err, database.ErrInvalidToken) {
				respondError(w, http.StatusUnauthorized, "Invalid or expired refresh token")
				return
			}
			respondError(w, http.StatusInternalServerError, "Failed to validate refresh token")
			return
		}

		user, err := h.db.GetUserByID(r.Context(), userID)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "User no longer exists")
			return
		}

		tokens, err := h.issueTokens(r.Context(), user)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to generate tokens")
			return
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{"tokens": tokens})
	}
}

// =============================================================================
// Wallet auth handlers
// =============================================================================

// HandleWalletNonce issues a fresh sign-in challenge for a wallet.
func (h *Handlers) HandleWalletNonce() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Wallet string `json:"wallet"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		wallet, err := ledger.ParseAddress(req.Wallet)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid wallet address")
			return
		}

		nonce, err := auth.NewNonce()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to generate nonce")
			return
		}

		message := auth.NonceMessage(wallet, nonce, time.Now().UTC())
		expiresAt := time.Now().UTC().Add(time.Duration(h.cfg.NonceExpiration) * time.Minute)
		if err := h.db.SaveWalletNonce(r.Context(), ledger.Normalize(wallet), nonce, message, expiresAt); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to save nonce")
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{"message": message})
	}
}

// HandleWalletVerify checks the signed challenge and logs the wallet in.
func (h *Handlers) HandleWalletVerify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Wallet    string `json:"wallet"`
			Signature string `json:"signature"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		wallet, err := ledger.ParseAddress(req.Wallet)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid wallet address")
			return
		}

		// The nonce is consumed before verification on purpose: a
		// challenge admits exactly one signature attempt, so a failed
		// guess cannot be iterated against the same message.
		message, err := h.db.ConsumeWalletNonce(r.Context(), ledger.Normalize(wallet))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "No pending challenge for this wallet")
			return
		}

		if err := auth.VerifySignature(wallet, message, req.Signature); err != nil {
			respondError(w, http.StatusUnauthorized, "Signature verification failed")
			return
		}

		user, err := h.db.GetUserByWallet(r.Context(), ledger.Normalize(wallet))
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				respondError(w, http.StatusUnauthorized, "Wallet is not registered")
				return
			}
			respondError(w, http.StatusInternalServerError, "Failed to look up user")
			return
		}

		tokens, err := h.issueTokens(r.Context(), user)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to generate tokens")
			return
		}

		// Session state is best effort; auth already succeeded.
		_ = h.sessions.SetLastWallet(r.Context(), user.Wallet)

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"user":   user,
			"tokens": tokens,
		})
	}
}
