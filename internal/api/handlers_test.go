package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/bcrypt"

	"github.com/herbalyze/herbalyze/internal/auth"
	"github.com/herbalyze/herbalyze/internal/config"
	"github.com/herbalyze/herbalyze/internal/session"
	"github.com/herbalyze/herbalyze/pkg/models"
)

type testEnv struct {
	cfg     *config.Config
	store   *MockStore
	consent *mockConsent
	records *mockRecords
	admin   *mockLedgerAdmin
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		JWTSecret:         "test-secret",
		JWTExpiration:     1,
		RefreshExpiration: 7,
		NonceExpiration:   5,
		UploadDir:         t.TempDir(),
	}

	env := &testEnv{
		cfg:     cfg,
		store:   NewMockStore(),
		consent: newMockConsent(),
		records: &mockRecords{},
		admin:   newMockLedgerAdmin(),
	}

	handlers := NewHandlers(cfg, env.store, env.consent, env.records, env.admin, session.NewMemoryStore())
	env.router = NewRouter(cfg, handlers)
	return env
}

// seedUser inserts a user with a bcrypt-hashed password and returns it.
func (e *testEnv) seedUser(t *testing.T, email, password, wallet string, role models.Role) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user, err := e.store.CreateUser(context.Background(), email, string(hash), wallet, role)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// token issues an access token for the user.
func (e *testEnv) token(t *testing.T, user *models.User) string {
	t.Helper()
	token, err := auth.GenerateAccessToken(e.cfg.JWTSecret, user, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

// do sends a JSON request through the router, optionally authenticated.
func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

const (
	patientWallet = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	doctorWallet  = "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359"
	adminWallet   = "0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb"
)

// =============================================================================
// Registration and login
// =============================================================================

func TestRegister(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantRole   models.Role
	}{
		{
			name: "patient registration",
			body: map[string]string{
				"email":    "alice@example.com",
				"password": "correct-horse",
				"wallet":   patientWallet,
				"role":     "patient",
			},
			wantStatus: http.StatusCreated,
			wantRole:   models.RolePatient,
		},
		{
			name: "doctor starts pending",
			body: map[string]string{
				"email":    "bob@example.com",
				"password": "correct-horse",
				"wallet":   doctorWallet,
				"role":     "doctor",
			},
			wantStatus: http.StatusCreated,
			wantRole:   models.RolePendingDoctor,
		},
		{
			name: "default role is patient",
			body: map[string]string{
				"email":    "carol@example.com",
				"password": "correct-horse",
				"wallet":   adminWallet,
			},
			wantStatus: http.StatusCreated,
			wantRole:   models.RolePatient,
		},
		{
			name: "short password rejected",
			body: map[string]string{
				"email":    "dave@example.com",
				"password": "short",
				"wallet":   patientWallet,
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "invalid wallet rejected",
			body: map[string]string{
				"email":    "erin@example.com",
				"password": "correct-horse",
				"wallet":   "not-an-address",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "admin self-registration rejected",
			body: map[string]string{
				"email":    "mallory@example.com",
				"password": "correct-horse",
				"wallet":   patientWallet,
				"role":     "admin",
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do(t, http.MethodPost, "/api/v1/auth/register", "", tt.body)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusCreated {
				return
			}

			user, err := env.store.GetUserByEmail(context.Background(), tt.body["email"])
			if err != nil {
				t.Fatalf("user not created: %v", err)
			}
			if user.Role != tt.wantRole {
				t.Errorf("role = %s, want %s", user.Role, tt.wantRole)
			}

			body := decodeBody(t, w)
			if _, ok := body["tokens"]; !ok {
				t.Error("response missing tokens")
			}
		})
	}
}

func TestRegister_DuplicateWallet(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "first@example.com", "correct-horse", patientWallet, models.RolePatient)

	w := env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":    "second@example.com",
		"password": "correct-horse",
		"wallet":   patientWallet,
	})

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "correct-horse", patientWallet, models.RolePatient)

	t.Run("valid credentials", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "correct-horse",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		body := decodeBody(t, w)
		if _, ok := body["tokens"]; !ok {
			t.Error("response missing tokens")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "wrong",
		})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email":    "nobody@example.com",
			"password": "correct-horse",
		})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// failingSessions simulates a session backend outage.
type failingSessions struct {
	session.Store
}

func (f *failingSessions) SetLastWallet(ctx context.Context, wallet string) error {
	return errors.New("redis down")
}

func TestLogin_SessionFailureIsBestEffort(t *testing.T) {
	cfg := &config.Config{
		JWTSecret:         "test-secret",
		JWTExpiration:     1,
		RefreshExpiration: 7,
	}
	store := NewMockStore()
	handlers := NewHandlers(cfg, store, newMockConsent(), &mockRecords{}, newMockLedgerAdmin(),
		&failingSessions{session.NewMemoryStore()})
	router := NewRouter(cfg, handlers)

	hash, _ := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if _, err := store.CreateUser(context.Background(), "alice@example.com", string(hash), patientWallet, models.RolePatient); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (session outage must not block login)", w.Code, http.StatusOK)
	}
	if _, ok := decodeBody(t, w)["tokens"]; !ok {
		t.Error("response missing tokens")
	}
}

func TestRefresh_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "correct-horse", patientWallet, models.RolePatient)

	w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d", w.Code)
	}
	tokens := decodeBody(t, w)["tokens"].(map[string]interface{})
	refreshToken := tokens["refresh_token"].(string)

	w = env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": refreshToken,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want %d", w.Code, http.StatusOK)
	}

	// A second use of the same refresh token must fail.
	w = env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": refreshToken,
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("reused token status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// =============================================================================
// Wallet sign-in
// =============================================================================

func TestWalletSignIn(t *testing.T) {
	env := newTestEnv(t)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wallet := crypto.PubkeyToAddress(key.PublicKey)

	env.seedUser(t, "alice@example.com", "correct-horse",
		"0x"+fmt.Sprintf("%x", wallet.Bytes()), models.RolePatient)

	w := env.do(t, http.MethodPost, "/api/v1/auth/wallet/nonce", "", map[string]string{
		"wallet": wallet.Hex(),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("nonce status = %d (body %s)", w.Code, w.Body.String())
	}
	message := decodeBody(t, w)["message"].(string)

	digest := crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)))
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	w = env.do(t, http.MethodPost, "/api/v1/auth/wallet/verify", "", map[string]string{
		"wallet":    wallet.Hex(),
		"signature": "0x" + fmt.Sprintf("%x", sig),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("verify status = %d (body %s)", w.Code, w.Body.String())
	}
	if _, ok := decodeBody(t, w)["tokens"]; !ok {
		t.Error("response missing tokens")
	}

	// The nonce is consumed; a replay must fail.
	w = env.do(t, http.MethodPost, "/api/v1/auth/wallet/verify", "", map[string]string{
		"wallet":    wallet.Hex(),
		"signature": "0x" + fmt.Sprintf("%x", sig),
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("replay status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestWalletSignIn_WrongKey(t *testing.T) {
	env := newTestEnv(t)

	key, _ := crypto.GenerateKey()
	otherKey, _ := crypto.GenerateKey()
	wallet := crypto.PubkeyToAddress(key.PublicKey)

	env.seedUser(t, "alice@example.com", "correct-horse",
		"0x"+fmt.Sprintf("%x", wallet.Bytes()), models.RolePatient)

	w := env.do(t, http.MethodPost, "/api/v1/auth/wallet/nonce", "", map[string]string{
		"wallet": wallet.Hex(),
	})
	message := decodeBody(t, w)["message"].(string)

	digest := crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)))
	sig, _ := crypto.Sign(digest, otherKey)
	sig[crypto.RecoveryIDOffset] += 27

	w = env.do(t, http.MethodPost, "/api/v1/auth/wallet/verify", "", map[string]string{
		"wallet":    wallet.Hex(),
		"signature": "0x" + fmt.Sprintf("%x", sig),
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// The failed attempt consumed the challenge: even a correct signature
	// is now rejected until a fresh nonce is issued.
	goodSig, _ := crypto.Sign(digest, key)
	goodSig[crypto.RecoveryIDOffset] += 27
	w = env.do(t, http.MethodPost, "/api/v1/auth/wallet/verify", "", map[string]string{
		"wallet":    wallet.Hex(),
		"signature": "0x" + fmt.Sprintf("%x", goodSig),
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("post-failure status = %d, want %d (challenge must be single-attempt)", w.Code, http.StatusUnauthorized)
	}
}

// =============================================================================
// Middleware
// =============================================================================

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice@example.com", "correct-horse", patientWallet, models.RolePatient)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "NotBearer abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"valid token", "Bearer " + env.token(t, user), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequireRoles(t *testing.T) {
	env := newTestEnv(t)

	patient := env.seedUser(t, "pat@example.com", "correct-horse", patientWallet, models.RolePatient)
	pending := env.seedUser(t, "doc@example.com", "correct-horse", doctorWallet, models.RolePendingDoctor)

	t.Run("pending doctor cannot list records", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/records", env.token(t, pending), nil)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("patient cannot submit records", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/records", env.token(t, patient), map[string]string{})
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("patient cannot reach admin routes", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/admin/doctor-requests", env.token(t, patient), nil)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

// =============================================================================
// Router basics
// =============================================================================

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	expected := `{"status":"ok","service":"herbalyze-api","version":"0.1.0"}`
	if w.Body.String() != expected {
		t.Errorf("body = %q, want %q", w.Body.String(), expected)
	}
}
