package database

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/herbalyze/herbalyze/pkg/models"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateEmail  = errors.New("email already exists")
	ErrDuplicateWallet = errors.New("wallet already registered")
	ErrInvalidToken    = errors.New("invalid or expired token")
)

// =============================================================================
// User Repository
// =============================================================================

// CreateUser creates a new user. Wallet is stored lowercased; lookups
// lowercase their input so identity never depends on casing.
func (db *DB) CreateUser(ctx context.Context, email, passwordHash, wallet string, role models.Role) (*models.User, error) {
	id := generateID("usr")
	now := time.Now().UTC()
	wallet = strings.ToLower(wallet)

	query := `
		INSERT INTO users (id, email, password_hash, wallet, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id, email, wallet, role, created_at, updated_at
	`

	user := &models.User{}
	var roleStr string
	err := db.pool.QueryRow(ctx, query, id, email, passwordHash, wallet, string(role), now).Scan(
		&user.ID, &user.Email, &user.Wallet, &roleStr, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if isDuplicateError(err) {
			if strings.Contains(err.Error(), "wallet") {
				return nil, ErrDuplicateWallet
			}
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	user.Role = models.Role(roleStr)

	return user, nil
}

// GetUserByID retrieves a user by ID
func (db *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return db.getUser(ctx, `SELECT id, email, password_hash, wallet, role, created_at, updated_at FROM users WHERE id = $1`, id)
}

// GetUserByEmail retrieves a user by email
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.getUser(ctx, `SELECT id, email, password_hash, wallet, role, created_at, updated_at FROM users WHERE email = $1`, email)
}

// GetUserByWallet retrieves a user by wallet address, case-insensitively.
func (db *DB) GetUserByWallet(ctx context.Context, wallet string) (*models.User, error) {
	return db.getUser(ctx, `SELECT id, email, password_hash, wallet, role, created_at, updated_at FROM users WHERE wallet = $1`, strings.ToLower(wallet))
}

func (db *DB) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	user := &models.User{}
	var roleStr string
	err := db.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Wallet, &roleStr,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.Role = models.Role(roleStr)
	return user, nil
}

// UpdateUserRole moves a user between roles (pending_doctor → doctor on
// approval, → rejected_doctor on rejection).
func (db *DB) UpdateUserRole(ctx context.Context, id string, role models.Role) error {
	query := `UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`
	tag, err := db.pool.Exec(ctx, query, id, string(role), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Profile Repository
// =============================================================================

// UpsertProfile creates or replaces the profile for a user.
func (db *DB) UpsertProfile(ctx context.Context, p *models.Profile) error {
	query := `
		INSERT INTO profiles (user_id, wallet, display_name, institution, phone, birth_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			institution  = EXCLUDED.institution,
			phone        = EXCLUDED.phone,
			birth_date   = EXCLUDED.birth_date,
			updated_at   = EXCLUDED.updated_at
	`
	_, err := db.pool.Exec(ctx, query,
		p.UserID, strings.ToLower(p.Wallet), p.DisplayName, p.Institution, p.Phone, p.BirthDate, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// GetProfileByWallet retrieves the profile attached to a wallet.
func (db *DB) GetProfileByWallet(ctx context.Context, wallet string) (*models.Profile, error) {
	query := `
		SELECT user_id, wallet, display_name, institution, phone, birth_date, updated_at
		FROM profiles WHERE wallet = $1
	`
	p := &models.Profile{}
	err := db.pool.QueryRow(ctx, query, strings.ToLower(wallet)).Scan(
		&p.UserID, &p.Wallet, &p.DisplayName, &p.Institution, &p.Phone, &p.BirthDate, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// LookupDirectory resolves a batch of wallet addresses to display
// information. Unknown wallets are simply absent from the result; this
// join is presentation convenience, not a correctness dependency.
func (db *DB) LookupDirectory(ctx context.Context, wallets []string) ([]models.DirectoryEntry, error) {
	if len(wallets) == 0 {
		return nil, nil
	}
	lowered := make([]string, len(wallets))
	for i, w := range wallets {
		lowered[i] = strings.ToLower(w)
	}

	query := `
		SELECT u.wallet, COALESCE(p.display_name, ''), COALESCE(p.institution, ''), u.role
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.wallet = ANY($1)
	`
	rows, err := db.pool.Query(ctx, query, lowered)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup directory: %w", err)
	}
	defer rows.Close()

	var entries []models.DirectoryEntry
	for rows.Next() {
		var e models.DirectoryEntry
		var roleStr string
		if err := rows.Scan(&e.Wallet, &e.DisplayName, &e.Institution, &roleStr); err != nil {
			return nil, fmt.Errorf("failed to scan directory entry: %w", err)
		}
		e.Role = models.Role(roleStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// Doctor Request Repository
// =============================================================================

// CreateDoctorRequest records a doctor-verification submission.
func (db *DB) CreateDoctorRequest(ctx context.Context, userID, wallet, documentPath string) (*models.DoctorRequest, error) {
	id := generateID("dvr")
	now := time.Now().UTC()

	query := `
		INSERT INTO doctor_requests (id, user_id, wallet, document_path, status, submitted_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		RETURNING id, user_id, wallet, document_path, status, submitted_at
	`
	req := &models.DoctorRequest{}
	err := db.pool.QueryRow(ctx, query, id, userID, strings.ToLower(wallet), documentPath, now).Scan(
		&req.ID, &req.UserID, &req.Wallet, &req.DocumentPath, &req.Status, &req.SubmittedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create doctor request: %w", err)
	}
	return req, nil
}

// ListDoctorRequests returns requests filtered by status; empty status
// means all.
func (db *DB) ListDoctorRequests(ctx context.Context, status string) ([]models.DoctorRequest, error) {
	query := `
		SELECT id, user_id, wallet, document_path, status, submitted_at, reviewed_at, reviewed_by
		FROM doctor_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY submitted_at DESC
	`
	rows, err := db.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list doctor requests: %w", err)
	}
	defer rows.Close()

	var requests []models.DoctorRequest
	for rows.Next() {
		var r models.DoctorRequest
		if err := rows.Scan(&r.ID, &r.UserID, &r.Wallet, &r.DocumentPath, &r.Status,
			&r.SubmittedAt, &r.ReviewedAt, &r.ReviewedBy); err != nil {
			return nil, fmt.Errorf("failed to scan doctor request: %w", err)
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// GetDoctorRequest retrieves one request by id.
func (db *DB) GetDoctorRequest(ctx context.Context, id string) (*models.DoctorRequest, error) {
	query := `
		SELECT id, user_id, wallet, document_path, status, submitted_at, reviewed_at, reviewed_by
		FROM doctor_requests WHERE id = $1
	`
	r := &models.DoctorRequest{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&r.ID, &r.UserID, &r.Wallet, &r.DocumentPath, &r.Status,
		&r.SubmittedAt, &r.ReviewedAt, &r.ReviewedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get doctor request: %w", err)
	}
	return r, nil
}

// ReviewDoctorRequest marks a request approved or rejected.
func (db *DB) ReviewDoctorRequest(ctx context.Context, id, status, reviewerID string) error {
	query := `
		UPDATE doctor_requests SET status = $2, reviewed_at = $3, reviewed_by = $4
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := db.pool.Exec(ctx, query, id, status, time.Now().UTC(), reviewerID)
	if err != nil {
		return fmt.Errorf("failed to review doctor request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Refresh Token Repository
// =============================================================================

// CreateRefreshToken stores a refresh token for a user.
func (db *DB) CreateRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := db.pool.Exec(ctx, query, generateID("rft"), userID, token, expiresAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// ConsumeRefreshToken validates a refresh token and deletes it, returning
// the owning user id. Single use.
func (db *DB) ConsumeRefreshToken(ctx context.Context, token string) (string, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE token = $1 AND expires_at > $2
		RETURNING user_id
	`
	var userID string
	err := db.pool.QueryRow(ctx, query, token, time.Now().UTC()).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("failed to consume refresh token: %w", err)
	}
	return userID, nil
}

// =============================================================================
// Wallet Nonce Repository
// =============================================================================

// SaveWalletNonce stores the login challenge for a wallet, replacing any
// previous one.
func (db *DB) SaveWalletNonce(ctx context.Context, wallet, nonce, message string, expiresAt time.Time) error {
	query := `
		INSERT INTO wallet_nonces (wallet, nonce, message, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wallet) DO UPDATE SET
			nonce = EXCLUDED.nonce, message = EXCLUDED.message, expires_at = EXCLUDED.expires_at
	`
	_, err := db.pool.Exec(ctx, query, strings.ToLower(wallet), nonce, message, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save wallet nonce: %w", err)
	}
	return nil
}

// ConsumeWalletNonce validates and deletes the challenge for a wallet,
// returning the message that was to be signed. Single use: a replayed
// signature finds no nonce.
func (db *DB) ConsumeWalletNonce(ctx context.Context, wallet string) (string, error) {
	query := `
		DELETE FROM wallet_nonces
		WHERE wallet = $1 AND expires_at > $2
		RETURNING message
	`
	var message string
	err := db.pool.QueryRow(ctx, query, strings.ToLower(wallet), time.Now().UTC()).Scan(&message)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("failed to consume wallet nonce: %w", err)
	}
	return message, nil
}

// =============================================================================
// Helpers
// =============================================================================

func generateID(prefix string) string {
	b := make([]byte, 12)
	rand.Read(b)
	return prefix + "_" + hex.EncodeToString(b)
}

func isDuplicateError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "duplicate") || strings.Contains(err.Error(), "unique"))
}
