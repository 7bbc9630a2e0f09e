package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	pool *pgxpool.Pool
}

func New(databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Migrate brings the schema up. Statements are idempotent so restarts
// are safe.
func (db *DB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			wallet        TEXT UNIQUE NOT NULL,
			role          TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id      TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			wallet       TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			institution  TEXT NOT NULL DEFAULT '',
			phone        TEXT NOT NULL DEFAULT '',
			birth_date   TEXT NOT NULL DEFAULT '',
			updated_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS doctor_requests (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			wallet        TEXT NOT NULL,
			document_path TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'pending',
			submitted_at  TIMESTAMPTZ NOT NULL,
			reviewed_at   TIMESTAMPTZ,
			reviewed_by   TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token      TEXT UNIQUE NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wallet_nonces (
			wallet     TEXT PRIMARY KEY,
			nonce      TEXT NOT NULL,
			message    TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_doctor_requests_status ON doctor_requests(status)`,
		`CREATE INDEX IF NOT EXISTS idx_users_wallet ON users(wallet)`,
	}

	for _, stmt := range statements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
