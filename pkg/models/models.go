// Package models holds the types shared between the API, database and
// ledger layers.
package models

import (
	"fmt"
	"time"
)

// Role is the closed set of account roles. Route guards switch over it
// exhaustively; the ledger layer itself is role-agnostic and only compares
// wallet addresses.
type Role string

const (
	RolePatient        Role = "patient"
	RoleDoctor         Role = "doctor"
	RolePendingDoctor  Role = "pending_doctor"
	RoleRejectedDoctor Role = "rejected_doctor"
	RoleAdmin          Role = "admin"
)

// ParseRole converts a stored string into a Role, rejecting anything
// outside the closed set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RolePendingDoctor, RoleRejectedDoctor, RoleAdmin:
		return true
	}
	return false
}

// CanUploadRecords reports whether a role may write medical records.
// Pending and rejected doctors stay locked out until approval.
func (r Role) CanUploadRecords() bool {
	return r == RoleDoctor
}

// User represents an account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Wallet       string    `json:"wallet"` // lowercased 0x-prefixed hex
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile is the per-wallet display information users maintain about
// themselves. It is a presentation join for the record views, never a
// correctness dependency.
type Profile struct {
	UserID      string    `json:"user_id"`
	Wallet      string    `json:"wallet"`
	DisplayName string    `json:"display_name"`
	Institution string    `json:"institution"`
	Phone       string    `json:"phone,omitempty"`
	BirthDate   string    `json:"birth_date,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DoctorRequest is a pending doctor-verification submission awaiting admin
// review.
type DoctorRequest struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Wallet       string     `json:"wallet"`
	DocumentPath string     `json:"-"`
	Status       string     `json:"status"` // pending, approved, rejected
	SubmittedAt  time.Time  `json:"submitted_at"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy   *string    `json:"reviewed_by,omitempty"`
}

// DirectoryEntry resolves a wallet address to display information.
type DirectoryEntry struct {
	Wallet      string `json:"wallet"`
	DisplayName string `json:"display_name"`
	Institution string `json:"institution,omitempty"`
	Role        Role   `json:"role"`
}

// TokenPair is what a successful login returns.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}
