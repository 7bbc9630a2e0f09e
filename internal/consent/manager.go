// Package consent exposes the patient→doctor permission edge stored on
// the ledger. The edge is owned by the patient identity; anyone may query
// it. It is the authorization gate for every medical-record write.
package consent

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the slice of the gateway the manager needs. Narrow on purpose
// so tests can substitute a fake without an RPC node.
type Ledger interface {
	CheckConsent(ctx context.Context, patient, doctor common.Address) (bool, error)
	PatientsForDoctor(ctx context.Context, doctor common.Address) ([]common.Address, error)
	GrantConsent(ctx context.Context, from, doctor common.Address) (common.Hash, error)
	RevokeConsent(ctx context.Context, from, doctor common.Address) (common.Hash, error)
}

// Manager issues, revokes and queries consent edges.
type Manager struct {
	ledger Ledger
}

// NewManager creates a consent manager over the given ledger surface.
func NewManager(ledger Ledger) *Manager {
	return &Manager{ledger: ledger}
}

// Grant sets the (patient, doctor) edge to true, signed by the patient
// wallet. The contract reverts for wallets an admin has not approved;
// that surfaces as ledger.ErrNotApproved so callers can tell the user to
// seek approval instead of retrying. Granting an already-granted edge is
// safe: the ledger either accepts the no-op or rejects it with
// ledger.ErrNoopToggle, and the edge stays true either way.
func (m *Manager) Grant(ctx context.Context, patient, doctor common.Address) (common.Hash, error) {
	hash, err := m.ledger.GrantConsent(ctx, patient, doctor)
	if err != nil {
		return hash, fmt.Errorf("grant consent: %w", err)
	}
	return hash, nil
}

// Revoke sets the (patient, doctor) edge to false. Revoking an edge that
// was never granted surfaces ledger.ErrNoopToggle, never a crash.
func (m *Manager) Revoke(ctx context.Context, patient, doctor common.Address) (common.Hash, error) {
	hash, err := m.ledger.RevokeConsent(ctx, patient, doctor)
	if err != nil {
		return hash, fmt.Errorf("revoke consent: %w", err)
	}
	return hash, nil
}

// Check returns the current state of the edge. Absent edges are false,
// never an error. Address comparison is case-insensitive by construction:
// both sides are canonical common.Address values.
func (m *Manager) Check(ctx context.Context, patient, doctor common.Address) (bool, error) {
	granted, err := m.ledger.CheckConsent(ctx, patient, doctor)
	if err != nil {
		return false, fmt.Errorf("check consent: %w", err)
	}
	return granted, nil
}

// PatientsFor returns every patient whose edge to doctor is currently
// true, from the index the contract itself maintains.
func (m *Manager) PatientsFor(ctx context.Context, doctor common.Address) ([]common.Address, error) {
	patients, err := m.ledger.PatientsForDoctor(ctx, doctor)
	if err != nil {
		return nil, fmt.Errorf("patients for doctor: %w", err)
	}
	return patients, nil
}
