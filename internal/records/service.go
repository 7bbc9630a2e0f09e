// Package records implements the two halves of the medical-record
// pipeline: the symmetric codec over ledger ciphertexts and the linear
// scan that reconstructs what a caller is allowed to see.
package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/herbalyze/herbalyze/pkg/models"
)

// ErrConsentMissing means the consent pre-check failed: the patient has
// not granted the caller access, so no transaction was submitted (and no
// wallet confirmation was wasted on a write the ledger would reject).
var ErrConsentMissing = errors.New("patient has not granted consent")

// ConsentChecker is the consent query the write path gates on.
type ConsentChecker interface {
	Check(ctx context.Context, patient, doctor common.Address) (bool, error)
}

// LedgerWriter is the signer-bound append the write path submits through.
type LedgerWriter interface {
	AddMedicalRecord(ctx context.Context, from, patient common.Address, ciphertext string) (common.Hash, error)
}

// Service ties the codec and scanner to the consent gate.
type Service struct {
	consent ConsentChecker
	writer  LedgerWriter
	scanner *Scanner
}

// NewService creates the record service.
func NewService(consent ConsentChecker, writer LedgerWriter, scanner *Scanner) *Service {
	return &Service{consent: consent, writer: writer, scanner: scanner}
}

// Submit encrypts payload for patient and appends it to the ledger,
// signed by caller. Order matters: the consent check runs before anything
// touches the wallet, the ciphertext is sealed under the patient's
// address, and success is only reported once the transaction is mined.
func (s *Service) Submit(ctx context.Context, caller, patient common.Address, payload ClearPayload) (common.Hash, error) {
	if err := payload.Validate(); err != nil {
		return common.Hash{}, fmt.Errorf("invalid payload: %w", err)
	}

	granted, err := s.consent.Check(ctx, patient, caller)
	if err != nil {
		return common.Hash{}, fmt.Errorf("consent pre-check: %w", err)
	}
	if !granted {
		return common.Hash{}, ErrConsentMissing
	}

	ciphertext, err := Encrypt(payload, patient)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encrypt record: %w", err)
	}

	hash, err := s.writer.AddMedicalRecord(ctx, caller, patient, ciphertext)
	if err != nil {
		return hash, fmt.Errorf("append record: %w", err)
	}
	return hash, nil
}

// ScanVisibleTo is the read path; see Scanner.ScanVisibleTo.
func (s *Service) ScanVisibleTo(ctx context.Context, caller common.Address, role models.Role) ([]Record, error) {
	return s.scanner.ScanVisibleTo(ctx, caller, role)
}
