package records

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ClearPayload is the clear form of one medical record. It exists only
// inside ciphertext on the ledger and in memory while being composed or
// displayed; it is never persisted in clear. The whole payload is
// encrypted as one blob, not field by field.
type ClearPayload struct {
	Diagnosis        string `json:"diagnosis"`
	Symptoms         string `json:"symptoms"`
	Remedy           string `json:"remedy"`
	SpecialCondition string `json:"specialCondition"`
	AdditionalNote   string `json:"additionalNote,omitempty"`
	DoctorName       string `json:"doctorName"`
	Institution      string `json:"institution"`
}

// Validate checks the fields that must be present before a record is
// accepted for upload.
func (p *ClearPayload) Validate() error {
	if p.Diagnosis == "" {
		return fmt.Errorf("diagnosis is required")
	}
	if p.Symptoms == "" {
		return fmt.Errorf("symptoms are required")
	}
	if p.Remedy == "" {
		return fmt.Errorf("remedy is required")
	}
	if p.SpecialCondition == "" {
		return fmt.Errorf("special condition is required")
	}
	return nil
}

// marshal renders the canonical serialized form that gets encrypted.
func (p *ClearPayload) marshal() ([]byte, error) {
	return json.Marshal(p)
}

// parsePayload turns a decrypted string back into a ClearPayload,
// rejecting anything that is not structurally a record. A present
// diagnosis field is the structural marker: decrypting with a wrong key
// yields garbage or foreign JSON, neither of which carries it.
func parsePayload(clear []byte) (ClearPayload, error) {
	var p ClearPayload
	if err := json.Unmarshal(clear, &p); err != nil {
		return ClearPayload{}, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if p.Diagnosis == "" {
		return ClearPayload{}, fmt.Errorf("payload missing diagnosis field")
	}
	return p, nil
}

// Record is a materialized ledger entry: decrypted payload plus the
// metadata the ledger assigned at write time.
type Record struct {
	ID        uint64         `json:"id"`
	Patient   common.Address `json:"patient_address"`
	Uploader  common.Address `json:"uploader"`
	Timestamp time.Time      `json:"timestamp"`
	ClearPayload
}
