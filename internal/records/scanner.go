package records

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/herbalyze/herbalyze/internal/ledger"
	"github.com/herbalyze/herbalyze/pkg/models"
)

// LedgerReader is the read-only slice of the gateway the scanner needs.
type LedgerReader interface {
	RecordCount(ctx context.Context) (uint64, error)
	MedicalRecord(ctx context.Context, id uint64) (ledger.Record, error)
}

// Scanner reconstructs the subset of the append-only record log visible
// to a caller. The log has no server-side index by viewer, so the only
// contract-faithful read is a linear scan over ids [1, recordCount]; the
// optional cache remembers already-fetched entries per caller so a
// refresh only pulls ids above the last-seen watermark.
type Scanner struct {
	ledger LedgerReader
	cache  snapshotCache // nil disables incremental rescan
}

// snapshotCache is what the scanner needs from ScanCache.
type snapshotCache interface {
	Load(ctx context.Context, caller common.Address, role models.Role) (snapshot, bool)
	Store(ctx context.Context, caller common.Address, role models.Role, snap snapshot)
}

// NewScanner creates a scanner. cache may be nil.
func NewScanner(reader LedgerReader, cache *ScanCache) *Scanner {
	s := &Scanner{ledger: reader}
	if cache != nil {
		s.cache = cache
	}
	return s
}

// visibleTo applies the visibility filter for one raw entry, before any
// decryption is attempted. Doctors see what they uploaded; patients see
// what is about them; every other role sees nothing.
func visibleTo(entry ledger.Record, caller common.Address, role models.Role) (bool, error) {
	switch role {
	case models.RoleDoctor:
		return entry.Uploader == caller, nil
	case models.RolePatient:
		return entry.Patient == caller, nil
	case models.RolePendingDoctor, models.RoleRejectedDoctor, models.RoleAdmin:
		return false, nil
	default:
		return false, fmt.Errorf("unknown role %q", role)
	}
}

// ScanVisibleTo walks the full log and returns the records visible to
// caller, decrypted and sorted most recent first. Entries that fail to
// fetch or decrypt are skipped with a diagnostic log line; one bad record
// never aborts the scan.
func (s *Scanner) ScanVisibleTo(ctx context.Context, caller common.Address, role models.Role) ([]Record, error) {
	count, err := s.ledger.RecordCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("record count: %w", err)
	}

	var entries []ledger.Record
	var fromID uint64 = 1

	if s.cache != nil {
		if snap, ok := s.cache.Load(ctx, caller, role); ok {
			if snap.Watermark <= count {
				entries = snap.Entries
				fromID = snap.Watermark + 1
			}
			// A watermark above the current count means the chain was
			// reset underneath us (dev nodes); fall back to a full scan.
		}
	}

	// Ledger ids are 1-based and dense; iterate the closed range.
	var failedID uint64 // first id whose fetch failed this scan, 0 if none
	for id := fromID; id <= count; id++ {
		entry, err := s.ledger.MedicalRecord(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("scan: record %d unreadable, skipping: %v", id, err)
			if failedID == 0 {
				failedID = id
			}
			continue
		}

		visible, err := visibleTo(entry, caller, role)
		if err != nil {
			return nil, err
		}
		if !visible {
			continue
		}
		entries = append(entries, entry)
	}

	if s.cache != nil {
		// The watermark may only advance past ids that were actually read:
		// a transient fetch failure must be retried next scan, not frozen
		// out for the snapshot's lifetime. Cap at the first failed id and
		// drop the entries above it.
		watermark := count
		stored := entries
		if failedID > 0 {
			watermark = failedID - 1
			stored = nil
			for _, entry := range entries {
				if entry.ID <= watermark {
					stored = append(stored, entry)
				}
			}
		}
		s.cache.Store(ctx, caller, role, snapshot{Watermark: watermark, Entries: stored})
	}

	results := make([]Record, 0, len(entries))
	for _, entry := range entries {
		// The key is derived from the record's own patient address, not
		// the viewer's identity: a doctor decrypts with the patient's
		// address, which for them is some other wallet.
		payload, err := Decrypt(entry.Ciphertext, entry.Patient)
		if err != nil {
			log.Printf("scan: record %d skipped: %v", entry.ID, err)
			continue
		}
		results = append(results, Record{
			ID:           entry.ID,
			Patient:      entry.Patient,
			Uploader:     entry.Uploader,
			Timestamp:    entry.Timestamp,
			ClearPayload: payload,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].Timestamp.Equal(results[j].Timestamp) {
			return results[i].Timestamp.After(results[j].Timestamp)
		}
		return results[i].ID > results[j].ID
	})

	return results, nil
}
