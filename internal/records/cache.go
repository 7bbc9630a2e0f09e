package records

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/herbalyze/herbalyze/internal/ledger"
	"github.com/herbalyze/herbalyze/pkg/models"
)

// snapshot is the cached fetch state for one (caller, role) pair: the
// highest ledger id already pulled plus the raw entries that passed the
// visibility filter. Entries stay encrypted in the cache; only on-chain
// public data (ciphertext and metadata) is ever written to redis, never
// a decrypted payload.
type snapshot struct {
	Watermark uint64
	Entries   []ledger.Record
}

type snapshotJS struct {
	Watermark uint64      `json:"watermark"`
	Entries   []recordJS  `json:"entries"`
}

type recordJS struct {
	ID         uint64    `json:"id"`
	Ciphertext string    `json:"ciphertext"`
	Patient    string    `json:"patient"`
	Uploader   string    `json:"uploader"`
	Timestamp  time.Time `json:"timestamp"`
}

func (s snapshot) toJS() snapshotJS {
	js := snapshotJS{Watermark: s.Watermark, Entries: make([]recordJS, 0, len(s.Entries))}
	for _, e := range s.Entries {
		js.Entries = append(js.Entries, recordJS{
			ID:         e.ID,
			Ciphertext: e.Ciphertext,
			Patient:    strings.ToLower(e.Patient.Hex()),
			Uploader:   strings.ToLower(e.Uploader.Hex()),
			Timestamp:  e.Timestamp,
		})
	}
	return js
}

func (js snapshotJS) toSnapshot() snapshot {
	s := snapshot{Watermark: js.Watermark, Entries: make([]ledger.Record, 0, len(js.Entries))}
	for _, e := range js.Entries {
		s.Entries = append(s.Entries, ledger.Record{
			ID:         e.ID,
			Ciphertext: e.Ciphertext,
			Patient:    common.HexToAddress(e.Patient),
			Uploader:   common.HexToAddress(e.Uploader),
			Timestamp:  e.Timestamp,
		})
	}
	return s
}

// ScanCache remembers per-caller scan progress in redis so a refresh only
// fetches new ledger ids. Purely an optimization: a cache miss or a cold
// cache degrades to the full linear scan with identical results.
type ScanCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	enabled   bool
}

// NewScanCache creates a cache over an existing redis client. A nil
// client or enabled=false yields a disabled cache that loads nothing and
// stores nothing.
func NewScanCache(client *redis.Client, keyPrefix string, ttl time.Duration, enabled bool) *ScanCache {
	if keyPrefix == "" {
		keyPrefix = "herbalyze"
	}
	return &ScanCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		enabled:   enabled && client != nil,
	}
}

func (c *ScanCache) key(caller common.Address, role models.Role) string {
	return fmt.Sprintf("%s:scan:%s:%s", c.keyPrefix, role, strings.ToLower(caller.Hex()))
}

// Load returns the snapshot for (caller, role), if any.
func (c *ScanCache) Load(ctx context.Context, caller common.Address, role models.Role) (snapshot, bool) {
	if !c.enabled {
		return snapshot{}, false
	}

	data, err := c.client.Get(ctx, c.key(caller, role)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("scan cache: load failed: %v", err)
		}
		return snapshot{}, false
	}

	var js snapshotJS
	if err := json.Unmarshal(data, &js); err != nil {
		log.Printf("scan cache: corrupt snapshot, ignoring: %v", err)
		return snapshot{}, false
	}

	return js.toSnapshot(), true
}

// Store saves the snapshot for (caller, role). Failures are logged and
// swallowed; the cache must never fail a scan.
func (c *ScanCache) Store(ctx context.Context, caller common.Address, role models.Role, snap snapshot) {
	if !c.enabled {
		return
	}

	data, err := json.Marshal(snap.toJS())
	if err != nil {
		log.Printf("scan cache: marshal failed: %v", err)
		return
	}
	if err := c.client.Set(ctx, c.key(caller, role), data, c.ttl).Err(); err != nil {
		log.Printf("scan cache: store failed: %v", err)
	}
}
