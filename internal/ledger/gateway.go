// Package ledger wraps the single deployed consent/record contract behind
// two call surfaces: read-only eth_calls against a fixed node endpoint,
// and keystore-signed transactions that are awaited until mined.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// TxPreview is shown to the Confirmer before a transaction is signed.
type TxPreview struct {
	From   common.Address
	Method string
	Args   []interface{}
}

// Confirmer is consulted once per state-changing transaction, before
// signing. Returning an error aborts the write; wrap or return
// ErrUserRejected to signal a deliberate decline. A nil Confirmer
// approves everything.
type Confirmer func(ctx context.Context, preview TxPreview) error

// Record is one entry of the append-only on-chain medical record log.
// Ciphertext is opaque at this layer; internal/records owns the codec.
type Record struct {
	ID         uint64
	Ciphertext string
	Patient    common.Address
	Uploader   common.Address
	Timestamp  time.Time
}

// Gateway binds one deployed contract instance. The read connection is
// shared and lazily dialed; signing state is re-resolved per write so a
// keystore account change is picked up immediately.
type Gateway struct {
	rpcURL     string
	address    common.Address
	abi        abi.ABI
	keys       *keystore.KeyStore
	passphrase string
	confirm    Confirmer

	mu      sync.Mutex
	client  *ethclient.Client
	bound   *bind.BoundContract
	chainID *big.Int
}

// Options configures a Gateway.
type Options struct {
	RPCURL          string
	ContractAddress string
	// KeystoreDir may be empty, leaving the gateway read-only; writes
	// then fail with ErrWalletUnavailable.
	KeystoreDir        string
	KeystorePassphrase string
	Confirmer          Confirmer
}

// New creates a Gateway. The node is not dialed until first use.
func New(opts Options) (*Gateway, error) {
	if !common.IsHexAddress(opts.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", opts.ContractAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	g := &Gateway{
		rpcURL:     opts.RPCURL,
		address:    common.HexToAddress(opts.ContractAddress),
		abi:        parsed,
		passphrase: opts.KeystorePassphrase,
		confirm:    opts.Confirmer,
	}

	if opts.KeystoreDir != "" {
		g.keys = keystore.NewKeyStore(opts.KeystoreDir, keystore.StandardScryptN, keystore.StandardScryptP)
	}

	return g, nil
}

// ParseAddress validates and canonicalizes a wallet address string.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid wallet address %q", s)
	}
	return common.HexToAddress(s), nil
}

// Normalize renders an address in the canonical lowercased form used for
// identity comparison and encryption key derivation.
func Normalize(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// connection returns the shared read connection, dialing on first use.
// Safe for concurrent reads.
func (g *Gateway) connection(ctx context.Context) (*ethclient.Client, *bind.BoundContract, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client == nil {
		client, err := ethclient.DialContext(ctx, g.rpcURL)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
		}
		g.client = client
		g.bound = bind.NewBoundContract(g.address, g.abi, client, client, client)
	}

	return g.client, g.bound, nil
}

func (g *Gateway) call(ctx context.Context, out *[]interface{}, method string, args ...interface{}) error {
	_, bound, err := g.connection(ctx)
	if err != nil {
		return err
	}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, out, method, args...); err != nil {
		return fmt.Errorf("%s: %w", method, MapNodeError(err))
	}
	return nil
}

// =============================================================================
// Read-only surface
// =============================================================================

// CheckConsent reports whether patient has granted doctor access. An
// absent edge is false, never an error.
func (g *Gateway) CheckConsent(ctx context.Context, patient, doctor common.Address) (bool, error) {
	var out []interface{}
	if err := g.call(ctx, &out, "checkConsent", patient, doctor); err != nil {
		return false, err
	}
	granted, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("checkConsent: unexpected result type %T", out[0])
	}
	return granted, nil
}

// PatientsForDoctor returns the patients whose consent edge to doctor is
// currently true. The contract maintains this index; it is never
// reconstructed client-side.
func (g *Gateway) PatientsForDoctor(ctx context.Context, doctor common.Address) ([]common.Address, error) {
	var out []interface{}
	if err := g.call(ctx, &out, "getPatientsForDoctor", doctor); err != nil {
		return nil, err
	}
	patients, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("getPatientsForDoctor: unexpected result type %T", out[0])
	}
	return patients, nil
}

// RecordCount returns the total number of records on the log. Record ids
// are 1-based and dense: valid ids are exactly [1, RecordCount].
func (g *Gateway) RecordCount(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := g.call(ctx, &out, "recordCount"); err != nil {
		return 0, err
	}
	count, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("recordCount: unexpected result type %T", out[0])
	}
	return count.Uint64(), nil
}

// MedicalRecord fetches one log entry by id.
func (g *Gateway) MedicalRecord(ctx context.Context, id uint64) (Record, error) {
	var out []interface{}
	if err := g.call(ctx, &out, "getMedicalRecord", new(big.Int).SetUint64(id)); err != nil {
		return Record{}, err
	}
	if len(out) != 4 {
		return Record{}, fmt.Errorf("getMedicalRecord: expected 4 outputs, got %d", len(out))
	}
	ciphertext, ok := out[0].(string)
	if !ok {
		return Record{}, fmt.Errorf("getMedicalRecord: unexpected data type %T", out[0])
	}
	patient, ok := out[1].(common.Address)
	if !ok {
		return Record{}, fmt.Errorf("getMedicalRecord: unexpected patient type %T", out[1])
	}
	uploader, ok := out[2].(common.Address)
	if !ok {
		return Record{}, fmt.Errorf("getMedicalRecord: unexpected uploader type %T", out[2])
	}
	ts, ok := out[3].(*big.Int)
	if !ok {
		return Record{}, fmt.Errorf("getMedicalRecord: unexpected timestamp type %T", out[3])
	}

	return Record{
		ID:         id,
		Ciphertext: ciphertext,
		Patient:    patient,
		Uploader:   uploader,
		Timestamp:  time.Unix(ts.Int64(), 0).UTC(),
	}, nil
}

// IsAdmin reports whether addr holds the administrative role.
func (g *Gateway) IsAdmin(ctx context.Context, addr common.Address) (bool, error) {
	var out []interface{}
	if err := g.call(ctx, &out, "isAdmin", addr); err != nil {
		return false, err
	}
	admin, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("isAdmin: unexpected result type %T", out[0])
	}
	return admin, nil
}

// IsApprovedUser reports whether addr is on the admin-maintained
// allow-list.
func (g *Gateway) IsApprovedUser(ctx context.Context, addr common.Address) (bool, error) {
	var out []interface{}
	if err := g.call(ctx, &out, "isApprovedUser", addr); err != nil {
		return false, err
	}
	approved, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("isApprovedUser: unexpected result type %T", out[0])
	}
	return approved, nil
}

// =============================================================================
// Signer-bound surface
// =============================================================================

// transactor resolves a fresh signing binding for from. Never cached:
// resolving per write picks up keystore account changes mid-session.
func (g *Gateway) transactor(ctx context.Context, from common.Address) (*bind.TransactOpts, error) {
	if g.keys == nil {
		return nil, ErrWalletUnavailable
	}

	var account accounts.Account
	found := false
	for _, a := range g.keys.Accounts() {
		if a.Address == from {
			account = a
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no key for %s", ErrWalletUnavailable, Normalize(from))
	}

	if err := g.keys.Unlock(account, g.passphrase); err != nil {
		return nil, fmt.Errorf("%w: unlock %s: %v", ErrWalletUnavailable, Normalize(from), err)
	}

	client, _, err := g.connection(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.chainID == nil {
		id, err := client.ChainID(ctx)
		if err != nil {
			g.mu.Unlock()
			return nil, fmt.Errorf("%w: chain id: %v", ErrNetworkUnreachable, err)
		}
		g.chainID = id
	}
	chainID := g.chainID
	g.mu.Unlock()

	opts, err := bind.NewKeyStoreTransactorWithChainID(g.keys, account, chainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// write submits one state-changing call and waits for it to be mined.
// Submission success alone is never reported as durable.
func (g *Gateway) write(ctx context.Context, from common.Address, method string, args ...interface{}) (common.Hash, error) {
	if g.confirm != nil {
		if err := g.confirm(ctx, TxPreview{From: from, Method: method, Args: args}); err != nil {
			if errors.Is(err, ErrUserRejected) {
				return common.Hash{}, err
			}
			return common.Hash{}, fmt.Errorf("%w: %v", ErrUserRejected, err)
		}
	}

	opts, err := g.transactor(ctx, from)
	if err != nil {
		return common.Hash{}, err
	}

	client, bound, err := g.connection(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	tx, err := bound.Transact(opts, method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", method, MapNodeError(err))
	}

	receipt, err := bind.WaitMined(ctx, client, tx)
	if err != nil {
		return tx.Hash(), fmt.Errorf("%s: await confirmation: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash(), fmt.Errorf("%s: %w", method, NewRevertError(""))
	}

	return tx.Hash(), nil
}

// GrantConsent sets the (from, doctor) consent edge to true.
func (g *Gateway) GrantConsent(ctx context.Context, from, doctor common.Address) (common.Hash, error) {
	return g.write(ctx, from, "grantConsent", doctor)
}

// RevokeConsent sets the (from, doctor) consent edge to false.
func (g *Gateway) RevokeConsent(ctx context.Context, from, doctor common.Address) (common.Hash, error) {
	return g.write(ctx, from, "revokeConsent", doctor)
}

// AddMedicalRecord appends a ciphertext record for patient, uploaded by
// from. The contract enforces consent; callers pre-check to fail fast.
func (g *Gateway) AddMedicalRecord(ctx context.Context, from, patient common.Address, ciphertext string) (common.Hash, error) {
	return g.write(ctx, from, "addMedicalRecord", patient, ciphertext)
}

// ApproveUser adds addr to the contract's allow-list. Admin only; the
// contract reverts for other callers.
func (g *Gateway) ApproveUser(ctx context.Context, from, addr common.Address) (common.Hash, error) {
	return g.write(ctx, from, "approveUser", addr)
}

// RevokeUser removes addr from the contract's allow-list.
func (g *Gateway) RevokeUser(ctx context.Context, from, addr common.Address) (common.Hash, error) {
	return g.write(ctx, from, "revokeUser", addr)
}
