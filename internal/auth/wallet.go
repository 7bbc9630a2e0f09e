package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// NewNonce returns a fresh random nonce for a wallet login challenge.
func NewNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NonceMessage renders the human-readable challenge the wallet signs.
// Signing costs nothing; no transaction is involved.
func NonceMessage(wallet common.Address, nonce string, issuedAt time.Time) string {
	return fmt.Sprintf(
		"Herbalyze Authentication\n\nPlease sign this message to authenticate with your wallet.\n\nWallet: %s\nNonce: %s\nIssued At: %s",
		strings.ToLower(wallet.Hex()), nonce, issuedAt.UTC().Format(time.RFC3339),
	)
}

// RecoverSigner returns the address that produced an EIP-191
// personal_sign signature over message.
func RecoverSigner(message, signatureHex string) (common.Address, error) {
	signature, err := hexutil.Decode(signatureHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d, want %d", len(signature), crypto.SignatureLength)
	}

	// Wallets return V as 27/28; go-ethereum expects 0/1.
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	digest := personalSignDigest(message)
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that signatureHex over message was produced by
// wallet. Address comparison is case-insensitive by construction.
func VerifySignature(wallet common.Address, message, signatureHex string) error {
	signer, err := RecoverSigner(message, signatureHex)
	if err != nil {
		return err
	}
	if signer != wallet {
		return fmt.Errorf("signature from %s, expected %s",
			strings.ToLower(signer.Hex()), strings.ToLower(wallet.Hex()))
	}
	return nil
}

// personalSignDigest hashes message the way eth_personal_sign does:
// keccak256 over the EIP-191 prefix plus the message bytes.
func personalSignDigest(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}
