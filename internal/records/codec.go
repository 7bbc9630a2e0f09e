package records

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// The codec speaks the OpenSSL passphrase envelope: base64 of
// "Salted__" || 8-byte salt || AES-256-CBC ciphertext, with key and IV
// derived from passphrase+salt via MD5 EVP_BytesToKey. Records already on
// the ledger are in this format, so both halves must stay bit-compatible
// with it; there is no negotiation step.
//
// The passphrase is the record's own patient address, lowercased. That
// the "key" is public information is a documented property of the
// deployed system, not something this layer can change without orphaning
// the existing log.

const opensslSaltHeader = "Salted__"

// DecryptionError marks a ciphertext that did not decrypt to a
// structurally valid payload under the expected key. Scans skip these
// records; they are never surfaced as failures.
type DecryptionError struct {
	Cause error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("record did not decrypt: %v", e.Cause)
}

func (e *DecryptionError) Unwrap() error { return e.Cause }

// encryptionKey derives the passphrase input for a record addressed to
// patient. Lowercasing is load-bearing: a checksummed and a lowercased
// rendering of the same address must produce the same key.
func encryptionKey(patient common.Address) string {
	return strings.ToLower(patient.Hex())
}

// evpBytesToKey derives an AES-256 key and CBC IV from passphrase and
// salt, MD5-chained exactly as OpenSSL's EVP_BytesToKey with one
// iteration.
func evpBytesToKey(passphrase string, salt []byte) (key, iv []byte) {
	var derived []byte
	var block []byte
	for len(derived) < 48 {
		h := md5.New()
		h.Write(block)
		h.Write([]byte(passphrase))
		h.Write(salt)
		block = h.Sum(nil)
		derived = append(derived, block...)
	}
	return derived[:32], derived[32:48]
}

// Encrypt serializes payload and seals it for the given patient address.
func Encrypt(payload ClearPayload, patient common.Address) (string, error) {
	clear, err := payload.marshal()
	if err != nil {
		return "", fmt.Errorf("serialize payload: %w", err)
	}
	return encryptString(clear, encryptionKey(patient))
}

func encryptString(clear []byte, passphrase string) (string, error) {
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key, iv := evpBytesToKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	padded := pkcs7Pad(clear, aes.BlockSize)
	body := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(body, padded)

	envelope := make([]byte, 0, len(opensslSaltHeader)+8+len(body))
	envelope = append(envelope, opensslSaltHeader...)
	envelope = append(envelope, salt...)
	envelope = append(envelope, body...)

	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt opens a ledger ciphertext with the key derived from the
// record's own patient address and parses the payload. Any failure along
// the way, from malformed base64 to a decrypted blob that is not a
// record, comes back as *DecryptionError so scans can skip and continue.
func Decrypt(ciphertext string, patient common.Address) (ClearPayload, error) {
	clear, err := decryptString(ciphertext, encryptionKey(patient))
	if err != nil {
		return ClearPayload{}, &DecryptionError{Cause: err}
	}
	payload, err := parsePayload(clear)
	if err != nil {
		return ClearPayload{}, &DecryptionError{Cause: err}
	}
	return payload, nil
}

func decryptString(ciphertext, passphrase string) ([]byte, error) {
	envelope, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(envelope) < len(opensslSaltHeader)+8 || string(envelope[:len(opensslSaltHeader)]) != opensslSaltHeader {
		return nil, fmt.Errorf("missing salt header")
	}

	salt := envelope[len(opensslSaltHeader) : len(opensslSaltHeader)+8]
	body := envelope[len(opensslSaltHeader)+8:]
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d not a block multiple", len(body))
	}

	key, iv := evpBytesToKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	clear := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(clear, body)

	return pkcs7Unpad(clear, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding byte %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}
