package records

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	bob   = common.HexToAddress("0x00000000219ab540356cBB839Cbe05303d7705Fa")
)

func samplePayload() ClearPayload {
	return ClearPayload{
		Diagnosis:        "flu",
		Symptoms:         "fever, sore throat",
		Remedy:           "ginger tea",
		SpecialCondition: "none",
		AdditionalNote:   "rest for three days",
		DoctorName:       "Dr. Sari",
		Institution:      "Puskesmas Menteng",
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	payload := samplePayload()

	ciphertext, err := Encrypt(payload, alice)
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}

	got, err := Decrypt(ciphertext, alice)
	if err != nil {
		t.Fatalf("Decrypt error: %v", err)
	}

	if got != payload {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, payload)
	}
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	ciphertext, err := Encrypt(samplePayload(), alice)
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}

	_, err = Decrypt(ciphertext, bob)
	if err == nil {
		t.Fatal("decrypting under a different address must fail")
	}
	var decErr *DecryptionError
	if !errors.As(err, &decErr) {
		t.Errorf("expected *DecryptionError, got %T", err)
	}
}

func TestEncrypt_KeyIsCaseNormalized(t *testing.T) {
	checksummed := common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	lower := common.HexToAddress("0xab5801a7d398351b8be11c439e05c5b3259aec9b")

	ciphertext, err := Encrypt(samplePayload(), checksummed)
	if err != nil {
		t.Fatal(err)
	}

	// Both renderings are the same address, so the same key.
	if _, err := Decrypt(ciphertext, lower); err != nil {
		t.Errorf("decrypt with lowercased address failed: %v", err)
	}
}

func TestEncrypt_EnvelopeFormat(t *testing.T) {
	ciphertext, err := Encrypt(samplePayload(), alice)
	if err != nil {
		t.Fatal(err)
	}

	// The envelope is the OpenSSL passphrase format: "Salted__" plus an
	// 8-byte salt, then whole cipher blocks.
	if !strings.HasPrefix(ciphertext, "U2FsdGVk") {
		t.Errorf("ciphertext must begin with base64 of Salted__, got %q", ciphertext[:12])
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		t.Fatalf("ciphertext is not valid base64: %v", err)
	}
	if string(raw[:8]) != "Salted__" {
		t.Errorf("missing salt header, got %q", raw[:8])
	}
	if body := len(raw) - 16; body <= 0 || body%16 != 0 {
		t.Errorf("cipher body length %d is not a positive block multiple", body)
	}
}

func TestEncrypt_SaltVaries(t *testing.T) {
	payload := samplePayload()
	a, err := Encrypt(payload, alice)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt(payload, alice)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions of the same payload must differ (random salt)")
	}
}

func TestDecrypt_RejectsGarbage(t *testing.T) {
	tests := []struct {
		name       string
		ciphertext string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"no salt header", base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))},
		{"truncated", "U2FsdGVk"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.ciphertext, alice)
			var decErr *DecryptionError
			if !errors.As(err, &decErr) {
				t.Errorf("expected *DecryptionError, got %v", err)
			}
		})
	}
}

func TestDecrypt_RejectsForeignPlaintext(t *testing.T) {
	// Structurally valid envelope whose clear text is not a record.
	ciphertext, err := encryptString([]byte(`{"foo":"bar"}`), encryptionKey(alice))
	if err != nil {
		t.Fatal(err)
	}

	_, err = Decrypt(ciphertext, alice)
	var decErr *DecryptionError
	if !errors.As(err, &decErr) {
		t.Errorf("payload without a diagnosis must be rejected, got %v", err)
	}
}

func TestEvpBytesToKey(t *testing.T) {
	key, iv := evpBytesToKey("passphrase", []byte("01234567"))
	if len(key) != 32 {
		t.Errorf("key length = %d, want 32", len(key))
	}
	if len(iv) != 16 {
		t.Errorf("iv length = %d, want 16", len(iv))
	}

	// Deterministic for fixed inputs.
	key2, iv2 := evpBytesToKey("passphrase", []byte("01234567"))
	if string(key) != string(key2) || string(iv) != string(iv2) {
		t.Error("derivation must be deterministic")
	}

	// Sensitive to both passphrase and salt.
	key3, _ := evpBytesToKey("passphrase2", []byte("01234567"))
	if string(key) == string(key3) {
		t.Error("different passphrase must derive a different key")
	}
	key4, _ := evpBytesToKey("passphrase", []byte("76543210"))
	if string(key) == string(key4) {
		t.Error("different salt must derive a different key")
	}
}

func TestPkcs7(t *testing.T) {
	for _, n := range []int{0, 1, 15, 16, 17, 31, 32} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}
		padded := pkcs7Pad(data, 16)
		if len(padded)%16 != 0 {
			t.Errorf("padded length %d not a block multiple", len(padded))
		}
		unpadded, err := pkcs7Unpad(padded, 16)
		if err != nil {
			t.Errorf("unpad failed for n=%d: %v", n, err)
			continue
		}
		if string(unpadded) != string(data) {
			t.Errorf("pad/unpad mismatch for n=%d", n)
		}
	}

	if _, err := pkcs7Unpad([]byte{}, 16); err == nil {
		t.Error("empty input must fail")
	}
	bad := append(make([]byte, 15), 0)
	if _, err := pkcs7Unpad(bad, 16); err == nil {
		t.Error("zero padding byte must fail")
	}
}
