package erasure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"
)

const keySize = 32 // AES-256

// DestroyedMarker replaces a wrapped DEK once it has been shredded.
// Its presence (rather than the original wrap_nonce‖wrapped_dek bytes)
// is what makes shredding irreversible: no wrapping ever survives it.
var DestroyedMarker = []byte("SHREDDED::UNRECOVERABLE")

// NormalizeMasterKey pads raw with zero bytes to keySize if short, or
// truncates it if long, so callers always get exactly 32 bytes. This
// matches an existing on-disk contract bit-for-bit: every previously
// wrapped DEK was wrapped under a key produced this same way, so the
// behavior cannot be tightened without breaking old rows.
func NormalizeMasterKey(raw string) []byte {
	key := []byte(raw)
	if len(key) == keySize {
		return key
	}

	fmt.Fprintf(os.Stderr, "erasure: MASTER_KEY is %d bytes, not %d; padding/truncating to fit\n", len(key), keySize)

	out := make([]byte, keySize)
	copy(out, key)
	return out
}

// generateKey returns n fresh random bytes.
func generateKey(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("erasure: generate random bytes: %w", err)
	}
	return b, nil
}

// aesGCMEncrypt encrypts plaintext under key with a freshly generated
// nonce, returning nonce‖ciphertext‖tag.
func aesGCMEncrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("erasure: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("erasure: gcm: %w", err)
	}
	nonce, err := generateKey(gcm.NonceSize())
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// aesGCMDecrypt reverses aesGCMEncrypt.
func aesGCMDecrypt(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("erasure: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("erasure: gcm: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("erasure: ciphertext too short")
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}
