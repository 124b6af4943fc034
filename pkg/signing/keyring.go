// Package signing provides Ed25519 non-repudiation signatures over
// sealed evidence. The signing identity is derived deterministically
// from the process master key, so signatures remain verifiable across
// restarts without persisting a private key anywhere.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyProvider defines the interface for cryptographic signing operations.
// This allows swapping the in-memory backend for an HSM, Vault, or Cloud KMS.
type KeyProvider interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// MemoryKeyProvider is an in-memory implementation for development/demo.
type MemoryKeyProvider struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewMemoryKeyProvider generates a fresh random keypair.
func NewMemoryKeyProvider() (*MemoryKeyProvider, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &MemoryKeyProvider{pub: pub, priv: priv}, nil
}

func (m *MemoryKeyProvider) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(m.priv, msg), nil
}

func (m *MemoryKeyProvider) PublicKey() ed25519.PublicKey {
	return m.pub
}

// Keyring signs and verifies evidence seals through a Provider.
type Keyring struct {
	provider KeyProvider
}

// NewKeyring wraps p. A nil provider is replaced by a fresh in-memory
// one so callers always get a working keyring.
func NewKeyring(p KeyProvider) *Keyring {
	if p == nil {
		p, _ = NewMemoryKeyProvider()
	}
	return &Keyring{provider: p}
}

// NewDerivedKeyring derives a deterministic Ed25519 keypair from ikm
// using HKDF-SHA256, so the same master key always yields the same
// signing identity. info distinguishes independent uses of one master
// key (e.g. "evidence-seal").
func NewDerivedKeyring(ikm []byte, info string) (*Keyring, error) {
	if len(ikm) == 0 {
		return nil, fmt.Errorf("signing: key material must not be empty")
	}

	hkdfReader := hkdf.New(sha256.New, ikm, []byte("shield-evidence-kdf"), []byte(info))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdfReader, seed); err != nil {
		return nil, fmt.Errorf("signing: HKDF derivation failed: %w", err)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return NewKeyring(&MemoryKeyProvider{pub: pub, priv: priv}), nil
}

// Sign signs msg with the keyring's private key.
func (k *Keyring) Sign(msg []byte) ([]byte, error) {
	return k.provider.Sign(msg)
}

// Verify reports whether sig is a valid signature over msg by this
// keyring's key.
func (k *Keyring) Verify(msg, sig []byte) bool {
	return ed25519.Verify(k.provider.PublicKey(), msg, sig)
}

// PublicKey exposes the verification key.
func (k *Keyring) PublicKey() ed25519.PublicKey {
	return k.provider.PublicKey()
}
