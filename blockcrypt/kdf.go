// Package blockcrypt derives the store key and seals block payloads into a
// version-tagged AEAD envelope.
//
// Key derivation:
//
//	key = Argon2id(passphrase, salt, t=3, m=64MiB, p=4, 32 bytes)
//
// or, for callers that already hold an identity key,
//
//	key = HKDF-SHA256(ECDH(D_id, P_id).x, salt, "libblocks-store-key")
//
// The salt is random per store and persisted next to the index. The key
// itself is never written to disk.
package blockcrypt

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeyLen is the length of the symmetric store key in bytes.
	KeyLen = 32

	// SaltLen is the length of the persisted store salt.
	SaltLen = 16

	// IdentityHKDFInfo is the HKDF info string for identity-derived keys.
	IdentityHKDFInfo = "libblocks-store-key"
)

// KDFParams tunes the Argon2id cost.
type KDFParams struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
}

// DefaultKDFParams matches the wallet seed encryption cost: 3 passes over
// 64 MiB with 4 lanes.
var DefaultKDFParams = KDFParams{
	Time:        3,
	MemoryKiB:   64 * 1024,
	Parallelism: 4,
}

// GenerateSalt returns SaltLen random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("blockcrypt: generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives the store key from a passphrase with Argon2id.
// The result is deterministic for (passphrase, salt, params).
func DeriveKey(passphrase string, salt []byte, params KDFParams) (*Key, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if len(salt) != SaltLen {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidSalt, SaltLen, len(salt))
	}
	if params.Time == 0 || params.MemoryKiB == 0 || params.Parallelism == 0 {
		params = DefaultKDFParams
	}

	raw := argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, KeyLen)
	return newKey(raw), nil
}

// DeriveKeyFromIdentity derives the store key from an identity private key
// owned by another subsystem. The ECDH of the key with its own public point
// is private to the key holder, so the result is as secret as the identity.
func DeriveKeyFromIdentity(identity *ec.PrivateKey, salt []byte) (*Key, error) {
	if identity == nil {
		return nil, ErrNilIdentity
	}
	if len(salt) != SaltLen {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidSalt, SaltLen, len(salt))
	}

	shared, err := identity.DeriveSharedSecret(identity.PubKey())
	if err != nil {
		return nil, fmt.Errorf("blockcrypt: identity ECDH: %w", err)
	}

	// x-coordinate, zero-padded to 32 bytes
	ikm := make([]byte, 32)
	x := shared.X.Bytes()
	copy(ikm[32-len(x):], x)
	defer wipe(ikm)

	raw := make([]byte, KeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte(IdentityHKDFInfo)), raw); err != nil {
		return nil, fmt.Errorf("blockcrypt: identity HKDF: %w", err)
	}
	return newKey(raw), nil
}
