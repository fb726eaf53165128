// Package block defines the identity model shared by every layer of the
// store: content hashes, eviction tiers and caller-supplied metadata.
//
// A block is identified by the SHA-256 digest of its plaintext. The hash is
// both the lookup key and the integrity proof: any bytes that do not hash to
// the requested value are never accepted.
package block

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/minio/sha256-simd"
)

// HashSize is the length of a block hash in bytes.
const HashSize = 32

// Hash is the SHA-256 digest of a block's plaintext.
type Hash [HashSize]byte

// Sum returns the content hash of data.
func Sum(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// ParseHash parses a 64-character hex string. Upper-case input is accepted.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != HashSize*2 {
		return h, fmt.Errorf("%w: got %d chars", ErrInvalidHash, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(strings.ToLower(s))); err != nil {
		return h, fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}
	return h, nil
}

// HashFromBytes copies a 32-byte slice into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("%w: got %d bytes", ErrInvalidHash, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// String returns the lowercase hex form used on disk and on the wire.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Bytes returns the hash as a fresh slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// IsZero reports whether h is the zero value.
func (h Hash) IsZero() bool { return h == Hash{} }

// Verify reports whether data hashes to h.
func (h Hash) Verify(data []byte) bool {
	sum := Sum(data)
	return bytes.Equal(sum[:], h[:])
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Meta is optional descriptive metadata carried with a block. The store never
// interprets it.
type Meta struct {
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
}
