package blockcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/golang/snappy"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bitfsorg/libblocks-go/block"
)

// Version tags the algorithm that produced an envelope. Decryption always
// dispatches on the stored tag, so the primary algorithm can change over a
// store's lifetime without invalidating existing blocks.
type Version byte

const (
	// VersionAESGCM is AES-256-GCM with a 12-byte random nonce.
	VersionAESGCM Version = 0x01

	// VersionXChaCha is XChaCha20-Poly1305 with a 24-byte random nonce.
	VersionXChaCha Version = 0x02

	// DefaultVersion is used for new envelopes unless configured otherwise.
	DefaultVersion = VersionAESGCM
)

// payload encodings, stored as the first plaintext byte inside the AEAD
const (
	encodingRaw    byte = 0x00
	encodingSnappy byte = 0x01
)

// ParseVersion maps a configured cipher name to a Version.
func ParseVersion(name string) (Version, error) {
	switch name {
	case "", "aes-gcm":
		return VersionAESGCM, nil
	case "xchacha20", "xchacha20-poly1305":
		return VersionXChaCha, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCipher, name)
	}
}

func (v Version) String() string {
	switch v {
	case VersionAESGCM:
		return "aes-gcm"
	case VersionXChaCha:
		return "xchacha20"
	default:
		return fmt.Sprintf("version(0x%02x)", byte(v))
	}
}

// Codec seals and opens block payloads with the store key.
//
// Envelope layout:
//
//	version(1) || nonce || AEAD(encoding(1) || body, aad = version || hash)
//
// Binding the hash as associated data means a ciphertext copied to another
// block's path fails authentication instead of decrypting to wrong content.
type Codec struct {
	key     *Key
	primary Version
}

// NewCodec returns a Codec that seals with primary and opens any known
// version.
func NewCodec(key *Key, primary Version) (*Codec, error) {
	switch primary {
	case VersionAESGCM, VersionXChaCha:
	default:
		return nil, fmt.Errorf("%w: version 0x%02x", ErrUnknownCipher, byte(primary))
	}
	return &Codec{key: key, primary: primary}, nil
}

// Primary returns the version used for new envelopes.
func (c *Codec) Primary() Version { return c.primary }

// Available reports whether the underlying key has not been zeroed.
func (c *Codec) Available() bool { return c != nil && c.key.Available() }

// Seal encrypts plaintext for the block identified by hash.
func (c *Codec) Seal(hash block.Hash, plaintext []byte) ([]byte, error) {
	payload := encodePayload(plaintext)

	var out []byte
	err := c.key.use(func(raw []byte) error {
		aead, err := newAEAD(c.primary, raw)
		if err != nil {
			return err
		}
		out = make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(payload)+aead.Overhead())
		out[0] = byte(c.primary)
		nonce := out[1:]
		if _, err := rand.Read(nonce); err != nil {
			return fmt.Errorf("blockcrypt: random nonce: %w", err)
		}
		out = aead.Seal(out, nonce, payload, additionalData(c.primary, hash))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Open decrypts an envelope produced by Seal for the same hash. It does not
// verify that the plaintext hashes to hash; callers do that.
func (c *Codec) Open(hash block.Hash, envelope []byte) ([]byte, error) {
	if len(envelope) < 1 {
		return nil, ErrInvalidCiphertext
	}
	version := Version(envelope[0])

	var payload []byte
	err := c.key.use(func(raw []byte) error {
		aead, err := newAEAD(version, raw)
		if err != nil {
			return err
		}
		if len(envelope) < 1+aead.NonceSize()+aead.Overhead() {
			return ErrInvalidCiphertext
		}
		nonce := envelope[1 : 1+aead.NonceSize()]
		sealed := envelope[1+aead.NonceSize():]
		payload, err = aead.Open(nil, nonce, sealed, additionalData(version, hash))
		if err != nil {
			return ErrDecryptionFailed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decodePayload(payload)
}

func newAEAD(v Version, key []byte) (cipher.AEAD, error) {
	switch v {
	case VersionAESGCM:
		blk, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("blockcrypt: AES cipher: %w", err)
		}
		return cipher.NewGCM(blk)
	case VersionXChaCha:
		return chacha20poly1305.NewX(key)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownVersion, byte(v))
	}
}

func additionalData(v Version, hash block.Hash) []byte {
	ad := make([]byte, 1+block.HashSize)
	ad[0] = byte(v)
	copy(ad[1:], hash[:])
	return ad
}

// encodePayload snappy-compresses the body only when that makes it smaller.
func encodePayload(plaintext []byte) []byte {
	compressed := snappy.Encode(nil, plaintext)
	if len(compressed) < len(plaintext) {
		return append([]byte{encodingSnappy}, compressed...)
	}
	out := make([]byte, 1+len(plaintext))
	out[0] = encodingRaw
	copy(out[1:], plaintext)
	return out
}

func decodePayload(payload []byte) ([]byte, error) {
	if len(payload) < 1 {
		return nil, ErrInvalidCiphertext
	}
	body := payload[1:]
	switch payload[0] {
	case encodingRaw:
		return body, nil
	case encodingSnappy:
		out, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrInvalidCiphertext, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: payload encoding 0x%02x", ErrInvalidCiphertext, payload[0])
	}
}
