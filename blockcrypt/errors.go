package blockcrypt

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt is the parent of every error that means stored ciphertext
	// cannot be trusted. It is distinct from "not found" and must never be
	// treated as an ordinary miss that silently retries the network.
	ErrCorrupt = errors.New("blockcrypt: corrupt ciphertext")

	// ErrInvalidCiphertext indicates the envelope is truncated or malformed.
	ErrInvalidCiphertext = fmt.Errorf("%w: invalid envelope", ErrCorrupt)

	// ErrUnknownVersion indicates an envelope version byte this build cannot
	// decode.
	ErrUnknownVersion = fmt.Errorf("%w: unknown envelope version", ErrCorrupt)

	// ErrUnknownCipher indicates a cipher name or primary version that is not
	// supported for sealing. It is a configuration error, not corruption.
	ErrUnknownCipher = errors.New("blockcrypt: unknown cipher")

	// ErrDecryptionFailed indicates AEAD authentication failed.
	ErrDecryptionFailed = fmt.Errorf("%w: decryption failed", ErrCorrupt)

	// ErrKeyUnavailable indicates the store key was never derived or has been
	// zeroed by a lock.
	ErrKeyUnavailable = errors.New("blockcrypt: key unavailable")

	// ErrEmptyPassphrase indicates an empty passphrase was given to DeriveKey.
	ErrEmptyPassphrase = errors.New("blockcrypt: passphrase is empty")

	// ErrInvalidSalt indicates the salt is not SaltLen bytes.
	ErrInvalidSalt = errors.New("blockcrypt: invalid salt")

	// ErrInvalidKey indicates raw key material of the wrong length.
	ErrInvalidKey = errors.New("blockcrypt: invalid key length")

	// ErrNilIdentity indicates a nil identity key was given.
	ErrNilIdentity = errors.New("blockcrypt: identity key is nil")
)
