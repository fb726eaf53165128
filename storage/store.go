package storage

import "github.com/bitfsorg/libblocks-go/block"

// Store holds opaque ciphertext envelopes keyed by block hash. It knows
// nothing about keys, tiers or the index.
type Store interface {
	// Put stores the envelope for hash, replacing any previous file.
	Put(hash block.Hash, ciphertext []byte) error

	// Get retrieves the envelope for hash.
	Get(hash block.Hash) ([]byte, error)

	// Has checks if an envelope exists for hash.
	Has(hash block.Hash) (bool, error)

	// Delete removes the envelope for hash.
	Delete(hash block.Hash) error

	// Size returns the on-disk size of the envelope for hash.
	Size(hash block.Hash) (int64, error)

	// List returns every stored hash (orphan reclamation, export).
	List() ([]block.Hash, error)
}

var _ Store = (*FileStore)(nil)
