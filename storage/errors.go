package storage

import "errors"

var (
	// ErrNotFound indicates no block exists for the given hash.
	ErrNotFound = errors.New("storage: block not found")

	// ErrInvalidTier indicates a put named a tier outside P1..P4.
	ErrInvalidTier = errors.New("storage: invalid tier")

	// ErrHashMismatch indicates data does not hash to the hash it was offered under.
	ErrHashMismatch = errors.New("storage: hash mismatch")

	// ErrIOFailure indicates a file read/write error.
	ErrIOFailure = errors.New("storage: I/O failure")

	// ErrEmptyContent indicates an attempt to store an empty envelope.
	ErrEmptyContent = errors.New("storage: content is empty")

	// ErrInvalidBaseDir indicates the base directory path is invalid.
	ErrInvalidBaseDir = errors.New("storage: invalid base directory")
)
