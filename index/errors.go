package index

import "errors"

var (
	// ErrNotFound indicates the index has no entry for the hash.
	ErrNotFound = errors.New("index: entry not found")

	// ErrInvalidTier indicates an entry carries a tier outside P1..P4.
	ErrInvalidTier = errors.New("index: invalid tier")

	// ErrSaltExists indicates SetSalt was called on a store that already has one.
	ErrSaltExists = errors.New("index: salt already set")
)
