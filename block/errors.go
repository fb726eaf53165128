package block

import "errors"

var (
	// ErrInvalidHash indicates a hash argument is not 32 bytes / 64 hex chars.
	ErrInvalidHash = errors.New("block: invalid hash")

	// ErrInvalidTier indicates a tier outside P1..P4.
	ErrInvalidTier = errors.New("block: invalid tier")
)
