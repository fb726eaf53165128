package vault

import (
	"errors"
	"fmt"

	"github.com/bitfsorg/libblocks-go/blockcrypt"
)

var (
	// ErrLocked indicates the store key is not loaded. It wraps
	// blockcrypt.ErrKeyUnavailable.
	ErrLocked = fmt.Errorf("vault: store is locked: %w", blockcrypt.ErrKeyUnavailable)

	// ErrWrongPassphrase indicates the derived key does not open the
	// store's verification canary.
	ErrWrongPassphrase = errors.New("vault: wrong passphrase")

	// ErrStoreInUse indicates another process holds the data directory lock.
	ErrStoreInUse = errors.New("vault: store is in use by another process")

	// ErrClosed indicates the vault has been closed.
	ErrClosed = errors.New("vault: closed")
)
