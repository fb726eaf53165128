package blockcrypt

import (
	"fmt"
	"sync"
)

// Key holds the symmetric store key in process memory. It is written once
// at unlock and zeroed on lock; in between it is read-only and safe for
// concurrent use.
type Key struct {
	mu  sync.RWMutex
	raw []byte
}

func newKey(raw []byte) *Key { return &Key{raw: raw} }

// KeyFromBytes wraps existing key material. The slice is copied.
func KeyFromBytes(raw []byte) (*Key, error) {
	if len(raw) != KeyLen {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(raw))
	}
	b := make([]byte, KeyLen)
	copy(b, raw)
	return newKey(b), nil
}

// Available reports whether the key can still be used.
func (k *Key) Available() bool {
	if k == nil {
		return false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.raw != nil
}

// Zero overwrites the key material and drops it. Safe to call repeatedly.
func (k *Key) Zero() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	wipe(k.raw)
	k.raw = nil
}

// use runs fn with the raw key under a read lock. fn must not retain raw.
func (k *Key) use(fn func(raw []byte) error) error {
	if k == nil {
		return ErrKeyUnavailable
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.raw == nil {
		return ErrKeyUnavailable
	}
	return fn(k.raw)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
