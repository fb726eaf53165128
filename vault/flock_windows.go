//go:build windows

package vault

import (
	"fmt"
	"os"
)

// Windows stub: no cross-process lock via syscall.Flock. The store is
// still safe within one process.

// tryLock opens the lock file without locking it.
func tryLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("vault: open lock file: %w", err)
	}
	return f, nil
}

// releaseLock closes the lock file.
func releaseLock(f *os.File) {
	if f == nil {
		return
	}
	_ = f.Close()
}
