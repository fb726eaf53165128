package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bitfsorg/libblocks-go/block"
)

const tempPrefix = ".tmp-"

// QuarantineDir is the subdirectory of the base directory that holds
// envelopes which failed to open. List and ReclaimOrphans never look in it.
const QuarantineDir = "quarantine"

// FileStore implements Store using the local filesystem.
// Files are stored at: {baseDir}/{hex[:2]}/{hex}
// The first byte (2 hex chars) is used as a subdirectory for sharding.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a new file-based envelope store.
// baseDir is typically "~/.libblocks/blocks". The directory is created if it
// does not exist.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, ErrInvalidBaseDir
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	return &FileStore{
		baseDir: baseDir,
	}, nil
}

// HashToPath converts a block hash to its filesystem path:
// {base}/{ab}/{abcdef...}
func HashToPath(baseDir string, hash block.Hash) string {
	hexHash := hash.String()
	return filepath.Join(baseDir, hexHash[:2], hexHash)
}

// BaseDir returns the root directory of the store.
func (fs *FileStore) BaseDir() string { return fs.baseDir }

func (fs *FileStore) shardDir(hash block.Hash) string {
	return filepath.Join(fs.baseDir, hash.String()[:2])
}

// Put writes the envelope to a temp file in the shard directory and renames
// it into place, so a crash never leaves a truncated file at the final path.
func (fs *FileStore) Put(hash block.Hash, ciphertext []byte) error {
	if len(ciphertext) == 0 {
		return ErrEmptyContent
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	shard := fs.shardDir(hash)
	if err := os.MkdirAll(shard, 0700); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	tmp, err := os.CreateTemp(shard, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(ciphertext); err != nil {
		cleanup()
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := os.Rename(tmpName, HashToPath(fs.baseDir, hash)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return nil
}

// Get retrieves the envelope for hash.
func (fs *FileStore) Get(hash block.Hash) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(HashToPath(fs.baseDir, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	return data, nil
}

// Has checks if an envelope exists for hash.
func (fs *FileStore) Has(hash block.Hash) (bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	_, err := os.Stat(HashToPath(fs.baseDir, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	return true, nil
}

// Delete removes the envelope for hash. A missing file returns ErrNotFound.
func (fs *FileStore) Delete(hash block.Hash) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	err := os.Remove(HashToPath(fs.baseDir, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	return nil
}

// Quarantine moves the envelope for hash to {base}/quarantine/{hex},
// replacing an earlier quarantined copy. Returns the new path.
func (fs *FileStore) Quarantine(hash block.Hash) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := filepath.Join(fs.baseDir, QuarantineDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	dst := filepath.Join(dir, hash.String())
	if err := os.Rename(HashToPath(fs.baseDir, hash), dst); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return dst, nil
}

// Size returns the size in bytes of the stored envelope.
func (fs *FileStore) Size(hash block.Hash) (int64, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	info, err := os.Stat(HashToPath(fs.baseDir, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	return info.Size(), nil
}

// List returns all stored hashes by scanning the shard directories. Stray
// temp files from an interrupted Put are removed on the way.
func (fs *FileStore) List() ([]block.Hash, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var result []block.Hash

	entries, err := os.ReadDir(fs.baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		shardName := entry.Name()
		// Shard directories are 2-character hex strings
		if len(shardName) != 2 {
			continue
		}

		shardPath := filepath.Join(fs.baseDir, shardName)
		files, err := os.ReadDir(shardPath)
		if err != nil {
			continue
		}

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			name := f.Name()
			if strings.HasPrefix(name, tempPrefix) {
				_ = os.Remove(filepath.Join(shardPath, name))
				continue
			}
			hash, err := block.ParseHash(name)
			if err != nil {
				continue // skip foreign files
			}
			result = append(result, hash)
		}
	}

	return result, nil
}
