// Package index is the durable metadata index of the block store: one row
// per block with size, tier and timestamps, plus the secondary structures
// the sweeper needs (LRU order per tier, per-tier usage counters).
//
// The index is the single source of truth for which blocks exist. A
// ciphertext file without a row is garbage; a row without a file reads as a
// miss.
package index

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libblocks-go/block"
)

var (
	bucketBlocks = []byte("blocks")
	bucketLRU    = []byte("lru")
	bucketUsage  = []byte("usage")
	bucketMeta   = []byte("meta")

	metaSalt   = []byte("salt")
	metaCanary = []byte("canary")
)

const (
	lruKeyLen = 1 + 8 + block.HashSize

	defaultBloomCapacity = 1 << 16
	defaultBloomFPRate   = 0.01
)

// Options tunes Open. The zero value is usable.
type Options struct {
	// Timeout bounds how long Open waits for another process holding the
	// database file lock. Zero waits one second.
	Timeout time.Duration
	// BloomCapacity is the initial expected number of entries.
	BloomCapacity uint
	// BloomFPRate is the target false-positive rate of the Has fast path.
	BloomFPRate float64
}

// Index is a bbolt-backed metadata index. Writers are serialised by bbolt;
// readers run concurrently.
type Index struct {
	db *bbolt.DB

	bloomMu    sync.RWMutex
	bloom      *bloom.BloomFilter
	bloomCap   uint
	bloomN     uint
	fpRate     float64
	rebuilding bool
	pending    []block.Hash
}

// Open opens or creates the index database at path. The parent directory is
// created if it does not exist.
func Open(path string, opts Options) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("index: create directory: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	if opts.BloomCapacity == 0 {
		opts.BloomCapacity = defaultBloomCapacity
	}
	if opts.BloomFPRate <= 0 || opts.BloomFPRate >= 1 {
		opts.BloomFPRate = defaultBloomFPRate
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("index: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketBlocks, bucketLRU, bucketUsage, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("index: create buckets: %w", err)
	}

	idx := &Index{db: db, bloomCap: opts.BloomCapacity, fpRate: opts.BloomFPRate}
	if err := idx.rebuildBloom(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

// Close closes the underlying database.
func (x *Index) Close() error { return x.db.Close() }

// Path returns the database file path.
func (x *Index) Path() string { return x.db.Path() }

// lruKey orders entries by tier, then last access, then hash.
func lruKey(tier block.Tier, at time.Time, hash block.Hash) []byte {
	k := make([]byte, lruKeyLen)
	k[0] = byte(tier)
	binary.BigEndian.PutUint64(k[1:9], uint64(at.UnixNano()))
	copy(k[9:], hash[:])
	return k
}

func encodeEntry(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ---------------------------------------------------------------------------
// Rows
// ---------------------------------------------------------------------------

// Insert records a new block. If the hash is already indexed the existing
// tier wins (priority is never downgraded implicitly), the last-access time
// is bumped, and inserted is false.
func (x *Index) Insert(e Entry) (inserted bool, err error) {
	if !e.Tier.Valid() {
		return false, fmt.Errorf("%w: %d", ErrInvalidTier, e.Tier)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.LastAccessedAt.IsZero() {
		e.LastAccessedAt = e.CreatedAt
	}

	err = x.db.Update(func(tx *bbolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		if data := blocks.Get(e.Hash[:]); data != nil {
			existing, err := decodeEntry(data)
			if err != nil {
				return fmt.Errorf("index: decode entry: %w", err)
			}
			return touch(tx, existing, e.LastAccessedAt)
		}

		data, err := encodeEntry(&e)
		if err != nil {
			return fmt.Errorf("index: encode entry: %w", err)
		}
		if err := blocks.Put(e.Hash[:], data); err != nil {
			return fmt.Errorf("index: put entry: %w", err)
		}
		if err := tx.Bucket(bucketLRU).Put(lruKey(e.Tier, e.LastAccessedAt, e.Hash), nil); err != nil {
			return fmt.Errorf("index: put lru key: %w", err)
		}
		inserted = true
		return addUsage(tx, e.Tier, e.Size, 1)
	})
	if err != nil {
		return false, err
	}
	if inserted {
		x.bloomAdd(e.Hash)
	}
	return inserted, nil
}

// TouchAccess bumps the last-accessed time of hash. A missing hash is a
// no-op: the block may have been evicted between the read and the touch.
func (x *Index) TouchAccess(hash block.Hash, at time.Time) error {
	return x.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketBlocks).Get(hash[:])
		if data == nil {
			return nil
		}
		e, err := decodeEntry(data)
		if err != nil {
			return fmt.Errorf("index: decode entry: %w", err)
		}
		return touch(tx, e, at)
	})
}

// touch moves e to its new LRU position. Time never moves backwards.
func touch(tx *bbolt.Tx, e *Entry, at time.Time) error {
	if !at.After(e.LastAccessedAt) {
		return nil
	}
	lru := tx.Bucket(bucketLRU)
	if err := lru.Delete(lruKey(e.Tier, e.LastAccessedAt, e.Hash)); err != nil {
		return fmt.Errorf("index: delete lru key: %w", err)
	}
	e.LastAccessedAt = at
	if err := lru.Put(lruKey(e.Tier, at, e.Hash), nil); err != nil {
		return fmt.Errorf("index: put lru key: %w", err)
	}
	data, err := encodeEntry(e)
	if err != nil {
		return fmt.Errorf("index: encode entry: %w", err)
	}
	return tx.Bucket(bucketBlocks).Put(e.Hash[:], data)
}

// Get returns the entry for hash or ErrNotFound.
func (x *Index) Get(hash block.Hash) (Entry, error) {
	var e *Entry
	err := x.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketBlocks).Get(hash[:])
		if data == nil {
			return ErrNotFound
		}
		var err error
		e, err = decodeEntry(data)
		if err != nil {
			return fmt.Errorf("index: decode entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return *e, nil
}

// Has reports whether hash is indexed. Hashes the Bloom filter has never
// seen are answered without touching the database.
func (x *Index) Has(hash block.Hash) (bool, error) {
	if !x.bloomTest(hash) {
		return false, nil
	}
	var found bool
	err := x.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketBlocks).Get(hash[:]) != nil
		return nil
	})
	return found, err
}

// Delete removes the entry for hash. existed is false for unknown hashes.
func (x *Index) Delete(hash block.Hash) (existed bool, err error) {
	err = x.db.Update(func(tx *bbolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		data := blocks.Get(hash[:])
		if data == nil {
			return nil
		}
		e, err := decodeEntry(data)
		if err != nil {
			return fmt.Errorf("index: decode entry: %w", err)
		}
		if err := blocks.Delete(hash[:]); err != nil {
			return fmt.Errorf("index: delete entry: %w", err)
		}
		if err := tx.Bucket(bucketLRU).Delete(lruKey(e.Tier, e.LastAccessedAt, e.Hash)); err != nil {
			return fmt.Errorf("index: delete lru key: %w", err)
		}
		existed = true
		return addUsage(tx, e.Tier, -e.Size, -1)
	})
	return existed, err
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// ListByTierLRU returns up to limit entries of tier, least recently accessed
// first. limit <= 0 returns all.
func (x *Index) ListByTierLRU(tier block.Tier, limit int) ([]Entry, error) {
	return x.scanTier(tier, limit, func(*Entry) bool { return true })
}

// ListExpired returns up to limit entries of tier whose last access is
// before cutoff, oldest first.
func (x *Index) ListExpired(tier block.Tier, cutoff time.Time, limit int) ([]Entry, error) {
	return x.scanTier(tier, limit, func(e *Entry) bool { return e.LastAccessedAt.Before(cutoff) })
}

// scanTier walks the LRU keys of one tier in order and stops at the first
// entry rejected by keep.
func (x *Index) scanTier(tier block.Tier, limit int, keep func(*Entry) bool) ([]Entry, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTier, tier)
	}
	var out []Entry
	err := x.db.View(func(tx *bbolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		c := tx.Bucket(bucketLRU).Cursor()
		prefix := []byte{byte(tier)}
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if len(k) != lruKeyLen {
				continue
			}
			data := blocks.Get(k[9:])
			if data == nil {
				continue // stale lru key
			}
			e, err := decodeEntry(data)
			if err != nil {
				return fmt.Errorf("index: decode entry: %w", err)
			}
			if !keep(e) {
				return nil
			}
			out = append(out, *e)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ForEach calls fn for every entry in hash order. fn must not call back into
// the index.
func (x *Index) ForEach(fn func(Entry) error) error {
	return x.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlocks).ForEach(func(_, v []byte) error {
			e, err := decodeEntry(v)
			if err != nil {
				return fmt.Errorf("index: decode entry: %w", err)
			}
			return fn(*e)
		})
	})
}

// Count returns the number of indexed blocks.
func (x *Index) Count() (int, error) {
	var n int
	err := x.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketBlocks).Stats().KeyN
		return nil
	})
	return n, err
}
