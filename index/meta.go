package index

import (
	"encoding/binary"
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libblocks-go/block"
)

// addUsage adjusts the counters of tier inside tx so they always agree with
// the blocks bucket.
func addUsage(tx *bbolt.Tx, tier block.Tier, bytesDelta, blocksDelta int64) error {
	b := tx.Bucket(bucketUsage)
	key := []byte{byte(tier)}
	var cur [16]byte
	if v := b.Get(key); len(v) == 16 {
		copy(cur[:], v)
	}
	n := int64(binary.BigEndian.Uint64(cur[0:8])) + bytesDelta
	c := int64(binary.BigEndian.Uint64(cur[8:16])) + blocksDelta
	if n < 0 {
		n = 0
	}
	if c < 0 {
		c = 0
	}
	binary.BigEndian.PutUint64(cur[0:8], uint64(n))
	binary.BigEndian.PutUint64(cur[8:16], uint64(c))
	if err := b.Put(key, cur[:]); err != nil {
		return fmt.Errorf("index: put usage: %w", err)
	}
	return nil
}

// AggregateUsage returns total and per-tier usage. Every valid tier is
// present in ByTier, zero-valued if empty.
func (x *Index) AggregateUsage() (Usage, error) {
	u := Usage{ByTier: make(map[block.Tier]TierUsage, 4)}
	for _, t := range block.Tiers() {
		u.ByTier[t] = TierUsage{}
	}
	err := x.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsage).ForEach(func(k, v []byte) error {
			if len(k) != 1 || len(v) != 16 {
				return nil
			}
			t := block.Tier(k[0])
			if !t.Valid() {
				return nil
			}
			tu := TierUsage{
				Bytes:  int64(binary.BigEndian.Uint64(v[0:8])),
				Blocks: int64(binary.BigEndian.Uint64(v[8:16])),
			}
			u.ByTier[t] = tu
			u.TotalBytes += tu.Bytes
			u.TotalBlocks += tu.Blocks
			return nil
		})
	})
	if err != nil {
		return Usage{}, err
	}
	return u, nil
}

// ---------------------------------------------------------------------------
// Store metadata
// ---------------------------------------------------------------------------

// Salt returns the persisted KDF salt, or nil if the store has never been
// initialised.
func (x *Index) Salt() ([]byte, error) { return x.getMeta(metaSalt) }

// SetSalt persists the KDF salt. A salt can be written once; a second call
// with different bytes returns ErrSaltExists.
func (x *Index) SetSalt(salt []byte) error {
	return x.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if cur := b.Get(metaSalt); cur != nil {
			if string(cur) == string(salt) {
				return nil
			}
			return ErrSaltExists
		}
		return b.Put(metaSalt, salt)
	})
}

// Canary returns the sealed passphrase check value, or nil if unset.
func (x *Index) Canary() ([]byte, error) { return x.getMeta(metaCanary) }

// SetCanary stores the sealed passphrase check value.
func (x *Index) SetCanary(v []byte) error {
	return x.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(metaCanary, v)
	})
}

func (x *Index) getMeta(key []byte) ([]byte, error) {
	var out []byte
	err := x.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(key); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// ---------------------------------------------------------------------------
// Bloom filter
// ---------------------------------------------------------------------------

// rebuildBloom sizes a fresh filter for the current row count and loads
// every hash. Hashes added while the scan runs are replayed into the new
// filter before it is swapped in. Must not run inside a bolt transaction.
func (x *Index) rebuildBloom() error {
	x.bloomMu.Lock()
	if x.rebuilding {
		x.bloomMu.Unlock()
		return nil
	}
	x.rebuilding = true
	x.pending = nil
	x.bloomMu.Unlock()

	f, capacity, n, err := x.scanBloom()

	x.bloomMu.Lock()
	defer x.bloomMu.Unlock()
	x.rebuilding = false
	if err != nil {
		x.pending = nil
		return err
	}
	for _, h := range x.pending {
		f.Add(h[:])
	}
	x.bloom = f
	x.bloomCap = capacity
	x.bloomN = n + uint(len(x.pending))
	x.pending = nil
	return nil
}

func (x *Index) scanBloom() (*bloom.BloomFilter, uint, uint, error) {
	n, err := x.Count()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("index: count entries: %w", err)
	}
	x.bloomMu.RLock()
	capacity := x.bloomCap
	x.bloomMu.RUnlock()
	if want := uint(n) * 2; want > capacity {
		capacity = want
	}
	f := bloom.NewWithEstimates(capacity, x.fpRate)
	err = x.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlocks).ForEach(func(k, _ []byte) error {
			f.Add(k)
			return nil
		})
	})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("index: load bloom filter: %w", err)
	}
	return f, capacity, uint(n), nil
}

func (x *Index) bloomAdd(hash block.Hash) {
	x.bloomMu.Lock()
	x.bloom.Add(hash[:])
	x.bloomN++
	if x.rebuilding {
		x.pending = append(x.pending, hash)
	}
	grow := x.bloomN > x.bloomCap && !x.rebuilding
	x.bloomMu.Unlock()

	if grow {
		// Deleted hashes linger in the filter until the next rebuild, which
		// only costs an extra lookup.
		_ = x.rebuildBloom()
	}
}

func (x *Index) bloomTest(hash block.Hash) bool {
	x.bloomMu.RLock()
	defer x.bloomMu.RUnlock()
	return x.bloom.Test(hash[:])
}
