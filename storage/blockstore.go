package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bitfsorg/libblocks-go/block"
	"github.com/bitfsorg/libblocks-go/blockcrypt"
	"github.com/bitfsorg/libblocks-go/index"
	"github.com/bitfsorg/libblocks-go/memcache"
)

// Options configures a BlockStore.
type Options struct {
	// Cache is the memory layer warmed on put and get. Nil disables it.
	Cache *memcache.Cache
	// Logger receives corruption and inconsistency reports.
	Logger *logrus.Logger
	// Now overrides the clock used for access timestamps.
	Now func() time.Time
	// AfterPut is called after a new block has been indexed, outside the
	// store lock. The sweeper hooks in here.
	AfterPut func()
}

// Stats are cumulative BlockStore counters.
type Stats struct {
	Puts    uint64 `json:"puts"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Corrupt uint64 `json:"corrupt"`
}

// BlockStore is the encrypted local block store: ciphertext files on disk,
// one index row per block, plaintext warmed into the memory cache.
//
// Put and Delete are serialised through one mutex. Reads run concurrently.
type BlockStore struct {
	files *FileStore
	idx   *index.Index
	cache *memcache.Cache
	codec atomic.Pointer[blockcrypt.Codec]

	log      *logrus.Logger
	now      func() time.Time
	afterPut func()

	mu sync.Mutex

	puts, hits, misses, corrupt atomic.Uint64
}

// NewBlockStore assembles a store. The store is locked until SetCodec is
// called with a codec over an available key.
func NewBlockStore(files *FileStore, idx *index.Index, opts Options) *BlockStore {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &BlockStore{
		files:    files,
		idx:      idx,
		cache:    opts.Cache,
		log:      opts.Logger,
		now:      opts.Now,
		afterPut: opts.AfterPut,
	}
}

// SetCodec installs (or with nil, removes) the codec used for envelopes.
func (s *BlockStore) SetCodec(c *blockcrypt.Codec) { s.codec.Store(c) }

// SetAfterPut replaces the post-put hook. Must be called before the store
// is shared between goroutines.
func (s *BlockStore) SetAfterPut(fn func()) { s.afterPut = fn }

// Index returns the metadata index backing the store.
func (s *BlockStore) Index() *index.Index { return s.idx }

// Cache returns the memory layer, possibly nil.
func (s *BlockStore) Cache() *memcache.Cache { return s.cache }

func (s *BlockStore) liveCodec() (*blockcrypt.Codec, error) {
	c := s.codec.Load()
	if !c.Available() {
		return nil, blockcrypt.ErrKeyUnavailable
	}
	return c, nil
}

// Put encrypts and stores data under its SHA-256 hash. Storing content that
// is already present only refreshes its access time; the existing tier is
// kept.
func (s *BlockStore) Put(ctx context.Context, data []byte, tier block.Tier, meta block.Meta) (block.Hash, error) {
	hash := block.Sum(data)
	return hash, s.put(ctx, hash, data, tier, meta)
}

// PutVerified stores data fetched from elsewhere under hash, refusing it if
// it does not hash to hash.
func (s *BlockStore) PutVerified(ctx context.Context, hash block.Hash, data []byte, tier block.Tier, meta block.Meta) error {
	if !hash.Verify(data) {
		return fmt.Errorf("%w: %s", ErrHashMismatch, hash)
	}
	return s.put(ctx, hash, data, tier, meta)
}

func (s *BlockStore) put(ctx context.Context, hash block.Hash, data []byte, tier block.Tier, meta block.Meta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !tier.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidTier, tier)
	}
	codec, err := s.liveCodec()
	if err != nil {
		return err
	}

	inserted, err := s.putLocked(codec, hash, data, tier, meta)
	if err != nil {
		return err
	}

	s.warm(hash, data)
	if inserted {
		s.puts.Add(1)
		if s.afterPut != nil {
			s.afterPut()
		}
	}
	return nil
}

func (s *BlockStore) putLocked(codec *blockcrypt.Codec, hash block.Hash, data []byte, tier block.Tier, meta block.Meta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	indexed, err := s.idx.Has(hash)
	if err != nil {
		return false, fmt.Errorf("storage: index lookup: %w", err)
	}
	if indexed {
		onDisk, err := s.files.Has(hash)
		if err != nil {
			return false, err
		}
		if onDisk {
			if err := s.idx.TouchAccess(hash, now); err != nil {
				return false, fmt.Errorf("storage: touch: %w", err)
			}
			return false, nil
		}
		// Row without file: rewrite the file below, Insert keeps the row.
		s.log.WithFields(logrus.Fields{"hash": hash.String()}).Warn("storage: repairing indexed block with missing file")
	}

	envelope, err := codec.Seal(hash, data)
	if err != nil {
		return false, fmt.Errorf("storage: seal: %w", err)
	}
	// File first, then row: a crash in between leaves an orphan file, which
	// ReclaimOrphans removes, never a row without a file.
	if err := s.files.Put(hash, envelope); err != nil {
		return false, err
	}
	inserted, err := s.idx.Insert(index.Entry{
		Hash:           hash,
		Size:           int64(len(data)),
		Tier:           tier,
		CreatedAt:      now,
		LastAccessedAt: now,
		Meta:           meta,
	})
	if err != nil {
		if !indexed {
			_ = s.files.Delete(hash)
		}
		return false, fmt.Errorf("storage: index insert: %w", err)
	}
	return inserted, nil
}

// Get returns the plaintext of hash. Every kind of miss, including a
// corrupt envelope, is reported as ErrNotFound; a locked store returns
// blockcrypt.ErrKeyUnavailable.
func (s *BlockStore) Get(ctx context.Context, hash block.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	codec, err := s.liveCodec()
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, ok := s.cache.Get(hash); ok {
			s.touch(hash)
			s.hits.Add(1)
			return data, nil
		}
	}

	entry, err := s.idx.Get(hash)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			s.misses.Add(1)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: index lookup: %w", err)
	}

	envelope, err := s.files.Get(hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.missingFile(hash)
			s.misses.Add(1)
			return nil, ErrNotFound
		}
		return nil, err
	}

	data, err := codec.Open(hash, envelope)
	switch {
	case errors.Is(err, blockcrypt.ErrKeyUnavailable):
		return nil, err
	case errors.Is(err, blockcrypt.ErrUnknownVersion):
		// Possibly written by a newer build: leave it where it is.
		s.unreadable(entry, err)
		return nil, ErrNotFound
	case err != nil:
		s.quarantine(entry, envelope, err)
		return nil, ErrNotFound
	case !hash.Verify(data):
		s.quarantine(entry, envelope, fmt.Errorf("%w: plaintext hash mismatch", blockcrypt.ErrCorrupt))
		return nil, ErrNotFound
	}

	s.touch(hash)
	s.warm(hash, data)
	s.hits.Add(1)
	return data, nil
}

// GetLocal is Get, named for callers that want to stress that no network
// layer is consulted.
func (s *BlockStore) GetLocal(ctx context.Context, hash block.Hash) ([]byte, error) {
	return s.Get(ctx, hash)
}

func (s *BlockStore) touch(hash block.Hash) {
	if err := s.idx.TouchAccess(hash, s.now()); err != nil {
		s.log.WithFields(logrus.Fields{"hash": hash.String()}).WithError(err).Debug("storage: touch access failed")
	}
}

// warm caches data only if hash is still indexed. The check and the Set run
// under s.mu, so a Delete either happens first and is seen here, or happens
// after and removes the cached copy itself.
func (s *BlockStore) warm(hash block.Hash, data []byte) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.idx.Has(hash)
	if err != nil || !ok {
		return
	}
	s.cache.Set(hash, data)
}

// missingFile reports an index row whose file is gone. A row deleted
// while the read was in flight is an ordinary race, not an inconsistency.
func (s *BlockStore) missingFile(hash block.Hash) {
	log := s.log.WithFields(logrus.Fields{"hash": hash.String()})
	if ok, err := s.idx.Has(hash); err == nil && !ok {
		log.Debug("storage: block deleted during read")
		return
	}
	log.Warn("storage: index entry has no file")
}

func (s *BlockStore) unreadable(entry index.Entry, cause error) {
	s.corrupt.Add(1)
	s.misses.Add(1)
	s.log.WithFields(logrus.Fields{
		"hash": entry.Hash.String(),
		"tier": entry.Tier.String(),
	}).WithError(cause).Error("storage: block envelope cannot be opened by this build, left in place")
}

// quarantine moves a corrupt envelope out of the block tree and keeps the
// index row, so the tier survives and a verified copy fetched later is
// written back by putLocked's repair path. Nothing is deleted.
func (s *BlockStore) quarantine(entry index.Entry, envelope []byte, cause error) {
	hash := entry.Hash
	s.corrupt.Add(1)
	s.misses.Add(1)
	log := s.log.WithFields(logrus.Fields{
		"hash": hash.String(),
		"tier": entry.Tier.String(),
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil {
		s.cache.Remove(hash)
	}
	// A concurrent put may already have repaired the file.
	current, err := s.files.Get(hash)
	if err != nil || !bytes.Equal(current, envelope) {
		log.WithError(cause).Error("storage: corrupt block read, file already replaced")
		return
	}
	dst, err := s.files.Quarantine(hash)
	if err != nil {
		log.WithError(cause).WithFields(logrus.Fields{"move_error": err.Error()}).Error("storage: corrupt block could not be quarantined")
		return
	}
	log.WithError(cause).WithFields(logrus.Fields{"path": dst}).Error("storage: corrupt block quarantined")
}

// Has reports whether hash is indexed. It does not need the key.
func (s *BlockStore) Has(hash block.Hash) (bool, error) {
	return s.idx.Has(hash)
}

// Delete removes hash: index row first, then the file, then the cached
// plaintext. Deleting an unknown hash is a no-op.
func (s *BlockStore) Delete(ctx context.Context, hash block.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.idx.Delete(hash); err != nil {
		return fmt.Errorf("storage: index delete: %w", err)
	}
	if err := s.files.Delete(hash); err != nil && !errors.Is(err, ErrNotFound) {
		s.log.WithFields(logrus.Fields{"hash": hash.String()}).WithError(err).Warn("storage: delete file failed, left as orphan")
	}
	if s.cache != nil {
		s.cache.Remove(hash)
	}
	return nil
}

// Usage returns the index aggregate.
func (s *BlockStore) Usage() (index.Usage, error) {
	return s.idx.AggregateUsage()
}

// Stats returns cumulative counters.
func (s *BlockStore) Stats() Stats {
	return Stats{
		Puts:    s.puts.Load(),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Corrupt: s.corrupt.Load(),
	}
}

// ReclaimOrphans deletes ciphertext files that have no index row, left
// behind by a crash between the file write and the index insert, or by a
// failed file delete. Returns the number of files removed.
func (s *BlockStore) ReclaimOrphans(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashes, err := s.files.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		ok, err := s.idx.Has(h)
		if err != nil {
			return removed, fmt.Errorf("storage: index lookup: %w", err)
		}
		if ok {
			continue
		}
		if err := s.files.Delete(h); err != nil && !errors.Is(err, ErrNotFound) {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.log.WithFields(logrus.Fields{"removed": removed}).Info("storage: reclaimed orphan files")
	}
	return removed, nil
}
