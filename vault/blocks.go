package vault

import (
	"context"
	"errors"

	"github.com/bitfsorg/libblocks-go/block"
	"github.com/bitfsorg/libblocks-go/blockcrypt"
	"github.com/bitfsorg/libblocks-go/index"
	"github.com/bitfsorg/libblocks-go/memcache"
	"github.com/bitfsorg/libblocks-go/resolve"
	"github.com/bitfsorg/libblocks-go/storage"
)

// PutBlock encrypts and stores data under its SHA-256 hash with the given
// tier. Storing a block that already exists keeps its original tier and
// refreshes its access time.
func (v *Vault) PutBlock(ctx context.Context, data []byte, tier block.Tier, meta block.Meta) (block.Hash, error) {
	if err := v.checkOpen(); err != nil {
		return block.Hash{}, err
	}
	h, err := v.store.Put(ctx, data, tier, meta)
	return h, mapErr(err)
}

// GetLocalBlock reads a block from memory or disk only. A miss, including a
// block found corrupt and quarantined, returns nil, nil.
func (v *Vault) GetLocalBlock(ctx context.Context, hash block.Hash) ([]byte, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	data, err := v.store.GetLocal(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return data, nil
}

// ResolveBlock finds a block through every layer: memory, disk, connected
// peers, discovered peers, then the origin server. A block fetched from the
// network is verified and stored at block.DefaultFetchTier. Returns nil, nil
// when no layer has it.
func (v *Vault) ResolveBlock(ctx context.Context, hash block.Hash) ([]byte, error) {
	return v.ResolveBlockWith(ctx, hash, resolve.ResolveOptions{})
}

// ResolveBlockWith is ResolveBlock with per-request options.
func (v *Vault) ResolveBlockWith(ctx context.Context, hash block.Hash, opts resolve.ResolveOptions) ([]byte, error) {
	c, err := v.currentCascade()
	if err != nil {
		return nil, err
	}
	data, err := c.ResolveWith(ctx, hash, opts)
	return data, mapErr(err)
}

// HasBlock reports whether hash is stored locally. It does not need the key.
func (v *Vault) HasBlock(hash block.Hash) (bool, error) {
	if err := v.checkOpen(); err != nil {
		return false, err
	}
	return v.store.Has(hash)
}

// DeleteBlock removes a block. Deleting an unknown block is not an error.
func (v *Vault) DeleteBlock(ctx context.Context, hash block.Hash) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	return v.store.Delete(ctx, hash)
}

// StorageUsage returns bytes and block counts, in total and per tier.
func (v *Vault) StorageUsage() (index.Usage, error) {
	if err := v.checkOpen(); err != nil {
		return index.Usage{}, err
	}
	return v.store.Usage()
}

// Stats is a snapshot of the vault's counters.
type Stats struct {
	Store   storage.Stats  `json:"store"`
	Cache   memcache.Stats `json:"cache"`
	Resolve resolve.Stats  `json:"resolve"`
}

// Stats returns counters from the store, the memory cache and the cascade.
func (v *Vault) Stats() Stats {
	v.mu.RLock()
	c := v.cascade
	v.mu.RUnlock()
	return Stats{
		Store:   v.store.Stats(),
		Cache:   v.cache.Stats(),
		Resolve: c.Stats(),
	}
}

func mapErr(err error) error {
	if err != nil && errors.Is(err, blockcrypt.ErrKeyUnavailable) && !errors.Is(err, ErrLocked) {
		return ErrLocked
	}
	return err
}
