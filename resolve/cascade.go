// Package resolve finds a block wherever it is available.
//
// Layers are tried in order and the first hit wins:
//
//	L0 memory cache
//	L1 local encrypted store
//	L2 connected peers, queried in parallel
//	L3 peer discovery, then L2 again
//	L4 origin server
//
// Every block obtained from L2 or L4 is verified against its hash and
// persisted locally before it is returned. Running out of layers is not an
// error: Resolve returns nil, nil.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/bitfsorg/libblocks-go/block"
	"github.com/bitfsorg/libblocks-go/blockcrypt"
	"github.com/bitfsorg/libblocks-go/memcache"
	"github.com/bitfsorg/libblocks-go/peer"
)

// Default per-layer timeouts.
const (
	DefaultPeerTimeout      = 5 * time.Second
	DefaultDiscoveryTimeout = 10 * time.Second
	DefaultServerTimeout    = 15 * time.Second
)

// LocalStore is the L1 layer.
type LocalStore interface {
	Get(ctx context.Context, hash block.Hash) ([]byte, error)
	PutVerified(ctx context.Context, hash block.Hash, data []byte, tier block.Tier, meta block.Meta) error
}

// Directory is the L3 peer directory.
type Directory interface {
	DiscoverAndConnect(ctx context.Context, scope string) error
}

// Origin is the L4 origin server.
type Origin interface {
	FetchBlock(ctx context.Context, hash block.Hash) ([]byte, error)
}

// Options wires a Cascade. Nil collaborators skip their layer.
type Options struct {
	Cache     *memcache.Cache
	Store     LocalStore
	Transport peer.Transport
	Directory Directory
	Origin    Origin

	PeerTimeout      time.Duration
	DiscoveryTimeout time.Duration
	ServerTimeout    time.Duration

	// Scope is the discovery scope used when a request names none.
	Scope  string
	Logger *logrus.Logger
}

// ResolveOptions tunes a single resolution.
type ResolveOptions struct {
	// Tier is assigned to a block persisted from the network. Zero means
	// block.DefaultFetchTier.
	Tier block.Tier
	// Meta is stored with a block persisted from the network.
	Meta block.Meta
	// Scope overrides the discovery scope.
	Scope string
}

// Cascade resolves blocks through the layers. Safe for concurrent use.
// Concurrent resolutions of the same hash share one run of L1..L4.
type Cascade struct {
	cache     *memcache.Cache
	store     LocalStore
	transport peer.Transport
	directory Directory
	origin    Origin

	peerTimeout      time.Duration
	discoveryTimeout time.Duration
	serverTimeout    time.Duration
	scope            string
	log              *logrus.Logger

	group singleflight.Group
	stats counters
}

// New creates a Cascade.
func New(opts Options) *Cascade {
	if opts.PeerTimeout <= 0 {
		opts.PeerTimeout = DefaultPeerTimeout
	}
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if opts.ServerTimeout <= 0 {
		opts.ServerTimeout = DefaultServerTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Cascade{
		cache:            opts.Cache,
		store:            opts.Store,
		transport:        opts.Transport,
		directory:        opts.Directory,
		origin:           opts.Origin,
		peerTimeout:      opts.PeerTimeout,
		discoveryTimeout: opts.DiscoveryTimeout,
		serverTimeout:    opts.ServerTimeout,
		scope:            opts.Scope,
		log:              opts.Logger,
	}
}

// Resolve returns the block for hash, or nil, nil if no layer has it.
// Errors are returned only for a locked store or a cancelled context.
func (c *Cascade) Resolve(ctx context.Context, hash block.Hash) ([]byte, error) {
	return c.ResolveWith(ctx, hash, ResolveOptions{})
}

// ResolveWith is Resolve with per-request options.
func (c *Cascade) ResolveWith(ctx context.Context, hash block.Hash, opts ResolveOptions) ([]byte, error) {
	if c.store == nil {
		return nil, ErrNoLocalStore
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Tier == 0 {
		opts.Tier = block.DefaultFetchTier
	}
	if !opts.Tier.Valid() {
		return nil, fmt.Errorf("resolve: %w", block.ErrInvalidTier)
	}
	if opts.Scope == "" {
		opts.Scope = c.scope
	}

	// L0
	if c.cache != nil {
		if data, ok := c.cache.Get(hash); ok {
			c.stats.hit(LayerMemory)
			return data, nil
		}
		c.stats.miss(LayerMemory)
	}

	// The flight outlives a caller that gives up; the layer timeouts bound it.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(hash.String(), func() (interface{}, error) {
		return c.resolveRemote(flightCtx, hash, opts)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.stats.shared.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		data, _ := res.Val.([]byte)
		if data == nil {
			return nil, nil
		}
		if res.Shared {
			data = append([]byte(nil), data...)
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolveRemote runs L1..L4. A nil slice with a nil error means unavailable.
func (c *Cascade) resolveRemote(ctx context.Context, hash block.Hash, opts ResolveOptions) ([]byte, error) {
	log := c.log.WithFields(logrus.Fields{"hash": hash.String()})

	// L1
	data, err := c.store.Get(ctx, hash)
	switch {
	case err == nil:
		c.stats.hit(LayerLocal)
		return data, nil
	case errors.Is(err, blockcrypt.ErrKeyUnavailable):
		return nil, err
	default:
		c.stats.miss(LayerLocal)
		log.WithFields(logrus.Fields{"layer": LayerLocal.String()}).WithError(err).Debug("resolve: miss")
	}

	// L2
	if data, ok := c.fromPeers(ctx, hash); ok {
		c.stats.hit(LayerPeers)
		c.persist(ctx, hash, data, opts, LayerPeers)
		return data, nil
	}
	c.stats.miss(LayerPeers)

	// L3
	if c.directory != nil && c.transport != nil {
		dctx, cancel := context.WithTimeout(ctx, c.discoveryTimeout)
		err := c.directory.DiscoverAndConnect(dctx, opts.Scope)
		cancel()
		if err != nil {
			log.WithFields(logrus.Fields{"layer": LayerDiscovery.String()}).WithError(err).Debug("resolve: discovery failed")
		} else if data, ok := c.fromPeers(ctx, hash); ok {
			c.stats.hit(LayerDiscovery)
			c.persist(ctx, hash, data, opts, LayerDiscovery)
			return data, nil
		}
		c.stats.miss(LayerDiscovery)
	}

	// L4
	if c.origin != nil {
		sctx, cancel := context.WithTimeout(ctx, c.serverTimeout)
		data, err := c.origin.FetchBlock(sctx, hash)
		cancel()
		switch {
		case err != nil:
			log.WithFields(logrus.Fields{"layer": LayerOrigin.String()}).WithError(err).Debug("resolve: miss")
		case !hash.Verify(data):
			log.WithFields(logrus.Fields{"layer": LayerOrigin.String()}).Warn("resolve: origin returned data with wrong hash")
		default:
			c.stats.hit(LayerOrigin)
			c.persist(ctx, hash, data, opts, LayerOrigin)
			return data, nil
		}
		c.stats.miss(LayerOrigin)
	}

	c.stats.unavailable.Add(1)
	log.Debug("resolve: unavailable")
	return nil, nil
}

// fromPeers asks every connected peer at once and returns the first reply
// that verifies. Slow peers are cancelled once a winner is found.
func (c *Cascade) fromPeers(ctx context.Context, hash block.Hash) ([]byte, bool) {
	if c.transport == nil {
		return nil, false
	}
	peers := c.transport.ConnectedPeers()
	if len(peers) == 0 {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, c.peerTimeout)
	defer cancel()

	results := make(chan []byte, len(peers))
	remaining := int32(len(peers))
	for _, id := range peers {
		go func() {
			defer func() {
				if atomic.AddInt32(&remaining, -1) == 0 {
					close(results)
				}
			}()
			data, err := c.transport.RequestBlock(ctx, id, hash)
			if err != nil {
				if !errors.Is(err, peer.ErrNotFound) && ctx.Err() == nil {
					c.log.WithFields(logrus.Fields{"hash": hash.String(), "peer": string(id)}).WithError(err).Debug("resolve: peer request failed")
				}
				return
			}
			if err := peer.Verify(hash, data); err != nil {
				c.log.WithFields(logrus.Fields{"hash": hash.String(), "peer": string(id)}).Warn("resolve: peer returned data with wrong hash")
				return
			}
			results <- data
		}()
	}

	select {
	case data, ok := <-results:
		return data, ok
	case <-ctx.Done():
		return nil, false
	}
}

func (c *Cascade) persist(ctx context.Context, hash block.Hash, data []byte, opts ResolveOptions, layer Layer) {
	if err := c.store.PutVerified(ctx, hash, data, opts.Tier, opts.Meta); err != nil {
		c.log.WithFields(logrus.Fields{
			"hash":  hash.String(),
			"layer": layer.String(),
		}).WithError(err).Warn("resolve: could not persist fetched block")
		return
	}
	c.log.WithFields(logrus.Fields{
		"hash":  hash.String(),
		"layer": layer.String(),
		"tier":  opts.Tier.String(),
	}).Debug("resolve: fetched and stored")
}
