// Package vault is the store handle: one encrypted block store in a data
// directory, with its index, memory cache, eviction sweeper and the
// resolution cascade over peers and the origin server.
package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bitfsorg/libblocks-go/blockcrypt"
	"github.com/bitfsorg/libblocks-go/config"
	"github.com/bitfsorg/libblocks-go/discovery"
	"github.com/bitfsorg/libblocks-go/evict"
	"github.com/bitfsorg/libblocks-go/index"
	"github.com/bitfsorg/libblocks-go/memcache"
	"github.com/bitfsorg/libblocks-go/network"
	"github.com/bitfsorg/libblocks-go/peer"
	"github.com/bitfsorg/libblocks-go/resolve"
	"github.com/bitfsorg/libblocks-go/storage"
)

// Layout of a data directory.
const (
	BlocksDir    = "blocks"
	IndexFile    = "index.db"
	LockFileName = "LOCK"
)

// Options configures Open.
type Options struct {
	// DataDir holds the store. Empty means config.DefaultDataDir().
	DataDir string
	// Config overrides the data directory's config.yaml. When nil the file
	// is loaded, or written with defaults if missing.
	Config *config.StoreConfig
	// Logger receives all store logging. Nil creates one at the configured
	// level.
	Logger *logrus.Logger
	// KDF tunes passphrase key derivation. Zero means blockcrypt.DefaultKDFParams.
	KDF blockcrypt.KDFParams

	// Transport overrides the websocket peer transport.
	Transport peer.Transport
	// Directory overrides DNS peer discovery.
	Directory resolve.Directory
	// DNSSECUpstream, when set, resolves directory SRV records through this
	// validating resolver (host:port) instead of the system resolver.
	DNSSECUpstream string
	// Origin overrides the HTTP origin client.
	Origin resolve.Origin
	// Tokens supplies the origin access token per request.
	Tokens network.TokenSource
	// Env holds environment overrides for the origin server
	// (LIBBLOCKS_SERVER_URL, LIBBLOCKS_ACCESS_TOKEN).
	Env map[string]string

	// WatchConfig reloads config.yaml when it changes on disk.
	WatchConfig bool
	// Now overrides the clock.
	Now func() time.Time
}

// Vault is an open store. All methods are safe for concurrent use.
type Vault struct {
	dataDir string
	log     *logrus.Logger
	kdf     blockcrypt.KDFParams
	now     func() time.Time

	lockFile *os.File
	idx      *index.Index
	cache    *memcache.Cache
	store    *storage.BlockStore
	sweeper  *evict.Sweeper
	watcher  *config.Watcher

	ws        *peer.WSTransport
	transport peer.Transport
	env       map[string]string
	tokens    network.TokenSource
	dnssec    string

	fixedDirectory resolve.Directory
	fixedOrigin    resolve.Origin

	mu      sync.RWMutex
	cfg     config.StoreConfig
	key     *blockcrypt.Key
	cascade *resolve.Cascade
	closed  bool
}

// Open opens (creating if needed) the store in opts.DataDir. The store
// starts locked; call Init, InitWithSalt or InitWithKey before reading or
// writing blocks. A second Open of the same directory from another process
// fails with ErrStoreInUse.
func Open(opts Options) (*Vault, error) {
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("vault: create data dir: %w", err)
	}

	lf, err := tryLock(filepath.Join(dataDir, LockFileName))
	if err != nil {
		return nil, err
	}

	v, err := open(dataDir, lf, opts)
	if err != nil {
		releaseLock(lf)
		return nil, err
	}
	return v, nil
}

func open(dataDir string, lf *os.File, opts Options) (*Vault, error) {
	cfg, err := loadConfig(dataDir, opts.Config)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetLevel(cfg.Level())
	}
	if opts.KDF == (blockcrypt.KDFParams{}) {
		opts.KDF = blockcrypt.DefaultKDFParams
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	idx, err := index.Open(filepath.Join(dataDir, IndexFile), index.Options{})
	if err != nil {
		return nil, fmt.Errorf("vault: open index: %w", err)
	}
	files, err := storage.NewFileStore(filepath.Join(dataDir, BlocksDir))
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("vault: open block files: %w", err)
	}

	cache := memcache.New(cfg.MemoryBudgetBytes)
	store := storage.NewBlockStore(files, idx, storage.Options{
		Cache:  cache,
		Logger: log,
		Now:    opts.Now,
	})
	sweeper := evict.New(idx, store, evict.Options{
		Policy:   policyOf(cfg),
		Interval: cfg.SweepInterval,
		Logger:   log,
		Now:      opts.Now,
	})
	store.SetAfterPut(sweeper.Trigger)

	if _, err := store.ReclaimOrphans(context.Background()); err != nil {
		log.WithError(err).Warn("vault: orphan reclaim failed")
	}

	v := &Vault{
		dataDir:        dataDir,
		log:            log,
		kdf:            opts.KDF,
		now:            opts.Now,
		lockFile:       lf,
		idx:            idx,
		cache:          cache,
		store:          store,
		sweeper:        sweeper,
		transport:      opts.Transport,
		env:            opts.Env,
		tokens:         opts.Tokens,
		dnssec:         opts.DNSSECUpstream,
		fixedDirectory: opts.Directory,
		fixedOrigin:    opts.Origin,
		cfg:            cfg,
	}
	if v.transport == nil {
		v.ws = peer.NewWSTransport(peer.WSOptions{
			Responder: peer.NewResponder(store, log),
			Logger:    log,
		})
		v.transport = v.ws
	}
	v.cascade = v.buildCascade(cfg)

	if opts.WatchConfig {
		w, err := config.Watch(config.ConfigPath(dataDir), v.reloadConfig, config.WatchOptions{Logger: log})
		if err != nil {
			v.shutdown()
			return nil, err
		}
		v.watcher = w
	}

	log.WithFields(logrus.Fields{
		"data_dir": dataDir,
		"budget":   cfg.BudgetBytes,
		"cipher":   cfg.Cipher,
	}).Info("vault: opened")
	return v, nil
}

func loadConfig(dataDir string, override *config.StoreConfig) (config.StoreConfig, error) {
	var cfg config.StoreConfig
	if override != nil {
		cfg = *override
	} else {
		path := config.ConfigPath(dataDir)
		loaded, err := config.LoadConfig(path)
		switch {
		case errors.Is(err, config.ErrConfigNotFound):
			cfg = config.DefaultConfig()
			if err := config.SaveConfig(path, cfg); err != nil {
				return cfg, fmt.Errorf("vault: %w", err)
			}
		case err != nil:
			return cfg, fmt.Errorf("vault: %w", err)
		default:
			cfg = loaded
		}
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return cfg, fmt.Errorf("vault: %w", err)
	}
	return cfg, nil
}

func policyOf(cfg config.StoreConfig) evict.Policy {
	return evict.Policy{BudgetBytes: cfg.BudgetBytes, WarmTTL: cfg.WarmTTL()}
}

// buildCascade wires the network layers for cfg. Must be called with mu
// held or before the vault is shared.
func (v *Vault) buildCascade(cfg config.StoreConfig) *resolve.Cascade {
	return resolve.New(resolve.Options{
		Cache:            v.cache,
		Store:            v.store,
		Transport:        v.transport,
		Directory:        v.directoryFor(cfg),
		Origin:           v.originFor(cfg),
		PeerTimeout:      cfg.PeerTimeout,
		DiscoveryTimeout: cfg.DiscoveryTimeout,
		ServerTimeout:    cfg.ServerTimeout,
		Scope:            cfg.DirectoryDomain,
		Logger:           v.log,
	})
}

func (v *Vault) directoryFor(cfg config.StoreConfig) resolve.Directory {
	if v.fixedDirectory != nil {
		return v.fixedDirectory
	}
	if cfg.DirectoryDomain == "" || v.ws == nil {
		return nil
	}
	var resolver discovery.DNSResolver = discovery.DefaultDNSResolver
	if v.dnssec != "" {
		resolver = discovery.NewDNSSECResolver(v.dnssec)
	}
	return discovery.NewDNSDirectory(cfg.DirectoryDomain, resolver, v.ws, v.log)
}

func (v *Vault) originFor(cfg config.StoreConfig) resolve.Origin {
	if v.fixedOrigin != nil {
		return v.fixedOrigin
	}
	sc, err := network.ResolveConfig(nil, v.env, network.ServerConfig{
		URL:     cfg.ServerBaseURL,
		Timeout: cfg.ServerTimeout,
	})
	if err != nil {
		if !errors.Is(err, network.ErrNoServerConfigured) {
			v.log.WithError(err).Warn("vault: origin disabled")
		}
		return nil
	}
	return network.NewOriginClient(*sc, v.tokens)
}

// DataDir returns the store's data directory.
func (v *Vault) DataDir() string { return v.dataDir }

// Logger returns the vault's logger.
func (v *Vault) Logger() *logrus.Logger { return v.log }

// PeerHandler serves incoming peer connections on peer.WSPath. It is nil
// when a custom transport was supplied.
func (v *Vault) PeerHandler() http.Handler {
	if v.ws == nil {
		return nil
	}
	return v.ws.Handler()
}

// PeerTransport returns the transport used for L2.
func (v *Vault) PeerTransport() peer.Transport { return v.transport }

// Close locks the store and releases every resource, including the data
// directory lock. Safe to call more than once.
func (v *Vault) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	return v.shutdown()
}

func (v *Vault) shutdown() error {
	if v.watcher != nil {
		_ = v.watcher.Close()
	}
	v.sweeper.Stop()
	v.lock()
	if v.ws != nil {
		_ = v.ws.Close()
	}
	err := v.idx.Close()
	releaseLock(v.lockFile)
	if err != nil {
		return fmt.Errorf("vault: close index: %w", err)
	}
	v.log.WithFields(logrus.Fields{"data_dir": v.dataDir}).Info("vault: closed")
	return nil
}

func (v *Vault) checkOpen() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return ErrClosed
	}
	return nil
}

// currentCascade returns the cascade for the active configuration.
func (v *Vault) currentCascade() (*resolve.Cascade, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, ErrClosed
	}
	return v.cascade, nil
}
