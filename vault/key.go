package vault

import (
	"errors"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/sirupsen/logrus"

	"github.com/bitfsorg/libblocks-go/block"
	"github.com/bitfsorg/libblocks-go/blockcrypt"
	"github.com/bitfsorg/libblocks-go/index"
)

// canaryPlaintext is sealed under the store key at first unlock. Opening it
// later proves the same key was derived.
var canaryPlaintext = []byte("libblocks store key check v1")

// Init unlocks the store with a passphrase. On first use it generates and
// persists a salt; afterwards it re-derives the key from the stored salt.
// A passphrase that does not match the one used at first unlock returns
// ErrWrongPassphrase.
func (v *Vault) Init(passphrase string) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	salt, err := v.idx.Salt()
	if err != nil {
		return fmt.Errorf("vault: read salt: %w", err)
	}
	if salt == nil {
		if salt, err = blockcrypt.GenerateSalt(); err != nil {
			return err
		}
	}
	return v.InitWithSalt(passphrase, salt)
}

// InitWithSalt unlocks the store with a passphrase and a caller-provided
// salt. If the store already has a different salt it fails with
// index.ErrSaltExists.
func (v *Vault) InitWithSalt(passphrase string, salt []byte) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	existing, err := v.idx.Salt()
	if err != nil {
		return fmt.Errorf("vault: read salt: %w", err)
	}
	if existing != nil && string(existing) != string(salt) {
		return fmt.Errorf("vault: %w", index.ErrSaltExists)
	}

	key, err := blockcrypt.DeriveKey(passphrase, salt, v.kdf)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	return v.unlockWithSalt(key, salt, existing == nil)
}

// unlockWithSalt persists a fresh salt before the canary is sealed, so a
// canary never exists without the salt that produced its key.
func (v *Vault) unlockWithSalt(key *blockcrypt.Key, salt []byte, fresh bool) error {
	if fresh {
		if err := v.idx.SetSalt(salt); err != nil {
			key.Zero()
			return fmt.Errorf("vault: persist salt: %w", err)
		}
	}
	if err := v.unlock(key); err != nil {
		key.Zero()
		return err
	}
	return nil
}

// InitWithIdentity unlocks the store with a key derived from an identity
// private key and the store salt.
func (v *Vault) InitWithIdentity(identity *ec.PrivateKey) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	salt, err := v.idx.Salt()
	if err != nil {
		return fmt.Errorf("vault: read salt: %w", err)
	}
	fresh := salt == nil
	if fresh {
		if salt, err = blockcrypt.GenerateSalt(); err != nil {
			return err
		}
	}
	key, err := blockcrypt.DeriveKeyFromIdentity(identity, salt)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	return v.unlockWithSalt(key, salt, fresh)
}

// InitWithKey unlocks the store with a ready key. The vault takes
// ownership of key and zeroes it on Lock or Close.
func (v *Vault) InitWithKey(key *blockcrypt.Key) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	if !key.Available() {
		return ErrLocked
	}
	return v.unlock(key)
}

func (v *Vault) unlock(key *blockcrypt.Key) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}

	version, err := v.cfg.CipherVersion()
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	codec, err := blockcrypt.NewCodec(key, version)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if err := v.checkCanary(codec); err != nil {
		return err
	}

	if v.key != nil && v.key != key {
		v.key.Zero()
	}
	v.key = key
	v.store.SetCodec(codec)
	v.log.WithFields(logrus.Fields{"cipher": version.String()}).Info("vault: unlocked")
	return nil
}

// checkCanary opens the stored canary, or seals and stores a new one on
// first unlock.
func (v *Vault) checkCanary(codec *blockcrypt.Codec) error {
	canaryHash := block.Sum(canaryPlaintext)
	sealed, err := v.idx.Canary()
	if err != nil {
		return fmt.Errorf("vault: read canary: %w", err)
	}
	if sealed == nil {
		sealed, err := codec.Seal(canaryHash, canaryPlaintext)
		if err != nil {
			return fmt.Errorf("vault: seal canary: %w", err)
		}
		if err := v.idx.SetCanary(sealed); err != nil {
			return fmt.Errorf("vault: persist canary: %w", err)
		}
		return nil
	}

	pt, err := codec.Open(canaryHash, sealed)
	if err != nil {
		if errors.Is(err, blockcrypt.ErrCorrupt) {
			return ErrWrongPassphrase
		}
		return fmt.Errorf("vault: open canary: %w", err)
	}
	if string(pt) != string(canaryPlaintext) {
		return ErrWrongPassphrase
	}
	return nil
}

// Lock zeroes the key and drops cached plaintext. Operations that need the
// key return ErrLocked until the store is unlocked again.
func (v *Vault) Lock() {
	v.lock()
}

func (v *Vault) lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.store.SetCodec(nil)
	v.cache.Purge()
	if v.key != nil {
		v.key.Zero()
		v.key = nil
		v.log.Info("vault: locked")
	}
}

// Locked reports whether the store key is unavailable.
func (v *Vault) Locked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return !v.key.Available()
}
