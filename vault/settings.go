package vault

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bitfsorg/libblocks-go/blockcrypt"
	"github.com/bitfsorg/libblocks-go/config"
	"github.com/bitfsorg/libblocks-go/evict"
)

// Config returns the active configuration.
func (v *Vault) Config() config.StoreConfig {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cfg
}

// SetConfig validates and applies a partial configuration change, writes
// it to config.yaml and reschedules the sweeper so a lowered budget takes
// effect immediately.
func (v *Vault) SetConfig(update config.Update) error {
	cfg, err := v.applyConfig(update)
	if err != nil {
		return err
	}
	if err := config.SaveConfig(config.ConfigPath(v.dataDir), cfg); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	return nil
}

// reloadConfig is the watcher callback for an edited config.yaml.
func (v *Vault) reloadConfig(cfg config.StoreConfig) {
	update := config.Diff(v.Config(), cfg)
	if update.Empty() {
		return
	}
	if _, err := v.applyConfig(update); err != nil {
		v.log.WithError(err).Warn("vault: reloaded configuration rejected")
	}
}

func (v *Vault) applyConfig(update config.Update) (config.StoreConfig, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return config.StoreConfig{}, ErrClosed
	}

	cfg := update.Apply(v.cfg)
	if err := config.ValidateConfig(cfg); err != nil {
		return v.cfg, fmt.Errorf("vault: %w", err)
	}
	if update.Empty() {
		return cfg, nil
	}
	prev := v.cfg

	if cfg.Cipher != prev.Cipher && v.key.Available() {
		version, _ := cfg.CipherVersion()
		codec, err := blockcrypt.NewCodec(v.key, version)
		if err != nil {
			return prev, fmt.Errorf("vault: %w", err)
		}
		v.store.SetCodec(codec)
	}
	if cfg.LogLevel != prev.LogLevel {
		v.log.SetLevel(cfg.Level())
	}
	if cfg.MemoryBudgetBytes != prev.MemoryBudgetBytes {
		v.cache.Resize(cfg.MemoryBudgetBytes)
	}
	if cfg.SweepInterval != prev.SweepInterval {
		v.sweeper.SetInterval(cfg.SweepInterval)
	}
	if cfg.PeerTimeout != prev.PeerTimeout ||
		cfg.DiscoveryTimeout != prev.DiscoveryTimeout ||
		cfg.ServerTimeout != prev.ServerTimeout ||
		cfg.ServerBaseURL != prev.ServerBaseURL ||
		cfg.DirectoryDomain != prev.DirectoryDomain {
		v.cascade = v.buildCascade(cfg)
	}
	v.cfg = cfg
	if cfg.BudgetBytes != prev.BudgetBytes || cfg.WarmTTLDays != prev.WarmTTLDays {
		v.sweeper.SetPolicy(policyOf(cfg))
		if !v.sweeper.Running() && (cfg.BudgetBytes < prev.BudgetBytes || cfg.WarmTTLDays < prev.WarmTTLDays) {
			// No loop to pick up the trigger; enforce the tighter policy now.
			if _, err := v.sweeper.Sweep(context.Background()); err != nil {
				v.log.WithError(err).Error("vault: sweep after configuration change failed")
			}
		}
	}

	v.log.WithFields(logrus.Fields{
		"budget":        cfg.BudgetBytes,
		"warm_ttl_days": cfg.WarmTTLDays,
	}).Info("vault: configuration updated")
	return cfg, nil
}

// StartEvictionSweep starts the periodic sweeper. Calling it while the
// sweeper runs is a no-op.
func (v *Vault) StartEvictionSweep() {
	if v.checkOpen() != nil {
		return
	}
	v.sweeper.Start()
}

// StopEvictionSweep stops the periodic sweeper and waits for a sweep in
// progress to finish.
func (v *Vault) StopEvictionSweep() {
	v.sweeper.Stop()
}

// SweepNow runs one sweep synchronously.
func (v *Vault) SweepNow(ctx context.Context) (evict.Report, error) {
	if err := v.checkOpen(); err != nil {
		return evict.Report{}, err
	}
	return v.sweeper.Sweep(ctx)
}
