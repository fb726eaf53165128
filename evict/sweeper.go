// Package evict keeps the local block store inside its byte budget.
//
// A sweep runs two passes. The TTL pass drops evictable blocks that have
// not been accessed within the warm TTL. The budget pass then deletes
// evictable blocks in tier order (P4, then P3, then P2), least recently
// accessed first within a tier, until usage is back under budget. P1 blocks
// are never deleted; if they alone exceed the budget the sweep reports it
// and logs a warning.
package evict

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bitfsorg/libblocks-go/block"
	"github.com/bitfsorg/libblocks-go/index"
)

const (
	// DefaultInterval is the period between scheduled sweeps.
	DefaultInterval = 60 * time.Second

	defaultPageSize = 256
)

// Catalog is the read side of the metadata index the sweeper needs.
type Catalog interface {
	AggregateUsage() (index.Usage, error)
	ListByTierLRU(tier block.Tier, limit int) ([]index.Entry, error)
	ListExpired(tier block.Tier, cutoff time.Time, limit int) ([]index.Entry, error)
}

// Deleter removes a block from the store, index row first.
type Deleter interface {
	Delete(ctx context.Context, hash block.Hash) error
}

var _ Catalog = (*index.Index)(nil)

// Policy is the storage budget. A non-positive BudgetBytes disables the
// budget pass; a zero WarmTTL disables the TTL pass.
type Policy struct {
	BudgetBytes int64
	WarmTTL     time.Duration
}

// Report summarises one sweep.
type Report struct {
	Expired    int           `json:"expired"`
	Evicted    int           `json:"evicted"`
	FreedBytes int64         `json:"freed_bytes"`
	TotalAfter int64         `json:"total_after"`
	OverBudget bool          `json:"over_budget"`
	Duration   time.Duration `json:"duration"`
}

// Options configures a Sweeper.
type Options struct {
	Policy   Policy
	Interval time.Duration
	Logger   *logrus.Logger
	Now      func() time.Time
	// PageSize bounds how many entries are listed per index query.
	PageSize int
}

// Sweeper runs sweeps on demand and on a ticker.
type Sweeper struct {
	catalog Catalog
	deleter Deleter
	log     *logrus.Logger
	now     func() time.Time
	page    int

	mu       sync.Mutex
	policy   Policy
	interval time.Duration
	last     Report
	lastAt   time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	kick     chan struct{}

	sweepMu sync.Mutex
}

// New creates a stopped Sweeper.
func New(catalog Catalog, deleter Deleter, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	return &Sweeper{
		catalog:  catalog,
		deleter:  deleter,
		log:      opts.Logger,
		now:      opts.Now,
		page:     opts.PageSize,
		policy:   opts.Policy,
		interval: opts.Interval,
		kick:     make(chan struct{}, 1),
	}
}

// Policy returns the current policy.
func (s *Sweeper) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SetPolicy replaces the policy and, if the sweeper is running, sweeps
// immediately so a lowered budget takes effect without waiting a period.
func (s *Sweeper) SetPolicy(p Policy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
	s.Trigger()
}

// SetInterval changes the sweep period. The running ticker is restarted.
func (s *Sweeper) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
	s.Trigger()
}

// LastReport returns the most recent sweep report and when it finished.
func (s *Sweeper) LastReport() (Report, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastAt
}

// Running reports whether the background loop is active.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Start launches the background loop. Calling Start on a running sweeper
// is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done, s.interval)
	s.log.WithFields(logrus.Fields{"interval": s.interval.String()}).Info("evict: sweeper started")
}

// Stop halts the loop and waits for an in-flight sweep. Idempotent.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("evict: sweeper stopped")
}

// Trigger asks the running loop for an out-of-band sweep. It never blocks;
// requests made while one is pending are merged.
func (s *Sweeper) Trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}, interval time.Duration) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
			s.mu.Lock()
			interval = s.interval
			s.mu.Unlock()
			ticker.Reset(interval)
		}
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("evict: sweep failed")
		}
	}
}

// Sweep runs one TTL pass and one budget pass. Exceeding the budget with
// only P1 content left is reported in the Report, not as an error.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := s.now()
	p := s.Policy()
	var r Report

	if p.WarmTTL > 0 {
		if err := s.expire(ctx, p, &r); err != nil {
			return r, err
		}
	}

	usage, err := s.catalog.AggregateUsage()
	if err != nil {
		return r, fmt.Errorf("evict: usage: %w", err)
	}
	total := usage.TotalBytes

	if p.BudgetBytes > 0 && total > p.BudgetBytes {
		total, err = s.shrink(ctx, p, total, &r)
		if err != nil {
			return r, err
		}
	}

	r.TotalAfter = total
	r.OverBudget = p.BudgetBytes > 0 && total > p.BudgetBytes
	r.Duration = s.now().Sub(start)

	fields := logrus.Fields{
		"expired": r.Expired,
		"evicted": r.Evicted,
		"freed":   r.FreedBytes,
		"total":   r.TotalAfter,
		"budget":  p.BudgetBytes,
	}
	switch {
	case r.OverBudget:
		s.log.WithFields(fields).Warn("evict: budget_exhausted, never-evict content exceeds the budget")
	case r.Expired+r.Evicted > 0:
		s.log.WithFields(fields).Info("evict: sweep freed space")
	default:
		s.log.WithFields(fields).Debug("evict: sweep found nothing to do")
	}

	s.mu.Lock()
	s.last, s.lastAt = r, s.now()
	s.mu.Unlock()
	return r, nil
}

// expire deletes evictable entries last accessed before now - WarmTTL.
func (s *Sweeper) expire(ctx context.Context, p Policy, r *Report) error {
	cutoff := s.now().Add(-p.WarmTTL)
	for _, tier := range block.EvictionOrder() {
		for {
			entries, err := s.catalog.ListExpired(tier, cutoff, s.page)
			if err != nil {
				return fmt.Errorf("evict: list expired %s: %w", tier, err)
			}
			for _, e := range entries {
				if err := s.remove(ctx, e); err != nil {
					return err
				}
				r.Expired++
				r.FreedBytes += e.Size
			}
			if len(entries) < s.page {
				break
			}
		}
	}
	return nil
}

// shrink evicts in tier order until total <= budget or nothing evictable
// remains. Returns the new total.
func (s *Sweeper) shrink(ctx context.Context, p Policy, total int64, r *Report) (int64, error) {
	for _, tier := range block.EvictionOrder() {
		for total > p.BudgetBytes {
			entries, err := s.catalog.ListByTierLRU(tier, s.page)
			if err != nil {
				return total, fmt.Errorf("evict: list %s: %w", tier, err)
			}
			if len(entries) == 0 {
				break
			}
			for _, e := range entries {
				if total <= p.BudgetBytes {
					break
				}
				if err := s.remove(ctx, e); err != nil {
					return total, err
				}
				r.Evicted++
				r.FreedBytes += e.Size
				total -= e.Size
			}
		}
		if total <= p.BudgetBytes {
			break
		}
	}
	return total, nil
}

func (s *Sweeper) remove(ctx context.Context, e index.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.Tier.Evictable() {
		return nil
	}
	if err := s.deleter.Delete(ctx, e.Hash); err != nil {
		return fmt.Errorf("evict: delete %s: %w", e.Hash, err)
	}
	s.log.WithFields(logrus.Fields{
		"hash": e.Hash.String(),
		"tier": e.Tier.String(),
		"size": e.Size,
	}).Debug("evict: block removed")
	return nil
}
