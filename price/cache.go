// Package price tracks the chain's reference gas price across epoch
// transitions, suspending callers that straddle an epoch boundary instead
// of handing back a value that's about to go stale.
package price

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/chainsponsor/gasstation/metrics"
	"github.com/chainsponsor/gasstation/rpc"
)

const (
	defaultEpochBoundaryWindow = time.Second
	defaultMaxBoundaryWait     = 30 * time.Second
	defaultRetryInterval       = 5 * time.Second
)

// entry is an immutable snapshot of the cached reference price. Refresh
// replaces it wholesale; nothing ever mutates an entry in place.
type entry struct {
	price      *uint256.Int
	epoch      string
	expiration int64 // unix millis
	fetchedAt  int64 // unix millis
}

// Config fixes the cache's boundary-handling parameters.
type Config struct {
	// EpochBoundaryWindow is the pre/post-boundary quiet window during
	// which Get suspends rather than returning a soon-to-expire price.
	EpochBoundaryWindow time.Duration

	// MaxBoundaryWait caps how long Get will ever suspend for, guarding
	// against clock skew producing an unbounded wait.
	MaxBoundaryWait time.Duration

	// RetryInterval bounds how often Get may retry a previously failed
	// opportunistic revalidation; enforced with a rate.Limiter rather than
	// retried unconditionally on every call.
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.EpochBoundaryWindow <= 0 {
		c.EpochBoundaryWindow = defaultEpochBoundaryWindow
	}
	if c.MaxBoundaryWait <= 0 {
		c.MaxBoundaryWait = defaultMaxBoundaryWait
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaultRetryInterval
	}
	return c
}

// OnEpochChange is invoked by Refresh when the fetched epoch differs from
// the previously cached one, typically wired to Pool.Revalidate.
type OnEpochChange func(ctx context.Context) error

// Cache holds the current reference price entry, refreshing it from the
// chain's system-state RPC and suspending callers across epoch boundaries.
type Cache struct {
	mu  sync.RWMutex
	cfg Config
	cur *entry

	needsRevalidation bool

	onEpochChange OnEpochChange
	group         singleflight.Group
	retryLimiter  *rate.Limiter
	now           func() time.Time
	sleep         func(context.Context, time.Duration) error
}

// New constructs a Cache. onEpochChange may be nil if nothing needs to be
// notified of epoch transitions.
func New(cfg Config, onEpochChange OnEpochChange) *Cache {
	cfg = cfg.withDefaults()
	return &Cache{
		cfg:           cfg,
		onEpochChange: onEpochChange,
		retryLimiter:  rate.NewLimiter(rate.Every(cfg.RetryInterval), 1),
		now:           time.Now,
		sleep:         ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Get returns the current reference price, fetching it first if the cache
// is empty. If a prior Refresh call flagged needsRevalidation, Get retries
// that revalidation opportunistically, bounded to at most one attempt per
// RetryInterval. If the cached entry is inside its boundary window, Get
// suspends until the window clears (capped at MaxBoundaryWait) before
// returning.
func (c *Cache) Get(ctx context.Context, client rpc.Client) (*uint256.Int, error) {
	c.maybeRetryRevalidation(ctx)

	c.mu.RLock()
	cur := c.cur
	c.mu.RUnlock()

	if cur == nil {
		if err := c.Refresh(ctx, client); err != nil {
			return nil, err
		}
		c.mu.RLock()
		cur = c.cur
		c.mu.RUnlock()
	}

	now := c.now().UnixMilli()
	boundaryStart := cur.expiration - c.cfg.EpochBoundaryWindow.Milliseconds()
	if now < boundaryStart {
		return cur.price, nil
	}

	wait := cur.expiration + c.cfg.EpochBoundaryWindow.Milliseconds() - now
	if wait < time.Second.Milliseconds() {
		wait = time.Second.Milliseconds()
	}
	if cap := c.cfg.MaxBoundaryWait.Milliseconds(); wait > cap {
		wait = cap
	}

	log.Debug("price cache suspending across epoch boundary", "waitMs", wait)
	if err := c.sleep(ctx, time.Duration(wait)*time.Millisecond); err != nil {
		return nil, fmt.Errorf("gasstation/price: boundary wait: %w", err)
	}

	if err := c.Refresh(ctx, client); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur.price, nil
}

func (c *Cache) maybeRetryRevalidation(ctx context.Context) {
	c.mu.RLock()
	needs := c.needsRevalidation
	c.mu.RUnlock()
	if !needs || c.onEpochChange == nil {
		return
	}
	if !c.retryLimiter.Allow() {
		log.Debug("price cache suppressing opportunistic revalidation retry, limiter not ready")
		return
	}
	if err := c.onEpochChange(ctx); err != nil {
		log.Debug("opportunistic revalidation retry failed", "err", err)
		return
	}
	c.mu.Lock()
	c.needsRevalidation = false
	c.mu.Unlock()
}

// Refresh fetches the chain's current system state, coalescing concurrent
// callers into a single RPC round trip via singleflight, and replaces the
// cached entry. If the fetched epoch differs from the previous one,
// onEpochChange is invoked; a failure there sets needsRevalidation instead
// of failing Refresh itself.
func (c *Cache) Refresh(ctx context.Context, client rpc.Client) error {
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		state, err := client.CurrentSystemState(ctx)
		if err != nil {
			return nil, fmt.Errorf("gasstation/price: refresh: %w", err)
		}

		next := &entry{
			price:      uint256.NewInt(state.ReferencePrice),
			epoch:      state.Epoch,
			expiration: state.EpochStartMs + state.EpochDurationMs,
			fetchedAt:  c.now().UnixMilli(),
		}

		c.mu.Lock()
		prevEpoch := ""
		if c.cur != nil {
			prevEpoch = c.cur.epoch
		}
		c.cur = next
		c.mu.Unlock()

		metrics.ReferencePrice.Set(float64(state.ReferencePrice))

		if prevEpoch != "" && prevEpoch != next.epoch && c.onEpochChange != nil {
			if err := c.onEpochChange(ctx); err != nil {
				log.Warn("pool revalidation after epoch transition failed, will retry opportunistically", "err", err)
				c.mu.Lock()
				c.needsRevalidation = true
				c.mu.Unlock()
			}
		}
		return nil, nil
	})
	return err
}
