// Package pool implements the coin pool: a set of pre-sized fee coins with
// short-lived, mutually-exclusive reservations. It is the component that
// keeps gas-station sponsorship safe against object equivocation -- the
// chain penalty for two transactions referencing the same object version.
package pool

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/chainsponsor/gasstation/metrics"
	"github.com/chainsponsor/gasstation/rpc"
	"github.com/chainsponsor/gasstation/signer"
	"github.com/chainsponsor/gasstation/txcodec"
)

// Config fixes the pool's sizing and timing parameters at construction.
type Config struct {
	// TargetPoolSize is how many coins the pool tries to hold. Default 20.
	TargetPoolSize int

	// TargetCoinBalance is the balance a freshly split coin is given, and
	// the split point above which an on-chain coin is considered a
	// splittable "source" coin (> 2x this value) rather than directly
	// usable.
	TargetCoinBalance *uint256.Int

	// MinCoinBalance is the floor below which a coin is dropped from the
	// pool rather than recycled. Default ~10% of TargetCoinBalance.
	MinCoinBalance *uint256.Int

	// ReservationTimeout bounds how long a coin may stay Reserved before
	// SweepExpired deletes it. Default 30s.
	ReservationTimeout time.Duration

	// RevalidateConcurrency bounds how many BatchGetObjects chunks
	// Revalidate fetches concurrently. Default 4.
	RevalidateConcurrency int

	// RevalidateChunkSize bounds how many object IDs go into one
	// BatchGetObjects call during Revalidate. Default 50.
	RevalidateChunkSize int
}

// DefaultConfig returns a Config with every field but TargetCoinBalance
// populated. TargetCoinBalance is chain-dependent and has no sane default;
// callers must set it (and may leave MinCoinBalance nil to get ~10% of it).
func DefaultConfig() Config {
	return Config{
		TargetPoolSize:        20,
		ReservationTimeout:    30 * time.Second,
		RevalidateConcurrency: 4,
		RevalidateChunkSize:   50,
	}
}

func (c Config) withDefaults() Config {
	if c.TargetPoolSize <= 0 {
		c.TargetPoolSize = 20
	}
	if c.ReservationTimeout <= 0 {
		c.ReservationTimeout = 30 * time.Second
	}
	if c.RevalidateConcurrency <= 0 {
		c.RevalidateConcurrency = 4
	}
	if c.RevalidateChunkSize <= 0 {
		c.RevalidateChunkSize = 50
	}
	if c.MinCoinBalance == nil && c.TargetCoinBalance != nil {
		c.MinCoinBalance = new(uint256.Int).Div(c.TargetCoinBalance, uint256.NewInt(10))
	}
	return c
}

// Stats is a point-in-time snapshot of the pool's size and balance.
type Stats struct {
	Total        int
	Available    int
	Reserved     int
	TotalBalance *uint256.Int
}

// Pool owns a set of CoinEntries, keyed by objectID, and issues short-lived
// reservations against them. All mutating operations are internally atomic
// with respect to each other, guarded by a single RWMutex -- the same
// single-lock discipline the teacher's peer.network type uses for its
// outstanding-request map, since every pool mutation here is short and
// uncontended.
type Pool struct {
	mu      sync.RWMutex
	cfg     Config
	entries map[string]*CoinEntry
	order   []string // insertion order, for deterministic "first found" scans

	now      func() time.Time
	objCache *objectStateCache
}

// Option configures optional Pool behavior.
type Option func(*Pool)

// WithClock overrides the pool's time source. Tests use this to advance
// time deterministically instead of sleeping.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New constructs an empty Pool. Call Initialize before any Reserve.
func New(cfg Config, opts ...Option) *Pool {
	p := &Pool{
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*CoinEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.objCache = newObjectStateCache(p.now)
	return p
}

// Stats returns a point-in-time snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	s := Stats{TotalBalance: new(uint256.Int)}
	for _, id := range p.order {
		e, ok := p.entries[id]
		if !ok {
			continue
		}
		s.Total++
		if e.Status == Reserved {
			s.Reserved++
		} else {
			s.Available++
		}
		s.TotalBalance.Add(s.TotalBalance, e.Balance)
	}
	return s
}

func (p *Pool) reportMetricsLocked() {
	s := p.statsLocked()
	metrics.PoolTotal.Set(float64(s.Total))
	metrics.PoolAvailable.Set(float64(s.Available))
	metrics.PoolReserved.Set(float64(s.Reserved))
	f, _ := new(big.Float).SetInt(s.TotalBalance.ToBig()).Float64()
	metrics.PoolTotalBalance.Set(f)
}

// Reserve sweeps expired reservations, then scans entries in insertion
// order for the first Available coin whose balance is at least minBalance
// (MinCoinBalance if minBalance is nil). On a match, marks it Reserved and
// returns a snapshot copy -- never a live pointer into the pool -- plus
// true. Returns the zero CoinEntry and false if no coin qualifies.
func (p *Pool) Reserve(minBalance *uint256.Int) (CoinEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if expired := p.sweepExpiredLocked(p.now()); len(expired) > 0 {
		log.Debug("swept expired reservations before reserve", "count", len(expired))
		p.reportMetricsLocked()
	}

	threshold := minBalance
	if threshold == nil {
		threshold = p.cfg.MinCoinBalance
	}

	for _, id := range p.order {
		e, ok := p.entries[id]
		if !ok || e.Status != Available {
			continue
		}
		if threshold != nil && e.Balance.Cmp(threshold) < 0 {
			continue
		}
		e.Status = Reserved
		e.ReservedAt = p.now()
		p.reportMetricsLocked()
		return e.clone(), true
	}
	return CoinEntry{}, false
}

// Release is idempotent: if objectID is tracked and Reserved, flips it
// back to Available and clears ReservedAt. Otherwise a no-op.
func (p *Pool) Release(objectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[objectID]
	if !ok || e.Status != Reserved {
		return
	}
	metrics.ReservationDuration.Observe(p.now().Sub(e.ReservedAt).Seconds())
	e.Status = Available
	e.ReservedAt = time.Time{}
	p.reportMetricsLocked()
}

// UpdateFromEffects applies a transaction's post-execution effects to the
// entry tracked under objectID. A no-op if objectID isn't tracked. If the
// effects' gas object doesn't match objectID, the entry is deleted outright
// -- its real on-chain state is now unknown. Otherwise the consumed fee is
// deducted (clamped at zero) and the entry is kept Available if its new
// balance still clears MinCoinBalance, deleted otherwise.
func (p *Pool) UpdateFromEffects(effects rpc.Effects, objectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[objectID]
	if !ok {
		return
	}

	if effects.GasObject.Reference.ObjectID != objectID {
		log.Warn("effects reference a different coin than was reserved, dropping entry",
			"reserved", objectID, "effectsObjectId", effects.GasObject.Reference.ObjectID)
		p.deleteLocked(objectID)
		p.reportMetricsLocked()
		return
	}

	if e.Status == Available {
		// Already applied by an earlier call for this reservation; a retried
		// or duplicated report must not deduct the fee twice.
		return
	}

	metrics.ReservationDuration.Observe(p.now().Sub(e.ReservedAt).Seconds())

	gu := effects.GasUsed
	consumed := gu.ComputationCost + gu.StorageCost - gu.StorageRebate + gu.NonRefundableStorageFee

	newBalance := new(big.Int).Sub(e.Balance.ToBig(), big.NewInt(consumed))
	if newBalance.Sign() < 0 {
		newBalance.SetInt64(0)
	}

	balance, overflow := uint256.FromBig(newBalance)
	if overflow {
		log.Error("computed balance overflowed uint256, dropping entry", "objectId", objectID)
		p.deleteLocked(objectID)
		p.reportMetricsLocked()
		return
	}

	if p.cfg.MinCoinBalance != nil && balance.Cmp(p.cfg.MinCoinBalance) < 0 {
		p.deleteLocked(objectID)
		p.reportMetricsLocked()
		return
	}

	ref := effects.GasObject.Reference
	e.Version = ref.Version
	e.Digest = ref.Digest
	e.Balance = balance
	e.Status = Available
	e.ReservedAt = time.Time{}
	p.reportMetricsLocked()
}

// SweepExpired deletes every Reserved entry whose reservation has outlived
// ReservationTimeout and returns their object IDs. Expired reservations are
// deleted, never recycled to Available: the pool cannot tell whether a
// silent client already submitted the transaction, and reusing a stale
// reference risks equivocation.
func (p *Pool) SweepExpired(now time.Time) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	expired := p.sweepExpiredLocked(now)
	if len(expired) > 0 {
		p.reportMetricsLocked()
	}
	return expired
}

func (p *Pool) sweepExpiredLocked(now time.Time) []string {
	var expired []string
	for _, id := range p.order {
		e, ok := p.entries[id]
		if !ok || e.Status != Reserved {
			continue
		}
		if now.Sub(e.ReservedAt) > p.cfg.ReservationTimeout {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		metrics.ReservationDuration.Observe(now.Sub(p.entries[id].ReservedAt).Seconds())
		p.deleteLocked(id)
	}
	return expired
}

// deleteLocked removes objectID from both the map and the order slice.
// Callers must hold p.mu for writing.
func (p *Pool) deleteLocked(objectID string) {
	delete(p.entries, objectID)
	for i, id := range p.order {
		if id == objectID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Revalidate re-fetches the on-chain state of every tracked coin, usually
// called after an epoch transition. Reserved entries are left untouched --
// their report is still pending, and overwriting their reference mid-flight
// would break the identity check in a later UpdateFromEffects. Entries no
// longer found on-chain are removed.
func (p *Pool) Revalidate(ctx context.Context, client rpc.Client) error {
	ids := p.snapshotIDs()
	if len(ids) == 0 {
		return nil
	}

	states, err := p.fetchObjectStates(ctx, client, ids)
	if err != nil {
		return fmt.Errorf("gasstation/pool: revalidate: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, state := range states {
		e, ok := p.entries[state.ObjectID]
		if !ok || e.Status == Reserved {
			continue
		}
		if !state.Found {
			p.deleteLocked(state.ObjectID)
			continue
		}
		e.Version = state.Version
		e.Digest = state.Digest
		e.Balance = uint256.NewInt(state.Balance)
	}
	p.reportMetricsLocked()
	return nil
}

func (p *Pool) snapshotIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, len(p.order))
	copy(ids, p.order)
	return ids
}

// fetchObjectStates resolves ids to their current on-chain state, serving
// recent lookups from the short-TTL object cache and fanning the rest out
// across bounded concurrency via errgroup, chunked to respect the RPC's
// batch size.
func (p *Pool) fetchObjectStates(ctx context.Context, client rpc.Client, ids []string) ([]rpc.ObjectState, error) {
	results := make([]rpc.ObjectState, 0, len(ids))
	var toFetch []string
	for _, id := range ids {
		if state, ok := p.objCache.get(id); ok {
			results = append(results, state)
			continue
		}
		toFetch = append(toFetch, id)
	}
	if len(toFetch) == 0 {
		return results, nil
	}

	var chunks [][]string
	for i := 0; i < len(toFetch); i += p.cfg.RevalidateChunkSize {
		end := i + p.cfg.RevalidateChunkSize
		if end > len(toFetch) {
			end = len(toFetch)
		}
		chunks = append(chunks, toFetch[i:end])
	}

	fetched := make([][]rpc.ObjectState, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.RevalidateConcurrency)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			states, err := client.BatchGetObjects(gctx, chunk)
			if err != nil {
				return fmt.Errorf("batch get objects: %w", err)
			}
			fetched[i] = states
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, chunk := range fetched {
		for _, state := range chunk {
			p.objCache.put(state)
			results = append(results, state)
		}
	}
	return results, nil
}

// Deps bundles the collaborators Initialize, Replenish, and Close need
// beyond the RPC client: a codec to build admin split/merge transactions,
// and the sponsor's own signer and address.
type Deps struct {
	Client rpc.Client
	Codec  txcodec.Codec
	Signer signer.Signer
}

// Initialize is destructive: it discards all tracked entries (including
// any in-flight reservation state) and repopulates the pool from the
// sponsor's on-chain coins. It must never run concurrently with
// sponsorship. Use Replenish for live top-ups.
func (p *Pool) Initialize(ctx context.Context, deps Deps) error {
	owner := deps.Signer.Address()
	usable, source, err := p.collectCoins(ctx, deps.Client, owner, nil)
	if err != nil {
		return fmt.Errorf("gasstation/pool: initialize: %w", err)
	}
	if len(usable) == 0 && len(source) == 0 {
		return ErrInsufficientFunds
	}

	admitted := usable
	if len(admitted) > p.cfg.TargetPoolSize {
		admitted = admitted[:p.cfg.TargetPoolSize]
	}

	entries := coinsToEntries(admitted)
	if short := p.cfg.TargetPoolSize - len(entries); short > 0 && len(source) > 0 {
		split, err := p.splitSource(ctx, deps, source, short)
		if err != nil {
			return fmt.Errorf("gasstation/pool: initialize: %w", err)
		}
		entries = append(entries, split...)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]*CoinEntry, len(entries))
	p.order = p.order[:0]
	for i := range entries {
		e := entries[i]
		p.entries[e.ObjectID] = &e
		p.order = append(p.order, e.ObjectID)
	}
	p.reportMetricsLocked()
	log.Info("pool initialized", "total", len(entries))
	return nil
}

// Replenish is non-destructive: it leaves existing entries untouched,
// skips any on-chain coin already tracked, and admits only as many new
// coins as needed to reach TargetPoolSize, splitting a source coin only if
// still short afterward.
func (p *Pool) Replenish(ctx context.Context, deps Deps) error {
	owner := deps.Signer.Address()
	tracked := p.trackedSet()

	needed := p.cfg.TargetPoolSize - p.Stats().Total
	if needed <= 0 {
		return nil
	}

	usable, source, err := p.collectCoins(ctx, deps.Client, owner, tracked)
	if err != nil {
		return fmt.Errorf("gasstation/pool: replenish: %w", err)
	}
	if len(usable) == 0 && len(source) == 0 {
		return ErrInsufficientFunds
	}

	admitted := usable
	if len(admitted) > needed {
		admitted = admitted[:needed]
	}
	entries := coinsToEntries(admitted)

	if short := needed - len(entries); short > 0 && len(source) > 0 {
		split, err := p.splitSource(ctx, deps, source, short)
		if err != nil {
			return fmt.Errorf("gasstation/pool: replenish: %w", err)
		}
		entries = append(entries, split...)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range entries {
		e := entries[i]
		if _, exists := p.entries[e.ObjectID]; exists {
			continue
		}
		p.entries[e.ObjectID] = &e
		p.order = append(p.order, e.ObjectID)
	}
	p.reportMetricsLocked()
	log.Info("pool replenished", "added", len(entries))
	return nil
}

func (p *Pool) trackedSet() map[string]struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := make(map[string]struct{}, len(p.order))
	for _, id := range p.order {
		set[id] = struct{}{}
	}
	return set
}

// collectCoins paginates the owner's coins, partitioning them into usable
// and source buckets. Coins present in skip are ignored entirely (used by
// Replenish to avoid re-admitting already-tracked coins). Dust coins below
// MinCoinBalance are silently ignored.
func (p *Pool) collectCoins(ctx context.Context, client rpc.Client, owner string, skip map[string]struct{}) (usable, source []rpc.Coin, err error) {
	min := p.cfg.MinCoinBalance
	target := p.cfg.TargetCoinBalance
	splitCeiling := new(uint256.Int).Mul(target, uint256.NewInt(2))

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		page, err := client.ListCoins(ctx, owner, cursor)
		if err != nil {
			return nil, nil, fmt.Errorf("list coins: %w", err)
		}
		for _, c := range page.Data {
			if skip != nil {
				if _, ok := skip[c.ObjectID]; ok {
					continue
				}
			}
			balance := uint256.NewInt(c.Balance)
			switch {
			case min != nil && balance.Cmp(min) < 0:
				// dust, ignored
			case balance.Cmp(splitCeiling) <= 0:
				usable = append(usable, c)
			default:
				source = append(source, c)
			}
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	return usable, source, nil
}

// splitSource issues one split transaction using source coins as gas
// payment, minting count fresh coins of TargetCoinBalance back to owner.
func (p *Pool) splitSource(ctx context.Context, deps Deps, source []rpc.Coin, count int) ([]CoinEntry, error) {
	owner := deps.Signer.Address()
	gasPayment := make([]txcodec.ObjectRef, len(source))
	for i, c := range source {
		gasPayment[i] = txcodec.ObjectRef{ObjectID: c.ObjectID, Version: c.Version, Digest: c.Digest}
	}

	tx, err := deps.Codec.NewSplitTransaction(owner, gasPayment, count, p.cfg.TargetCoinBalance.Uint64())
	if err != nil {
		return nil, fmt.Errorf("build split transaction: %w", err)
	}
	txBytes, err := deps.Codec.Build(ctx, tx, deps.Client, p.cfg.TargetCoinBalance.Uint64())
	if err != nil {
		return nil, fmt.Errorf("serialize split transaction: %w", err)
	}
	sig, err := deps.Signer.Sign(ctx, txBytes)
	if err != nil {
		return nil, fmt.Errorf("sign split transaction: %w", err)
	}
	result, err := deps.Client.SubmitTransaction(ctx, txBytes, [][]byte{sig.Bytes}, rpc.SubmitOptions{ShowEffects: true})
	if err != nil {
		return nil, fmt.Errorf("submit split transaction: %w", err)
	}
	if len(result.Effects.Created) == 0 {
		return nil, ErrInsufficientFunds
	}

	entries := make([]CoinEntry, len(result.Effects.Created))
	for i, ref := range result.Effects.Created {
		entries[i] = CoinEntry{
			ObjectID: ref.ObjectID,
			Version:  ref.Version,
			Digest:   ref.Digest,
			Balance:  new(uint256.Int).Set(p.cfg.TargetCoinBalance),
			Status:   Available,
		}
	}
	log.Info("split source coins into fresh fee coins", "sources", len(source), "created", len(entries))
	return entries, nil
}

func coinsToEntries(coins []rpc.Coin) []CoinEntry {
	entries := make([]CoinEntry, len(coins))
	for i, c := range coins {
		entries[i] = CoinEntry{
			ObjectID: c.ObjectID,
			Version:  c.Version,
			Digest:   c.Digest,
			Balance:  uint256.NewInt(c.Balance),
			Status:   Available,
		}
	}
	return entries
}

// Close sweeps expired reservations, then -- if two or more Available
// coins remain -- merges them into one via a single merge transaction,
// using one coin as gas payment for the rest. Reserved entries are
// abandoned. The pool's entries are cleared unconditionally afterward,
// even if the merge attempt fails: Close is a best-effort courtesy, not a
// guarantee, and a merge failure is logged rather than returned.
func (p *Pool) Close(ctx context.Context, deps Deps) error {
	p.mu.Lock()
	p.sweepExpiredLocked(p.now())
	var available []CoinEntry
	for _, id := range p.order {
		if e := p.entries[id]; e != nil && e.Status == Available {
			available = append(available, e.clone())
		}
	}
	p.mu.Unlock()

	if len(available) >= 2 {
		if mergeErr := p.mergeAvailable(ctx, deps, available); mergeErr != nil {
			log.Warn("close: merge of available coins failed, clearing pool anyway", "err", mergeErr)
		}
	}

	p.mu.Lock()
	p.entries = make(map[string]*CoinEntry)
	p.order = nil
	p.reportMetricsLocked()
	p.mu.Unlock()

	return nil
}

func (p *Pool) mergeAvailable(ctx context.Context, deps Deps, available []CoinEntry) error {
	owner := deps.Signer.Address()
	gasCoin := available[0]
	mergeFrom := make([]txcodec.ObjectRef, len(available)-1)
	for i, e := range available[1:] {
		mergeFrom[i] = txcodec.ObjectRef{ObjectID: e.ObjectID, Version: e.Version, Digest: e.Digest}
	}
	gasPayment := []txcodec.ObjectRef{{ObjectID: gasCoin.ObjectID, Version: gasCoin.Version, Digest: gasCoin.Digest}}

	tx, err := deps.Codec.NewMergeTransaction(owner, gasPayment, mergeFrom)
	if err != nil {
		return fmt.Errorf("build merge transaction: %w", err)
	}
	txBytes, err := deps.Codec.Build(ctx, tx, deps.Client, p.cfg.TargetCoinBalance.Uint64())
	if err != nil {
		return fmt.Errorf("serialize merge transaction: %w", err)
	}
	sig, err := deps.Signer.Sign(ctx, txBytes)
	if err != nil {
		return fmt.Errorf("sign merge transaction: %w", err)
	}
	if _, err := deps.Client.SubmitTransaction(ctx, txBytes, [][]byte{sig.Bytes}, rpc.SubmitOptions{ShowEffects: true}); err != nil {
		return fmt.Errorf("submit merge transaction: %w", err)
	}
	return nil
}
