package pool

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chainsponsor/gasstation/internal/mock"
	"github.com/chainsponsor/gasstation/rpc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestPool(now func() time.Time) *Pool {
	cfg := Config{
		TargetPoolSize:     3,
		TargetCoinBalance:  uint256.NewInt(500_000_000),
		MinCoinBalance:     uint256.NewInt(50_000_000),
		ReservationTimeout: time.Second,
	}
	return New(cfg, WithClock(now))
}

// fakeRevalidateClient returns an rpc.Client whose BatchGetObjects reports
// every requested object with a bumped version and digest, simulating an
// epoch-boundary state change.
func fakeRevalidateClient(objectIDs ...string) *mock.Client {
	return &mock.Client{
		BatchGetObjectsF: func(ctx context.Context, ids []string) ([]rpc.ObjectState, error) {
			states := make([]rpc.ObjectState, len(ids))
			for i, id := range ids {
				states[i] = rpc.ObjectState{
					ObjectID: id,
					Found:    true,
					Version:  99,
					Digest:   "revalidated-" + id,
					Balance:  500_000_000,
				}
			}
			return states, nil
		},
	}
}

func seedEntries(t *testing.T, p *Pool, count int, balance uint64) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < count; i++ {
		id := string(rune('A' + i))
		p.entries[id] = &CoinEntry{
			ObjectID: id,
			Version:  1,
			Digest:   "d" + id,
			Balance:  uint256.NewInt(balance),
			Status:   Available,
		}
		p.order = append(p.order, id)
	}
}

// S1: reserve/report doesn't change pool shape, only the touched balance.
func TestReserveAndReportExecutionHappyPath(t *testing.T) {
	clock := time.Now()
	p := newTestPool(func() time.Time { return clock })
	seedEntries(t, p, 3, 500_000_000)

	entry, ok := p.Reserve(nil)
	require.True(t, ok)

	effects := rpc.Effects{
		GasUsed: rpc.GasUsed{
			ComputationCost: 5_000_000,
			StorageCost:     2_000_000,
			StorageRebate:   1_000_000,
		},
	}
	effects.GasObject.Reference = rpc.ObjectRef{ObjectID: entry.ObjectID, Version: entry.Version, Digest: entry.Digest}

	p.UpdateFromEffects(effects, entry.ObjectID)

	stats := p.Stats()
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 3, stats.Available)
	require.Equal(t, 0, stats.Reserved)

	p.mu.RLock()
	touched := p.entries[entry.ObjectID]
	p.mu.RUnlock()
	require.Equal(t, uint256.NewInt(494_000_000), touched.Balance)
}

// S3: a single-coin pool rejects a second reservation while the first is
// outstanding.
func TestReservePoolExhaustion(t *testing.T) {
	clock := time.Now()
	p := newTestPool(func() time.Time { return clock })
	seedEntries(t, p, 1, 500_000_000)

	_, ok := p.Reserve(nil)
	require.True(t, ok)

	_, ok = p.Reserve(nil)
	require.False(t, ok)

	stats := p.Stats()
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.Reserved)
}

// S4: an expired reservation is deleted, not recycled, before a new
// reservation is attempted.
func TestSweepExpiredOnReserve(t *testing.T) {
	clock := time.Now()
	now := func() time.Time { return clock }
	p := newTestPool(now)
	p.cfg.ReservationTimeout = time.Second
	seedEntries(t, p, 1, 500_000_000)

	_, ok := p.Reserve(nil)
	require.True(t, ok)
	require.Equal(t, 1, p.Stats().Total)

	clock = clock.Add(2 * time.Second)

	_, ok = p.Reserve(nil)
	require.False(t, ok)
	require.Equal(t, 0, p.Stats().Total)
}

// S5: reporting effects whose gas object references a different coin than
// was reserved drops the reserved entry without raising an error.
func TestUpdateFromEffectsMisroutedReport(t *testing.T) {
	clock := time.Now()
	p := newTestPool(func() time.Time { return clock })
	seedEntries(t, p, 2, 500_000_000)

	entry, ok := p.Reserve(nil)
	require.True(t, ok)

	effects := rpc.Effects{}
	effects.GasObject.Reference = rpc.ObjectRef{ObjectID: "not-" + entry.ObjectID, Version: 1, Digest: "x"}

	require.NotPanics(t, func() { p.UpdateFromEffects(effects, entry.ObjectID) })

	stats := p.Stats()
	require.Equal(t, 1, stats.Total)
}

// S6: revalidate skips Reserved entries so an in-flight reservation's
// reference survives an epoch-boundary refresh untouched.
func TestRevalidateSkipsReservedEntries(t *testing.T) {
	clock := time.Now()
	p := newTestPool(func() time.Time { return clock })
	seedEntries(t, p, 2, 500_000_000)

	entry, ok := p.Reserve(nil)
	require.True(t, ok)

	client := fakeRevalidateClient(entry.ObjectID)

	require.NoError(t, p.Revalidate(context.Background(), client))

	p.mu.RLock()
	stillReserved := p.entries[entry.ObjectID]
	p.mu.RUnlock()
	require.Equal(t, Reserved, stillReserved.Status)
	require.Equal(t, entry.Version, stillReserved.Version)
	require.Equal(t, entry.Digest, stillReserved.Digest)

	effects := rpc.Effects{}
	effects.GasObject.Reference = rpc.ObjectRef{ObjectID: entry.ObjectID, Version: entry.Version, Digest: entry.Digest}
	p.UpdateFromEffects(effects, entry.ObjectID)

	stats := p.Stats()
	require.Equal(t, 2, stats.Total)
}
