// Package testutil provides small test-fixture constructors shared across
// gasstation's package tests, following the teacher's NewTestStateDB
// pattern: build the real thing with a ready-to-use in-memory backing
// store, require.NoError away any construction error, and hand back a
// value the test can use immediately.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/chainsponsor/gasstation/internal/mock"
	"github.com/chainsponsor/gasstation/rpc"
)

// TestCoin builds an rpc.Coin with the given balance and a deterministic
// objectID/digest pair derived from id, suitable for seeding a pool or a
// fake ListCoins response.
func TestCoin(t testing.TB, id string, balance uint64) rpc.Coin {
	t.Helper()
	require.NotEmpty(t, id)
	return rpc.Coin{
		ObjectID: id,
		Version:  1,
		Digest:   "digest-" + id,
		Balance:  balance,
	}
}

// NewTestClient builds an rpc.Client backed by coins, serving them from a
// single ListCoins page and echoing their current state from
// BatchGetObjects. CurrentSystemState reports a far-future epoch boundary
// so tests don't have to account for boundary suspension unless they want
// to.
func NewTestClient(t testing.TB, coins []rpc.Coin) *mock.Client {
	t.Helper()
	byID := make(map[string]rpc.Coin, len(coins))
	for _, c := range coins {
		byID[c.ObjectID] = c
	}

	return &mock.Client{
		ListCoinsF: func(ctx context.Context, owner string, cursor string) (rpc.CoinPage, error) {
			if cursor != "" {
				return rpc.CoinPage{}, nil
			}
			return rpc.CoinPage{Data: coins, HasMore: false}, nil
		},
		BatchGetObjectsF: func(ctx context.Context, objectIDs []string) ([]rpc.ObjectState, error) {
			states := make([]rpc.ObjectState, 0, len(objectIDs))
			for _, id := range objectIDs {
				c, ok := byID[id]
				if !ok {
					states = append(states, rpc.ObjectState{ObjectID: id, Found: false})
					continue
				}
				states = append(states, rpc.ObjectState{ObjectID: id, Found: true, Version: c.Version, Digest: c.Digest, Balance: c.Balance})
			}
			return states, nil
		},
		CurrentSystemStateF: func(ctx context.Context) (rpc.SystemState, error) {
			return rpc.SystemState{
				Epoch:           "1",
				ReferencePrice:  1000,
				EpochStartMs:    time.Now().UnixMilli(),
				EpochDurationMs: int64(365 * 24 * time.Hour / time.Millisecond),
			}, nil
		},
	}
}

// TargetBalance is the default per-coin balance used by fixtures that
// don't care about the exact value, kept as a uint256 to match the rest of
// the module's arithmetic.
func TargetBalance() *uint256.Int { return uint256.NewInt(500_000_000) }
