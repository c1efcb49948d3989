package sponsor

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/chainsponsor/gasstation/internal/mock"
	"github.com/chainsponsor/gasstation/pool"
	"github.com/chainsponsor/gasstation/rpc"
	"github.com/chainsponsor/gasstation/signer"
	"github.com/chainsponsor/gasstation/txcodec"
)

func newTestSponsor(t *testing.T, targetPoolSize int, onDepleted func(pool.Stats)) (*Sponsor, *mock.Client) {
	t.Helper()

	client := &mock.Client{
		ListCoinsF: func(ctx context.Context, owner string, cursor string) (rpc.CoinPage, error) {
			if cursor != "" {
				return rpc.CoinPage{}, nil
			}
			data := make([]rpc.Coin, targetPoolSize)
			for i := range data {
				data[i] = rpc.Coin{
					ObjectID: string(rune('A' + i)),
					Version:  1,
					Digest:   "d",
					Balance:  500_000_000,
				}
			}
			return rpc.CoinPage{Data: data, HasMore: false}, nil
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

	codec := &mock.Codec{
		ParseKindF: func(bodyBytes []byte) (txcodec.Tx, error) {
			return &mock.Tx{}, nil
		},
		BuildF: func(ctx context.Context, tx txcodec.Tx, client rpc.Client, budgetCeiling uint64) ([]byte, error) {
			return []byte("built-tx"), nil
		},
		ParseFullF: func(txBytes []byte) (txcodec.Tx, error) {
			return &mock.Tx{Gas: txcodec.GasData{Budget: 10_000_000}}, nil
		},
	}

	signerMock := &mock.Signer{
		AddressF: "0xsponsor",
		SignF: func(ctx context.Context, message []byte) (signer.Signature, error) {
			return signer.Signature{Bytes: []byte("sig")}, nil
		},
	}

	sp := New(Config{
		TargetPoolSize:    targetPoolSize,
		TargetCoinBalance: uint256.NewInt(500_000_000),
		MinCoinBalance:    uint256.NewInt(50_000_000),
		OnPoolDepleted:    onDepleted,
	}, client, codec, signerMock)

	require.NoError(t, sp.Initialize(context.Background()))
	return sp, client
}

// S1: a happy-path sponsorship returns wire-ready bytes and a signature,
// and reserves exactly one coin.
func TestSponsorTransactionHappyPath(t *testing.T) {
	sp, _ := newTestSponsor(t, 3, nil)

	result, err := sp.SponsorTransaction(context.Background(), Request{
		Sender:    "0x5e4d",
		BodyBytes: []byte("body"),
		GasBudget: 10_000_000,
	})
	require.NoError(t, err)
	require.Equal(t, []byte("built-tx"), result.TransactionBytes)
	require.Equal(t, []byte("sig"), result.SponsorSignature)
	require.Equal(t, uint64(10_000_000), result.GasBudget)

	stats := sp.Stats()
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 1, stats.Reserved)
}

// S2: a body that drains the gas coin is rejected with PolicyViolation and
// leaves the reservation released.
func TestSponsorTransactionRejectsGasCoinDrain(t *testing.T) {
	client := &mock.Client{
		ListCoinsF: func(ctx context.Context, owner string, cursor string) (rpc.CoinPage, error) {
			return rpc.CoinPage{Data: []rpc.Coin{{ObjectID: "A", Version: 1, Digest: "d", Balance: 500_000_000}}}, nil
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
	drainCommands := []txcodec.Command{
		{Kind: txcodec.KindSplitCoins, Args: []txcodec.Argument{{Kind: txcodec.ArgGasCoin}}},
	}
	codec := &mock.Codec{
		ParseKindF: func(bodyBytes []byte) (txcodec.Tx, error) {
			return &mock.Tx{CommandList: drainCommands}, nil
		},
	}
	signerMock := &mock.Signer{AddressF: "0xsponsor"}

	sp := New(Config{
		TargetPoolSize:    1,
		TargetCoinBalance: uint256.NewInt(500_000_000),
		MinCoinBalance:    uint256.NewInt(50_000_000),
	}, client, codec, signerMock)
	require.NoError(t, sp.Initialize(context.Background()))

	before := sp.Stats()

	_, err := sp.SponsorTransaction(context.Background(), Request{
		Sender:    "0x5e4d",
		BodyBytes: []byte("body"),
		GasBudget: 10_000_000,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "GasCoin")

	after := sp.Stats()
	require.Equal(t, before, after)
}

// S3: a pool of size one rejects a second concurrent sponsorship and fires
// onPoolDepleted.
func TestSponsorTransactionPoolExhaustion(t *testing.T) {
	depletedCalls := 0
	sp, _ := newTestSponsor(t, 1, func(pool.Stats) { depletedCalls++ })

	_, err := sp.SponsorTransaction(context.Background(), Request{
		Sender:    "0x5e4d",
		BodyBytes: []byte("body"),
		GasBudget: 10_000_000,
	})
	require.NoError(t, err)

	_, err = sp.SponsorTransaction(context.Background(), Request{
		Sender:    "0x5e4d",
		BodyBytes: []byte("body"),
		GasBudget: 10_000_000,
	})
	require.Error(t, err)
	require.GreaterOrEqual(t, depletedCalls, 1)
}

func TestSponsorTransactionFailsBeforeInitialize(t *testing.T) {
	sp := New(Config{
		TargetPoolSize:    1,
		TargetCoinBalance: uint256.NewInt(500_000_000),
	}, &mock.Client{}, &mock.Codec{}, &mock.Signer{AddressF: "0xsponsor"})

	_, err := sp.SponsorTransaction(context.Background(), Request{Sender: "0xsender", BodyBytes: []byte("body")})
	require.Error(t, err)
}
