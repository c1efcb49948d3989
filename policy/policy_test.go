package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chainsponsor/gasstation/internal/mock"
	"github.com/chainsponsor/gasstation/txcodec"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func codecReturning(commands []txcodec.Command) *mock.Codec {
	return &mock.Codec{
		ParseKindF: func(bodyBytes []byte) (txcodec.Tx, error) {
			return &mock.Tx{CommandList: commands}, nil
		},
	}
}

// S2: a SplitCoins(GasCoin, ...) + TransferObjects([split], recipient) body
// is rejected by the always-on drain check, invoked separately from
// Validate over the reconstructed command list.
func TestCheckGasCoinDrainRejectsGasCoinArgument(t *testing.T) {
	commands := []txcodec.Command{
		{Kind: txcodec.KindSplitCoins, Args: []txcodec.Argument{{Kind: txcodec.ArgGasCoin}, {Kind: txcodec.ArgInput}}},
		{Kind: txcodec.KindTransferObjects, Args: []txcodec.Argument{{Kind: txcodec.ArgResult}, {Kind: txcodec.ArgInput}}},
	}

	err := CheckGasCoinDrain(commands)
	require.Error(t, err)
	require.Contains(t, err.Error(), "GasCoin")
}

func TestCheckGasCoinDrainAllowsCleanCommands(t *testing.T) {
	commands := []txcodec.Command{
		{Kind: txcodec.KindMoveCall, Args: []txcodec.Argument{{Kind: txcodec.ArgInput}}},
	}
	require.NoError(t, CheckGasCoinDrain(commands))
}

func TestValidateDoesNotRunDrainCheck(t *testing.T) {
	commands := []txcodec.Command{
		{Kind: txcodec.KindSplitCoins, Args: []txcodec.Argument{{Kind: txcodec.ArgGasCoin}}},
	}
	e := New(codecReturning(commands))

	err := e.Validate(Policy{}, "0xsender", []byte("body"), 0)
	require.NoError(t, err)
}

func TestValidateRejectsOverBudget(t *testing.T) {
	e := New(codecReturning(nil))
	err := e.Validate(Policy{MaxBudgetPerTx: 100}, "0xsender", []byte("body"), 200)
	require.Error(t, err)
}

func TestValidateRejectsBlockedSender(t *testing.T) {
	e := New(codecReturning(nil))
	err := e.Validate(Policy{BlockedSenders: []string{"0xAA"}}, "0xaa", []byte("body"), 0)
	require.Error(t, err)
}

func TestValidateAllowlistRejectsUnlistedTarget(t *testing.T) {
	commands := []txcodec.Command{
		{Kind: txcodec.KindMoveCall, Target: &txcodec.MoveCallTarget{Package: "0x2", Module: "coin", Function: "transfer"}},
	}
	e := New(codecReturning(commands))

	err := e.Validate(Policy{AllowedTargets: []string{"0x3::other::func"}}, "0xsender", []byte("body"), 0)
	require.Error(t, err)
}

func TestValidateAllowlistRejectsPublish(t *testing.T) {
	commands := []txcodec.Command{{Kind: txcodec.KindPublish}}
	e := New(codecReturning(commands))

	err := e.Validate(Policy{AllowedTargets: []string{"0x3::other::func"}}, "0xsender", []byte("body"), 0)
	require.Error(t, err)
}

func TestValidateAllowlistAcceptsListedTarget(t *testing.T) {
	commands := []txcodec.Command{
		{Kind: txcodec.KindMoveCall, Target: &txcodec.MoveCallTarget{Package: "0x2", Module: "coin", Function: "transfer"}},
	}
	e := New(codecReturning(commands))

	err := e.Validate(Policy{AllowedTargets: []string{"0x2::coin::transfer"}}, "0xsender", []byte("body"), 0)
	require.NoError(t, err)
}

func TestParseCommandsCachesByDigest(t *testing.T) {
	calls := 0
	codec := &mock.Codec{
		ParseKindF: func(bodyBytes []byte) (txcodec.Tx, error) {
			calls++
			return &mock.Tx{CommandList: nil}, nil
		},
	}
	e := New(codec)

	_, err := e.parseCommands([]byte("same body"))
	require.NoError(t, err)
	_, err = e.parseCommands([]byte("same body"))
	require.NoError(t, err)

	require.Equal(t, 1, calls)
}
