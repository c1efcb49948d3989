package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresRPCEndpoint(t *testing.T) {
	fs := Flags()
	require.NoError(t, fs.Parse([]string{"--signer-key-id=key1"}))

	_, err := Load(fs)
	require.Error(t, err)
}

func TestLoadAppliesDefaultsAndFlagOverrides(t *testing.T) {
	fs := Flags()
	require.NoError(t, fs.Parse([]string{
		"--rpc-endpoint=https://rpc.example",
		"--signer-key-id=key1",
		"--target-pool-size=5",
	}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	require.Equal(t, "https://rpc.example", cfg.RPCEndpoint)
	require.Equal(t, "key1", cfg.SignerKeyID)
	require.Equal(t, 5, cfg.TargetPoolSize)
	require.Equal(t, uint64(500_000_000), cfg.TargetCoinBalance.Uint64())
}
