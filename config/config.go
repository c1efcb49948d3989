// Package config resolves gasstation's runtime configuration from a YAML
// file, overridable by environment variables and command-line flags, using
// viper the way the rest of the corpus's cmd/ trees resolve config from
// layered sources.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "GASSTATION"

// Config is gasstation's fully resolved runtime configuration, ready to
// build a sponsor.Config and the sponsor's collaborators from.
type Config struct {
	RPCEndpoint string
	SignerKeyID string

	TargetPoolSize            int
	TargetCoinBalance         *uint256.Int
	MinCoinBalance            *uint256.Int
	ReservationTimeout        time.Duration
	EpochBoundaryWindow       time.Duration
	MaxConcurrentSponsorships int64

	PolicyMaxBudgetPerTx uint64
	PolicyBlockedSenders []string
	PolicyAllowedTargets []string

	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

func defaults(v *viper.Viper) {
	v.SetDefault("targetPoolSize", 20)
	v.SetDefault("targetCoinBalance", "500000000")
	v.SetDefault("minCoinBalance", "")
	v.SetDefault("reservationTimeoutMs", 30_000)
	v.SetDefault("epochBoundaryWindowMs", 1_000)
	v.SetDefault("maxConcurrentSponsorships", 64)
	v.SetDefault("policy.maxBudgetPerTx", 0)
	v.SetDefault("logMaxSizeMb", 100)
	v.SetDefault("logMaxBackups", 7)
}

// Flags returns the pflag.FlagSet gasstationd registers against its CLI
// command, bound into viper by Load so flags take precedence over the
// config file and environment.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("gasstation", pflag.ContinueOnError)
	fs.String("config", "", "path to a gasstation YAML config file")
	fs.String("rpc-endpoint", "", "blockchain RPC endpoint")
	fs.String("signer-key-id", "", "identifier of the sponsor's signing key")
	fs.Int("target-pool-size", 0, "target number of fee coins to hold")
	fs.String("log-file", "", "path to a rotating log file (stderr if unset)")
	return fs
}

// Load resolves Config from (in ascending priority) defaults, a YAML file
// named by --config/GASSTATION_CONFIG, environment variables prefixed
// GASSTATION_, and flags.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("gasstation/config: bind flags: %w", err)
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("gasstation/config: read config file %q: %w", path, err)
		}
		log.Info("loaded config file", "path", path)
	}

	cfg := &Config{
		RPCEndpoint:               v.GetString("rpc-endpoint"),
		SignerKeyID:               v.GetString("signer-key-id"),
		TargetPoolSize:            v.GetInt("targetPoolSize"),
		ReservationTimeout:        time.Duration(v.GetInt64("reservationTimeoutMs")) * time.Millisecond,
		EpochBoundaryWindow:       time.Duration(v.GetInt64("epochBoundaryWindowMs")) * time.Millisecond,
		MaxConcurrentSponsorships: v.GetInt64("maxConcurrentSponsorships"),
		PolicyMaxBudgetPerTx:      cast.ToUint64(v.Get("policy.maxBudgetPerTx")),
		PolicyBlockedSenders:      v.GetStringSlice("policy.blockedSenders"),
		PolicyAllowedTargets:      v.GetStringSlice("policy.allowedTargets"),
		LogFile:                   v.GetString("log-file"),
		LogMaxSizeMB:              v.GetInt("logMaxSizeMb"),
		LogMaxBackups:             v.GetInt("logMaxBackups"),
	}
	if flags != nil && flags.Changed("target-pool-size") {
		if n, err := flags.GetInt("target-pool-size"); err == nil && n > 0 {
			cfg.TargetPoolSize = n
		}
	}

	target, ok := uint256.FromDecimal(v.GetString("targetCoinBalance"))
	if !ok {
		return nil, fmt.Errorf("gasstation/config: invalid targetCoinBalance %q", v.GetString("targetCoinBalance"))
	}
	cfg.TargetCoinBalance = target

	if min := v.GetString("minCoinBalance"); min != "" {
		parsed, ok := uint256.FromDecimal(min)
		if !ok {
			return nil, fmt.Errorf("gasstation/config: invalid minCoinBalance %q", min)
		}
		cfg.MinCoinBalance = parsed
	}

	if cfg.RPCEndpoint == "" {
		return nil, fmt.Errorf("gasstation/config: rpc-endpoint is required")
	}
	if cfg.SignerKeyID == "" {
		return nil, fmt.Errorf("gasstation/config: signer-key-id is required")
	}

	return cfg, nil
}
