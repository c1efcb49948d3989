package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/chainsponsor/gasstation/config"
	"github.com/chainsponsor/gasstation/policy"
	"github.com/chainsponsor/gasstation/rpc"
	"github.com/chainsponsor/gasstation/signer"
	"github.com/chainsponsor/gasstation/sponsor"
	"github.com/chainsponsor/gasstation/txcodec"
)

const shutdownGracePeriod = 10 * time.Second

// newClient, newSigner, and newCodec construct the chain-specific
// collaborators gasstation is injected with. This repository defines only
// their interfaces (rpc.Client, signer.Signer, txcodec.Codec); a concrete
// build links a chain's actual RPC/signing/codec implementation in by
// replacing these package variables before main runs.
var (
	newClient = func(cfg *config.Config) (rpc.Client, error) {
		return nil, errors.New("no rpc.Client implementation linked into this build")
	}
	newSigner = func(cfg *config.Config) (signer.Signer, error) {
		return nil, errors.New("no signer.Signer implementation linked into this build")
	}
	newCodec = func(cfg *config.Config) (txcodec.Codec, error) {
		return nil, errors.New("no txcodec.Codec implementation linked into this build")
	}
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "path to a gasstation YAML config file",
	}
	rpcEndpointFlag = &cli.StringFlag{
		Name:  "rpc-endpoint",
		Usage: "blockchain RPC endpoint",
	}
	signerKeyIDFlag = &cli.StringFlag{
		Name:  "signer-key-id",
		Usage: "identifier of the sponsor's signing key",
	}
	targetPoolSizeFlag = &cli.IntFlag{
		Name:  "target-pool-size",
		Usage: "target number of fee coins to hold",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "path to a rotating log file (stderr if unset)",
	}
)

var app = cli.NewApp()

func init() {
	app.Name = "gasstationd"
	app.Usage = "gas sponsorship service"
	app.Flags = []cli.Flag{
		configFlag,
		rpcEndpointFlag,
		signerKeyIDFlag,
		targetPoolSizeFlag,
		logFileFlag,
	}
	app.Action = run
}

func run(c *cli.Context) error {
	fs := config.Flags()
	if c.IsSet(configFlag.Name) {
		fs.Set("config", c.String(configFlag.Name))
	}
	if c.IsSet(rpcEndpointFlag.Name) {
		fs.Set("rpc-endpoint", c.String(rpcEndpointFlag.Name))
	}
	if c.IsSet(signerKeyIDFlag.Name) {
		fs.Set("signer-key-id", c.String(signerKeyIDFlag.Name))
	}
	if c.IsSet(targetPoolSizeFlag.Name) {
		fs.Set("target-pool-size", fmt.Sprintf("%d", c.Int(targetPoolSizeFlag.Name)))
	}
	if c.IsSet(logFileFlag.Name) {
		fs.Set("log-file", c.String(logFileFlag.Name))
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("gasstationd: %w", err)
	}

	configureLogging(cfg)

	client, err := newClient(cfg)
	if err != nil {
		return fmt.Errorf("gasstationd: %w", err)
	}
	signerImpl, err := newSigner(cfg)
	if err != nil {
		return fmt.Errorf("gasstationd: %w", err)
	}
	codec, err := newCodec(cfg)
	if err != nil {
		return fmt.Errorf("gasstationd: %w", err)
	}

	sp := sponsor.New(sponsor.Config{
		TargetPoolSize:            cfg.TargetPoolSize,
		TargetCoinBalance:         cfg.TargetCoinBalance,
		MinCoinBalance:            cfg.MinCoinBalance,
		ReservationTimeout:        cfg.ReservationTimeout,
		EpochBoundaryWindow:       cfg.EpochBoundaryWindow,
		MaxConcurrentSponsorships: cfg.MaxConcurrentSponsorships,
		DefaultPolicy: policy.Policy{
			MaxBudgetPerTx: cfg.PolicyMaxBudgetPerTx,
			BlockedSenders: cfg.PolicyBlockedSenders,
			AllowedTargets: cfg.PolicyAllowedTargets,
		},
	}, client, codec, signerImpl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sp.Initialize(ctx); err != nil {
		return fmt.Errorf("gasstationd: initialize: %w", err)
	}
	log.Info("gasstationd ready", "rpcEndpoint", cfg.RPCEndpoint, "targetPoolSize", cfg.TargetPoolSize)

	<-ctx.Done()
	log.Info("gasstationd shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer shutdownCancel()
	return sp.Close(shutdownCtx)
}

func configureLogging(cfg *config.Config) {
	if cfg.LogFile == "" {
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))
		return
	}
	writer := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(writer, log.LevelInfo, false)))
}

func main() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
