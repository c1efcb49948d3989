// Package sponsor composes the coin pool, price cache, and policy engine
// into the single request/response surface a caller actually wants:
// initialize, sponsor a transaction, report its execution, replenish,
// close, and read stats.
package sponsor

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"golang.org/x/sync/semaphore"

	"github.com/chainsponsor/gasstation/metrics"
	"github.com/chainsponsor/gasstation/policy"
	"github.com/chainsponsor/gasstation/pool"
	"github.com/chainsponsor/gasstation/price"
	"github.com/chainsponsor/gasstation/rpc"
	"github.com/chainsponsor/gasstation/signer"
	"github.com/chainsponsor/gasstation/txcodec"
)

// senderAddressPattern is the chain's canonical address shape: an optional
// 0x prefix followed by 1-64 hex digits.
var senderAddressPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{1,64}$`)

const defaultMaxConcurrentSponsorships = 64

// Config fixes a Sponsor's sizing, timing, and policy defaults.
type Config struct {
	TargetPoolSize            int
	TargetCoinBalance         *uint256.Int
	MinCoinBalance            *uint256.Int
	ReservationTimeout        time.Duration
	EpochBoundaryWindow       time.Duration
	DefaultPolicy             policy.Policy
	OnPoolDepleted            func(pool.Stats)
	MaxConcurrentSponsorships int64
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentSponsorships <= 0 {
		c.MaxConcurrentSponsorships = defaultMaxConcurrentSponsorships
	}
	return c
}

// Request is the input to SponsorTransaction.
type Request struct {
	Sender    string
	BodyBytes []byte
	GasBudget uint64 // 0 means "let the codec auto-estimate"
	Policy    *policy.Policy
}

// SponsoredTransaction is the output of a successful SponsorTransaction
// call.
type SponsoredTransaction struct {
	TransactionBytes []byte
	SponsorSignature []byte
	GasBudget        uint64
	GasPrice         uint64
	Reservation      pool.Reservation
}

// Sponsor is the public façade. All exported methods are safe for
// concurrent use.
type Sponsor struct {
	mu          sync.RWMutex
	initialized bool

	cfg    Config
	client rpc.Client
	codec  txcodec.Codec
	signer signer.Signer

	pool   *pool.Pool
	price  *price.Cache
	policy *policy.Engine

	sem *semaphore.Weighted
}

// New constructs a Sponsor. Initialize must be called before any other
// public method.
func New(cfg Config, client rpc.Client, codec txcodec.Codec, s signer.Signer) *Sponsor {
	cfg = cfg.withDefaults()

	sp := &Sponsor{
		cfg:    cfg,
		client: client,
		codec:  codec,
		signer: s,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrentSponsorships),
	}

	sp.pool = pool.New(pool.Config{
		TargetPoolSize:     cfg.TargetPoolSize,
		TargetCoinBalance:  cfg.TargetCoinBalance,
		MinCoinBalance:     cfg.MinCoinBalance,
		ReservationTimeout: cfg.ReservationTimeout,
	})
	sp.price = price.New(price.Config{EpochBoundaryWindow: cfg.EpochBoundaryWindow}, func(ctx context.Context) error {
		return sp.pool.Revalidate(ctx, sp.client)
	})
	sp.policy = policy.New(codec)

	return sp
}

func (s *Sponsor) poolDeps() pool.Deps {
	return pool.Deps{Client: s.client, Codec: s.codec, Signer: s.signer}
}

// Initialize sources the pool's fee coins from the sponsor's on-chain
// holdings and primes the price cache. Must complete before any other
// public method succeeds.
func (s *Sponsor) Initialize(ctx context.Context) error {
	if err := s.pool.Initialize(ctx, s.poolDeps()); err != nil {
		return fmt.Errorf("gasstation/sponsor: initialize pool: %w", err)
	}
	if err := s.price.Refresh(ctx, s.client); err != nil {
		return fmt.Errorf("gasstation/sponsor: initialize price cache: %w", err)
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	log.Info("sponsor initialized")
	return nil
}

func (s *Sponsor) isInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// SponsorTransaction validates req, reserves a fee coin, attaches gas data
// to the parsed transaction body, serializes and signs it, and returns the
// wire-ready result. On any failure after a coin is reserved, the
// reservation is released before the error is returned.
func (s *Sponsor) SponsorTransaction(ctx context.Context, req Request) (*SponsoredTransaction, error) {
	requestID := uuid.New().String()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, newError(CodeCanceled, requestID, err, "failed to acquire sponsorship slot")
	}
	defer s.sem.Release(1)

	if !s.isInitialized() {
		metrics.SponsorshipsTotal.WithLabelValues("error").Inc()
		return nil, newError(CodeNotInitialized, requestID, nil, "sponsor not initialized")
	}

	if !senderAddressPattern.MatchString(req.Sender) {
		metrics.SponsorshipsTotal.WithLabelValues("error").Inc()
		return nil, newError(CodePolicyViolation, requestID, nil, "sender %q is not a valid address", req.Sender)
	}

	gasPrice, err := s.price.Get(ctx, s.client)
	if err != nil {
		metrics.SponsorshipsTotal.WithLabelValues("error").Inc()
		return nil, newError(CodeBuildFailed, requestID, err, "failed to fetch gas price")
	}

	activePolicy := s.cfg.DefaultPolicy
	if req.Policy != nil {
		activePolicy = *req.Policy
	}
	if err := s.policy.Validate(activePolicy, req.Sender, req.BodyBytes, req.GasBudget); err != nil {
		metrics.SponsorshipsTotal.WithLabelValues("error").Inc()
		return nil, newError(CodePolicyViolation, requestID, err, "request rejected by policy")
	}

	var minBalance *uint256.Int
	if req.GasBudget != 0 {
		minBalance = uint256.NewInt(req.GasBudget)
	}
	coin, ok := s.pool.Reserve(minBalance)
	if !ok {
		s.fireDepleted()
		metrics.SponsorshipsTotal.WithLabelValues("error").Inc()
		return nil, newError(CodePoolExhausted, requestID, nil, "no fee coin available")
	}
	if s.pool.Stats().Available == 0 {
		s.fireDepleted()
	}

	result, err := s.buildAndSign(ctx, requestID, req, coin, gasPrice.Uint64(), activePolicy)
	if err != nil {
		s.pool.Release(coin.ObjectID)
		metrics.SponsorshipsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.SponsorshipsTotal.WithLabelValues("ok").Inc()
	log.Debug("sponsored transaction", "requestId", requestID, "objectId", coin.ObjectID, "gasBudget", result.GasBudget)
	return result, nil
}

func (s *Sponsor) fireDepleted() {
	if s.cfg.OnPoolDepleted == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn("onPoolDepleted callback panicked", "recovered", r)
		}
	}()
	s.cfg.OnPoolDepleted(s.pool.Stats())
}

func (s *Sponsor) buildAndSign(ctx context.Context, requestID string, req Request, coin pool.CoinEntry, gasPrice uint64, activePolicy policy.Policy) (*SponsoredTransaction, error) {
	tx, err := s.codec.ParseKind(req.BodyBytes)
	if err != nil {
		return nil, newError(CodeBuildFailed, requestID, err, "failed to parse transaction body")
	}

	if !activePolicy.AllowGasCoinUsage {
		if err := policy.CheckGasCoinDrain(tx.Commands()); err != nil {
			return nil, newError(CodePolicyViolation, requestID, err, "transaction references the gas coin")
		}
	}

	sponsorAddr := s.signer.Address()
	tx.SetSender(req.Sender)
	tx.SetGasOwner(sponsorAddr)
	tx.SetGasPayment([]txcodec.ObjectRef{{ObjectID: coin.ObjectID, Version: coin.Version, Digest: coin.Digest}})
	tx.SetGasPrice(gasPrice)

	budgetCeiling := req.GasBudget
	if budgetCeiling == 0 {
		if activePolicy.MaxBudgetPerTx != 0 {
			budgetCeiling = activePolicy.MaxBudgetPerTx
		} else if s.cfg.TargetCoinBalance != nil {
			budgetCeiling = s.cfg.TargetCoinBalance.Uint64()
		}
	}
	tx.SetGasBudget(req.GasBudget)

	txBytes, err := s.codec.Build(ctx, tx, s.client, budgetCeiling)
	if err != nil {
		return nil, newError(CodeBuildFailed, requestID, err, "failed to build transaction")
	}

	sig, err := s.signer.Sign(ctx, txBytes)
	if err != nil {
		return nil, newError(CodeSignFailed, requestID, err, "failed to sign transaction")
	}

	built, err := s.codec.ParseFull(txBytes)
	if err != nil {
		return nil, newError(CodeBuildFailed, requestID, err, "failed to re-parse built transaction")
	}
	finalBudget := built.GasData().Budget

	if activePolicy.MaxBudgetPerTx != 0 && finalBudget > activePolicy.MaxBudgetPerTx {
		return nil, newError(CodePolicyViolation, requestID, nil, "final gas budget %d exceeds policy cap %d", finalBudget, activePolicy.MaxBudgetPerTx)
	}

	return &SponsoredTransaction{
		TransactionBytes: txBytes,
		SponsorSignature: sig.Bytes,
		GasBudget:        finalBudget,
		GasPrice:         gasPrice,
		Reservation:      pool.Reservation{ObjectID: coin.ObjectID, ReservedAt: coin.ReservedAt.UnixMilli()},
	}, nil
}

// ReportExecution applies a transaction's post-execution effects back to
// the reserved coin so it can be reused. Idempotent: reporting the same
// reservation twice is a no-op the second time.
func (s *Sponsor) ReportExecution(ctx context.Context, reservation pool.Reservation, effects rpc.Effects) error {
	requestID := uuid.New().String()
	if effects.GasObject.Reference.ObjectID == "" {
		return newError(CodeInvalidEffects, requestID, nil, "effects missing gasObject.reference")
	}
	if effects.GasUsed == (rpc.GasUsed{}) {
		return newError(CodeInvalidEffects, requestID, nil, "effects missing gasUsed")
	}
	s.pool.UpdateFromEffects(effects, reservation.ObjectID)
	return nil
}

// Replenish tops the pool back up to its target size from the sponsor's
// on-chain holdings, without disturbing existing entries.
func (s *Sponsor) Replenish(ctx context.Context) error {
	if !s.isInitialized() {
		return newError(CodeNotInitialized, "", nil, "sponsor not initialized")
	}
	return s.pool.Replenish(ctx, s.poolDeps())
}

// Close attempts to merge the pool's idle coins back into one before
// clearing all tracked state. Best-effort: a merge failure does not
// prevent the pool from being cleared.
func (s *Sponsor) Close(ctx context.Context) error {
	return s.pool.Close(ctx, s.poolDeps())
}

// Stats returns the pool's current size and balance snapshot.
func (s *Sponsor) Stats() pool.Stats {
	return s.pool.Stats()
}
