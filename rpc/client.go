// Package rpc describes the blockchain RPC surface gasstation depends on.
// Concrete clients (a JSON-RPC client, a test double, ...) implement Client;
// gasstation only ever consumes the interface, following the
// BlockProvider/SnapshotProvider/SyncDataProvider split the teacher's sync
// handlers use to keep each capability independently mockable.
package rpc

import "context"

// Coin is one coin object as reported by the chain's coin-listing API.
type Coin struct {
	ObjectID string
	Version  uint64
	Digest   string
	Balance  uint64
}

// CoinPage is one page of a paginated coin listing.
type CoinPage struct {
	Data       []Coin
	NextCursor string
	HasMore    bool
}

// ObjectState is the result of looking up a single object. Found is false
// when the object no longer exists on-chain (deleted, wrapped, or pruned).
type ObjectState struct {
	ObjectID string
	Found    bool
	Version  uint64
	Digest   string
	Balance  uint64
}

// SystemState is the chain's current epoch information.
type SystemState struct {
	Epoch           string
	ReferencePrice  uint64
	EpochStartMs    int64
	EpochDurationMs int64
}

// SubmitOptions controls what the chain includes in a SubmitTransaction
// response. gasstation always needs effects; the field exists so callers of
// the underlying RPC client outside this module can ask for less.
type SubmitOptions struct {
	ShowEffects bool
}

// GasUsed is the fee breakdown of an executed transaction. Fields are
// signed because a transaction that frees storage can net-refund.
type GasUsed struct {
	ComputationCost        int64
	StorageCost             int64
	StorageRebate           int64
	NonRefundableStorageFee int64
}

// Effects is the chain's post-execution report for a transaction.
type Effects struct {
	GasObject struct {
		Reference ObjectRef
	}
	GasUsed GasUsed
	// Created lists objects newly created by the transaction, populated
	// for admin split transactions issued by the pool. Empty for ordinary
	// sponsored transactions.
	Created []ObjectRef
}

// ObjectRef is the triple identifying an object's on-chain state. Defined
// again here (rather than imported from txcodec) so this package has no
// dependency on the transaction-body codec -- only txcodec depends on rpc,
// never the reverse.
type ObjectRef struct {
	ObjectID string
	Version  uint64
	Digest   string
}

// SubmitResult is the response to SubmitTransaction.
type SubmitResult struct {
	Digest  string
	Effects Effects
}

// CoinLister paginates a chain account's owned coins.
type CoinLister interface {
	ListCoins(ctx context.Context, owner string, cursor string) (CoinPage, error)
}

// ObjectBatchGetter fetches the current state of a batch of objects in one
// round trip.
type ObjectBatchGetter interface {
	BatchGetObjects(ctx context.Context, objectIDs []string) ([]ObjectState, error)
}

// SystemStateProvider reports the chain's current epoch.
type SystemStateProvider interface {
	CurrentSystemState(ctx context.Context) (SystemState, error)
}

// TransactionSubmitter submits a signed transaction for execution.
type TransactionSubmitter interface {
	SubmitTransaction(ctx context.Context, txBytes []byte, signatures [][]byte, opts SubmitOptions) (SubmitResult, error)
}

// Client is the full RPC surface gasstation is injected with. It is
// assumed safe for concurrent use by its own contract, same as the
// teacher's AppSender/p2p.Network collaborators.
type Client interface {
	CoinLister
	ObjectBatchGetter
	SystemStateProvider
	TransactionSubmitter
}
