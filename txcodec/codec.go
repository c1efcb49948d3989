// Package txcodec describes the chain's transaction-body wire format as an
// injected collaborator. gasstation never encodes or decodes the chain's
// binary transaction format itself -- that remains the caller's codec
// implementation's job. This package only defines the shapes the rest of
// the module needs to reach into a transaction body: its commands, its gas
// data, and the handful of setters required to attach a sponsor's gas coin.
package txcodec

import (
	"context"

	"github.com/chainsponsor/gasstation/rpc"
)

// Kind discriminates the closed set of commands a transaction body may
// contain.
type Kind int

const (
	KindMoveCall Kind = iota
	KindSplitCoins
	KindTransferObjects
	KindMergeCoins
	KindMakeMoveVec
	KindPublish
	KindUpgrade
)

func (k Kind) String() string {
	switch k {
	case KindMoveCall:
		return "MoveCall"
	case KindSplitCoins:
		return "SplitCoins"
	case KindTransferObjects:
		return "TransferObjects"
	case KindMergeCoins:
		return "MergeCoins"
	case KindMakeMoveVec:
		return "MakeMoveVec"
	case KindPublish:
		return "Publish"
	case KindUpgrade:
		return "Upgrade"
	default:
		return "Unknown"
	}
}

// ArgKind discriminates the kind of a command argument. Only GasCoin matters
// to the drain check; the rest are opaque to gasstation.
type ArgKind int

const (
	ArgGasCoin ArgKind = iota
	ArgInput
	ArgResult
	ArgOther
)

// Argument is one entry in a command's argument list.
type Argument struct {
	Kind ArgKind
}

// MoveCallTarget identifies a Move entry function by its fully qualified
// package::module::function name, using chain-normalized (padded,
// lower-cased) address form for Package.
type MoveCallTarget struct {
	Package  string
	Module   string
	Function string
}

// Command is one operation inside a transaction body's kind bytes.
type Command struct {
	Kind   Kind
	Target *MoveCallTarget // set only for KindMoveCall
	Args   []Argument
}

// Arguments returns the command's argument list exactly as the codec
// populated Args; no per-kind reordering or filtering is applied here.
func (c Command) Arguments() []Argument {
	return c.Args
}

// ObjectRef is the triple identifying an object's on-chain state.
type ObjectRef struct {
	ObjectID string
	Version  uint64
	Digest   string
}

// GasData is the gas-payment section of a transaction.
type GasData struct {
	Payment []ObjectRef
	Owner   string
	Price   uint64
	Budget  uint64
}

// Tx is a parsed transaction, either kind-only (pre gas data) or full.
type Tx interface {
	// Commands returns the transaction's command list.
	Commands() []Command

	// SetSender sets the transaction sender.
	SetSender(sender string)

	// SetGasOwner sets the address that owns the gas payment coins --
	// the sponsor, in a sponsored transaction.
	SetGasOwner(owner string)

	// SetGasPayment replaces the gas payment coin references.
	SetGasPayment(payment []ObjectRef)

	// SetGasPrice sets the reference gas price used for this transaction.
	SetGasPrice(price uint64)

	// SetGasBudget sets the maximum gas budget. A zero budget lets Build
	// auto-estimate one, bounded by the ceiling passed to Build.
	SetGasBudget(budget uint64)

	// GasData returns the transaction's current gas section.
	GasData() GasData

	// Bytes returns the serialized kind bytes this Tx was parsed from, or
	// the bytes last produced by a successful Build call.
	Bytes() []byte
}

// Codec parses and serializes the chain's transaction wire format.
type Codec interface {
	// ParseKind parses a transaction's kind bytes only (no gas data yet).
	ParseKind(bodyBytes []byte) (Tx, error)

	// Build serializes tx to full wire bytes, performing a dry-run gas
	// estimation against client bounded by budgetCeiling when tx's budget
	// is unset.
	Build(ctx context.Context, tx Tx, client rpc.Client, budgetCeiling uint64) ([]byte, error)

	// ParseFull parses a fully built (gas data attached) transaction.
	ParseFull(txBytes []byte) (Tx, error)

	// NewSplitTransaction builds the kind bytes for an admin transaction
	// that uses gasPayment as its gas coin, splits that coin into count
	// pieces of splitAmount, and transfers each resulting coin to owner.
	// Used by the pool to mint fresh fee coins out of an oversized source
	// coin; never exposed to a sender's transaction body.
	NewSplitTransaction(owner string, gasPayment []ObjectRef, count int, splitAmount uint64) (Tx, error)

	// NewMergeTransaction builds the kind bytes for an admin transaction
	// that uses gasPayment as its gas coin and merges mergeFrom into it.
	// Used by the pool at shutdown to fold idle fee coins back into one.
	NewMergeTransaction(owner string, gasPayment []ObjectRef, mergeFrom []ObjectRef) (Tx, error)
}
