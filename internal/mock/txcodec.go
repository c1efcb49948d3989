package mock

import (
	"context"

	"github.com/chainsponsor/gasstation/rpc"
	"github.com/chainsponsor/gasstation/txcodec"
)

var (
	_ txcodec.Codec = (*Codec)(nil)
	_ txcodec.Tx    = (*Tx)(nil)
)

// Tx is a plain mutable test double for txcodec.Tx -- unlike Client and
// Signer it has no natural zero-arg behavior to stub out, so it just holds
// state directly rather than delegating through function fields.
type Tx struct {
	CommandList []txcodec.Command
	Gas         txcodec.GasData
	BytesValue  []byte
}

func (t *Tx) Commands() []txcodec.Command { return t.CommandList }

func (t *Tx) SetSender(sender string) {}

func (t *Tx) SetGasOwner(owner string) { t.Gas.Owner = owner }

func (t *Tx) SetGasPayment(payment []txcodec.ObjectRef) { t.Gas.Payment = payment }

func (t *Tx) SetGasPrice(price uint64) { t.Gas.Price = price }

func (t *Tx) SetGasBudget(budget uint64) { t.Gas.Budget = budget }

func (t *Tx) GasData() txcodec.GasData { return t.Gas }

func (t *Tx) Bytes() []byte { return t.BytesValue }

// Codec is a function-field test double for txcodec.Codec.
type Codec struct {
	ParseKindF           func(bodyBytes []byte) (txcodec.Tx, error)
	BuildF               func(ctx context.Context, tx txcodec.Tx, client rpc.Client, budgetCeiling uint64) ([]byte, error)
	ParseFullF           func(txBytes []byte) (txcodec.Tx, error)
	NewSplitTransactionF func(owner string, gasPayment []txcodec.ObjectRef, count int, splitAmount uint64) (txcodec.Tx, error)
	NewMergeTransactionF func(owner string, gasPayment []txcodec.ObjectRef, mergeFrom []txcodec.ObjectRef) (txcodec.Tx, error)
}

func (c *Codec) ParseKind(bodyBytes []byte) (txcodec.Tx, error) { return c.ParseKindF(bodyBytes) }

func (c *Codec) Build(ctx context.Context, tx txcodec.Tx, client rpc.Client, budgetCeiling uint64) ([]byte, error) {
	return c.BuildF(ctx, tx, client, budgetCeiling)
}

func (c *Codec) ParseFull(txBytes []byte) (txcodec.Tx, error) { return c.ParseFullF(txBytes) }

func (c *Codec) NewSplitTransaction(owner string, gasPayment []txcodec.ObjectRef, count int, splitAmount uint64) (txcodec.Tx, error) {
	return c.NewSplitTransactionF(owner, gasPayment, count, splitAmount)
}

func (c *Codec) NewMergeTransaction(owner string, gasPayment []txcodec.ObjectRef, mergeFrom []txcodec.ObjectRef) (txcodec.Tx, error) {
	return c.NewMergeTransactionF(owner, gasPayment, mergeFrom)
}
