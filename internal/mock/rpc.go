// Package mock provides function-field test doubles for gasstation's
// injected collaborator interfaces, following the same pattern as
// validatorstest.State: a struct of optionally-set "...F" fields, one per
// interface method, so a test only has to wire up the methods it exercises.
package mock

import (
	"context"

	"github.com/chainsponsor/gasstation/rpc"
)

var _ rpc.Client = (*Client)(nil)

// Client is a function-field test double for rpc.Client. A method panics
// if called without its corresponding field set, the same way an unset
// validatorstest.State field panics on invocation.
type Client struct {
	ListCoinsF          func(ctx context.Context, owner string, cursor string) (rpc.CoinPage, error)
	BatchGetObjectsF    func(ctx context.Context, objectIDs []string) ([]rpc.ObjectState, error)
	CurrentSystemStateF func(ctx context.Context) (rpc.SystemState, error)
	SubmitTransactionF  func(ctx context.Context, txBytes []byte, signatures [][]byte, opts rpc.SubmitOptions) (rpc.SubmitResult, error)
}

func (c *Client) ListCoins(ctx context.Context, owner string, cursor string) (rpc.CoinPage, error) {
	return c.ListCoinsF(ctx, owner, cursor)
}

func (c *Client) BatchGetObjects(ctx context.Context, objectIDs []string) ([]rpc.ObjectState, error) {
	return c.BatchGetObjectsF(ctx, objectIDs)
}

func (c *Client) CurrentSystemState(ctx context.Context) (rpc.SystemState, error) {
	return c.CurrentSystemStateF(ctx)
}

func (c *Client) SubmitTransaction(ctx context.Context, txBytes []byte, signatures [][]byte, opts rpc.SubmitOptions) (rpc.SubmitResult, error) {
	return c.SubmitTransactionF(ctx, txBytes, signatures, opts)
}
