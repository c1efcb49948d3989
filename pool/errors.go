package pool

import "errors"

// ErrInsufficientFunds is returned by Initialize/Replenish when the
// sponsor's on-chain holdings contain neither a usable nor a source coin
// to seed the pool from.
var ErrInsufficientFunds = errors.New("gasstation/pool: insufficient funds to source fee coins")
