package pool

import (
	"time"

	"github.com/holiman/uint256"
)

// Status is a CoinEntry's reservation state.
type Status int

const (
	Available Status = iota
	Reserved
)

func (s Status) String() string {
	if s == Reserved {
		return "reserved"
	}
	return "available"
}

// CoinEntry tracks one fee coin's identity, latest on-chain reference,
// balance, and reservation state. It is a value type: Reserve returns a
// copy, never a pointer into the pool's internal map, so caller mutation
// can never corrupt the pool's invariants.
type CoinEntry struct {
	ObjectID   string
	Version    uint64
	Digest     string
	Balance    *uint256.Int
	Status     Status
	ReservedAt time.Time
}

func (e CoinEntry) reference() objectRef {
	return objectRef{ObjectID: e.ObjectID, Version: e.Version, Digest: e.Digest}
}

type objectRef struct {
	ObjectID string
	Version  uint64
	Digest   string
}

// Reservation is the opaque handle returned by Reserve. Callers correlate
// a later ReportExecution call back to a coin using it; it carries no
// meaning beyond (ObjectID, ReservedAt).
type Reservation struct {
	ObjectID   string
	ReservedAt int64 // unix millis
}

// clone returns a deep-enough copy of e: the *uint256.Int is copied by
// value so a caller mutating the returned CoinEntry.Balance cannot alias
// the pool's internal state.
func (e CoinEntry) clone() CoinEntry {
	cp := e
	if e.Balance != nil {
		cp.Balance = new(uint256.Int).Set(e.Balance)
	}
	return cp
}
