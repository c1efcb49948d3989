package mock

import (
	"context"

	"github.com/chainsponsor/gasstation/signer"
)

var _ signer.Signer = (*Signer)(nil)

// Signer is a function-field test double for signer.Signer.
type Signer struct {
	AddressF string
	SignF    func(ctx context.Context, message []byte) (signer.Signature, error)
}

func (s *Signer) Address() string { return s.AddressF }

func (s *Signer) Sign(ctx context.Context, message []byte) (signer.Signature, error) {
	return s.SignF(ctx, message)
}
