// Package signer describes the sponsor's signing key as an injected
// collaborator. The key itself -- software-held, HSM-backed, or remote --
// is never stored as mutable state inside gasstation; each sponsorship
// makes exactly one Sign call.
package signer

import "context"

// Signature is the result of signing a message.
type Signature struct {
	Bytes []byte
}

// Signer signs on behalf of the sponsor address.
type Signer interface {
	// Address returns the sponsor's chain address in canonical form.
	Address() string

	// Sign signs message and returns the signature. May be a remote or
	// hardware call; callers should assume it can block and should pass a
	// context with an appropriate deadline.
	Sign(ctx context.Context, message []byte) (Signature, error)
}
