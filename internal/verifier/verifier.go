// Package verifier implements C3: the shielded proof verifier adapter.
// It checks a zero-knowledge spend proof against an on-chain verifier
// contract and tracks nullifier/root state, polymorphic over an allow-all
// in-process stub (development, tests) and an on-chain RPC-backed variant.
package verifier

import (
	"context"

	"github.com/shielded-relay/relayer/internal/cryptox"
)

// Payload carries the fields a verifier needs: the proof bytes and its
// public-inputs tuple, per spec.md §3's ShieldedPaymentPayload.
type Payload struct {
	Proof        []byte
	PublicInputs []string
	Nullifier    cryptox.Word
	Root         cryptox.Word
}

// Verifier is C3's contract: verify a proof, check nullifier/root state, and
// record a nullifier as spent. Verification failure is terminal for the
// current request and must never mutate nullifier/root state.
type Verifier interface {
	VerifyProof(ctx context.Context, payload Payload) (bool, error)
	IsNullifierUsed(ctx context.Context, nullifier cryptox.Word) (bool, error)
	IsKnownRoot(ctx context.Context, root cryptox.Word) (bool, error)
	MarkNullifierUsed(ctx context.Context, nullifier cryptox.Word) error
}
