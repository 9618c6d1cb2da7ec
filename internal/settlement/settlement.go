// Package settlement implements C4: the on-chain settlement adapter. It
// submits a shielded spend to the pool contract and reports success,
// conflict ("already settled"), or a retryable RPC failure. It also
// implements the credit-channel contract collaborator (CreditSettler) C8's
// topup and close lifecycle submits to.
package settlement

import (
	"context"

	"github.com/shielded-relay/relayer/internal/cryptox"
	"github.com/shielded-relay/relayer/internal/verifier"
)

// Result is C4's return shape, per spec.md §4.4.
type Result struct {
	AlreadySettled    bool
	TxHash            string
	MerchantLeafIndex uint32
	ChangeLeafIndex   uint32
}

// Adapter is C4's contract: submit a spend tx to the pool; report
// success/conflict and output-leaf indices. Polymorphic over {stub,
// on-chain}, matching C3's shape.
type Adapter interface {
	SettleOnchain(ctx context.Context, payload verifier.Payload) (Result, error)
}

// ChannelSettler is the subset of Adapter the credit-channel processor (C8)
// needs for topup settlement, keyed by the same Payload shape the direct
// rail uses for its own shielded proof.
type ChannelSettler interface {
	Adapter
}

// outputLeafIndex derives a leaf index for the merchant or change output
// from the submitted nullifier and an output discriminator, used by the
// stub adapter to synthesize indices that are stable across retries for the
// same payload without an on-chain leaf counter.
func outputLeafIndex(nullifier cryptox.Word, discriminant byte) uint32 {
	tag := cryptox.Keccak256(nullifier[:], []byte{discriminant})
	return uint32(tag[28])<<24 | uint32(tag[29])<<16 | uint32(tag[30])<<8 | uint32(tag[31])
}
