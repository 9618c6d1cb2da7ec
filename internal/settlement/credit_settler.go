package settlement

import "context"

// CreditCloseResult reports the outcome of an on-chain credit-channel call:
// the submitted transaction hash, or AlreadySettled if the chain already
// reflects the requested state (a retried close/topup racing its own
// earlier submission).
type CreditCloseResult struct {
	AlreadySettled bool
	TxHash         string
}

// CreditSettler is C8's on-chain collaborator: the credit-channel contract
// spec.md §4.8 describes as tracking each channel's latest countersigned
// state hash and its close lifecycle. Polymorphic over {stub, on-chain},
// matching C3/C4's shape.
type CreditSettler interface {
	// OpenOrTopup records a channel's new state hash on-chain, minting the
	// channel on its first call and topping it up on every later one.
	OpenOrTopup(ctx context.Context, channelID [32]byte, stateHash [32]byte) (CreditCloseResult, error)

	// StartClose opens a channel's on-chain challenge window against the
	// given state hash.
	StartClose(ctx context.Context, channelID [32]byte, stateHash [32]byte) (CreditCloseResult, error)

	// ChallengeClose supersedes an in-flight close with a higher-sequence
	// countersigned state hash.
	ChallengeClose(ctx context.Context, channelID [32]byte, stateHash [32]byte) (CreditCloseResult, error)

	// FinalizeClose submits the finalizer once a channel's challenge
	// window has elapsed.
	FinalizeClose(ctx context.Context, channelID [32]byte) (CreditCloseResult, error)
}
