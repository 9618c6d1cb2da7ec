// Package credit implements C8: the credit-channel processor. An agent
// tops up a long-lived signed credit channel once with a shielded proof,
// then spends it down sub-second-debit at a time via signed state
// transitions, with per-channel serialization and a compare-and-swap head.
package credit

import (
	"math/big"

	"github.com/shielded-relay/relayer/internal/payout"
	"github.com/shielded-relay/relayer/pkg/x402wire"
)

// CreditState is the durable per-channel balance sheet spec.md §3 defines.
type CreditState struct {
	ChannelID       string `json:"channelId"`
	Seq             uint64 `json:"seq"`
	Available       string `json:"available"`       // decimal big.Int string
	CumulativeSpent string `json:"cumulativeSpent"`  // decimal big.Int string
	LastDebitDigest string `json:"lastDebitDigest"`  // 0x hex word
	UpdatedAt       uint64 `json:"updatedAt"`        // unix seconds
	AgentAddress    string `json:"agentAddress"`
	RelayerAddress  string `json:"relayerAddress"`
}

// SignedCreditState is a CreditState countersigned by both parties over its
// EIP-712 struct hash.
type SignedCreditState struct {
	State            CreditState `json:"state"`
	AgentSignature   string      `json:"agentSignature"`
	RelayerSignature string      `json:"relayerSignature"`
}

// DebitIntent is the agent's signed request to spend down a channel by one
// step, bound to a specific merchant request and the channel's current head.
type DebitIntent struct {
	ChannelID           string `json:"channelId"`
	RequestID           string `json:"requestId"`
	NextSeq             uint64 `json:"nextSeq"`
	Amount              string `json:"amount"`
	MerchantRequestHash string `json:"merchantRequestHash"`
	PrevStateHash       string `json:"prevStateHash"`
	Deadline            uint64 `json:"deadline"`
}

// TopupRequest is C8's topup(request) input, spec.md §4.8.1.
type TopupRequest struct {
	RequestID              string
	ChannelID              string
	PaymentSignatureHeader string // carries the shielded paymentPayload + its signature, C7.1-shaped
	LatestState            *SignedCreditState
}

// TopupResponse is C8's topup(request) output.
type TopupResponse struct {
	Status                    string // "DONE" or "FAILED"
	ChannelID                 string
	NextState                 *CreditState
	NextStateRelayerSignature string
	SettlementTxHash          string // shielded-pool deposit settlement tx
	ChannelSettlementTxHash   string // credit-channel contract's openOrTopup tx
	AmountCredited            string
	SettledNullifier          string
	FailureReason             string
}

// PayRequest is C8's pay(request) input, spec.md §4.8.2.
type PayRequest struct {
	RequestID            string
	LatestState          SignedCreditState
	DebitIntent          DebitIntent
	DebitIntentSignature string
	MerchantRequest      payout.MerchantRequest
	Requirement          x402wire.PaymentRequirement
}

// PayResponse is C8's pay(request) output.
type PayResponse struct {
	Status                    string
	ChannelID                 string
	NextState                 *CreditState
	NextStateRelayerSignature string
	MerchantResult            *payout.Result
	FailureReason             string
}

// CloseStartRequest opens the on-chain close window for a channel.
type CloseStartRequest struct {
	LatestState SignedCreditState
}

// CloseChallengeRequest supersedes an in-flight close with a later valid
// state, per spec.md §4.8.3.
type CloseChallengeRequest struct {
	HigherState SignedCreditState
}

// CloseFinalizeRequest finalizes a channel's close after its challenge
// window has elapsed.
type CloseFinalizeRequest struct {
	ChannelID string
}

// CloseResponse is the common shape of every close-lifecycle transition.
type CloseResponse struct {
	Status           string
	ChannelID        string
	SettlementTxHash string // credit-channel contract's close-lifecycle tx
	FailureReason    string
}

// StatusResponse reports whether a channel has a durable head and whether a
// close is in flight.
type StatusResponse struct {
	Exists  bool
	Closing bool
	Head    *CreditState
}

func mustBigInt(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(s, 10)
	return n, ok
}
