package x402wire

import "time"

// Header names this relayer reads and writes. Upstream-compat aliases
// (X-PAYMENT / X-PAYMENT-RESPONSE) mirror the canonical pair bidirectionally
// so older merchants keep working unmodified.
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderChallengeNonce   = "X-CHALLENGE-NONCE"
	HeaderSettlementID     = "x-relayer-settlement-id"
	HeaderIdempotencyKey   = "x-idempotency-key"
	HeaderRequestID        = "x-relayer-request-id"

	HeaderLegacyPayment         = "X-PAYMENT"
	HeaderLegacyPaymentResponse = "X-PAYMENT-RESPONSE"
)

// DefaultChallengeTTL is how long a shielded challenge nonce remains valid
// when C6 mints one and the config does not override it.
const DefaultChallengeTTL = 2 * time.Minute

// DefaultMaxProofBytes bounds a ShieldedPaymentPayload.Proof field; larger
// proofs are rejected with ErrCodeProofTooLarge before any verifier call.
const DefaultMaxProofBytes = 128 * 1024

// PublicInputsLen is the exact arity a shielded payload's publicInputs must
// have: [nullifier, root, merchantCommitment, changeCommitment,
// challengeHash, amount].
const PublicInputsLen = 6
