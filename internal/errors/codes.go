package errors

// ErrorCode is a stable, machine-readable reason tag surfaced to agents on a
// FAILED response and mapped to an HTTP status at the transport boundary.
type ErrorCode string

// Protocol errors: malformed envelope, invalid hex, unsupported rail, wrong
// x402Version.
const (
	ErrCodeInvalidBase64       ErrorCode = "invalid_base64_envelope"
	ErrCodeMalformedEnvelope   ErrorCode = "malformed_envelope"
	ErrCodeMissingField        ErrorCode = "missing_field"
	ErrCodeInvalidHexWord      ErrorCode = "invalid_hex_word"
	ErrCodeUnsupportedRail     ErrorCode = "unsupported_rail"
	ErrCodeUnsupportedVersion  ErrorCode = "unsupported_x402_version"
	ErrCodeProofTooLarge       ErrorCode = "proof_too_large"
	ErrCodePublicInputsLength  ErrorCode = "public_inputs_length_mismatch"
)

// Challenge errors: challenge expired, nonce unknown, challenge-hash
// mismatch, amount mismatch, upstream terms drift.
const (
	ErrCodeChallengeExpired     ErrorCode = "challenge_expired"
	ErrCodeChallengeNonceUnknown ErrorCode = "challenge_nonce_unknown"
	ErrCodeChallengeHashMismatch ErrorCode = "challenge_hash_mismatch"
	ErrCodeAmountMismatch       ErrorCode = "amount_mismatch"
	ErrCodeMerchantChallengeDrift ErrorCode = "merchant_challenge_mismatch"
)

// Signature errors: bad ECDSA recovery, bad typed-data signer, mismatched
// agent address.
const (
	ErrCodeInvalidSignature    ErrorCode = "invalid_payment_signature"
	ErrCodeSignerNotRecovered  ErrorCode = "signature_not_recoverable"
	ErrCodeSignerMismatch      ErrorCode = "signer_address_mismatch"
)

// State errors: stale latestState (head CAS), non-contiguous seq,
// insufficient available, intent deadline passed.
const (
	ErrCodeStaleHead         ErrorCode = "stale_latest_state"
	ErrCodeNonContiguousSeq  ErrorCode = "non_contiguous_sequence"
	ErrCodeInsufficientFunds ErrorCode = "insufficient_available_balance"
	ErrCodeDeadlinePassed    ErrorCode = "debit_intent_deadline_passed"
	ErrCodeBindingMismatch   ErrorCode = "merchant_request_binding_mismatch"
)

// Nullifier errors: nullifier already used.
const (
	ErrCodeNullifierUsed ErrorCode = "nullifier_already_used"
)

// Proof errors: proof verification returned false, or the settlement
// contract rejected the spend.
const (
	ErrCodeProofInvalid       ErrorCode = "proof_verification_failed"
	ErrCodeAlreadySettled     ErrorCode = "already_settled_onchain"
)

// Settlement errors: on-chain RPC failure; retryable.
const (
	ErrCodeSettlementRPCFailure ErrorCode = "settlement_rpc_failure"
	ErrCodeVerifierRPCFailure   ErrorCode = "verifier_rpc_failure"
)

// Payout errors: merchant returned >=400 or network error; terminal for the
// current request, never rolled back on-chain.
const (
	ErrCodeMerchantRejected ErrorCode = "merchant_rejected_payment"
	ErrCodeMerchantNetwork  ErrorCode = "merchant_network_error"
)

// Internal errors: unexpected invariant violation.
const (
	ErrCodeInternal ErrorCode = "internal_error"
	ErrCodeStore    ErrorCode = "store_error"
)

// IsRetryable reports whether an agent may retry the originating request with
// the same requestId and expect the idempotency cache to eventually replay a
// success. Only SettlementError-kind codes are retryable; every other kind is
// terminal and requires a new requestId.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeSettlementRPCFailure, ErrCodeVerifierRPCFailure:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a reason tag to the HTTP status spec.md §7 assigns to its
// error kind.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeInvalidBase64, ErrCodeMalformedEnvelope, ErrCodeMissingField,
		ErrCodeInvalidHexWord, ErrCodeUnsupportedRail, ErrCodeUnsupportedVersion,
		ErrCodeProofTooLarge, ErrCodePublicInputsLength:
		return 400

	case ErrCodeChallengeExpired, ErrCodeChallengeNonceUnknown,
		ErrCodeChallengeHashMismatch, ErrCodeAmountMismatch,
		ErrCodeMerchantChallengeDrift,
		ErrCodeInvalidSignature, ErrCodeSignerNotRecovered, ErrCodeSignerMismatch,
		ErrCodeStaleHead, ErrCodeNonContiguousSeq, ErrCodeInsufficientFunds,
		ErrCodeDeadlinePassed, ErrCodeBindingMismatch,
		ErrCodeProofInvalid:
		return 422

	case ErrCodeNullifierUsed, ErrCodeAlreadySettled:
		return 409

	case ErrCodeSettlementRPCFailure, ErrCodeVerifierRPCFailure:
		return 502

	case ErrCodeMerchantRejected, ErrCodeMerchantNetwork:
		return 502

	default:
		return 500
	}
}
