package x402wire

import "net/http"

// ReadPaymentSignature reads the agent's signed payment envelope, preferring
// the canonical PAYMENT-SIGNATURE header and falling back to the legacy
// X-PAYMENT alias some older agent clients still send.
func ReadPaymentSignature(h http.Header) string {
	if v := h.Get(HeaderPaymentSignature); v != "" {
		return v
	}
	return h.Get(HeaderLegacyPayment)
}

// WritePaymentRequired writes a PAYMENT-REQUIRED challenge to both the
// canonical header name and, for upstream compatibility, nothing else —
// PAYMENT-REQUIRED has no legacy alias on the challenge side.
func WritePaymentRequired(h http.Header, encoded string) {
	h.Set(HeaderPaymentRequired, encoded)
}

// WritePaymentSignatureResponse mirrors a settlement result to both the
// canonical and legacy response header names, matching the bidirectional
// aliasing upstream x402 facilitators expect.
func WritePaymentSignatureResponse(h http.Header, encoded string) {
	h.Set(HeaderPaymentSignature, encoded)
	h.Set(HeaderLegacyPaymentResponse, encoded)
}

// StripPaymentHeaders removes every payment-related header from h so a
// merchant forward never echoes the agent's payment proof or idempotency
// metadata to the merchant.
func StripPaymentHeaders(h http.Header) {
	h.Del(HeaderPaymentRequired)
	h.Del(HeaderPaymentSignature)
	h.Del(HeaderChallengeNonce)
	h.Del(HeaderSettlementID)
	h.Del(HeaderIdempotencyKey)
	h.Del(HeaderLegacyPayment)
	h.Del(HeaderLegacyPaymentResponse)
}
