// Package payout implements C5: the merchant payout adapter. Once a
// settlement has cleared on-chain, it forwards the agent's original HTTP
// request to the merchant (or synthesizes/self-funds the payment,
// depending on mode) and reports back the merchant's response verbatim so
// the processor can relay it to the agent.
package payout

import (
	"context"
	"net/http"

	"github.com/shielded-relay/relayer/pkg/x402wire"
)

// MerchantRequest is the agent's original HTTP call to the merchant,
// captured so the relayer can replay it after settlement.
type MerchantRequest struct {
	URL     string
	Method  string
	Headers map[string][]string
	// BodyBase64 is the original request body, base64-encoded so it
	// round-trips through JSON untouched regardless of content type.
	BodyBase64 string
}

// Result is C5's return shape: the merchant's response, adapted to travel
// back through the relayer's own HTTP response.
type Result struct {
	Status          int
	Headers         map[string]string
	BodyBase64      string
	PayoutReference string
}

// Adapter is C5's contract. Polymorphic over {forward, noop, upstream-x402}.
type Adapter interface {
	PayMerchant(ctx context.Context, settlementID string, req MerchantRequest, requirement x402wire.PaymentRequirement, nullifier string) (Result, error)
}

// stripped returns a copy of hdr with every payment-related header removed,
// so a merchant forward never echoes the agent's payment proof or
// idempotency metadata.
func stripped(hdr map[string][]string) http.Header {
	out := make(http.Header, len(hdr))
	for k, v := range hdr {
		out[k] = append([]string(nil), v...)
	}
	x402wire.StripPaymentHeaders(out)
	return out
}
