package httpserver

import (
	"net/http"

	"github.com/shielded-relay/relayer/internal/challenge"
	"github.com/shielded-relay/relayer/internal/relay/direct"
	"github.com/shielded-relay/relayer/pkg/x402wire"
)

// relayPay handles POST /v1/relay/pay: the direct shielded-proof rail
// (C7). The agent has already satisfied a challenge; this call submits its
// proof-backed payment for verification, settlement, and merchant payout.
func (h *handlers) relayPay(w http.ResponseWriter, r *http.Request) {
	var req direct.PayRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(x402wire.HeaderIdempotencyKey)
	}

	resp := h.direct.HandlePay(r.Context(), req)
	writeJSON(w, statusForOutcome(resp.Status), resp)
}

type relayChallengeRequestBody struct {
	MerchantRequest         challenge.MerchantRequest `json:"merchantRequest"`
	MerchantPaymentRequired string                    `json:"merchantPaymentRequiredHeader,omitempty"`
}

// relayChallenge handles POST /v1/relay/challenge: C6's standalone bridge
// entry point, used when an agent wants a shielded requirement up front
// rather than from its own unescorted 402 against the merchant.
func (h *handlers) relayChallenge(w http.ResponseWriter, r *http.Request) {
	var body relayChallengeRequestBody
	if err := decodeJSON(r.Body, &body); err != nil {
		writeDecodeError(w, err)
		return
	}

	resp, err := h.bridge.Bridge(r.Context(), challenge.Request{
		MerchantRequest:         body.MerchantRequest,
		MerchantPaymentRequired: body.MerchantPaymentRequired,
	})
	if err != nil {
		writeRelayErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
