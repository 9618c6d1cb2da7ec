package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shielded-relay/relayer/internal/relay/credit"
)

// creditTopup handles POST /v1/relay/credit/topup (C8): a shielded proof
// crediting a channel's available balance, optionally also advancing its
// head to a new countersigned state.
func (h *handlers) creditTopup(w http.ResponseWriter, r *http.Request) {
	var req credit.TopupRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	resp := h.credit.Topup(r.Context(), req)
	writeJSON(w, statusForOutcome(resp.Status), resp)
}

// creditPay handles POST /v1/relay/credit/pay (C8): a signed debit intent
// spending down an already-topped-up channel by one step.
func (h *handlers) creditPay(w http.ResponseWriter, r *http.Request) {
	var req credit.PayRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	resp := h.credit.Pay(r.Context(), req)
	writeJSON(w, statusForOutcome(resp.Status), resp)
}

// creditCloseStart handles POST /v1/relay/credit/close/start (C8): opens a
// channel's on-chain challenge window against its latest known head.
func (h *handlers) creditCloseStart(w http.ResponseWriter, r *http.Request) {
	var req credit.CloseStartRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	resp := h.credit.CloseStart(r.Context(), req)
	writeJSON(w, statusForOutcome(resp.Status), resp)
}

// creditCloseChallenge handles POST /v1/relay/credit/close/challenge (C8):
// supersedes an in-flight close with a higher-sequence countersigned state.
func (h *handlers) creditCloseChallenge(w http.ResponseWriter, r *http.Request) {
	var req credit.CloseChallengeRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	resp := h.credit.CloseChallenge(r.Context(), req)
	writeJSON(w, statusForOutcome(resp.Status), resp)
}

// creditCloseFinalize handles POST /v1/relay/credit/close/finalize (C8):
// deletes the durable head once a channel's challenge window has elapsed.
func (h *handlers) creditCloseFinalize(w http.ResponseWriter, r *http.Request) {
	var req credit.CloseFinalizeRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	resp := h.credit.CloseFinalize(r.Context(), req)
	writeJSON(w, statusForOutcome(resp.Status), resp)
}

// creditStatus handles GET /v1/relay/credit/close/{channelId} (C8): reports
// whether a channel has a durable head and whether a close is in flight.
func (h *handlers) creditStatus(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	resp := h.credit.Status(r.Context(), channelID)
	writeJSON(w, http.StatusOK, resp)
}
