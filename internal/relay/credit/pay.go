package credit

import (
	"context"
	"math/big"
	"strings"

	"github.com/shielded-relay/relayer/internal/cryptox"
	relayerrors "github.com/shielded-relay/relayer/internal/errors"
	"github.com/shielded-relay/relayer/internal/logger"
	"github.com/shielded-relay/relayer/internal/payout"
	"github.com/shielded-relay/relayer/pkg/x402wire"
)

// Pay runs spec.md §4.8.2's pipeline: one signed debit against an existing
// channel head, forwarded to the merchant only once every binding between
// the debit intent, the current head, and the merchant request checks out.
func (p *Processor) Pay(ctx context.Context, req PayRequest) PayResponse {
	if cached, ok := p.cachedPay(req.RequestID); ok {
		return cached
	}

	channelID := req.LatestState.State.ChannelID
	unlock := p.locks.Lock(channelID)
	defer unlock()

	if cached, ok := p.cachedPay(req.RequestID); ok {
		return cached
	}

	head, err := p.checkHeadCAS(ctx, channelID, &req.LatestState)
	if err != nil {
		return p.failPay(ctx, req, channelID, err)
	}
	if head == nil {
		return p.failPay(ctx, req, channelID, relayerrors.New(relayerrors.ErrCodeStaleHead, "channel has no durable head to debit"))
	}

	intent := req.DebitIntent
	if !strings.EqualFold(intent.ChannelID, channelID) {
		return p.failPay(ctx, req, channelID, relayerrors.New(relayerrors.ErrCodeBindingMismatch, "debitIntent.channelId does not match latestState.state.channelId"))
	}
	if req.RequestID != "" && !strings.EqualFold(intent.RequestID, req.RequestID) {
		return p.failPay(ctx, req, channelID, relayerrors.New(relayerrors.ErrCodeBindingMismatch, "debitIntent.requestId does not match the request's requestId"))
	}

	expectedMerchantHash := merchantRequestHash(req.MerchantRequest, req.Requirement)
	if !strings.EqualFold(intent.MerchantRequestHash, expectedMerchantHash.String()) {
		return p.failPay(ctx, req, channelID, relayerrors.New(relayerrors.ErrCodeBindingMismatch, "merchantRequestHash does not match {merchantRequest, requirement}"))
	}

	currentHash, err := stateHash(req.LatestState.State)
	if err != nil {
		return p.failPay(ctx, req, channelID, relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "hash latestState", err))
	}
	if !strings.EqualFold(intent.PrevStateHash, currentHash.String()) {
		return p.failPay(ctx, req, channelID, relayerrors.New(relayerrors.ErrCodeBindingMismatch, "debitIntent.prevStateHash does not match latestState"))
	}

	intentFields, err := debitIntentFields(intent)
	if err != nil {
		return p.failPay(ctx, req, channelID, relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "malformed debit intent", err))
	}
	intentDigest := cryptox.Digest(p.domain.Separator(), intentFields.StructHash())
	intentSig, err := decodeSignature(req.DebitIntentSignature)
	if err != nil {
		return p.failPay(ctx, req, channelID, relayerrors.Wrap(relayerrors.ErrCodeInvalidSignature, "malformed debitIntent signature", err))
	}
	intentSigner, err := cryptox.Recover(intentDigest, intentSig)
	if err != nil {
		return p.failPay(ctx, req, channelID, relayerrors.Wrap(relayerrors.ErrCodeSignerNotRecovered, "debitIntent signature not recoverable", err))
	}
	if !strings.EqualFold(intentSigner.Hex(), req.LatestState.State.AgentAddress) {
		return p.failPay(ctx, req, channelID, relayerrors.New(relayerrors.ErrCodeSignerMismatch, "debitIntent signer does not match the channel's agent address"))
	}

	if intent.NextSeq != req.LatestState.State.Seq+1 {
		return p.failPay(ctx, req, channelID, relayerrors.New(relayerrors.ErrCodeNonContiguousSeq, "debitIntent.nextSeq is not the channel's next sequence"))
	}
	amount, ok := new(big.Int).SetString(intent.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return p.failPay(ctx, req, channelID, relayerrors.New(relayerrors.ErrCodeAmountMismatch, "debitIntent.amount must be a positive decimal"))
	}
	if strings.TrimSpace(intent.Amount) != strings.TrimSpace(req.Requirement.Amount) {
		return p.failPay(ctx, req, channelID, relayerrors.New(relayerrors.ErrCodeAmountMismatch, "debitIntent.amount does not match the requirement's amount"))
	}
	available, _ := mustBigInt(req.LatestState.State.Available)
	if amount.Cmp(available) > 0 {
		return p.failPay(ctx, req, channelID, relayerrors.New(relayerrors.ErrCodeInsufficientFunds, "debitIntent.amount exceeds the channel's available balance"))
	}
	if nowUnix() > intent.Deadline {
		return p.failPay(ctx, req, channelID, relayerrors.New(relayerrors.ErrCodeDeadlinePassed, "debitIntent deadline has passed"))
	}

	payoutResult, err := p.Payout.PayMerchant(ctx, req.RequestID, req.MerchantRequest, req.Requirement, "")
	if err != nil {
		return p.failPay(ctx, req, channelID, relayerrors.Wrap(relayerrors.ErrCodeMerchantNetwork, "merchant forward failed", err))
	}
	if payoutResult.Status >= 400 {
		return p.failPay(ctx, req, channelID, relayerrors.New(relayerrors.ErrCodeMerchantRejected, "merchant rejected the forwarded request"))
	}

	next := CreditState{
		ChannelID:       channelID,
		Seq:             intent.NextSeq,
		Available:       new(big.Int).Sub(available, amount).String(),
		CumulativeSpent: addDecimal(req.LatestState.State.CumulativeSpent, amount),
		LastDebitDigest: intentFields.StructHash().String(),
		UpdatedAt:       nowUnix(),
		AgentAddress:    req.LatestState.State.AgentAddress,
		RelayerAddress:  p.relayerAddress.Hex(),
	}
	relayerSig, err := p.signState(next)
	if err != nil {
		return p.failPay(ctx, req, channelID, relayerrors.Wrap(relayerrors.ErrCodeInternal, "sign next credit state", err))
	}
	nextHash, err := stateHash(next)
	if err != nil {
		return p.failPay(ctx, req, channelID, relayerrors.Wrap(relayerrors.ErrCodeInternal, "hash next credit state", err))
	}
	if err := p.Store.PutHead(ctx, stateToHead(next, req.DebitIntentSignature, relayerSig, nextHash)); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("channel_id", channelID).Msg("credit.pay_persist_head_failed")
	}

	resp := PayResponse{
		Status:                    "DONE",
		ChannelID:                 channelID,
		NextState:                 &next,
		NextStateRelayerSignature: relayerSig,
		MerchantResult:            &payoutResult,
	}
	if p.Metrics != nil {
		p.Metrics.ObserveChannelDebit("success")
		p.Metrics.SetChannelHeadSeq(channelID, next.Seq)
	}
	p.cachePay(req.RequestID, resp)
	return resp
}

// merchantRequestHash binds a debit intent to both the merchant call it pays
// for and the terms the agent agreed to, so a relayer can never settle a
// debit against a different request or a drifted price.
func merchantRequestHash(req payout.MerchantRequest, requirement x402wire.PaymentRequirement) cryptox.Word {
	enc := cryptox.NewEncoder(cryptox.DomainMerchantRequest).
		String(req.URL).
		String(req.Method).
		String(requirement.Scheme).
		String(requirement.Network).
		String(strings.ToLower(requirement.Asset)).
		String(strings.ToLower(requirement.PayTo)).
		String(requirement.Amount)
	h, err := enc.Hash()
	if err != nil {
		panic(err)
	}
	return h
}

func debitIntentFields(intent DebitIntent) (cryptox.CreditDebitIntentFields, error) {
	channelID, err := cryptox.ParseWord(intent.ChannelID)
	if err != nil {
		return cryptox.CreditDebitIntentFields{}, err
	}
	requestID, err := cryptox.ParseWord(intent.RequestID)
	if err != nil {
		return cryptox.CreditDebitIntentFields{}, err
	}
	amount, ok := mustBigInt(intent.Amount)
	if !ok {
		return cryptox.CreditDebitIntentFields{}, relayerrors.New(relayerrors.ErrCodeAmountMismatch, "debitIntent.amount is not decimal")
	}
	merchantHash, err := cryptox.ParseWord(intent.MerchantRequestHash)
	if err != nil {
		return cryptox.CreditDebitIntentFields{}, err
	}
	prevStateHash, err := cryptox.ParseWord(intent.PrevStateHash)
	if err != nil {
		return cryptox.CreditDebitIntentFields{}, err
	}
	return cryptox.CreditDebitIntentFields{
		ChannelID:           channelID,
		RequestID:           requestID,
		NextSeq:             intent.NextSeq,
		Amount:              amount,
		MerchantRequestHash: merchantHash,
		PrevStateHash:       prevStateHash,
		Deadline:            intent.Deadline,
	}, nil
}

func addDecimal(s string, amount *big.Int) string {
	n, ok := mustBigInt(s)
	if !ok {
		n = big.NewInt(0)
	}
	return new(big.Int).Add(n, amount).String()
}

func (p *Processor) cachedPay(requestID string) (PayResponse, bool) {
	if requestID == "" {
		return PayResponse{}, false
	}
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	resp, ok := p.payCache[requestID]
	return resp, ok
}

func (p *Processor) cachePay(requestID string, resp PayResponse) {
	if requestID == "" {
		return
	}
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.payCache[requestID] = resp
}

func (p *Processor) failPay(ctx context.Context, req PayRequest, channelID string, err error) PayResponse {
	reason := err.Error()
	if relayErr, ok := err.(*relayerrors.RelayError); ok {
		reason = relayErr.FailureReason()
	}
	resp := PayResponse{Status: "FAILED", ChannelID: channelID, FailureReason: reason}
	if p.Metrics != nil {
		p.Metrics.ObserveChannelDebit("failure")
	}
	p.cachePay(req.RequestID, resp)
	return resp
}
