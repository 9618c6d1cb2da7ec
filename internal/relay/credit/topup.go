package credit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/shielded-relay/relayer/internal/cryptox"
	relayerrors "github.com/shielded-relay/relayer/internal/errors"
	"github.com/shielded-relay/relayer/internal/logger"
	"github.com/shielded-relay/relayer/internal/store"
	"github.com/shielded-relay/relayer/internal/verifier"
	"github.com/shielded-relay/relayer/pkg/x402wire"
)

// Topup runs spec.md §4.8.1's pipeline: a shielded deposit, verified the same
// way a direct-rail payment is, mints or tops up a channel's durable head
// instead of paying a merchant.
func (p *Processor) Topup(ctx context.Context, req TopupRequest) TopupResponse {
	if cached, ok := p.cachedTopup(req.RequestID); ok {
		return cached
	}

	unlock := p.locks.Lock(req.ChannelID)
	defer unlock()

	if cached, ok := p.cachedTopup(req.RequestID); ok {
		return cached
	}

	body, err := x402wire.DecodePaymentSignature(req.PaymentSignatureHeader)
	if err != nil {
		return p.failTopup(ctx, req, err)
	}

	if err := validatePayloadShape(body.Payload, p.Config.MaxProofBytes); err != nil {
		return p.failTopup(ctx, req, err)
	}

	amount, ok := new(big.Int).SetString(body.Payload.PublicInputs[5], 10)
	if !ok || amount.Sign() <= 0 {
		return p.failTopup(ctx, req, relayerrors.New(relayerrors.ErrCodeAmountMismatch, "topup amount must be a positive decimal"))
	}

	payerAddress, err := recoverPayloadSigner(body.Payload, body.Signature)
	if err != nil {
		return p.failTopup(ctx, req, relayerrors.Wrap(relayerrors.ErrCodeSignerNotRecovered, "invalid payment signature", err))
	}

	nullifierWord, err := cryptox.ParseWord(body.Payload.Nullifier)
	if err != nil {
		return p.failTopup(ctx, req, relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "invalid nullifier", err))
	}
	rootWord, err := cryptox.ParseWord(body.Payload.Root)
	if err != nil {
		return p.failTopup(ctx, req, relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "invalid root", err))
	}

	used, err := p.Verifier.IsNullifierUsed(ctx, nullifierWord)
	if err != nil {
		return p.failTopup(ctx, req, relayerrors.Wrap(relayerrors.ErrCodeVerifierRPCFailure, "nullifier lookup failed", err))
	}
	if used {
		return p.failTopup(ctx, req, relayerrors.New(relayerrors.ErrCodeNullifierUsed, "nullifier already used"))
	}

	verifierPayload := verifier.Payload{
		Proof:        body.Payload.Proof,
		PublicInputs: body.Payload.PublicInputs,
		Nullifier:    nullifierWord,
		Root:         rootWord,
	}
	valid, err := p.Verifier.VerifyProof(ctx, verifierPayload)
	if err != nil {
		return p.failTopup(ctx, req, relayerrors.Wrap(relayerrors.ErrCodeVerifierRPCFailure, "proof verification rpc failed", err))
	}
	if !valid {
		return p.failTopup(ctx, req, relayerrors.New(relayerrors.ErrCodeProofInvalid, "proof verification failed"))
	}

	head, err := p.checkHeadCAS(ctx, req.ChannelID, req.LatestState)
	if err != nil {
		return p.failTopup(ctx, req, err)
	}
	if head != nil && !strings.EqualFold(head.AgentAddress, payerAddress) {
		return p.failTopup(ctx, req, relayerrors.New(relayerrors.ErrCodeSignerMismatch, "payment signer does not match the channel's agent address"))
	}

	result, err := p.Settlement.SettleOnchain(ctx, verifierPayload)
	if err != nil {
		return p.failTopup(ctx, req, relayerrors.Wrap(relayerrors.ErrCodeSettlementRPCFailure, "settlement rpc failed", err))
	}
	if result.AlreadySettled {
		return p.failTopup(ctx, req, relayerrors.New(relayerrors.ErrCodeAlreadySettled, "already settled onchain"))
	}
	if err := p.Verifier.MarkNullifierUsed(ctx, nullifierWord); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("channel_id", req.ChannelID).Msg("credit.topup_mark_nullifier_failed")
	}

	next := nextTopupState(head, req.ChannelID, payerAddress, p.relayerAddress.Hex(), amount, nullifierWord)
	relayerSig, err := p.signState(next)
	if err != nil {
		return p.failTopup(ctx, req, relayerrors.Wrap(relayerrors.ErrCodeInternal, "sign next credit state", err))
	}
	nextHash, err := stateHash(next)
	if err != nil {
		return p.failTopup(ctx, req, relayerrors.Wrap(relayerrors.ErrCodeInternal, "hash next credit state", err))
	}

	channelIDWord, err := cryptox.ParseWord(req.ChannelID)
	if err != nil {
		return p.failTopup(ctx, req, relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "invalid channelId", err))
	}
	creditResult, err := p.CreditSettlement.OpenOrTopup(ctx, channelIDWord, nextHash)
	if err != nil {
		return p.failTopup(ctx, req, relayerrors.Wrap(relayerrors.ErrCodeSettlementRPCFailure, "credit-channel settlement rpc failed", err))
	}

	headRecord := stateToHead(next, body.Signature, relayerSig, nextHash)
	if err := p.Store.PutHead(ctx, headRecord); err != nil {
		return p.failTopup(ctx, req, relayerrors.Wrap(relayerrors.ErrCodeStore, "persist channel head", err))
	}

	resp := TopupResponse{
		Status:                     "DONE",
		ChannelID:                  req.ChannelID,
		NextState:                  &next,
		NextStateRelayerSignature:  relayerSig,
		SettlementTxHash:           result.TxHash,
		ChannelSettlementTxHash:    creditResult.TxHash,
		AmountCredited:             amount.String(),
		SettledNullifier:           body.Payload.Nullifier,
	}
	if p.Metrics != nil {
		p.Metrics.ObserveChannelTopup("success")
		p.Metrics.SetChannelHeadSeq(req.ChannelID, next.Seq)
	}
	p.cacheTopup(req.RequestID, resp)
	return resp
}

// nextTopupState derives the channel's next CreditState after crediting
// amount, seeding agentAddress/relayerAddress on the channel's first topup.
func nextTopupState(head *store.ChannelHead, channelID, agentAddress, relayerAddress string, amount *big.Int, nullifier cryptox.Word) CreditState {
	if head == nil {
		return CreditState{
			ChannelID:       channelID,
			Seq:             0,
			Available:       amount.String(),
			CumulativeSpent: "0",
			LastDebitDigest: nullifier.String(),
			UpdatedAt:       nowUnix(),
			AgentAddress:    agentAddress,
			RelayerAddress:  relayerAddress,
		}
	}
	available, _ := mustBigInt(head.Available)
	return CreditState{
		ChannelID:       channelID,
		Seq:             head.Seq + 1,
		Available:       new(big.Int).Add(available, amount).String(),
		CumulativeSpent: head.CumulativeSpent,
		LastDebitDigest: nullifier.String(),
		UpdatedAt:       nowUnix(),
		AgentAddress:    head.AgentAddress,
		RelayerAddress:  relayerAddress,
	}
}

func (p *Processor) cachedTopup(requestID string) (TopupResponse, bool) {
	if requestID == "" {
		return TopupResponse{}, false
	}
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	resp, ok := p.topupCache[requestID]
	return resp, ok
}

func (p *Processor) cacheTopup(requestID string, resp TopupResponse) {
	if requestID == "" {
		return
	}
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.topupCache[requestID] = resp
}

func (p *Processor) failTopup(ctx context.Context, req TopupRequest, err error) TopupResponse {
	reason := err.Error()
	if relayErr, ok := err.(*relayerrors.RelayError); ok {
		reason = relayErr.FailureReason()
	}
	resp := TopupResponse{Status: "FAILED", ChannelID: req.ChannelID, FailureReason: reason}
	if p.Metrics != nil {
		p.Metrics.ObserveChannelTopup("failure")
	}
	p.cacheTopup(req.RequestID, resp)
	return resp
}

// validatePayloadShape mirrors the direct rail's shape check (C7) for the
// shielded deposit payload a topup carries.
func validatePayloadShape(payload x402wire.ShieldedPaymentPayload, maxProofBytes int) error {
	if maxProofBytes <= 0 {
		maxProofBytes = x402wire.DefaultMaxProofBytes
	}
	if len(payload.Proof) > maxProofBytes {
		return relayerrors.New(relayerrors.ErrCodeProofTooLarge, "proof exceeds maximum size")
	}
	if len(payload.PublicInputs) != x402wire.PublicInputsLen {
		return relayerrors.New(relayerrors.ErrCodePublicInputsLength, "publicInputs must have exactly 6 entries")
	}
	for _, field := range []string{payload.Nullifier, payload.Root, payload.MerchantCommitment, payload.ChangeCommitment, payload.ChallengeHash} {
		if _, err := cryptox.ParseWord(field); err != nil {
			return relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "malformed hex word in payload", err)
		}
	}
	return nil
}

// recoverPayloadSigner recovers the payer address bound to a shielded
// payload via the same plain-ECDSA-over-JSON scheme the direct rail uses.
func recoverPayloadSigner(payload x402wire.ShieldedPaymentPayload, signatureHex string) (string, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	addr, err := cryptox.RecoverPayer(payloadJSON, sigBytes)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}
