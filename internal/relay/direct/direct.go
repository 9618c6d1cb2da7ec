// Package direct implements C7: the direct-payment processor. A single
// public operation, HandlePay, runs the shape → challenge-binding →
// requirement-refetch → signer-recovery → nullifier-check → proof-verify →
// settlement → payout pipeline spec.md §4.7 describes, writing a durable
// settlement record after each stage so the settlement tx hash is stored
// before payout starts. A repeated request with the same idempotency key
// replays the stored record: a record left between settlement and payout
// replays as FAILED with its tx hash, and payout is not resumed.
package direct

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/shielded-relay/relayer/internal/challenge"
	"github.com/shielded-relay/relayer/internal/config"
	"github.com/shielded-relay/relayer/internal/cryptox"
	relayerrors "github.com/shielded-relay/relayer/internal/errors"
	"github.com/shielded-relay/relayer/internal/keyedlock"
	"github.com/shielded-relay/relayer/internal/logger"
	"github.com/shielded-relay/relayer/internal/metrics"
	"github.com/shielded-relay/relayer/internal/payout"
	"github.com/shielded-relay/relayer/internal/settlement"
	"github.com/shielded-relay/relayer/internal/store"
	"github.com/shielded-relay/relayer/internal/verifier"
	"github.com/shielded-relay/relayer/pkg/x402wire"
)

// PayRequest is C7's input, the wire shape spec.md §6 describes for
// POST /v1/relay/pay.
type PayRequest struct {
	MerchantRequest        payout.MerchantRequest
	Requirement            x402wire.PaymentRequirement
	PaymentSignatureHeader string
	IdempotencyKey         string
}

// PayResponse is C7's output.
type PayResponse struct {
	Status           string // "DONE" or "FAILED"
	SettlementID     string
	SettlementTxHash string
	FailureReason    string
	MerchantResult   *payout.Result
}

// Processor wires C3 (verifier), C4 (settlement), C5 (payout), C6
// (challenge bridge, for the optional requirement refetch), and C9 (the
// settlement store) into the handlePay pipeline.
type Processor struct {
	Verifier   verifier.Verifier
	Settlement settlement.Adapter
	Payout     payout.Adapter
	Store      store.Store
	Bridge     *challenge.Bridge
	Config     config.RelayerConfig
	Metrics    *metrics.Metrics

	locks *keyedlock.Registry
}

// New builds a direct-payment processor.
func New(v verifier.Verifier, s settlement.Adapter, p payout.Adapter, st store.Store, bridge *challenge.Bridge, cfg config.RelayerConfig) *Processor {
	return &Processor{
		Verifier:   v,
		Settlement: s,
		Payout:     p,
		Store:      st,
		Bridge:     bridge,
		Config:     cfg,
		locks:      keyedlock.New(),
	}
}

// WithMetrics attaches a metrics collector.
func (p *Processor) WithMetrics(m *metrics.Metrics) *Processor {
	p.Metrics = m
	return p
}

// HandlePay runs the full validation and settlement pipeline for a single
// direct-rail payment.
func (p *Processor) HandlePay(ctx context.Context, req PayRequest) PayResponse {
	start := time.Now()
	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = cryptox.Keccak256([]byte(req.PaymentSignatureHeader)).String()
	}

	unlock := p.locks.Lock(idempotencyKey)
	defer unlock()

	if existing, err := p.Store.GetByIdempotencyKey(ctx, idempotencyKey); err == nil {
		return responseFromRecord(existing)
	} else if !errors.Is(err, store.ErrNotFound) {
		return p.fail(ctx, start, idempotencyKey, idempotencyKey, relayerrors.Wrap(relayerrors.ErrCodeStore, "idempotency lookup failed", err))
	}

	settlementID := idempotencyKey

	body, err := x402wire.DecodePaymentSignature(req.PaymentSignatureHeader)
	if err != nil {
		return p.fail(ctx, start, settlementID, idempotencyKey, err)
	}

	if err := p.validateShape(body); err != nil {
		return p.fail(ctx, start, settlementID, idempotencyKey, err)
	}

	record := store.SettlementRecord{
		SettlementID:   settlementID,
		IdempotencyKey: idempotencyKey,
		Status:         store.StatusReceived,
		Nullifier:      body.Payload.Nullifier,
		Root:           body.Payload.Root,
	}
	if err := p.Store.PutSettlement(ctx, record); err != nil {
		return p.fail(ctx, start, settlementID, idempotencyKey, relayerrors.Wrap(relayerrors.ErrCodeStore, "persist settlement record", err))
	}

	if err := p.validateChallengeBinding(body, req.Requirement); err != nil {
		return p.failRecord(ctx, start, record, err)
	}

	if p.Config.RequireChallengeRefetch && p.Bridge != nil {
		if err := p.validateRequirementRefetch(ctx, req); err != nil {
			return p.failRecord(ctx, start, record, err)
		}
	}

	payerAddress, err := recoverPayer(body.Payload, body.Signature)
	if err != nil {
		return p.failRecord(ctx, start, record, relayerrors.Wrap(relayerrors.ErrCodeSignerNotRecovered, "invalid payment signature", err))
	}
	logger.FromContext(ctx).Debug().Str("settlement_id", settlementID).Str("payer", payerAddress).Msg("direct.signer_recovered")

	nullifierWord, err := cryptox.ParseWord(body.Payload.Nullifier)
	if err != nil {
		return p.failRecord(ctx, start, record, relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "invalid nullifier", err))
	}
	rootWord, err := cryptox.ParseWord(body.Payload.Root)
	if err != nil {
		return p.failRecord(ctx, start, record, relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "invalid root", err))
	}

	used, err := p.Verifier.IsNullifierUsed(ctx, nullifierWord)
	if err != nil {
		return p.failRecord(ctx, start, record, relayerrors.Wrap(relayerrors.ErrCodeVerifierRPCFailure, "nullifier lookup failed", err))
	}
	if used {
		return p.failRecord(ctx, start, record, relayerrors.New(relayerrors.ErrCodeNullifierUsed, "nullifier already used"))
	}

	verifierPayload := verifier.Payload{
		Proof:        body.Payload.Proof,
		PublicInputs: body.Payload.PublicInputs,
		Nullifier:    nullifierWord,
		Root:         rootWord,
	}
	valid, err := p.Verifier.VerifyProof(ctx, verifierPayload)
	if err != nil {
		return p.failRecord(ctx, start, record, relayerrors.Wrap(relayerrors.ErrCodeVerifierRPCFailure, "proof verification rpc failed", err))
	}
	if !valid {
		return p.failRecord(ctx, start, record, relayerrors.New(relayerrors.ErrCodeProofInvalid, "proof verification failed"))
	}

	record.Status = store.StatusVerified
	if err := p.Store.PutSettlement(ctx, record); err != nil {
		return p.failRecord(ctx, start, record, relayerrors.Wrap(relayerrors.ErrCodeStore, "persist verified settlement", err))
	}

	record.Status = store.StatusSentOnchain
	if err := p.Store.PutSettlement(ctx, record); err != nil {
		return p.failRecord(ctx, start, record, relayerrors.Wrap(relayerrors.ErrCodeStore, "persist sent-onchain settlement", err))
	}

	result, err := p.Settlement.SettleOnchain(ctx, verifierPayload)
	if err != nil {
		return p.failRecord(ctx, start, record, relayerrors.Wrap(relayerrors.ErrCodeSettlementRPCFailure, "settlement rpc failed", err))
	}
	if result.AlreadySettled {
		return p.failRecord(ctx, start, record, relayerrors.New(relayerrors.ErrCodeAlreadySettled, "already settled onchain"))
	}
	if err := p.Verifier.MarkNullifierUsed(ctx, nullifierWord); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("settlement_id", settlementID).Msg("direct.mark_nullifier_failed")
	}

	record.Status = store.StatusConfirmed
	record.SettlementTxHash = result.TxHash
	if err := p.Store.PutSettlement(ctx, record); err != nil {
		return p.failRecord(ctx, start, record, relayerrors.Wrap(relayerrors.ErrCodeStore, "persist confirmed settlement", err))
	}

	payoutResult, err := p.Payout.PayMerchant(ctx, settlementID, req.MerchantRequest, req.Requirement, body.Payload.Nullifier)
	if err != nil {
		// Settlement already cleared on-chain; this request is terminal but
		// the spend is not reversible. Per spec.md §5, the relayer records
		// the failure for out-of-band reconciliation rather than retrying
		// automatically.
		record.Status = store.StatusFailed
		record.FailureReason = err.Error()
		_ = p.Store.PutSettlement(ctx, record)
		if p.Metrics != nil {
			p.Metrics.ObservePayment("direct", "failure", time.Since(start))
		}
		return PayResponse{Status: "FAILED", SettlementID: settlementID, SettlementTxHash: result.TxHash, FailureReason: "merchant payout failed after settlement: " + err.Error()}
	}

	record.Status = store.StatusPaidMerchant
	record.MerchantResult = &store.MerchantResult{Status: payoutResult.Status, Headers: payoutResult.Headers, BodyBase64: payoutResult.BodyBase64}
	if err := p.Store.PutSettlement(ctx, record); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("settlement_id", settlementID).Msg("direct.persist_paid_merchant_failed")
	}

	record.Status = store.StatusDone
	if err := p.Store.PutSettlement(ctx, record); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("settlement_id", settlementID).Msg("direct.persist_done_failed")
	}

	if p.Metrics != nil {
		p.Metrics.ObservePayment("direct", "success", time.Since(start))
	}

	return PayResponse{
		Status:           "DONE",
		SettlementID:     settlementID,
		SettlementTxHash: result.TxHash,
		MerchantResult:   &payoutResult,
	}
}

func (p *Processor) validateShape(body x402wire.PaymentSignatureBody) error {
	maxProofBytes := p.Config.MaxProofBytes
	if maxProofBytes <= 0 {
		maxProofBytes = x402wire.DefaultMaxProofBytes
	}
	if len(body.Payload.Proof) > maxProofBytes {
		return relayerrors.New(relayerrors.ErrCodeProofTooLarge, "proof exceeds maximum size")
	}
	if len(body.Payload.PublicInputs) != x402wire.PublicInputsLen {
		return relayerrors.New(relayerrors.ErrCodePublicInputsLength, "publicInputs must have exactly 6 entries")
	}
	for _, field := range []string{body.Payload.Nullifier, body.Payload.Root, body.Payload.MerchantCommitment, body.Payload.ChangeCommitment, body.Payload.ChallengeHash} {
		if _, err := cryptox.ParseWord(field); err != nil {
			return relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "malformed hex word in payload", err)
		}
	}
	return nil
}

func (p *Processor) validateChallengeBinding(body x402wire.PaymentSignatureBody, requirement x402wire.PaymentRequirement) error {
	if time.Now().Unix() > requirement.ChallengeExpiry {
		return relayerrors.New(relayerrors.ErrCodeChallengeExpired, "challenge expired")
	}

	nonce, err := cryptox.ParseWord(body.ChallengeNonce)
	if err != nil {
		return relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "invalid challengeNonce", err)
	}
	verifyingContract, err := cryptox.ParseAddress(requirement.VerifyingContract)
	if err != nil {
		return relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "invalid verifyingContract", err)
	}
	amount, ok := new(big.Int).SetString(requirement.Amount, 10)
	if !ok {
		return relayerrors.New(relayerrors.ErrCodeAmountMismatch, "requirement amount is not decimal")
	}

	expected := cryptox.ChallengeHash(nonce, amount, verifyingContract)
	if body.Payload.ChallengeHash != expected.String() {
		return relayerrors.New(relayerrors.ErrCodeChallengeHashMismatch, "challenge hash mismatch")
	}
	if decimalFromWord(expected) != body.Payload.PublicInputs[4] {
		return relayerrors.New(relayerrors.ErrCodeChallengeHashMismatch, "publicInputs[4] does not match challenge hash")
	}
	if decimalFromDecimalString(requirement.Amount) != body.Payload.PublicInputs[5] {
		return relayerrors.New(relayerrors.ErrCodeAmountMismatch, "publicInputs[5] does not match requirement amount")
	}
	return nil
}

func (p *Processor) validateRequirementRefetch(ctx context.Context, req PayRequest) error {
	resp, err := p.Bridge.Bridge(ctx, challenge.Request{
		MerchantRequest: challenge.MerchantRequest{URL: req.MerchantRequest.URL, Method: req.MerchantRequest.Method},
	})
	if err != nil {
		return err
	}
	observed, _ := req.Requirement.Extra["upstreamTermsHash"].(string)
	fresh, _ := resp.Requirement.Extra["upstreamTermsHash"].(string)
	if observed == "" || fresh == "" || !strings.EqualFold(observed, fresh) {
		return relayerrors.New(relayerrors.ErrCodeMerchantChallengeDrift, "merchant challenge mismatch")
	}
	return nil
}

func recoverPayer(payload x402wire.ShieldedPaymentPayload, signatureHex string) (string, error) {
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

func decimalFromWord(w cryptox.Word) string {
	return new(big.Int).SetBytes(w[:]).String()
}

func decimalFromDecimalString(s string) string {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return s
	}
	return n.String()
}

func (p *Processor) fail(ctx context.Context, start time.Time, settlementID, idempotencyKey string, err error) PayResponse {
	reason := err.Error()
	if relayErr, ok := err.(*relayerrors.RelayError); ok {
		reason = relayErr.FailureReason()
	}
	record := store.SettlementRecord{
		SettlementID:   settlementID,
		IdempotencyKey: idempotencyKey,
		Status:         store.StatusFailed,
		FailureReason:  reason,
	}
	_ = p.Store.PutSettlement(ctx, record)
	if p.Metrics != nil {
		p.Metrics.ObservePayment("direct", "failure", time.Since(start))
	}
	return PayResponse{Status: "FAILED", SettlementID: settlementID, FailureReason: reason}
}

func (p *Processor) failRecord(ctx context.Context, start time.Time, record store.SettlementRecord, err error) PayResponse {
	reason := err.Error()
	if relayErr, ok := err.(*relayerrors.RelayError); ok {
		reason = relayErr.FailureReason()
	}
	record.Status = store.StatusFailed
	record.FailureReason = reason
	_ = p.Store.PutSettlement(ctx, record)
	if p.Metrics != nil {
		p.Metrics.ObservePayment("direct", "failure", time.Since(start))
	}
	return PayResponse{Status: "FAILED", SettlementID: record.SettlementID, FailureReason: reason}
}

func responseFromRecord(record store.SettlementRecord) PayResponse {
	resp := PayResponse{SettlementID: record.SettlementID, SettlementTxHash: record.SettlementTxHash}
	switch record.Status {
	case store.StatusDone, store.StatusPaidMerchant:
		resp.Status = "DONE"
	default:
		resp.Status = "FAILED"
		resp.FailureReason = record.FailureReason
	}
	if record.MerchantResult != nil {
		resp.MerchantResult = &payout.Result{
			Status:     record.MerchantResult.Status,
			Headers:    record.MerchantResult.Headers,
			BodyBase64: record.MerchantResult.BodyBase64,
		}
	}
	return resp
}
