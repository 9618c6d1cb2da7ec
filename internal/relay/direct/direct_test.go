package direct

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/shielded-relay/relayer/internal/config"
	"github.com/shielded-relay/relayer/internal/cryptox"
	"github.com/shielded-relay/relayer/internal/payout"
	"github.com/shielded-relay/relayer/internal/settlement"
	"github.com/shielded-relay/relayer/internal/store"
	"github.com/shielded-relay/relayer/internal/verifier"
	"github.com/shielded-relay/relayer/pkg/x402wire"
)

var errPayoutNetwork = errors.New("merchant forward: connection refused")

type stubPayoutAdapter struct {
	result payout.Result
	err    error
	calls  int
}

func (s *stubPayoutAdapter) PayMerchant(_ context.Context, settlementID string, _ payout.MerchantRequest, _ x402wire.PaymentRequirement, _ string) (payout.Result, error) {
	s.calls++
	if s.err != nil {
		return payout.Result{}, s.err
	}
	r := s.result
	if r.PayoutReference == "" {
		r.PayoutReference = settlementID
	}
	return r, nil
}

func testFixture(t *testing.T) (x402wire.PaymentRequirement, x402wire.PaymentSignatureBody, string) {
	t.Helper()

	verifyingContract := common.HexToAddress("0x0000000000000000000000000000000000dEaD")
	amount := big.NewInt(40)

	var nonce cryptox.Word
	nonce[31] = 0x01

	requirement := x402wire.PaymentRequirement{
		Scheme:            x402wire.SchemeExact,
		Network:           "eip155:84532",
		Asset:             "0x036cbd53842c5426634e7929541ec2318f3dcf7e",
		PayTo:             "0x0000000000000000000000000000000000beef",
		Rail:              x402wire.RailShieldedUSDC,
		Amount:            "40",
		ChallengeNonce:    nonce.String(),
		ChallengeExpiry:   9999999999,
		VerifyingContract: verifyingContract.Hex(),
	}

	challengeHash := cryptox.ChallengeHash(nonce, amount, verifyingContract)

	var nullifier, root, merchantCommitment, changeCommitment cryptox.Word
	nullifier[31] = 0x10
	root[31] = 0x20
	merchantCommitment[31] = 0x30
	changeCommitment[31] = 0x40

	payload := x402wire.ShieldedPaymentPayload{
		Proof:              []byte{0x01, 0x02, 0x03},
		PublicInputs:       []string{nullifier.String(), root.String(), merchantCommitment.String(), changeCommitment.String(), new(big.Int).SetBytes(challengeHash[:]).String(), "40"},
		Nullifier:          nullifier.String(),
		Root:               root.String(),
		MerchantCommitment: merchantCommitment.String(),
		ChangeCommitment:   changeCommitment.String(),
		ChallengeHash:      challengeHash.String(),
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	sig, err := cryptox.Sign(cryptox.MessageDigest(payloadJSON), key)
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}

	body := x402wire.PaymentSignatureBody{
		X402Version:    x402wire.X402Version,
		Accepted:       requirement,
		Payload:        payload,
		ChallengeNonce: nonce.String(),
		Signature:      "0x" + common.Bytes2Hex(sig),
	}

	header, err := x402wire.EncodePaymentSignature(body)
	if err != nil {
		t.Fatalf("encode payment signature: %v", err)
	}
	return requirement, body, header
}

func newTestProcessor(payoutAdapter payout.Adapter) *Processor {
	cfg := config.RelayerConfig{MaxProofBytes: x402wire.DefaultMaxProofBytes}
	return New(
		verifier.NewStubVerifier(),
		settlement.NewStubAdapter("base-sepolia"),
		payoutAdapter,
		store.NewMemoryStore(),
		nil,
		cfg,
	)
}

func TestHandlePaySucceedsAndPersistsDoneRecord(t *testing.T) {
	requirement, _, header := testFixture(t)
	payoutAdapter := &stubPayoutAdapter{result: payout.Result{Status: 200}}
	p := newTestProcessor(payoutAdapter)

	resp := p.HandlePay(t.Context(), PayRequest{
		MerchantRequest:        payout.MerchantRequest{URL: "https://merchant.example/resource", Method: "GET"},
		Requirement:            requirement,
		PaymentSignatureHeader: header,
	})

	if resp.Status != "DONE" {
		t.Fatalf("expected DONE, got %s (%s)", resp.Status, resp.FailureReason)
	}
	if resp.SettlementTxHash == "" {
		t.Fatal("expected a settlement tx hash")
	}
	if payoutAdapter.calls != 1 {
		t.Fatalf("expected exactly one payout call, got %d", payoutAdapter.calls)
	}

	record, err := p.Store.GetBySettlementID(t.Context(), resp.SettlementID)
	if err != nil {
		t.Fatalf("GetBySettlementID: %v", err)
	}
	if record.Status != store.StatusDone {
		t.Fatalf("expected persisted status DONE, got %s", record.Status)
	}
}

func TestHandlePayIsIdempotentOnRetry(t *testing.T) {
	requirement, _, header := testFixture(t)
	payoutAdapter := &stubPayoutAdapter{result: payout.Result{Status: 200}}
	p := newTestProcessor(payoutAdapter)

	req := PayRequest{
		MerchantRequest:        payout.MerchantRequest{URL: "https://merchant.example/resource", Method: "GET"},
		Requirement:            requirement,
		PaymentSignatureHeader: header,
	}

	first := p.HandlePay(t.Context(), req)
	second := p.HandlePay(t.Context(), req)

	if first.SettlementID != second.SettlementID {
		t.Fatalf("expected stable settlement id across retries, got %s then %s", first.SettlementID, second.SettlementID)
	}
	if second.Status != "DONE" {
		t.Fatalf("expected replayed response to still report DONE, got %s", second.Status)
	}
	if payoutAdapter.calls != 1 {
		t.Fatalf("expected merchant to be paid exactly once across retries, got %d calls", payoutAdapter.calls)
	}
}

func TestHandlePayRejectsNullifierReuse(t *testing.T) {
	requirement, body, header := testFixture(t)
	payoutAdapter := &stubPayoutAdapter{result: payout.Result{Status: 200}}
	p := newTestProcessor(payoutAdapter)

	nullifierWord, err := cryptox.ParseWord(body.Payload.Nullifier)
	if err != nil {
		t.Fatalf("parse nullifier: %v", err)
	}
	if err := p.Verifier.MarkNullifierUsed(t.Context(), nullifierWord); err != nil {
		t.Fatalf("seed nullifier: %v", err)
	}

	resp := p.HandlePay(t.Context(), PayRequest{
		MerchantRequest:        payout.MerchantRequest{URL: "https://merchant.example/resource", Method: "GET"},
		Requirement:            requirement,
		PaymentSignatureHeader: header,
		IdempotencyKey:         "distinct-retry-key",
	})

	if resp.Status != "FAILED" {
		t.Fatalf("expected FAILED for a reused nullifier, got %s", resp.Status)
	}
	if payoutAdapter.calls != 0 {
		t.Fatal("expected no payout call when the nullifier was already used")
	}
}

func TestHandlePayRejectsChallengeHashMismatch(t *testing.T) {
	requirement, body, _ := testFixture(t)
	body.Payload.ChallengeHash = cryptox.Keccak256([]byte("wrong")).String()

	header, err := x402wire.EncodePaymentSignature(body)
	if err != nil {
		t.Fatalf("encode payment signature: %v", err)
	}

	payoutAdapter := &stubPayoutAdapter{result: payout.Result{Status: 200}}
	p := newTestProcessor(payoutAdapter)

	resp := p.HandlePay(t.Context(), PayRequest{
		MerchantRequest:        payout.MerchantRequest{URL: "https://merchant.example/resource", Method: "GET"},
		Requirement:            requirement,
		PaymentSignatureHeader: header,
	})

	if resp.Status != "FAILED" {
		t.Fatalf("expected FAILED for a mismatched challenge hash, got %s", resp.Status)
	}
	if payoutAdapter.calls != 0 {
		t.Fatal("expected no payout call when challenge binding fails")
	}
}

func TestHandlePayMarksPayoutFailureAfterSettlement(t *testing.T) {
	requirement, _, header := testFixture(t)
	payoutAdapter := &stubPayoutAdapter{err: errPayoutNetwork}
	p := newTestProcessor(payoutAdapter)

	resp := p.HandlePay(t.Context(), PayRequest{
		MerchantRequest:        payout.MerchantRequest{URL: "https://merchant.example/resource", Method: "GET"},
		Requirement:            requirement,
		PaymentSignatureHeader: header,
	})

	if resp.Status != "FAILED" {
		t.Fatalf("expected FAILED when payout fails after settlement, got %s", resp.Status)
	}
	if resp.SettlementTxHash == "" {
		t.Fatal("expected the on-chain settlement tx hash to survive a post-settlement payout failure")
	}

	record, err := p.Store.GetBySettlementID(t.Context(), resp.SettlementID)
	if err != nil {
		t.Fatalf("GetBySettlementID: %v", err)
	}
	if record.SettlementTxHash == "" {
		t.Fatal("expected the persisted record to retain its settlement tx hash for reconciliation")
	}
}
