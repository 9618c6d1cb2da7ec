package credit

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
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

const testRelayerKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690"

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
	if r.Status == 0 {
		r.Status = 200
	}
	if r.PayoutReference == "" {
		r.PayoutReference = settlementID
	}
	return r, nil
}

func newTestProcessor(t *testing.T, payoutAdapter payout.Adapter) *Processor {
	t.Helper()
	cfg := config.RelayerConfig{MaxProofBytes: x402wire.DefaultMaxProofBytes}
	p, err := New(
		verifier.NewStubVerifier(),
		settlement.NewStubAdapter("base-sepolia"),
		settlement.NewStubCreditSettler("base-sepolia"),
		payoutAdapter,
		store.NewMemoryStore(),
		cfg,
		testRelayerKeyHex,
		"shielded-relay-credit",
		84532,
		common.HexToAddress("0x000000000000000000000000000000000000c1"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func mustGenerateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func signCreditState(t *testing.T, p *Processor, s CreditState, key *ecdsa.PrivateKey) string {
	t.Helper()
	fields, err := stateFields(s)
	if err != nil {
		t.Fatalf("stateFields: %v", err)
	}
	digest := cryptox.Digest(p.domain.Separator(), fields.StructHash())
	sig, err := cryptox.Sign(digest, key)
	if err != nil {
		t.Fatalf("sign state: %v", err)
	}
	return "0x" + common.Bytes2Hex(sig)
}

func signDebitIntent(t *testing.T, p *Processor, intent DebitIntent, key *ecdsa.PrivateKey) string {
	t.Helper()
	fields, err := debitIntentFields(intent)
	if err != nil {
		t.Fatalf("debitIntentFields: %v", err)
	}
	digest := cryptox.Digest(p.domain.Separator(), fields.StructHash())
	sig, err := cryptox.Sign(digest, key)
	if err != nil {
		t.Fatalf("sign debit intent: %v", err)
	}
	return "0x" + common.Bytes2Hex(sig)
}

// shieldedDepositFixture builds a self-consistent shielded deposit payload
// (the same shape the direct rail verifies) crediting amount, signed by
// agentKey via the plain-ECDSA-over-JSON scheme the topup payload uses.
func shieldedDepositFixture(t *testing.T, agentKey *ecdsa.PrivateKey, amount int64, salt byte) (x402wire.ShieldedPaymentPayload, string) {
	t.Helper()

	var nullifier, root, merchantCommitment, changeCommitment cryptox.Word
	nullifier[31] = salt
	nullifier[30] = 0x01
	root[31] = salt
	root[30] = 0x02
	merchantCommitment[31] = salt
	merchantCommitment[30] = 0x03
	changeCommitment[31] = salt
	changeCommitment[30] = 0x04

	payload := x402wire.ShieldedPaymentPayload{
		Proof:              []byte{0xaa, 0xbb},
		PublicInputs:       []string{nullifier.String(), root.String(), merchantCommitment.String(), changeCommitment.String(), "0", new(big.Int).SetInt64(amount).String()},
		Nullifier:          nullifier.String(),
		Root:               root.String(),
		MerchantCommitment: merchantCommitment.String(),
		ChangeCommitment:   changeCommitment.String(),
		ChallengeHash:      (cryptox.Word{}).String(),
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	sig, err := cryptox.Sign(cryptox.MessageDigest(payloadJSON), agentKey)
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}

	body := x402wire.PaymentSignatureBody{
		X402Version:    x402wire.X402Version,
		Accepted:       x402wire.PaymentRequirement{Scheme: x402wire.SchemeExact, Rail: x402wire.RailShieldedUSDC, Network: "eip155:84532", Amount: new(big.Int).SetInt64(amount).String()},
		Payload:        payload,
		ChallengeNonce: (cryptox.Word{}).String(),
		Signature:      "0x" + common.Bytes2Hex(sig),
	}
	header, err := x402wire.EncodePaymentSignature(body)
	if err != nil {
		t.Fatalf("encode payment signature: %v", err)
	}
	return payload, header
}
