package credit

import (
	"crypto/ecdsa"
	"testing"

	"github.com/shielded-relay/relayer/internal/cryptox"
	"github.com/shielded-relay/relayer/internal/payout"
	"github.com/shielded-relay/relayer/pkg/x402wire"
)

func openTestChannel(t *testing.T, p *Processor, agentKey *ecdsa.PrivateKey, channelID string, amount int64, salt byte) TopupResponse {
	t.Helper()
	_, header := shieldedDepositFixture(t, agentKey, amount, salt)
	resp := p.Topup(t.Context(), TopupRequest{RequestID: channelID + "-open", ChannelID: channelID, PaymentSignatureHeader: header})
	if resp.Status != "DONE" {
		t.Fatalf("open channel topup failed: %s", resp.FailureReason)
	}
	return resp
}

func TestPayDebitsChannelAndForwardsToMerchant(t *testing.T) {
	payoutAdapter := &stubPayoutAdapter{result: payout.Result{Status: 200}}
	p := newTestProcessor(t, payoutAdapter)
	agentKey := mustGenerateKey(t)

	channelID := "0x0000000000000000000000000000000000000000000000000000000000000011"
	opened := openTestChannel(t, p, agentKey, channelID, 100, 0x11)

	latestState := SignedCreditState{
		State:            *opened.NextState,
		AgentSignature:   signCreditState(t, p, *opened.NextState, agentKey),
		RelayerSignature: opened.NextStateRelayerSignature,
	}

	merchantRequest := payout.MerchantRequest{URL: "https://merchant.example/resource", Method: "GET"}
	requirement := x402wire.PaymentRequirement{Amount: "40"}
	prevHash, err := stateHash(*opened.NextState)
	if err != nil {
		t.Fatalf("stateHash: %v", err)
	}

	intent := DebitIntent{
		ChannelID:           channelID,
		RequestID:           (cryptox.Word{1: 0x01}).String(),
		NextSeq:             opened.NextState.Seq + 1,
		Amount:              "40",
		MerchantRequestHash: merchantRequestHash(merchantRequest, requirement).String(),
		PrevStateHash:       prevHash.String(),
		Deadline:            9999999999,
	}
	intentSig := signDebitIntent(t, p, intent, agentKey)

	resp := p.Pay(t.Context(), PayRequest{
		RequestID:            intent.RequestID,
		LatestState:          latestState,
		DebitIntent:          intent,
		DebitIntentSignature: intentSig,
		MerchantRequest:      merchantRequest,
		Requirement:          requirement,
	})

	if resp.Status != "DONE" {
		t.Fatalf("expected DONE, got %s (%s)", resp.Status, resp.FailureReason)
	}
	if resp.NextState.Available != "60" {
		t.Fatalf("expected remaining available balance 60, got %s", resp.NextState.Available)
	}
	if resp.NextState.CumulativeSpent != "40" {
		t.Fatalf("expected cumulative spent 40, got %s", resp.NextState.CumulativeSpent)
	}
	if payoutAdapter.calls != 1 {
		t.Fatalf("expected exactly one merchant forward, got %d", payoutAdapter.calls)
	}
}

func TestPayRejectsInsufficientBalance(t *testing.T) {
	payoutAdapter := &stubPayoutAdapter{result: payout.Result{Status: 200}}
	p := newTestProcessor(t, payoutAdapter)
	agentKey := mustGenerateKey(t)

	channelID := "0x0000000000000000000000000000000000000000000000000000000000000012"
	opened := openTestChannel(t, p, agentKey, channelID, 10, 0x12)

	latestState := SignedCreditState{
		State:            *opened.NextState,
		AgentSignature:   signCreditState(t, p, *opened.NextState, agentKey),
		RelayerSignature: opened.NextStateRelayerSignature,
	}

	merchantRequest := payout.MerchantRequest{URL: "https://merchant.example/resource", Method: "GET"}
	requirement := x402wire.PaymentRequirement{Amount: "40"}
	prevHash, err := stateHash(*opened.NextState)
	if err != nil {
		t.Fatalf("stateHash: %v", err)
	}
	intent := DebitIntent{
		ChannelID:           channelID,
		RequestID:           (cryptox.Word{1: 0x02}).String(),
		NextSeq:             opened.NextState.Seq + 1,
		Amount:              "40",
		MerchantRequestHash: merchantRequestHash(merchantRequest, requirement).String(),
		PrevStateHash:       prevHash.String(),
		Deadline:            9999999999,
	}
	intentSig := signDebitIntent(t, p, intent, agentKey)

	resp := p.Pay(t.Context(), PayRequest{
		RequestID:            intent.RequestID,
		LatestState:          latestState,
		DebitIntent:          intent,
		DebitIntentSignature: intentSig,
		MerchantRequest:      merchantRequest,
		Requirement:          requirement,
	})

	if resp.Status != "FAILED" {
		t.Fatalf("expected FAILED for a debit exceeding available balance, got %s", resp.Status)
	}
	if payoutAdapter.calls != 0 {
		t.Fatal("expected no merchant forward when balance is insufficient")
	}
}

func TestPayRejectsWrongSigner(t *testing.T) {
	payoutAdapter := &stubPayoutAdapter{result: payout.Result{Status: 200}}
	p := newTestProcessor(t, payoutAdapter)
	agentKey := mustGenerateKey(t)
	impostorKey := mustGenerateKey(t)

	channelID := "0x0000000000000000000000000000000000000000000000000000000000000013"
	opened := openTestChannel(t, p, agentKey, channelID, 100, 0x13)

	latestState := SignedCreditState{
		State:            *opened.NextState,
		AgentSignature:   signCreditState(t, p, *opened.NextState, agentKey),
		RelayerSignature: opened.NextStateRelayerSignature,
	}

	merchantRequest := payout.MerchantRequest{URL: "https://merchant.example/resource", Method: "GET"}
	requirement := x402wire.PaymentRequirement{Amount: "40"}
	prevHash, err := stateHash(*opened.NextState)
	if err != nil {
		t.Fatalf("stateHash: %v", err)
	}
	intent := DebitIntent{
		ChannelID:           channelID,
		RequestID:           (cryptox.Word{1: 0x03}).String(),
		NextSeq:             opened.NextState.Seq + 1,
		Amount:              "40",
		MerchantRequestHash: merchantRequestHash(merchantRequest, requirement).String(),
		PrevStateHash:       prevHash.String(),
		Deadline:            9999999999,
	}
	intentSig := signDebitIntent(t, p, intent, impostorKey)

	resp := p.Pay(t.Context(), PayRequest{
		RequestID:            intent.RequestID,
		LatestState:          latestState,
		DebitIntent:          intent,
		DebitIntentSignature: intentSig,
		MerchantRequest:      merchantRequest,
		Requirement:          requirement,
	})

	if resp.Status != "FAILED" {
		t.Fatalf("expected FAILED for a debit intent signed by the wrong key, got %s", resp.Status)
	}
}
