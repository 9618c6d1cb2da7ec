package credit

import (
	"testing"

	"github.com/shielded-relay/relayer/internal/payout"
)

func TestCloseLifecycleStartChallengeFinalize(t *testing.T) {
	payoutAdapter := &stubPayoutAdapter{}
	p := newTestProcessor(t, payoutAdapter)
	agentKey := mustGenerateKey(t)

	channelID := "0x0000000000000000000000000000000000000000000000000000000000000021"
	opened := openTestChannel(t, p, agentKey, channelID, 100, 0x21)
	latestState := SignedCreditState{
		State:            *opened.NextState,
		AgentSignature:   signCreditState(t, p, *opened.NextState, agentKey),
		RelayerSignature: opened.NextStateRelayerSignature,
	}

	startResp := p.CloseStart(t.Context(), CloseStartRequest{LatestState: latestState})
	if startResp.Status != "DONE" {
		t.Fatalf("closeStart failed: %s", startResp.FailureReason)
	}

	status := p.Status(t.Context(), channelID)
	if !status.Exists || !status.Closing {
		t.Fatalf("expected channel to exist and be closing, got %+v", status)
	}

	finalizeResp := p.CloseFinalize(t.Context(), CloseFinalizeRequest{ChannelID: channelID})
	if finalizeResp.Status != "DONE" {
		t.Fatalf("closeFinalize failed: %s", finalizeResp.FailureReason)
	}

	status = p.Status(t.Context(), channelID)
	if status.Exists {
		t.Fatal("expected the channel's head to be deleted after finalize")
	}
}

func TestCloseChallengeSupersedesWithHigherState(t *testing.T) {
	payoutAdapter := &stubPayoutAdapter{result: payout.Result{Status: 200}}
	p := newTestProcessor(t, payoutAdapter)
	agentKey := mustGenerateKey(t)

	channelID := "0x0000000000000000000000000000000000000000000000000000000000000022"
	opened := openTestChannel(t, p, agentKey, channelID, 100, 0x22)
	latestState := SignedCreditState{
		State:            *opened.NextState,
		AgentSignature:   signCreditState(t, p, *opened.NextState, agentKey),
		RelayerSignature: opened.NextStateRelayerSignature,
	}

	startResp := p.CloseStart(t.Context(), CloseStartRequest{LatestState: latestState})
	if startResp.Status != "DONE" {
		t.Fatalf("closeStart failed: %s", startResp.FailureReason)
	}

	higher := *opened.NextState
	higher.Seq++
	higher.Available = "60"
	higher.CumulativeSpent = "40"
	higherSigned := SignedCreditState{
		State:            higher,
		AgentSignature:   signCreditState(t, p, higher, agentKey),
		RelayerSignature: mustSignAsRelayer(t, p, higher),
	}

	challengeResp := p.CloseChallenge(t.Context(), CloseChallengeRequest{HigherState: higherSigned})
	if challengeResp.Status != "DONE" {
		t.Fatalf("closeChallenge failed: %s", challengeResp.FailureReason)
	}

	status := p.Status(t.Context(), channelID)
	if !status.Exists || status.Head.Seq != higher.Seq {
		t.Fatalf("expected the challenge state to supersede the head, got %+v", status)
	}
}

func TestCloseFinalizeRejectsChannelNotInCloseWindow(t *testing.T) {
	payoutAdapter := &stubPayoutAdapter{}
	p := newTestProcessor(t, payoutAdapter)
	agentKey := mustGenerateKey(t)

	channelID := "0x0000000000000000000000000000000000000000000000000000000000000023"
	openTestChannel(t, p, agentKey, channelID, 100, 0x23)

	resp := p.CloseFinalize(t.Context(), CloseFinalizeRequest{ChannelID: channelID})
	if resp.Status != "FAILED" {
		t.Fatal("expected finalize to fail for a channel that never started its close window")
	}
}

func mustSignAsRelayer(t *testing.T, p *Processor, s CreditState) string {
	t.Helper()
	sig, err := p.signState(s)
	if err != nil {
		t.Fatalf("sign as relayer: %v", err)
	}
	return sig
}
