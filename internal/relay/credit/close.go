package credit

import (
	"context"

	"github.com/shielded-relay/relayer/internal/cryptox"
	relayerrors "github.com/shielded-relay/relayer/internal/errors"
)

// CloseStart opens a channel's on-chain close window, per spec.md §4.8.3.
// The submitted state must match the channel's current durable head, and
// the window's start is submitted to the credit-channel contract before the
// head is marked closing.
func (p *Processor) CloseStart(ctx context.Context, req CloseStartRequest) CloseResponse {
	channelID := req.LatestState.State.ChannelID
	unlock := p.locks.Lock(channelID)
	defer unlock()

	head, err := p.checkHeadCAS(ctx, channelID, &req.LatestState)
	if err != nil {
		return p.failClose(channelID, "start", err)
	}

	channelIDWord, stateHash, err := p.parseCloseTarget(channelID, head.StateHash)
	if err != nil {
		return p.failClose(channelID, "start", err)
	}
	settleResult, err := p.CreditSettlement.StartClose(ctx, channelIDWord, stateHash)
	if err != nil {
		return p.failClose(channelID, "start", relayerrors.Wrap(relayerrors.ErrCodeSettlementRPCFailure, "credit-channel start-close rpc failed", err))
	}

	head.Closing = true
	if err := p.Store.PutHead(ctx, *head); err != nil {
		return p.failClose(channelID, "start", relayerrors.Wrap(relayerrors.ErrCodeStore, "persist closing head", err))
	}
	if p.Metrics != nil {
		p.Metrics.ObserveChannelClose("start", "success")
	}
	return CloseResponse{Status: "DONE", ChannelID: channelID, SettlementTxHash: settleResult.TxHash}
}

// CloseChallenge supersedes an in-flight close with a later valid state,
// rejecting anything not strictly ahead of the channel's current head, and
// submits the supersession to the credit-channel contract's challenge
// window before updating the durable head.
func (p *Processor) CloseChallenge(ctx context.Context, req CloseChallengeRequest) CloseResponse {
	channelID := req.HigherState.State.ChannelID
	unlock := p.locks.Lock(channelID)
	defer unlock()

	head, err := p.Store.GetHead(ctx, channelID)
	if err != nil {
		return p.failClose(channelID, "challenge", relayerrors.Wrap(relayerrors.ErrCodeStaleHead, "channel has no durable head to challenge", err))
	}
	if !head.Closing {
		return p.failClose(channelID, "challenge", relayerrors.New(relayerrors.ErrCodeStaleHead, "channel is not in its close window"))
	}
	if req.HigherState.State.Seq <= head.Seq {
		return p.failClose(channelID, "challenge", relayerrors.New(relayerrors.ErrCodeStaleHead, "challenge state is not ahead of the current head"))
	}
	observedHash, err := p.verifySignedState(req.HigherState)
	if err != nil {
		return p.failClose(channelID, "challenge", err)
	}

	channelIDWord, err := cryptox.ParseWord(channelID)
	if err != nil {
		return p.failClose(channelID, "challenge", relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "invalid channelId", err))
	}
	settleResult, err := p.CreditSettlement.ChallengeClose(ctx, channelIDWord, observedHash)
	if err != nil {
		return p.failClose(channelID, "challenge", relayerrors.Wrap(relayerrors.ErrCodeSettlementRPCFailure, "credit-channel challenge-close rpc failed", err))
	}

	next := stateToHead(req.HigherState.State, req.HigherState.AgentSignature, req.HigherState.RelayerSignature, observedHash)
	next.Closing = true
	if err := p.Store.PutHead(ctx, next); err != nil {
		return p.failClose(channelID, "challenge", relayerrors.Wrap(relayerrors.ErrCodeStore, "persist challenged head", err))
	}
	if p.Metrics != nil {
		p.Metrics.ObserveChannelClose("challenge", "success")
		p.Metrics.SetChannelHeadSeq(channelID, next.Seq)
	}
	return CloseResponse{Status: "DONE", ChannelID: channelID, SettlementTxHash: settleResult.TxHash}
}

// CloseFinalize ends a channel's lifecycle once its challenge window has
// elapsed: it submits the finalizer to the credit-channel contract, then
// deletes the channel's durable head.
func (p *Processor) CloseFinalize(ctx context.Context, req CloseFinalizeRequest) CloseResponse {
	channelID := req.ChannelID
	unlock := p.locks.Lock(channelID)
	defer unlock()

	head, err := p.Store.GetHead(ctx, channelID)
	if err != nil {
		return p.failClose(channelID, "finalize", relayerrors.Wrap(relayerrors.ErrCodeStaleHead, "channel has no durable head to finalize", err))
	}
	if !head.Closing {
		return p.failClose(channelID, "finalize", relayerrors.New(relayerrors.ErrCodeStaleHead, "channel is not in its close window"))
	}

	channelIDWord, err := cryptox.ParseWord(channelID)
	if err != nil {
		return p.failClose(channelID, "finalize", relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "invalid channelId", err))
	}
	settleResult, err := p.CreditSettlement.FinalizeClose(ctx, channelIDWord)
	if err != nil {
		return p.failClose(channelID, "finalize", relayerrors.Wrap(relayerrors.ErrCodeSettlementRPCFailure, "credit-channel finalize-close rpc failed", err))
	}

	if err := p.Store.DeleteHead(ctx, channelID); err != nil {
		return p.failClose(channelID, "finalize", relayerrors.Wrap(relayerrors.ErrCodeStore, "delete channel head", err))
	}
	if p.Metrics != nil {
		p.Metrics.ObserveChannelClose("finalize", "success")
	}
	return CloseResponse{Status: "DONE", ChannelID: channelID, SettlementTxHash: settleResult.TxHash}
}

// Status reports whether a channel has a durable head and whether it is
// mid-close.
func (p *Processor) Status(ctx context.Context, channelID string) StatusResponse {
	head, err := p.Store.GetHead(ctx, channelID)
	if err != nil {
		return StatusResponse{Exists: false}
	}
	state := headToState(head)
	return StatusResponse{Exists: true, Closing: head.Closing, Head: &state}
}

// parseCloseTarget parses a channelId and a durable head's state hash into
// the word pair CreditSettler's close-lifecycle methods take.
func (p *Processor) parseCloseTarget(channelID, stateHash string) (cryptox.Word, cryptox.Word, error) {
	channelIDWord, err := cryptox.ParseWord(channelID)
	if err != nil {
		return cryptox.Word{}, cryptox.Word{}, relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "invalid channelId", err)
	}
	hashWord, err := cryptox.ParseWord(stateHash)
	if err != nil {
		return cryptox.Word{}, cryptox.Word{}, relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "invalid state hash", err)
	}
	return channelIDWord, hashWord, nil
}

func (p *Processor) failClose(channelID, stage string, err error) CloseResponse {
	reason := err.Error()
	if relayErr, ok := err.(*relayerrors.RelayError); ok {
		reason = relayErr.FailureReason()
	}
	if p.Metrics != nil {
		p.Metrics.ObserveChannelClose(stage, "failure")
	}
	return CloseResponse{Status: "FAILED", ChannelID: channelID, FailureReason: reason}
}
