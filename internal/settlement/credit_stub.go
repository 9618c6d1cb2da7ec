package settlement

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/shielded-relay/relayer/internal/metrics"
)

// StubCreditSettler is an in-process credit-channel settler for development
// and tests: it records each channel's last-seen state hash and close stage
// in a map and synthesizes stable tx hashes instead of talking to a real
// credit-channel contract.
type StubCreditSettler struct {
	mu      sync.Mutex
	heads   map[[32]byte][32]byte
	closing map[[32]byte]bool
	metrics *metrics.Metrics
	network string
}

// NewStubCreditSettler returns an empty stub credit-channel settler.
func NewStubCreditSettler(network string) *StubCreditSettler {
	return &StubCreditSettler{
		heads:   make(map[[32]byte][32]byte),
		closing: make(map[[32]byte]bool),
		network: network,
	}
}

// WithMetrics attaches a metrics collector.
func (s *StubCreditSettler) WithMetrics(m *metrics.Metrics) *StubCreditSettler {
	s.metrics = m
	return s
}

func (s *StubCreditSettler) OpenOrTopup(_ context.Context, channelID, stateHash [32]byte) (CreditCloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.heads[channelID]; ok && prior == stateHash {
		return CreditCloseResult{AlreadySettled: true, TxHash: stubTxHash(channelID, stateHash)}, nil
	}
	s.heads[channelID] = stateHash
	s.observe()
	return CreditCloseResult{TxHash: stubTxHash(channelID, stateHash)}, nil
}

func (s *StubCreditSettler) StartClose(_ context.Context, channelID, stateHash [32]byte) (CreditCloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closing[channelID] = true
	s.heads[channelID] = stateHash
	s.observe()
	return CreditCloseResult{TxHash: stubTxHash(channelID, stateHash)}, nil
}

func (s *StubCreditSettler) ChallengeClose(_ context.Context, channelID, stateHash [32]byte) (CreditCloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.heads[channelID] = stateHash
	s.observe()
	return CreditCloseResult{TxHash: stubTxHash(channelID, stateHash)}, nil
}

func (s *StubCreditSettler) FinalizeClose(_ context.Context, channelID [32]byte) (CreditCloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.closing, channelID)
	delete(s.heads, channelID)
	s.observe()
	return CreditCloseResult{TxHash: stubTxHash(channelID, [32]byte{})}, nil
}

func (s *StubCreditSettler) observe() {
	if s.metrics != nil {
		s.metrics.ObserveSettlement(s.network, 0)
	}
}

func stubTxHash(parts ...[32]byte) string {
	buf := make([]byte, 0, 8)
	for _, p := range parts {
		buf = append(buf, p[:4]...)
	}
	return fmt.Sprintf("0xstubcredit%s", hex.EncodeToString(buf))
}
