package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/shielded-relay/relayer/internal/cryptox"
	"github.com/shielded-relay/relayer/internal/metrics"
	"github.com/shielded-relay/relayer/internal/verifier"
)

// StubAdapter is an in-process settlement adapter for development and
// tests: it records settled nullifiers in a map and synthesizes stable
// output leaf indices instead of talking to a real pool contract.
type StubAdapter struct {
	mu      sync.Mutex
	settled map[cryptox.Word]Result
	metrics *metrics.Metrics
	network string
}

// NewStubAdapter returns an empty stub settlement adapter.
func NewStubAdapter(network string) *StubAdapter {
	return &StubAdapter{
		settled: make(map[cryptox.Word]Result),
		network: network,
	}
}

// WithMetrics attaches a metrics collector.
func (s *StubAdapter) WithMetrics(m *metrics.Metrics) *StubAdapter {
	s.metrics = m
	return s
}

func (s *StubAdapter) SettleOnchain(_ context.Context, payload verifier.Payload) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.settled[payload.Nullifier]; ok {
		return Result{AlreadySettled: true, TxHash: prior.TxHash}, nil
	}

	result := Result{
		AlreadySettled:    false,
		TxHash:            fmt.Sprintf("0xstub%s", payload.Nullifier.String()[2:10]),
		MerchantLeafIndex: outputLeafIndex(payload.Nullifier, 0x01),
		ChangeLeafIndex:   outputLeafIndex(payload.Nullifier, 0x02),
	}
	s.settled[payload.Nullifier] = result
	if s.metrics != nil {
		s.metrics.ObserveSettlement(s.network, 0)
	}
	return result, nil
}
