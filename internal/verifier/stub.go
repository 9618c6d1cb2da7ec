package verifier

import (
	"context"
	"sync"

	"github.com/shielded-relay/relayer/internal/cryptox"
	"github.com/shielded-relay/relayer/internal/metrics"
)

// StubVerifier is an allow-all, in-process verifier: every proof passes,
// nullifier/root bookkeeping is kept in plain maps. Used in development and
// tests where no on-chain verifier contract is deployed.
type StubVerifier struct {
	mu          sync.RWMutex
	nullifiers  map[cryptox.Word]struct{}
	knownRoots  map[cryptox.Word]struct{}
	metrics     *metrics.Metrics
}

// NewStubVerifier returns a StubVerifier seeded with the given known roots
// (typically the pool's genesis empty-tree root plus any roots the caller
// wants to treat as valid without a live chain).
func NewStubVerifier(seedRoots ...cryptox.Word) *StubVerifier {
	roots := make(map[cryptox.Word]struct{}, len(seedRoots))
	for _, r := range seedRoots {
		roots[r] = struct{}{}
	}
	return &StubVerifier{
		nullifiers: make(map[cryptox.Word]struct{}),
		knownRoots: roots,
	}
}

// WithMetrics attaches a metrics collector so the stub still reports proof
// verification and nullifier outcomes.
func (s *StubVerifier) WithMetrics(m *metrics.Metrics) *StubVerifier {
	s.metrics = m
	return s
}

// SeedRoot records a root as known, for tests that build a Merkle tree out of
// band and need the stub to accept proofs against it.
func (s *StubVerifier) SeedRoot(root cryptox.Word) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knownRoots[root] = struct{}{}
}

func (s *StubVerifier) VerifyProof(_ context.Context, _ Payload) (bool, error) {
	if s.metrics != nil {
		s.metrics.ObserveProofVerification("valid")
	}
	return true, nil
}

func (s *StubVerifier) IsNullifierUsed(_ context.Context, nullifier cryptox.Word) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, used := s.nullifiers[nullifier]
	if s.metrics != nil {
		if used {
			s.metrics.ObserveNullifierCheck("used")
		} else {
			s.metrics.ObserveNullifierCheck("unused")
		}
	}
	return used, nil
}

func (s *StubVerifier) IsKnownRoot(_ context.Context, root cryptox.Word) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, known := s.knownRoots[root]
	if len(s.knownRoots) == 0 {
		// No roots ever seeded: treat every root as known, matching the
		// stub's allow-all posture for the proof check itself.
		known = true
	}
	return known, nil
}

func (s *StubVerifier) MarkNullifierUsed(_ context.Context, nullifier cryptox.Word) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nullifiers[nullifier] = struct{}{}
	return nil
}
