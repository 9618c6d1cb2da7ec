package payout

import (
	"context"

	"github.com/shielded-relay/relayer/internal/metrics"
	"github.com/shielded-relay/relayer/pkg/x402wire"
)

// NoopAdapter synthesizes a 200 response without contacting the merchant,
// for development and for merchants whose side-effect is entirely on-chain
// (e.g. the shielded pool spend itself is the deliverable).
type NoopAdapter struct {
	metrics *metrics.Metrics
}

// NewNoopAdapter returns a payout adapter that never calls the merchant.
func NewNoopAdapter() *NoopAdapter {
	return &NoopAdapter{}
}

// WithMetrics attaches a metrics collector.
func (a *NoopAdapter) WithMetrics(m *metrics.Metrics) *NoopAdapter {
	a.metrics = m
	return a
}

func (a *NoopAdapter) PayMerchant(_ context.Context, settlementID string, _ MerchantRequest, _ x402wire.PaymentRequirement, _ string) (Result, error) {
	if a.metrics != nil {
		a.metrics.ObservePayout("noop", "success", 0)
	}
	return Result{
		Status:          200,
		Headers:         map[string]string{},
		BodyBase64:      "",
		PayoutReference: settlementID,
	}, nil
}
