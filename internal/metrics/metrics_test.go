package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}
	if m.PaymentsTotal == nil {
		t.Error("PaymentsTotal should be initialized")
	}
	if m.PaymentsFailedTotal == nil {
		t.Error("PaymentsFailedTotal should be initialized")
	}
	if m.PaymentAmountTotal == nil {
		t.Error("PaymentAmountTotal should be initialized")
	}
	if m.PaymentDuration == nil {
		t.Error("PaymentDuration should be initialized")
	}
	if m.SettlementDuration == nil {
		t.Error("SettlementDuration should be initialized")
	}
	if m.RPCCallsTotal == nil {
		t.Error("RPCCallsTotal should be initialized")
	}
	if m.ChannelDebitsTotal == nil {
		t.Error("ChannelDebitsTotal should be initialized")
	}
}

func TestObservePayment(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObservePayment("shielded-usdc", "done", 1*time.Second)

	count := promtest.ToFloat64(m.PaymentsTotal.WithLabelValues("shielded-usdc", "done"))
	if count != 1 {
		t.Errorf("expected 1 payment attempt, got %.0f", count)
	}

	m.ObservePaymentAmount("shielded-usdc", "eip155:84532", 40_000_000)
	amount := promtest.ToFloat64(m.PaymentAmountTotal.WithLabelValues("shielded-usdc", "eip155:84532"))
	if amount != 40_000_000 {
		t.Errorf("expected amount 40000000, got %.0f", amount)
	}
}

func TestObservePaymentFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObservePaymentFailure("shielded-usdc", "nullifier_used")

	count := promtest.ToFloat64(m.PaymentsFailedTotal.WithLabelValues("shielded-usdc", "nullifier_used"))
	if count != 1 {
		t.Errorf("expected 1 failed payment, got %.0f", count)
	}
}

func TestObserveSettlement(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveSettlement("eip155:84532", 5*time.Second)

	if m.SettlementDuration == nil {
		t.Error("SettlementDuration should be initialized")
	}
}

func TestObserveProofVerificationAndNullifierCheck(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveProofVerification("valid")
	m.ObserveNullifierCheck("unused")

	valid := promtest.ToFloat64(m.ProofVerificationsTotal.WithLabelValues("valid"))
	if valid != 1 {
		t.Errorf("expected 1 valid proof verification, got %.0f", valid)
	}
	unused := promtest.ToFloat64(m.NullifierChecksTotal.WithLabelValues("unused"))
	if unused != 1 {
		t.Errorf("expected 1 unused nullifier check, got %.0f", unused)
	}
}

func TestObserveChannelLifecycle(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveChannelTopup("ok")
	m.ObserveChannelDebit("ok")
	m.ObserveChannelClose("start", "ok")
	m.SetChannelHeadSeq("0xabc", 7)

	if got := promtest.ToFloat64(m.ChannelTopupsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected 1 topup, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.ChannelDebitsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected 1 debit, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.ChannelClosesTotal.WithLabelValues("start", "ok")); got != 1 {
		t.Errorf("expected 1 close stage, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.ChannelHeadSeq.WithLabelValues("0xabc")); got != 7 {
		t.Errorf("expected head seq 7, got %.0f", got)
	}
}

func TestObserveRPCCall(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		network    string
		duration   time.Duration
		err        error
		wantCalls  float64
		wantErrors float64
	}{
		{
			name:      "successful RPC call",
			method:    "verifyProof",
			network:   "eip155:84532",
			duration:  100 * time.Millisecond,
			err:       nil,
			wantCalls: 1,
		},
		{
			name:       "failed RPC call with connection error",
			method:     "settleOnchain",
			network:    "eip155:84532",
			duration:   100 * time.Millisecond,
			err:        &testError{msg: "connection reset"},
			wantCalls:  1,
			wantErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := prometheus.NewRegistry()
			m := New(registry)

			m.ObserveRPCCall(tt.method, tt.network, tt.duration, tt.err)

			calls := promtest.ToFloat64(m.RPCCallsTotal.WithLabelValues(tt.method, tt.network))
			if calls != tt.wantCalls {
				t.Errorf("expected %.0f RPC calls, got %.0f", tt.wantCalls, calls)
			}

			if tt.err != nil {
				errors := promtest.ToFloat64(m.RPCErrorsTotal.WithLabelValues(tt.method, tt.network, "connection"))
				if errors != tt.wantErrors {
					t.Errorf("expected %.0f RPC errors, got %.0f", tt.wantErrors, errors)
				}
			}
		})
	}
}

func TestObservePayout(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObservePayout("forward", "success", 200*time.Millisecond)

	count := promtest.ToFloat64(m.PayoutsTotal.WithLabelValues("forward", "success"))
	if count != 1 {
		t.Errorf("expected 1 payout, got %.0f", count)
	}
}

func TestObserveIdempotencyHit(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveIdempotencyHit("pay")

	count := promtest.ToFloat64(m.IdempotencyHitsTotal.WithLabelValues("pay"))
	if count != 1 {
		t.Errorf("expected 1 idempotency hit, got %.0f", count)
	}
}

func TestObserveRateLimit(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveRateLimit("per_agent", "0xagent")

	hits := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("per_agent", "0xagent"))
	if hits != 1 {
		t.Errorf("expected 1 rate limit hit, got %.0f", hits)
	}
}

func TestObserveBreakerStateChange(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveBreakerStateChange("verifier_rpc", "open")

	count := promtest.ToFloat64(m.BreakerStateChangesTotal.WithLabelValues("verifier_rpc", "open"))
	if count != 1 {
		t.Errorf("expected 1 breaker state change, got %.0f", count)
	}
}

func TestObserveStoreOperation(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveStoreOperation("put_head", "postgres", 5*time.Millisecond)

	if m.StoreDuration == nil {
		t.Error("StoreDuration should be initialized")
	}
}

// testError is a simple error type for testing.
type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
