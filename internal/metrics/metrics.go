package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the relayer exposes.
type Metrics struct {
	// Direct-rail and credit-rail payment outcomes.
	PaymentsTotal       *prometheus.CounterVec
	PaymentsFailedTotal *prometheus.CounterVec
	PaymentAmountTotal  *prometheus.CounterVec
	PaymentDuration     *prometheus.HistogramVec
	SettlementDuration  *prometheus.HistogramVec

	// Proof verification and nullifier bookkeeping (C3).
	ProofVerificationsTotal *prometheus.CounterVec
	NullifierChecksTotal    *prometheus.CounterVec

	// Credit-channel processor (C8).
	ChannelTopupsTotal  *prometheus.CounterVec
	ChannelDebitsTotal  *prometheus.CounterVec
	ChannelClosesTotal  *prometheus.CounterVec
	ChannelHeadSeq      *prometheus.GaugeVec

	// RPC calls to the verifier/settlement chains (C3/C4).
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec
	RPCErrorsTotal  *prometheus.CounterVec

	// Merchant payout forwarding (C5).
	PayoutsTotal    *prometheus.CounterVec
	PayoutDuration  *prometheus.HistogramVec

	// Idempotency and rate limiting.
	IdempotencyHitsTotal *prometheus.CounterVec
	RateLimitHitsTotal   *prometheus.CounterVec

	// Circuit breaker and durable storage.
	BreakerStateChangesTotal *prometheus.CounterVec
	StoreDuration            *prometheus.HistogramVec
}

// New creates and registers every collector against registry, or the
// default Prometheus registerer if registry is nil.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		PaymentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_payments_total",
				Help: "Total number of payment attempts by rail and outcome status",
			},
			[]string{"rail", "status"},
		),
		PaymentsFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_payments_failed_total",
				Help: "Total number of failed payments by rail and error reason",
			},
			[]string{"rail", "reason"},
		),
		PaymentAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_payment_amount_micros_total",
				Help: "Total settled payment amount in micros of the settlement asset",
			},
			[]string{"rail", "network"},
		),
		PaymentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relayer_payment_duration_seconds",
				Help:    "End-to-end verify-settle-payout duration",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"rail"},
		),
		SettlementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relayer_settlement_duration_seconds",
				Help:    "Time from verified proof to on-chain settlement confirmation",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"network"},
		),

		ProofVerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_proof_verifications_total",
				Help: "Total shielded proof verification attempts by outcome",
			},
			[]string{"outcome"},
		),
		NullifierChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_nullifier_checks_total",
				Help: "Total nullifier-used lookups by outcome",
			},
			[]string{"outcome"},
		),

		ChannelTopupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_channel_topups_total",
				Help: "Total credit-channel topup operations by outcome",
			},
			[]string{"outcome"},
		),
		ChannelDebitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_channel_debits_total",
				Help: "Total credit-channel debit operations by outcome",
			},
			[]string{"outcome"},
		),
		ChannelClosesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_channel_closes_total",
				Help: "Total credit-channel close transitions by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		ChannelHeadSeq: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relayer_channel_head_seq",
				Help: "Current head sequence number of a credit channel",
			},
			[]string{"channel_id"},
		),

		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_rpc_calls_total",
				Help: "Total RPC calls to verifier/settlement chains",
			},
			[]string{"method", "network"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relayer_rpc_call_duration_seconds",
				Help:    "Duration of RPC calls to verifier/settlement chains",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "network"},
		),
		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_rpc_errors_total",
				Help: "Total RPC errors by categorized error type",
			},
			[]string{"method", "network", "error_type"},
		),

		PayoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_payouts_total",
				Help: "Total merchant payout attempts by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		PayoutDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relayer_payout_duration_seconds",
				Help:    "Time taken to forward a settled payment to the merchant",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"mode"},
		),

		IdempotencyHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_idempotency_hits_total",
				Help: "Total requests served from the idempotency cache instead of reprocessed",
			},
			[]string{"operation"},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_rate_limit_hits_total",
				Help: "Total requests rejected by rate limiting",
			},
			[]string{"limit_type", "identifier"},
		),

		BreakerStateChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_circuit_breaker_state_changes_total",
				Help: "Total circuit breaker state transitions by service and target state",
			},
			[]string{"service", "state"},
		),
		StoreDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relayer_store_operation_duration_seconds",
				Help:    "Durable settlement-store operation duration",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObservePayment records a payment attempt's outcome and duration.
func (m *Metrics) ObservePayment(rail, status string, duration time.Duration) {
	m.PaymentsTotal.WithLabelValues(rail, status).Inc()
	m.PaymentDuration.WithLabelValues(rail).Observe(duration.Seconds())
}

// ObservePaymentFailure records a failed payment with its reason code.
func (m *Metrics) ObservePaymentFailure(rail, reason string) {
	m.PaymentsFailedTotal.WithLabelValues(rail, reason).Inc()
}

// ObservePaymentAmount records the settled amount of a successful payment.
func (m *Metrics) ObservePaymentAmount(rail, network string, amountMicros float64) {
	m.PaymentAmountTotal.WithLabelValues(rail, network).Add(amountMicros)
}

// ObserveSettlement records on-chain settlement confirmation time.
func (m *Metrics) ObserveSettlement(network string, duration time.Duration) {
	m.SettlementDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// ObserveProofVerification records a proof verification attempt's outcome.
func (m *Metrics) ObserveProofVerification(outcome string) {
	m.ProofVerificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveNullifierCheck records a nullifier lookup's outcome.
func (m *Metrics) ObserveNullifierCheck(outcome string) {
	m.NullifierChecksTotal.WithLabelValues(outcome).Inc()
}

// ObserveChannelTopup records a credit-channel topup's outcome.
func (m *Metrics) ObserveChannelTopup(outcome string) {
	m.ChannelTopupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveChannelDebit records a credit-channel debit's outcome.
func (m *Metrics) ObserveChannelDebit(outcome string) {
	m.ChannelDebitsTotal.WithLabelValues(outcome).Inc()
}

// ObserveChannelClose records one stage of a credit-channel close.
func (m *Metrics) ObserveChannelClose(stage, outcome string) {
	m.ChannelClosesTotal.WithLabelValues(stage, outcome).Inc()
}

// SetChannelHeadSeq publishes a channel's current head sequence number.
func (m *Metrics) SetChannelHeadSeq(channelID string, seq uint64) {
	m.ChannelHeadSeq.WithLabelValues(channelID).Set(float64(seq))
}

// ObserveRPCCall records an RPC call to a verifier/settlement chain,
// categorizing the error if one occurred.
func (m *Metrics) ObserveRPCCall(method, network string, duration time.Duration, err error) {
	m.RPCCallsTotal.WithLabelValues(method, network).Inc()
	m.RPCCallDuration.WithLabelValues(method, network).Observe(duration.Seconds())

	if err != nil {
		m.RPCErrorsTotal.WithLabelValues(method, network, categorizeError(err)).Inc()
	}
}

// ObservePayout records a merchant payout attempt.
func (m *Metrics) ObservePayout(mode, outcome string, duration time.Duration) {
	m.PayoutsTotal.WithLabelValues(mode, outcome).Inc()
	m.PayoutDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveIdempotencyHit records a request served from the idempotency cache.
func (m *Metrics) ObserveIdempotencyHit(operation string) {
	m.IdempotencyHitsTotal.WithLabelValues(operation).Inc()
}

// ObserveRateLimit records a rate-limited request.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

// ObserveBreakerStateChange records a circuit breaker transition.
func (m *Metrics) ObserveBreakerStateChange(service, state string) {
	m.BreakerStateChangesTotal.WithLabelValues(service, state).Inc()
}

// ObserveStoreOperation records a durable-store operation's duration.
func (m *Metrics) ObserveStoreOperation(operation, backend string, duration time.Duration) {
	m.StoreDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

func categorizeError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "rate limit"):
		return "rate_limit"
	case strings.Contains(msg, "connection"):
		return "connection"
	case strings.Contains(msg, "not found"):
		return "not_found"
	case strings.Contains(msg, "already"):
		return "conflict"
	default:
		return "other"
	}
}
