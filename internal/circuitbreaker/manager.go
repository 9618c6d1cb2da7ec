package circuitbreaker

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/shielded-relay/relayer/internal/config"
	"github.com/shielded-relay/relayer/internal/metrics"
)

// ServiceType identifies an external collaborator for circuit breaker
// isolation: the relayer never lets one collaborator's outage cascade into
// another's bulkhead.
type ServiceType string

const (
	ServiceVerifierRPC       ServiceType = "verifier_rpc"
	ServiceSettlementRPC     ServiceType = "settlement_rpc"
	ServiceMerchantPayout    ServiceType = "merchant_payout"
	ServiceMerchantChallenge ServiceType = "merchant_challenge"
)

// Manager manages circuit breakers for different external services.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	config   Config
	metrics  *metrics.Metrics
}

// WithMetrics attaches a metrics collector so breaker state transitions are
// published as relayer_circuit_breaker_state_changes_total in addition to
// being logged.
func (m *Manager) WithMetrics(collector *metrics.Metrics) *Manager {
	m.metrics = collector
	return m
}

// Config holds circuit breaker configuration for all services.
type Config struct {
	Enabled            bool
	VerifierRPC        BreakerConfig
	SettlementRPC      BreakerConfig
	MerchantPayout     BreakerConfig
	MerchantChallenge  BreakerConfig
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration

	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig creates a circuit breaker manager from application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig) *Manager {
	return NewManager(Config{
		Enabled:           cfg.Enabled,
		VerifierRPC:       toBreakerConfig(cfg.VerifierRPC),
		SettlementRPC:     toBreakerConfig(cfg.SettlementRPC),
		MerchantPayout:    toBreakerConfig(cfg.MerchantPayout),
		MerchantChallenge: toBreakerConfig(cfg.MerchantChallenge),
	})
}

func toBreakerConfig(cfg config.BreakerConfig) BreakerConfig {
	return BreakerConfig{
		MaxRequests:         cfg.MaxRequests,
		Interval:            cfg.Interval.Duration,
		Timeout:             cfg.Timeout.Duration,
		ConsecutiveFailures: cfg.ConsecutiveFailures,
		FailureRatio:        cfg.FailureRatio,
		MinRequests:         cfg.MinRequests,
	}
}

// NewManager creates a circuit breaker manager with the given configuration.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		config:   cfg,
	}

	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceVerifierRPC] = gobreaker.NewCircuitBreaker(m.toGobreakerSettings(string(ServiceVerifierRPC), cfg.VerifierRPC))
	m.breakers[ServiceSettlementRPC] = gobreaker.NewCircuitBreaker(m.toGobreakerSettings(string(ServiceSettlementRPC), cfg.SettlementRPC))
	m.breakers[ServiceMerchantPayout] = gobreaker.NewCircuitBreaker(m.toGobreakerSettings(string(ServiceMerchantPayout), cfg.MerchantPayout))
	m.breakers[ServiceMerchantChallenge] = gobreaker.NewCircuitBreaker(m.toGobreakerSettings(string(ServiceMerchantChallenge), cfg.MerchantChallenge))

	return m
}

// Execute wraps a function call with circuit breaker protection. If circuit
// breakers are disabled or not configured for the service, it executes fn
// directly.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.config.Enabled {
		return fn()
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}

	return breaker.Execute(fn)
}

// State returns the current state of a circuit breaker.
func (m *Manager) State(service ServiceType) string {
	if !m.config.Enabled {
		return "disabled"
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}

	return breaker.State().String()
}

// Counts returns the current counts for a circuit breaker.
func (m *Manager) Counts(service ServiceType) Counts {
	if !m.config.Enabled {
		return Counts{}
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return Counts{}
	}

	c := breaker.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (m *Manager) toGobreakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if failureRate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuitbreaker.state_change")
			if m.metrics != nil {
				m.metrics.ObserveBreakerStateChange(name, to.String())
			}
		},
	}
}

// DefaultConfig returns sensible defaults for circuit breaker configuration.
func DefaultConfig() Config {
	rpcDefault := BreakerConfig{
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
	payoutDefault := BreakerConfig{
		MaxRequests:         5,
		Interval:            60 * time.Second,
		Timeout:             60 * time.Second,
		ConsecutiveFailures: 10,
		FailureRatio:        0.7,
		MinRequests:         20,
	}
	return Config{
		Enabled:           true,
		VerifierRPC:       rpcDefault,
		SettlementRPC:     rpcDefault,
		MerchantPayout:    payoutDefault,
		MerchantChallenge: payoutDefault,
	}
}
