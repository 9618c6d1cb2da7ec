package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Chain          ChainConfig          `yaml:"chain"`
	Relayer        RelayerConfig        `yaml:"relayer"`
	Storage        StorageConfig        `yaml:"storage"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	APIKey         APIKeyConfig         `yaml:"api_key"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Idempotency    IdempotencyConfig    `yaml:"idempotency"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Environment string `yaml:"environment"`
}

// ChainConfig holds the EVM chain parameters the relayer signs and verifies
// against: chain id for EIP-712 domain separation, the shielded pool and
// credit-settlement contract addresses, and the RPC endpoints C3/C4 dial.
type ChainConfig struct {
	ChainID                  int64    `yaml:"chain_id"`
	Network                  string   `yaml:"network"` // CAIP-2, e.g. "eip155:84532"
	VerifyingContract        string   `yaml:"verifying_contract"`
	SettlementContract       string   `yaml:"settlement_contract"`
	CreditSettlementContract string   `yaml:"credit_settlement_contract"`
	VerifierMode             string   `yaml:"verifier_mode"`          // "stub" or "onchain"
	SettlementMode           string   `yaml:"settlement_mode"`        // "stub" or "onchain"
	CreditSettlementMode     string   `yaml:"credit_settlement_mode"` // "stub" or "onchain"
	VerifierRPCURL           string   `yaml:"verifier_rpc_url"`
	SettlementRPCURL         string   `yaml:"settlement_rpc_url"`
	CreditSettlementRPCURL   string   `yaml:"credit_settlement_rpc_url"`
	RelayerPrivateKeyHex     string   `yaml:"-"` // loaded from RELAYER_PRIVATE_KEY env only
	MerkleDepthPool          uint8    `yaml:"merkle_depth_pool"`
	MerkleDepthSequencer     uint8    `yaml:"merkle_depth_sequencer"`
	TxConfirmTimeout         Duration `yaml:"tx_confirm_timeout"`
}

// RelayerConfig holds the payment-processing engine's tunables: challenge
// TTL, merchant forward timeout, payout mode, the challenge-refetch switch,
// the proof size cap, and the relayer address.
type RelayerConfig struct {
	ChallengeTTL         Duration `yaml:"challenge_ttl"`
	MerchantForwardTimeout Duration `yaml:"merchant_forward_timeout"`
	PayoutMode           string   `yaml:"payout_mode"` // "forward", "noop", "upstream-x402"
	RequireChallengeRefetch bool  `yaml:"require_challenge_refetch"`
	MaxProofBytes        int      `yaml:"max_proof_bytes"`
	RelayerAddress       string   `yaml:"relayer_address"`
}

// StorageConfig holds settlement-store backend configuration (C9).
type StorageConfig struct {
	Backend      string             `yaml:"backend"` // "memory", "file", or "postgres"
	FilePath     string             `yaml:"file_path"`
	PostgresURL  string             `yaml:"postgres_url"`
	PostgresPool PostgresPoolConfig `yaml:"postgres_pool"`
	FlushInterval Duration          `yaml:"flush_interval"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	PerAgentEnabled bool     `yaml:"per_agent_enabled"`
	PerAgentLimit   int      `yaml:"per_agent_limit"`
	PerAgentWindow  Duration `yaml:"per_agent_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// APIKeyConfig holds API key authentication and tier configuration.
type APIKeyConfig struct {
	Enabled bool              `yaml:"enabled"`
	Keys    map[string]string `yaml:"keys"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled           bool         `yaml:"enabled"`
	VerifierRPC       BreakerConfig `yaml:"verifier_rpc"`
	SettlementRPC     BreakerConfig `yaml:"settlement_rpc"`
	MerchantPayout    BreakerConfig `yaml:"merchant_payout"`
	MerchantChallenge BreakerConfig `yaml:"merchant_challenge"`
}

// BreakerConfig configures a circuit breaker for a specific external service.
type BreakerConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}

// IdempotencyConfig tunes the HTTP idempotency middleware's response cache
// (A5), keyed on the Idempotency-Key request header.
type IdempotencyConfig struct {
	CacheTTL     Duration `yaml:"cache_ttl"`
	CacheMaxSize int      `yaml:"cache_max_size"`
}
