package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // no-op if .env absent; lets local runs source RELAYER_* vars from a file

	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	rpcBreaker := BreakerConfig{
		MaxRequests:         3,
		Interval:            Duration{Duration: 60 * time.Second},
		Timeout:             Duration{Duration: 30 * time.Second},
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
	payoutBreaker := BreakerConfig{
		MaxRequests:         5,
		Interval:            Duration{Duration: 60 * time.Second},
		Timeout:             Duration{Duration: 60 * time.Second},
		ConsecutiveFailures: 10,
		FailureRatio:        0.7,
		MinRequests:         20,
	}

	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "production",
		},
		Chain: ChainConfig{
			Network:              "eip155:84532",
			VerifierMode:         "stub",
			SettlementMode:       "stub",
			CreditSettlementMode: "stub",
			MerkleDepthPool:      24,
			MerkleDepthSequencer: 32,
			TxConfirmTimeout:     Duration{Duration: 60 * time.Second},
		},
		Relayer: RelayerConfig{
			ChallengeTTL:            Duration{Duration: 2 * time.Minute},
			MerchantForwardTimeout:  Duration{Duration: 30 * time.Second},
			PayoutMode:              "forward",
			RequireChallengeRefetch: true,
			MaxProofBytes:           128 * 1024,
		},
		Storage: StorageConfig{
			Backend:       "memory",
			FilePath:      "./data/relayer-store.json",
			FlushInterval: Duration{Duration: 5 * time.Second},
		},
		RateLimit: RateLimitConfig{
			GlobalEnabled:   true,
			GlobalLimit:     2000,
			GlobalWindow:    Duration{Duration: 1 * time.Minute},
			PerAgentEnabled: true,
			PerAgentLimit:   120,
			PerAgentWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:    true,
			PerIPLimit:      240,
			PerIPWindow:     Duration{Duration: 1 * time.Minute},
		},
		APIKey: APIKeyConfig{
			Enabled: false,
			Keys:    make(map[string]string),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:           true,
			VerifierRPC:       rpcBreaker,
			SettlementRPC:     rpcBreaker,
			MerchantPayout:    payoutBreaker,
			MerchantChallenge: payoutBreaker,
		},
		Idempotency: IdempotencyConfig{
			CacheTTL:     Duration{Duration: 24 * time.Hour},
			CacheMaxSize: 10000,
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
