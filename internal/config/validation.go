package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// finalize applies defaults that depend on other fields and validates the
// configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Relayer.PayoutMode == "" {
		c.Relayer.PayoutMode = "forward"
	}
	if c.Relayer.MaxProofBytes <= 0 {
		c.Relayer.MaxProofBytes = 128 * 1024
	}
	if c.Relayer.ChallengeTTL.Duration <= 0 {
		c.Relayer.ChallengeTTL = Duration{Duration: 2 * time.Minute}
	}
	if c.Relayer.MerchantForwardTimeout.Duration <= 0 {
		c.Relayer.MerchantForwardTimeout = Duration{Duration: 30 * time.Second}
	}
	if c.Chain.MerkleDepthPool == 0 {
		c.Chain.MerkleDepthPool = 24
	}
	if c.Chain.MerkleDepthSequencer == 0 {
		c.Chain.MerkleDepthSequencer = 32
	}
	if c.Chain.VerifierMode == "" {
		c.Chain.VerifierMode = "stub"
	}
	if c.Chain.SettlementMode == "" {
		c.Chain.SettlementMode = "stub"
	}
	if c.Chain.CreditSettlementMode == "" {
		c.Chain.CreditSettlementMode = "stub"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	switch c.Relayer.PayoutMode {
	case "forward", "noop", "upstream-x402":
	default:
		errs = append(errs, fmt.Sprintf("relayer.payout_mode %q is not one of forward|noop|upstream-x402", c.Relayer.PayoutMode))
	}

	switch c.Chain.VerifierMode {
	case "stub", "onchain":
	default:
		errs = append(errs, fmt.Sprintf("chain.verifier_mode %q is not one of stub|onchain", c.Chain.VerifierMode))
	}
	if c.Chain.VerifierMode == "onchain" && c.Chain.VerifierRPCURL == "" {
		errs = append(errs, "chain.verifier_rpc_url is required when verifier_mode is onchain")
	}

	switch c.Chain.SettlementMode {
	case "stub", "onchain":
	default:
		errs = append(errs, fmt.Sprintf("chain.settlement_mode %q is not one of stub|onchain", c.Chain.SettlementMode))
	}
	if c.Chain.SettlementMode == "onchain" {
		if c.Chain.SettlementRPCURL == "" {
			errs = append(errs, "chain.settlement_rpc_url is required when settlement_mode is onchain")
		}
		if c.Chain.RelayerPrivateKeyHex == "" {
			errs = append(errs, "RELAYER_PRIVATE_KEY is required when settlement_mode is onchain")
		}
	}

	switch c.Chain.CreditSettlementMode {
	case "stub", "onchain":
	default:
		errs = append(errs, fmt.Sprintf("chain.credit_settlement_mode %q is not one of stub|onchain", c.Chain.CreditSettlementMode))
	}
	if c.Chain.CreditSettlementMode == "onchain" {
		if c.Chain.CreditSettlementRPCURL == "" {
			errs = append(errs, "chain.credit_settlement_rpc_url is required when credit_settlement_mode is onchain")
		}
		if c.Chain.RelayerPrivateKeyHex == "" {
			errs = append(errs, "RELAYER_PRIVATE_KEY is required when credit_settlement_mode is onchain")
		}
	}

	switch c.Storage.Backend {
	case "memory", "file", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not one of memory|file|postgres", c.Storage.Backend))
	}
	if c.Storage.Backend == "file" && c.Storage.FilePath == "" {
		errs = append(errs, "storage.file_path is required when storage.backend is file")
	}
	if c.Storage.Backend == "postgres" && c.Storage.PostgresURL == "" {
		errs = append(errs, "storage.postgres_url is required when storage.backend is postgres")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database
// connection, with sensible defaults when unset.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
