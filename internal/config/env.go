package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. All env
// vars use a RELAYER_ prefix for namespace isolation; the relayer signing
// key (RELAYER_PRIVATE_KEY) is read from the environment only, never YAML.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Server.Address, "RELAYER_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "RELAYER_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "RELAYER_ADMIN_METRICS_API_KEY")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	setIfEnv(&c.Logging.Level, "RELAYER_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "RELAYER_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "RELAYER_ENVIRONMENT")

	if v := os.Getenv("RELAYER_CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Chain.ChainID = id
		}
	}
	setIfEnv(&c.Chain.Network, "RELAYER_CHAIN_NETWORK")
	setIfEnv(&c.Chain.VerifyingContract, "RELAYER_VERIFYING_CONTRACT")
	setIfEnv(&c.Chain.SettlementContract, "RELAYER_SETTLEMENT_CONTRACT")
	setIfEnv(&c.Chain.CreditSettlementContract, "RELAYER_CREDIT_SETTLEMENT_CONTRACT")
	setIfEnv(&c.Chain.VerifierMode, "RELAYER_VERIFIER_MODE")
	setIfEnv(&c.Chain.SettlementMode, "RELAYER_SETTLEMENT_MODE")
	setIfEnv(&c.Chain.CreditSettlementMode, "RELAYER_CREDIT_SETTLEMENT_MODE")
	setIfEnv(&c.Chain.VerifierRPCURL, "RELAYER_VERIFIER_RPC_URL")
	setIfEnv(&c.Chain.SettlementRPCURL, "RELAYER_SETTLEMENT_RPC_URL")
	setIfEnv(&c.Chain.CreditSettlementRPCURL, "RELAYER_CREDIT_SETTLEMENT_RPC_URL")

	// RELAYER_PRIVATE_KEY is deliberately kept out of YAML: it is the
	// relayer's own signing key.
	setIfEnv(&c.Chain.RelayerPrivateKeyHex, "RELAYER_PRIVATE_KEY")

	setIfEnv(&c.Relayer.PayoutMode, "RELAYER_PAYOUT_MODE")
	setIfEnv(&c.Relayer.RelayerAddress, "RELAYER_ADDRESS")
	setDurationIfEnv(&c.Relayer.ChallengeTTL, "RELAYER_CHALLENGE_TTL")
	setDurationIfEnv(&c.Relayer.MerchantForwardTimeout, "RELAYER_MERCHANT_FORWARD_TIMEOUT")
	setBoolIfEnv(&c.Relayer.RequireChallengeRefetch, "RELAYER_REQUIRE_CHALLENGE_REFETCH")

	setIfEnv(&c.Storage.Backend, "RELAYER_STORAGE_BACKEND")
	setIfEnv(&c.Storage.FilePath, "RELAYER_STORAGE_FILE_PATH")
	setIfEnv(&c.Storage.PostgresURL, "RELAYER_STORAGE_POSTGRES_URL")

	setBoolIfEnv(&c.APIKey.Enabled, "RELAYER_API_KEY_ENABLED")
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "RELAYER_API_KEY_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "RELAYER_API_KEY_")
		if name == "" || name == "ENABLED" {
			continue
		}
		if c.APIKey.Keys == nil {
			c.APIKey.Keys = make(map[string]string)
		}
		c.APIKey.Keys[strings.ToLower(name)] = strings.TrimSpace(parts[1])
	}
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
