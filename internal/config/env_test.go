package config

import (
	"os"
	"testing"
	"time"
)

func TestEnvOverrides_ServerConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "RELAYER_SERVER_ADDRESS overrides default",
			envVars: map[string]string{
				"RELAYER_SERVER_ADDRESS": ":3000",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address != ":3000" {
					t.Errorf("expected :3000, got %s", cfg.Server.Address)
				}
			},
		},
		{
			name: "RELAYER_ROUTE_PREFIX is normalized",
			envVars: map[string]string{
				"RELAYER_ROUTE_PREFIX": "relay",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.RoutePrefix != "/relay" {
					t.Errorf("expected /relay, got %s", cfg.Server.RoutePrefix)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_ChainConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "RELAYER_CHAIN_ID parses an integer",
			envVars: map[string]string{
				"RELAYER_CHAIN_ID": "84532",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Chain.ChainID != 84532 {
					t.Errorf("expected chain id 84532, got %d", cfg.Chain.ChainID)
				}
			},
		},
		{
			name: "RELAYER_CHAIN_ID ignores malformed values",
			envVars: map[string]string{
				"RELAYER_CHAIN_ID": "not-a-number",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Chain.ChainID != 0 {
					t.Errorf("expected chain id to stay 0 when unparsable, got %d", cfg.Chain.ChainID)
				}
			},
		},
		{
			name: "RELAYER_VERIFYING_CONTRACT override",
			envVars: map[string]string{
				"RELAYER_VERIFYING_CONTRACT": "0x00000000000000000000000000000000000001",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Chain.VerifyingContract != "0x00000000000000000000000000000000000001" {
					t.Errorf("unexpected verifying contract: %s", cfg.Chain.VerifyingContract)
				}
			},
		},
		{
			name: "RELAYER_PRIVATE_KEY is loaded outside the normal prefix scan",
			envVars: map[string]string{
				"RELAYER_PRIVATE_KEY": "deadbeef",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Chain.RelayerPrivateKeyHex != "deadbeef" {
					t.Errorf("expected signing key to be loaded, got %s", cfg.Chain.RelayerPrivateKeyHex)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_RelayerConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "RELAYER_PAYOUT_MODE override",
			envVars: map[string]string{
				"RELAYER_PAYOUT_MODE": "noop",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Relayer.PayoutMode != "noop" {
					t.Errorf("expected noop, got %s", cfg.Relayer.PayoutMode)
				}
			},
		},
		{
			name: "RELAYER_CHALLENGE_TTL duration override",
			envVars: map[string]string{
				"RELAYER_CHALLENGE_TTL": "90s",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Relayer.ChallengeTTL.Duration != 90*time.Second {
					t.Errorf("expected 90s, got %v", cfg.Relayer.ChallengeTTL.Duration)
				}
			},
		},
		{
			name: "RELAYER_REQUIRE_CHALLENGE_REFETCH boolean (false)",
			envVars: map[string]string{
				"RELAYER_REQUIRE_CHALLENGE_REFETCH": "false",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Relayer.RequireChallengeRefetch {
					t.Error("expected RequireChallengeRefetch to be false")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_StorageConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "RELAYER_STORAGE_BACKEND override",
			envVars: map[string]string{
				"RELAYER_STORAGE_BACKEND": "postgres",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Storage.Backend != "postgres" {
					t.Errorf("expected postgres, got %s", cfg.Storage.Backend)
				}
			},
		},
		{
			name: "RELAYER_STORAGE_POSTGRES_URL override",
			envVars: map[string]string{
				"RELAYER_STORAGE_POSTGRES_URL": "postgres://user:pass@db:5432/relayer",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				expected := "postgres://user:pass@db:5432/relayer"
				if cfg.Storage.PostgresURL != expected {
					t.Errorf("expected %s, got %s", expected, cfg.Storage.PostgresURL)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_APIKeyConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "RELAYER_API_KEY_ENABLED boolean (true)",
			envVars: map[string]string{
				"RELAYER_API_KEY_ENABLED": "true",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if !cfg.APIKey.Enabled {
					t.Error("expected APIKey.Enabled to be true")
				}
			},
		},
		{
			name: "RELAYER_API_KEY_ENABLED boolean (false)",
			envVars: map[string]string{
				"RELAYER_API_KEY_ENABLED": "false",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.APIKey.Enabled {
					t.Error("expected APIKey.Enabled to be false")
				}
			},
		},
		{
			name: "RELAYER_API_KEY_* env vars create key-tier mappings",
			envVars: map[string]string{
				"RELAYER_API_KEY_ENABLED":        "true",
				"RELAYER_API_KEY_PARTNER_ABC123": "partner",
				"RELAYER_API_KEY_ENTERPRISE_XYZ": "enterprise",
				"RELAYER_API_KEY_PRO_TEST":       "pro",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if !cfg.APIKey.Enabled {
					t.Error("expected APIKey.Enabled to be true")
				}
				if len(cfg.APIKey.Keys) != 3 {
					t.Errorf("expected 3 API keys, got %d", len(cfg.APIKey.Keys))
				}
				if cfg.APIKey.Keys["partner_abc123"] != "partner" {
					t.Errorf("expected partner_abc123=partner, got %s", cfg.APIKey.Keys["partner_abc123"])
				}
				if cfg.APIKey.Keys["enterprise_xyz"] != "enterprise" {
					t.Errorf("expected enterprise_xyz=enterprise, got %s", cfg.APIKey.Keys["enterprise_xyz"])
				}
				if cfg.APIKey.Keys["pro_test"] != "pro" {
					t.Errorf("expected pro_test=pro, got %s", cfg.APIKey.Keys["pro_test"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}
