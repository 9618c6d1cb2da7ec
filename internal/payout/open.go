package payout

import (
	"fmt"
	"time"

	"github.com/shielded-relay/relayer/internal/circuitbreaker"
	"github.com/shielded-relay/relayer/internal/config"
)

// defaultMerchantForwardTimeout applies when the config leaves
// merchant_forward_timeout unset.
const defaultMerchantForwardTimeout = 30 * time.Second

// Open builds the configured payout adapter variant.
func Open(cfg config.RelayerConfig, chain config.ChainConfig, breakers *circuitbreaker.Manager) (Adapter, error) {
	timeout := cfg.MerchantForwardTimeout.Duration
	if timeout <= 0 {
		timeout = defaultMerchantForwardTimeout
	}

	switch cfg.PayoutMode {
	case "", "forward":
		return NewForwardAdapter(timeout, breakers), nil
	case "noop":
		return NewNoopAdapter(), nil
	case "upstream-x402":
		return NewUpstreamX402Adapter(timeout, chain.RelayerPrivateKeyHex)
	default:
		return nil, fmt.Errorf("payout: unknown payout mode %q", cfg.PayoutMode)
	}
}
