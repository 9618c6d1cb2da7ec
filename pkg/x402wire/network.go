package x402wire

import (
	"fmt"
	"strconv"
	"strings"
)

// namedNetworks maps a CAIP-2 `eip155:<chainId>` identifier to the network
// label upstream x402 facilitators expect on the wire, and back. New chains
// are added here, not by branching call sites.
var namedNetworks = map[string]string{
	"eip155:8453":  "base",
	"eip155:84532": "base-sepolia",
	"eip155:1":     "ethereum",
	"eip155:11155111": "sepolia",
}

var namedToCAIP2 = func() map[string]string {
	m := make(map[string]string, len(namedNetworks))
	for caip2, name := range namedNetworks {
		m[name] = caip2
	}
	return m
}()

// CAIP2ToNamed translates an internal `eip155:<chainId>` identifier to the
// named network label used on outgoing PAYMENT-* headers. Unknown chain ids
// fall back to the CAIP-2 string itself so a new chain never breaks encoding.
func CAIP2ToNamed(caip2 string) string {
	if name, ok := namedNetworks[caip2]; ok {
		return name
	}
	return caip2
}

// NamedToCAIP2 translates a named network label back to the internal
// `eip155:<chainId>` canonical form. Unknown labels pass through unchanged.
func NamedToCAIP2(name string) string {
	if caip2, ok := namedToCAIP2[name]; ok {
		return caip2
	}
	return name
}

// ChainIDFromCAIP2 parses the numeric chain id out of an `eip155:<chainId>`
// identifier.
func ChainIDFromCAIP2(caip2 string) (int64, error) {
	const prefix = "eip155:"
	if !strings.HasPrefix(caip2, prefix) {
		return 0, fmt.Errorf("network %q is not a CAIP-2 eip155 identifier", caip2)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(caip2, prefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("network %q has a non-numeric chain id: %w", caip2, err)
	}
	return id, nil
}

// ProviderAdapter is one link in the incoming-402 normalization chain: it
// recognizes a merchant/facilitator host and knows how to reshape its body
// or outgoing headers to match this relayer's canonical wire shapes. Each
// adapter is pure and composable; none mutates global state.
type ProviderAdapter struct {
	// Name identifies the adapter for logging.
	Name string
	// Match reports whether this adapter applies to a given merchant URL.
	Match func(url string) bool
	// TransformParsedBody rewrites a decoded PaymentRequiredBody in place
	// after generic decoding/normalization, e.g. provider-specific quirks.
	TransformParsedBody func(body *PaymentRequiredBody)
	// RewriteOutgoingHeaders adjusts the header set this relayer sends back
	// to the provider, e.g. translating network labels.
	RewriteOutgoingHeaders func(headers map[string]string)
}

// AdapterChain runs merchant URLs through an ordered list of ProviderAdapter
// values, applying every adapter whose Match returns true.
type AdapterChain struct {
	adapters []ProviderAdapter
}

// NewAdapterChain builds a chain from the given adapters, evaluated in order.
func NewAdapterChain(adapters ...ProviderAdapter) *AdapterChain {
	return &AdapterChain{adapters: adapters}
}

// TransformParsedBody applies every matching adapter's body transform.
func (c *AdapterChain) TransformParsedBody(url string, body *PaymentRequiredBody) {
	for _, a := range c.adapters {
		if a.Match != nil && a.Match(url) && a.TransformParsedBody != nil {
			a.TransformParsedBody(body)
		}
	}
}

// RewriteOutgoingHeaders applies every matching adapter's header rewrite.
func (c *AdapterChain) RewriteOutgoingHeaders(url string, headers map[string]string) {
	for _, a := range c.adapters {
		if a.Match != nil && a.Match(url) && a.RewriteOutgoingHeaders != nil {
			a.RewriteOutgoingHeaders(headers)
		}
	}
}

// NamedNetworkAdapter is the default chain link: it applies to every
// merchant and rewrites PaymentRequirement.Network between CAIP-2 and the
// named label in both directions.
var NamedNetworkAdapter = ProviderAdapter{
	Name:  "named-network",
	Match: func(string) bool { return true },
	TransformParsedBody: func(body *PaymentRequiredBody) {
		for i := range body.Accepts {
			body.Accepts[i].Network = NamedToCAIP2(body.Accepts[i].Network)
		}
	},
	RewriteOutgoingHeaders: func(headers map[string]string) {
		if network, ok := headers["network"]; ok {
			headers["network"] = CAIP2ToNamed(network)
		}
	},
}
