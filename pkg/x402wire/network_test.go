package x402wire

import "testing"

func TestCAIP2NamedNetworkRoundTrip(t *testing.T) {
	if got := CAIP2ToNamed("eip155:84532"); got != "base-sepolia" {
		t.Errorf("CAIP2ToNamed = %q, want base-sepolia", got)
	}
	if got := NamedToCAIP2("base-sepolia"); got != "eip155:84532" {
		t.Errorf("NamedToCAIP2 = %q, want eip155:84532", got)
	}
}

func TestCAIP2ToNamedUnknownChainPassesThrough(t *testing.T) {
	if got := CAIP2ToNamed("eip155:999999"); got != "eip155:999999" {
		t.Errorf("unknown chain should pass through unchanged, got %q", got)
	}
}

func TestChainIDFromCAIP2(t *testing.T) {
	id, err := ChainIDFromCAIP2("eip155:8453")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 8453 {
		t.Errorf("chain id = %d, want 8453", id)
	}
	if _, err := ChainIDFromCAIP2("base-sepolia"); err == nil {
		t.Fatal("expected error for non-CAIP-2 input")
	}
}

func TestAdapterChainTransformsNetwork(t *testing.T) {
	chain := NewAdapterChain(NamedNetworkAdapter)
	body := PaymentRequiredBody{Accepts: []PaymentRequirement{{Network: "base-sepolia"}}}
	chain.TransformParsedBody("https://merchant.example/resource", &body)
	if body.Accepts[0].Network != "eip155:84532" {
		t.Errorf("network = %q, want eip155:84532", body.Accepts[0].Network)
	}
}
