package challenge

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shielded-relay/relayer/internal/cryptox"
	"github.com/shielded-relay/relayer/internal/httputil"
	"github.com/shielded-relay/relayer/pkg/x402wire"
)

func merchantServer(t *testing.T, accepts []x402wire.PaymentRequirement) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header, err := x402wire.EncodePaymentRequired(x402wire.PaymentRequiredBody{
			X402Version: x402wire.X402Version,
			Accepts:     accepts,
		})
		if err != nil {
			t.Fatalf("encode PAYMENT-REQUIRED: %v", err)
		}
		x402wire.WritePaymentRequired(w.Header(), header)
		w.WriteHeader(http.StatusPaymentRequired)
	}))
}

func testIdentity() RelayerIdentity {
	return RelayerIdentity{
		Network:           "eip155:84532",
		MerchantPubKey:    cryptox.Keccak256([]byte("relayer-pubkey")),
		VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000002"),
	}
}

func TestBridgeMintsShieldedRequirement(t *testing.T) {
	server := merchantServer(t, []x402wire.PaymentRequirement{{
		Scheme:  x402wire.SchemeExact,
		Network: "base-sepolia",
		Asset:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PayTo:   "0x000000000000000000000000000000000000dEaD",
		Amount:  "40",
	}})
	defer server.Close()

	bridge := New(httputil.NewClient(5*time.Second), testIdentity(), 0)
	resp, err := bridge.Bridge(t.Context(), Request{MerchantRequest: MerchantRequest{URL: server.URL, Method: http.MethodGet}})
	if err != nil {
		t.Fatalf("Bridge: %v", err)
	}
	if resp.Requirement.Rail != x402wire.RailShieldedUSDC {
		t.Fatalf("expected shielded rail, got %q", resp.Requirement.Rail)
	}
	if resp.Requirement.Amount != "40" {
		t.Fatalf("expected amount to carry through unchanged, got %q", resp.Requirement.Amount)
	}
	if resp.Requirement.ChallengeNonce == "" {
		t.Fatal("expected a fresh challenge nonce")
	}
	if resp.Requirement.Extra["upstreamTermsHash"] == "" {
		t.Fatal("expected upstreamTermsHash in extra")
	}
	if resp.PaymentRequiredHeader == "" {
		t.Fatal("expected an encoded PAYMENT-REQUIRED header")
	}
}

func TestBridgeDetectsDrift(t *testing.T) {
	server := merchantServer(t, []x402wire.PaymentRequirement{{
		Scheme:  x402wire.SchemeExact,
		Network: "base-sepolia",
		Asset:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PayTo:   "0x000000000000000000000000000000000000dEaD",
		Amount:  "41",
	}})
	defer server.Close()

	priorHeader, err := x402wire.EncodePaymentRequired(x402wire.PaymentRequiredBody{
		X402Version: x402wire.X402Version,
		Accepts: []x402wire.PaymentRequirement{{
			Scheme:  x402wire.SchemeExact,
			Network: "base-sepolia",
			Asset:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			PayTo:   "0x000000000000000000000000000000000000dEaD",
			Amount:  "40",
		}},
	})
	if err != nil {
		t.Fatalf("encode prior header: %v", err)
	}

	bridge := New(httputil.NewClient(5*time.Second), testIdentity(), 0)
	_, err = bridge.Bridge(t.Context(), Request{
		MerchantRequest:         MerchantRequest{URL: server.URL, Method: http.MethodGet},
		MerchantPaymentRequired: priorHeader,
	})
	if err == nil {
		t.Fatal("expected drift detection to fail the bridge")
	}
}

func TestBridgeRejectsMissingChallenge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	bridge := New(httputil.NewClient(5*time.Second), testIdentity(), 0)
	_, err := bridge.Bridge(t.Context(), Request{MerchantRequest: MerchantRequest{URL: server.URL, Method: http.MethodGet}})
	if err == nil {
		t.Fatal("expected error when merchant returns no PAYMENT-REQUIRED header")
	}
}
