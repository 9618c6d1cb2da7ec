// Command client is a smoke-test tool for the relayer's HTTP surface. It
// builds a self-consistent shielded payment (or credit-channel topup)
// fixture, signs it with a throwaway or supplied agent key, and either
// prints the request it would send or submits it with -post.
package main

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/shielded-relay/relayer/internal/cryptox"
	"github.com/shielded-relay/relayer/internal/payout"
	"github.com/shielded-relay/relayer/internal/relay/credit"
	"github.com/shielded-relay/relayer/internal/relay/direct"
	"github.com/shielded-relay/relayer/pkg/x402wire"
)

func main() {
	var (
		serverURL   = flag.String("server", "http://localhost:8080", "relayer base URL")
		mode        = flag.String("mode", "pay", "rail to exercise: pay (direct rail) or topup (credit rail)")
		resource    = flag.String("resource", "https://merchant.example/api/report", "merchant resource URL the payout stage forwards to")
		amount      = flag.String("amount", "1000000", "payment amount, smallest asset unit, decimal")
		network     = flag.String("network", "eip155:84532", "CAIP-2 network the requirement is issued on")
		channelID   = flag.String("channel", "", "credit-channel id (0x + 64 hex); generated if empty, topup mode only")
		agentKeyHex = flag.String("agent-key", "", "hex-encoded agent ECDSA private key; generated if empty")
		post        = flag.Bool("post", false, "submit the built request to -server instead of only printing it")
	)
	flag.Parse()

	agentKey, err := loadOrGenerateKey(*agentKeyHex)
	if err != nil {
		log.Fatalf("agent key: %v", err)
	}

	baseURL := strings.TrimRight(*serverURL, "/")
	amt, ok := new(big.Int).SetString(*amount, 10)
	if !ok || amt.Sign() <= 0 {
		log.Fatalf("amount must be a positive decimal, got %q", *amount)
	}

	switch *mode {
	case "pay":
		runPay(baseURL, *resource, *network, amt, agentKey, *post)
	case "topup":
		runTopup(baseURL, *channelID, *network, amt, agentKey, *post)
	default:
		log.Fatalf("unknown -mode %q, want pay or topup", *mode)
	}
}

func loadOrGenerateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate agent key: %w", err)
		}
		log.Printf("generated agent key: %s", hexKeyString(key))
		return key, nil
	}
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}

func hexKeyString(key *ecdsa.PrivateKey) string {
	return "0x" + fmt.Sprintf("%x", crypto.FromECDSA(key))
}

// shieldedPayloadFixture builds a self-consistent shielded spend payload:
// a synthetic proof and the six canonical public inputs (nullifier, root,
// merchantCommitment, changeCommitment, challengeHash placeholder, amount),
// signed over its canonical JSON encoding the same way a real agent's
// wallet would sign a shielded spend.
func shieldedPayloadFixture(amount *big.Int, agentKey *ecdsa.PrivateKey) (x402wire.ShieldedPaymentPayload, string, error) {
	nullifier := randomWord()
	root := randomWord()
	merchantCommitment := randomWord()
	changeCommitment := randomWord()

	payload := x402wire.ShieldedPaymentPayload{
		Proof:              randomBytes(64),
		PublicInputs:       []string{nullifier.String(), root.String(), merchantCommitment.String(), changeCommitment.String(), "0", amount.String()},
		Nullifier:          nullifier.String(),
		Root:               root.String(),
		MerchantCommitment: merchantCommitment.String(),
		ChangeCommitment:   changeCommitment.String(),
		ChallengeHash:      (cryptox.Word{}).String(),
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return payload, "", fmt.Errorf("marshal payload: %w", err)
	}
	sig, err := cryptox.Sign(cryptox.MessageDigest(payloadJSON), agentKey)
	if err != nil {
		return payload, "", fmt.Errorf("sign payload: %w", err)
	}
	return payload, "0x" + fmt.Sprintf("%x", sig), nil
}

func runPay(baseURL, resource, network string, amount *big.Int, agentKey *ecdsa.PrivateKey, post bool) {
	payload, sig, err := shieldedPayloadFixture(amount, agentKey)
	if err != nil {
		log.Fatalf("build payload: %v", err)
	}

	requirement := x402wire.PaymentRequirement{
		Scheme:  x402wire.SchemeExact,
		Rail:    x402wire.RailShieldedUSDC,
		Network: network,
		Asset:   "usdc",
		PayTo:   resource,
		Amount:  amount.String(),
	}
	body := x402wire.PaymentSignatureBody{
		X402Version:    x402wire.X402Version,
		Accepted:       requirement,
		Payload:        payload,
		ChallengeNonce: (cryptox.Word{}).String(),
		Signature:      sig,
	}
	header, err := x402wire.EncodePaymentSignature(body)
	if err != nil {
		log.Fatalf("encode payment signature: %v", err)
	}

	req := direct.PayRequest{
		MerchantRequest: payout.MerchantRequest{
			URL:    resource,
			Method: http.MethodGet,
		},
		Requirement:            requirement,
		PaymentSignatureHeader: header,
		IdempotencyKey:         randomWord().String(),
	}

	log.Printf("built direct-rail payment for %s, amount %s %s", resource, amount.String(), network)
	fmt.Printf("curl -i %s/v1/relay/pay -H 'Content-Type: application/json' -d %q\n", baseURL, mustJSON(req))

	if post {
		submit(baseURL+"/v1/relay/pay", req)
	}
}

func runTopup(baseURL, channelID, network string, amount *big.Int, agentKey *ecdsa.PrivateKey, post bool) {
	if channelID == "" {
		channelID = randomWord().String()
	}
	payload, sig, err := shieldedPayloadFixture(amount, agentKey)
	if err != nil {
		log.Fatalf("build payload: %v", err)
	}

	body := x402wire.PaymentSignatureBody{
		X402Version:    x402wire.X402Version,
		Accepted:       x402wire.PaymentRequirement{Scheme: x402wire.SchemeExact, Rail: x402wire.RailShieldedUSDC, Network: network, Amount: amount.String()},
		Payload:        payload,
		ChallengeNonce: (cryptox.Word{}).String(),
		Signature:      sig,
	}
	header, err := x402wire.EncodePaymentSignature(body)
	if err != nil {
		log.Fatalf("encode payment signature: %v", err)
	}

	req := credit.TopupRequest{
		RequestID:              randomWord().String(),
		ChannelID:              channelID,
		PaymentSignatureHeader: header,
	}

	log.Printf("built credit-channel topup for channel %s, amount %s %s", channelID, amount.String(), network)
	fmt.Printf("curl -i %s/v1/relay/credit/topup -H 'Content-Type: application/json' -d %q\n", baseURL, mustJSON(req))

	if post {
		submit(baseURL+"/v1/relay/credit/topup", req)
	}
}

func submit(url string, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal request: %v", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("new request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		log.Fatalf("execute request: %v", err)
	}
	defer resp.Body.Close()

	var pretty bytes.Buffer
	if _, err := pretty.ReadFrom(resp.Body); err != nil {
		log.Fatalf("read response: %v", err)
	}
	log.Printf("relayer response: %s", resp.Status)
	fmt.Println(pretty.String())
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		log.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func randomWord() cryptox.Word {
	var w cryptox.Word
	if _, err := rand.Read(w[:]); err != nil {
		log.Fatalf("read random word: %v", err)
	}
	return w
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("read random bytes: %v", err)
	}
	return b
}
