package payout

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	relayerrors "github.com/shielded-relay/relayer/internal/errors"
	"github.com/shielded-relay/relayer/internal/httputil"
	"github.com/shielded-relay/relayer/internal/logger"
	"github.com/shielded-relay/relayer/internal/metrics"
	"github.com/shielded-relay/relayer/pkg/x402wire"
)

// Pre-computed EIP-712 type hashes for EIP-3009 transferWithAuthorization,
// the standard (non-shielded) x402 "exact" scheme's payload shape.
var (
	upstreamDomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	upstreamAuthTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
	))
)

// UpstreamX402Adapter pays the merchant with the relayer's own funds: for
// the upstream requirement it is given, it signs an EIP-3009
// transferWithAuthorization as the payer and sends the merchant request
// once, with that payload as its X-PAYMENT header. Used when the merchant does
// not understand the shielded rail and the relayer is willing to front the
// settled amount itself.
type UpstreamX402Adapter struct {
	client     *http.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	metrics    *metrics.Metrics
}

// NewUpstreamX402Adapter builds an adapter that signs EIP-3009 authorizations
// with privateKeyHex, the same relayer key used for on-chain settlement.
func NewUpstreamX402Adapter(timeout time.Duration, privateKeyHex string) (*UpstreamX402Adapter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("payout: parse upstream-x402 relayer key: %w", err)
	}
	return &UpstreamX402Adapter{
		client:     httputil.NewClient(timeout),
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// WithMetrics attaches a metrics collector.
func (a *UpstreamX402Adapter) WithMetrics(m *metrics.Metrics) *UpstreamX402Adapter {
	a.metrics = m
	return a
}

func (a *UpstreamX402Adapter) PayMerchant(ctx context.Context, settlementID string, req MerchantRequest, requirement x402wire.PaymentRequirement, _ string) (Result, error) {
	start := time.Now()
	result, err := a.pay(ctx, settlementID, req, requirement)
	outcome := "success"
	if err != nil {
		outcome = "error"
	} else if result.Status >= 400 {
		outcome = "rejected"
	}
	if a.metrics != nil {
		a.metrics.ObservePayout("upstream-x402", outcome, time.Since(start))
	}
	return result, err
}

func (a *UpstreamX402Adapter) pay(ctx context.Context, settlementID string, req MerchantRequest, requirement x402wire.PaymentRequirement) (Result, error) {
	name, version := extraString(requirement.Extra, "name"), extraString(requirement.Extra, "version")
	if name == "" {
		name = "USD Coin"
	}
	if version == "" {
		version = "2"
	}

	chainID, err := chainIDFromCAIP2(requirement.Network)
	if err != nil {
		return Result{}, relayerrors.Wrap(relayerrors.ErrCodeMerchantRejected, "upstream requirement has unparseable network", err)
	}

	amount, ok := new(big.Int).SetString(requirement.Amount, 10)
	if !ok {
		return Result{}, relayerrors.New(relayerrors.ErrCodeMerchantRejected, "upstream requirement amount is not decimal")
	}

	asset := common.HexToAddress(requirement.Asset)
	payTo := common.HexToAddress(requirement.PayTo)

	now := time.Now().Unix()
	validAfter := big.NewInt(0)
	validBefore := big.NewInt(now + 300)
	nonce := crypto.Keccak256Hash([]byte(settlementID), []byte("upstream-x402"))

	digest := upstreamEIP712Digest(name, version, chainID, asset, a.address, payTo, amount, validAfter, validBefore, nonce)
	sig, err := crypto.Sign(digest.Bytes(), a.privateKey)
	if err != nil {
		return Result{}, fmt.Errorf("payout: sign upstream authorization: %w", err)
	}
	sig[64] += 27 // ecrecover-compatible v for upstream verifiers expecting 27/28

	payload := fmt.Sprintf(`{"x402Version":%d,"accepted":{"scheme":"exact","network":%q,"asset":%q,"payTo":%q,"amount":%q,"extra":{"name":%q,"version":%q}},"payload":{"signature":%q,"authorization":{"from":%q,"to":%q,"value":%q,"validAfter":%q,"validBefore":%q,"nonce":%q}}}`,
		x402wire.X402Version, requirement.Network, requirement.Asset, requirement.PayTo, requirement.Amount,
		name, version,
		"0x"+hex.EncodeToString(sig),
		a.address.Hex(), payTo.Hex(), amount.String(), validAfter.String(), validBefore.String(), nonce.Hex(),
	)
	encodedPayment := base64.StdEncoding.EncodeToString([]byte(payload))

	body, err := base64.StdEncoding.DecodeString(req.BodyBase64)
	if err != nil {
		return Result{}, relayerrors.Wrap(relayerrors.ErrCodeMalformedEnvelope, "decode merchant request body", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("payout: build merchant request: %w", err)
	}
	httpReq.Header = stripped(req.Headers)
	httpReq.Header.Set(x402wire.HeaderLegacyPayment, encodedPayment)
	httpReq.Header.Set(x402wire.HeaderRequestID, settlementID)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("settlement_id", settlementID).Msg("payout.upstream_x402_failed")
		return Result{}, relayerrors.Wrap(relayerrors.ErrCodeMerchantNetwork, "upstream x402 merchant forward failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Result{}, fmt.Errorf("payout: read merchant response: %w", err)
	}
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return Result{
		Status:          resp.StatusCode,
		Headers:         headers,
		BodyBase64:      base64.StdEncoding.EncodeToString(respBody),
		PayoutReference: settlementID,
	}, nil
}

func extraString(extra map[string]any, key string) string {
	if extra == nil {
		return ""
	}
	v, _ := extra[key].(string)
	return v
}

func chainIDFromCAIP2(network string) (*big.Int, error) {
	parts := strings.SplitN(network, ":", 2)
	if len(parts) != 2 || parts[0] != "eip155" {
		return nil, fmt.Errorf("not a CAIP-2 eip155 network: %q", network)
	}
	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chainId in %q: %w", network, err)
	}
	return big.NewInt(n), nil
}

func pad32(n *big.Int) []byte {
	b := n.Bytes()
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func addrPad(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes())
	return out
}

func upstreamDomainSeparator(name, version string, chainID *big.Int, contract common.Address) common.Hash {
	enc := make([]byte, 5*32)
	copy(enc[0:32], upstreamDomainTypeHash.Bytes())
	copy(enc[32:64], crypto.Keccak256([]byte(name)))
	copy(enc[64:96], crypto.Keccak256([]byte(version)))
	copy(enc[96:128], pad32(chainID))
	copy(enc[128:160], addrPad(contract))
	return crypto.Keccak256Hash(enc)
}

func upstreamAuthHash(from, to common.Address, value, validAfter, validBefore *big.Int, nonce common.Hash) common.Hash {
	enc := make([]byte, 7*32)
	copy(enc[0:32], upstreamAuthTypeHash.Bytes())
	copy(enc[32:64], addrPad(from))
	copy(enc[64:96], addrPad(to))
	copy(enc[96:128], pad32(value))
	copy(enc[128:160], pad32(validAfter))
	copy(enc[160:192], pad32(validBefore))
	copy(enc[192:224], nonce.Bytes())
	return crypto.Keccak256Hash(enc)
}

func upstreamEIP712Digest(name, version string, chainID *big.Int, verifyingContract, from, to common.Address, value, validAfter, validBefore *big.Int, nonce common.Hash) common.Hash {
	ds := upstreamDomainSeparator(name, version, chainID, verifyingContract)
	ah := upstreamAuthHash(from, to, value, validAfter, validBefore, nonce)
	return crypto.Keccak256Hash(append([]byte{0x19, 0x01}, append(ds.Bytes(), ah.Bytes()...)...))
}
