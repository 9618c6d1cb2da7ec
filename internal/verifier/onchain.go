package verifier

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/shielded-relay/relayer/internal/circuitbreaker"
	"github.com/shielded-relay/relayer/internal/cryptox"
	relayerrors "github.com/shielded-relay/relayer/internal/errors"
	"github.com/shielded-relay/relayer/internal/logger"
	"github.com/shielded-relay/relayer/internal/metrics"
	"github.com/shielded-relay/relayer/internal/rpcutil"
)

// OnchainVerifier calls a deployed verifier contract's view functions over
// JSON-RPC: verifyProof(bytes,uint256[]), isNullifierUsed(bytes32),
// isKnownRoot(bytes32). Every call is retried with backoff and guarded by a
// circuit breaker so a failing RPC endpoint degrades this collaborator
// alone.
type OnchainVerifier struct {
	rpcURL   string
	contract common.Address
	network  string
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

// NewOnchainVerifier configures a verifier adapter against a deployed
// contract reachable at rpcURL.
func NewOnchainVerifier(rpcURL string, contract common.Address, network string, breakers *circuitbreaker.Manager) *OnchainVerifier {
	return &OnchainVerifier{
		rpcURL:   rpcURL,
		contract: contract,
		network:  network,
		breakers: breakers,
	}
}

// WithMetrics attaches a metrics collector, mirroring the teacher's
// WithMetrics fluent-configuration idiom.
func (v *OnchainVerifier) WithMetrics(m *metrics.Metrics) *OnchainVerifier {
	v.metrics = m
	return v
}

var (
	bytesType, _      = abi.NewType("bytes", "", nil)
	bytes32Type, _    = abi.NewType("bytes32", "", nil)
	uint256ArrayType, _ = abi.NewType("uint256[]", "", nil)
	boolType, _       = abi.NewType("bool", "", nil)

	verifyProofArgs   = abi.Arguments{{Type: bytesType}, {Type: uint256ArrayType}}
	bytes32Arg        = abi.Arguments{{Type: bytes32Type}}
	boolReturn        = abi.Arguments{{Type: boolType}}
)

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func (v *OnchainVerifier) call(ctx context.Context, method string, data []byte) ([]byte, error) {
	client, err := ethclient.DialContext(ctx, v.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("verifier: dial rpc: %w", err)
	}
	defer client.Close()

	contract := v.contract
	return client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
}

func (v *OnchainVerifier) callBreaker(ctx context.Context, method string, data []byte) ([]byte, error) {
	start := time.Now()
	result, err := v.breakers.Execute(circuitbreaker.ServiceVerifierRPC, func() (interface{}, error) {
		return rpcutil.WithRetry(ctx, func() ([]byte, error) {
			return v.call(ctx, method, data)
		})
	})
	duration := time.Since(start)
	if v.metrics != nil {
		v.metrics.ObserveRPCCall(method, v.network, duration, err)
	}
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("method", method).Msg("verifier.rpc_call_failed")
		return nil, relayerrors.Wrap(relayerrors.ErrCodeVerifierRPCFailure, "verifier rpc call failed", err)
	}
	return result.([]byte), nil
}

// VerifyProof calls verifyProof(bytes,uint256[]) on the verifier contract.
func (v *OnchainVerifier) VerifyProof(ctx context.Context, payload Payload) (bool, error) {
	inputs := make([]*big.Int, len(payload.PublicInputs))
	for i, s := range payload.PublicInputs {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return false, relayerrors.New(relayerrors.ErrCodeInvalidHexWord, "public input is not a decimal integer")
		}
		inputs[i] = n
	}

	packed, err := verifyProofArgs.Pack(payload.Proof, inputs)
	if err != nil {
		return false, fmt.Errorf("verifier: pack verifyProof args: %w", err)
	}
	data := append(selector("verifyProof(bytes,uint256[])"), packed...)

	raw, err := v.callBreaker(ctx, "verifyProof", data)
	if err != nil {
		return false, err
	}
	outcome, err := v.decodeBool(raw)
	if v.metrics != nil {
		if err == nil && outcome {
			v.metrics.ObserveProofVerification("valid")
		} else {
			v.metrics.ObserveProofVerification("invalid")
		}
	}
	return outcome, err
}

// IsNullifierUsed calls isNullifierUsed(bytes32).
func (v *OnchainVerifier) IsNullifierUsed(ctx context.Context, nullifier cryptox.Word) (bool, error) {
	packed, err := bytes32Arg.Pack([32]byte(nullifier))
	if err != nil {
		return false, fmt.Errorf("verifier: pack isNullifierUsed args: %w", err)
	}
	data := append(selector("isNullifierUsed(bytes32)"), packed...)

	raw, err := v.callBreaker(ctx, "isNullifierUsed", data)
	if err != nil {
		return false, err
	}
	used, err := v.decodeBool(raw)
	if v.metrics != nil {
		if err == nil {
			if used {
				v.metrics.ObserveNullifierCheck("used")
			} else {
				v.metrics.ObserveNullifierCheck("unused")
			}
		}
	}
	return used, err
}

// IsKnownRoot calls isKnownRoot(bytes32).
func (v *OnchainVerifier) IsKnownRoot(ctx context.Context, root cryptox.Word) (bool, error) {
	packed, err := bytes32Arg.Pack([32]byte(root))
	if err != nil {
		return false, fmt.Errorf("verifier: pack isKnownRoot args: %w", err)
	}
	data := append(selector("isKnownRoot(bytes32)"), packed...)

	raw, err := v.callBreaker(ctx, "isKnownRoot", data)
	if err != nil {
		return false, err
	}
	return v.decodeBool(raw)
}

// MarkNullifierUsed is a no-op for the on-chain adapter: the settlement
// adapter (C4) marks the nullifier spent as part of its on-chain spend
// transaction, so a separate write here would race the real source of
// truth.
func (v *OnchainVerifier) MarkNullifierUsed(_ context.Context, _ cryptox.Word) error {
	return nil
}

func (v *OnchainVerifier) decodeBool(raw []byte) (bool, error) {
	values, err := boolReturn.Unpack(raw)
	if err != nil {
		return false, fmt.Errorf("verifier: decode bool return: %w", err)
	}
	if len(values) != 1 {
		return false, fmt.Errorf("verifier: unexpected return arity %d", len(values))
	}
	b, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("verifier: unexpected return type %T", values[0])
	}
	return b, nil
}
