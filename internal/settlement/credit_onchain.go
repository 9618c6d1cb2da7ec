package settlement

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/shielded-relay/relayer/internal/circuitbreaker"
	relayerrors "github.com/shielded-relay/relayer/internal/errors"
	"github.com/shielded-relay/relayer/internal/logger"
	"github.com/shielded-relay/relayer/internal/metrics"
	"github.com/shielded-relay/relayer/internal/rpcutil"
)

// OnchainCreditSettler submits a credit channel's lifecycle transitions
// (openOrTopup, startClose, challengeClose, finalizeClose) to the
// credit-channel contract and polls for each transaction's receipt.
type OnchainCreditSettler struct {
	rpcURL         string
	contract       common.Address
	chainID        *big.Int
	privateKey     *ecdsa.PrivateKey
	address        common.Address
	network        string
	confirmTimeout time.Duration
	breakers       *circuitbreaker.Manager
	metrics        *metrics.Metrics
}

// NewOnchainCreditSettler configures a credit-channel settler that signs
// transactions with the relayer's own key.
func NewOnchainCreditSettler(rpcURL string, contract common.Address, chainID int64, privateKeyHex string, network string, confirmTimeout time.Duration, breakers *circuitbreaker.Manager) (*OnchainCreditSettler, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("settlement: parse relayer private key: %w", err)
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 60 * time.Second
	}
	return &OnchainCreditSettler{
		rpcURL:         rpcURL,
		contract:       contract,
		chainID:        big.NewInt(chainID),
		privateKey:     key,
		address:        crypto.PubkeyToAddress(key.PublicKey),
		network:        network,
		confirmTimeout: confirmTimeout,
		breakers:       breakers,
	}, nil
}

// WithMetrics attaches a metrics collector.
func (a *OnchainCreditSettler) WithMetrics(m *metrics.Metrics) *OnchainCreditSettler {
	a.metrics = m
	return a
}

var (
	bytes32Type, _     = abi.NewType("bytes32", "", nil)
	openOrTopupArgs    = abi.Arguments{{Type: bytes32Type}, {Type: bytes32Type}}
	startCloseArgs     = openOrTopupArgs
	challengeCloseArgs = openOrTopupArgs
	finalizeCloseArgs  = abi.Arguments{{Type: bytes32Type}}
)

func (a *OnchainCreditSettler) OpenOrTopup(ctx context.Context, channelID, stateHash [32]byte) (CreditCloseResult, error) {
	packed, err := openOrTopupArgs.Pack(channelID, stateHash)
	if err != nil {
		return CreditCloseResult{}, fmt.Errorf("settlement: pack openOrTopup args: %w", err)
	}
	data := append(selector("openOrTopup(bytes32,bytes32)"), packed...)
	return a.call(ctx, "open_or_topup", data)
}

func (a *OnchainCreditSettler) StartClose(ctx context.Context, channelID, stateHash [32]byte) (CreditCloseResult, error) {
	packed, err := startCloseArgs.Pack(channelID, stateHash)
	if err != nil {
		return CreditCloseResult{}, fmt.Errorf("settlement: pack startClose args: %w", err)
	}
	data := append(selector("startClose(bytes32,bytes32)"), packed...)
	return a.call(ctx, "start_close", data)
}

func (a *OnchainCreditSettler) ChallengeClose(ctx context.Context, channelID, stateHash [32]byte) (CreditCloseResult, error) {
	packed, err := challengeCloseArgs.Pack(channelID, stateHash)
	if err != nil {
		return CreditCloseResult{}, fmt.Errorf("settlement: pack challengeClose args: %w", err)
	}
	data := append(selector("challengeClose(bytes32,bytes32)"), packed...)
	return a.call(ctx, "challenge_close", data)
}

func (a *OnchainCreditSettler) FinalizeClose(ctx context.Context, channelID [32]byte) (CreditCloseResult, error) {
	packed, err := finalizeCloseArgs.Pack(channelID)
	if err != nil {
		return CreditCloseResult{}, fmt.Errorf("settlement: pack finalizeClose args: %w", err)
	}
	data := append(selector("finalizeClose(bytes32)"), packed...)
	return a.call(ctx, "finalize_close", data)
}

// call submits data to the credit-channel contract under the settlement RPC
// circuit breaker and retry policy, the same posture C4's OnchainAdapter
// uses for the shielded pool.
func (a *OnchainCreditSettler) call(ctx context.Context, stage string, data []byte) (CreditCloseResult, error) {
	start := time.Now()
	result, err := a.breakers.Execute(circuitbreaker.ServiceSettlementRPC, func() (interface{}, error) {
		return rpcutil.WithRetry(ctx, func() (CreditCloseResult, error) {
			return a.submitAndConfirm(ctx, data)
		})
	})
	if a.metrics != nil {
		a.metrics.ObserveSettlement(a.network, time.Since(start))
	}
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("stage", stage).Msg("settlement.credit_rpc_call_failed")
		return CreditCloseResult{}, relayerrors.Wrap(relayerrors.ErrCodeSettlementRPCFailure, "credit settlement rpc call failed", err)
	}
	return result.(CreditCloseResult), nil
}

func (a *OnchainCreditSettler) submitAndConfirm(ctx context.Context, data []byte) (CreditCloseResult, error) {
	client, err := ethclient.DialContext(ctx, a.rpcURL)
	if err != nil {
		return CreditCloseResult{}, fmt.Errorf("settlement: dial rpc: %w", err)
	}
	defer client.Close()

	contract := a.contract

	if _, callErr := client.CallContract(ctx, ethereum.CallMsg{From: a.address, To: &contract, Data: data}, nil); callErr != nil {
		if isAlreadySettledRevert(callErr) {
			return CreditCloseResult{AlreadySettled: true}, nil
		}
		return CreditCloseResult{}, fmt.Errorf("settlement: preflight call: %w", callErr)
	}

	nonce, err := client.PendingNonceAt(ctx, a.address)
	if err != nil {
		return CreditCloseResult{}, fmt.Errorf("settlement: pending nonce: %w", err)
	}

	gasLimit := uint64(200_000)
	if est, estErr := client.EstimateGas(ctx, ethereum.CallMsg{From: a.address, To: &contract, Data: data}); estErr == nil {
		gasLimit = est * 12 / 10
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return CreditCloseResult{}, fmt.Errorf("settlement: latest header: %w", err)
	}
	tip := big.NewInt(1e9)
	feeCap := new(big.Int).Add(header.BaseFee, tip)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &contract,
		Value:     new(big.Int),
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.NewLondonSigner(a.chainID), a.privateKey)
	if err != nil {
		return CreditCloseResult{}, fmt.Errorf("settlement: sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return CreditCloseResult{}, fmt.Errorf("settlement: send transaction: %w", err)
	}

	return a.awaitReceipt(ctx, client, signed.Hash())
}

func (a *OnchainCreditSettler) awaitReceipt(ctx context.Context, client *ethclient.Client, txHash common.Hash) (CreditCloseResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, a.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(waitCtx, txHash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return CreditCloseResult{}, fmt.Errorf("settlement: transaction %s reverted", txHash.Hex())
			}
			return CreditCloseResult{TxHash: txHash.Hex()}, nil
		}

		select {
		case <-waitCtx.Done():
			return CreditCloseResult{}, fmt.Errorf("settlement: transaction %s not confirmed within %s: %w", txHash.Hex(), a.confirmTimeout, waitCtx.Err())
		case <-ticker.C:
			continue
		}
	}
}
