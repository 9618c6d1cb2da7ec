package credit

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/shielded-relay/relayer/internal/config"
	"github.com/shielded-relay/relayer/internal/cryptox"
	relayerrors "github.com/shielded-relay/relayer/internal/errors"
	"github.com/shielded-relay/relayer/internal/keyedlock"
	"github.com/shielded-relay/relayer/internal/metrics"
	"github.com/shielded-relay/relayer/internal/payout"
	"github.com/shielded-relay/relayer/internal/settlement"
	"github.com/shielded-relay/relayer/internal/store"
	"github.com/shielded-relay/relayer/internal/verifier"
)

// Processor wires C3 (verifier), C4 (settlement), C5 (payout), and C9 (the
// durable head/settlement store) into the topup/pay/close state machine.
// Work scoped to the same channelId is strictly serial via a
// keyedlock.Registry-backed mutex; distinct channels run fully in parallel.
type Processor struct {
	Verifier         verifier.Verifier
	Settlement       settlement.ChannelSettler
	CreditSettlement settlement.CreditSettler
	Payout           payout.Adapter
	Store            store.Store
	Config           config.RelayerConfig
	Metrics          *metrics.Metrics

	relayerKey     *ecdsa.PrivateKey
	relayerAddress common.Address
	domain         cryptox.TypedDataDomain

	locks *keyedlock.Registry

	cacheMu    sync.Mutex
	topupCache map[string]TopupResponse
	payCache   map[string]PayResponse
}

// New builds a credit-channel processor. relayerPrivateKeyHex signs every
// countersigned CreditState this processor mints; domainName/chainID feed
// the fixed EIP-712 domain spec.md §3 requires.
func New(v verifier.Verifier, s settlement.ChannelSettler, cs settlement.CreditSettler, p payout.Adapter, st store.Store, cfg config.RelayerConfig, relayerPrivateKeyHex, domainName string, chainID int64, verifyingContract common.Address) (*Processor, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(relayerPrivateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("credit: parse relayer private key: %w", err)
	}
	return &Processor{
		Verifier:         v,
		Settlement:       s,
		CreditSettlement: cs,
		Payout:           p,
		Store:            st,
		Config:           cfg,
		relayerKey:       key,
		relayerAddress:   crypto.PubkeyToAddress(key.PublicKey),
		domain: cryptox.TypedDataDomain{
			Name:              domainName,
			Version:           "1",
			ChainID:           big.NewInt(chainID),
			VerifyingContract: verifyingContract,
		},
		locks:      keyedlock.New(),
		topupCache: make(map[string]TopupResponse),
		payCache:   make(map[string]PayResponse),
	}, nil
}

// WithMetrics attaches a metrics collector.
func (p *Processor) WithMetrics(m *metrics.Metrics) *Processor {
	p.Metrics = m
	return p
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// stateFields converts the wire CreditState into the field set its EIP-712
// struct hash is computed over.
func stateFields(s CreditState) (cryptox.CreditStateFields, error) {
	channelID, err := cryptox.ParseWord(s.ChannelID)
	if err != nil {
		return cryptox.CreditStateFields{}, fmt.Errorf("channelId: %w", err)
	}
	available, ok := mustBigInt(s.Available)
	if !ok {
		return cryptox.CreditStateFields{}, fmt.Errorf("available %q is not decimal", s.Available)
	}
	cumulative, ok := mustBigInt(s.CumulativeSpent)
	if !ok {
		return cryptox.CreditStateFields{}, fmt.Errorf("cumulativeSpent %q is not decimal", s.CumulativeSpent)
	}
	lastDigest, err := cryptox.ParseWord(s.LastDebitDigest)
	if err != nil {
		return cryptox.CreditStateFields{}, fmt.Errorf("lastDebitDigest: %w", err)
	}
	agent, err := cryptox.ParseAddress(s.AgentAddress)
	if err != nil {
		return cryptox.CreditStateFields{}, fmt.Errorf("agentAddress: %w", err)
	}
	relayer, err := cryptox.ParseAddress(s.RelayerAddress)
	if err != nil {
		return cryptox.CreditStateFields{}, fmt.Errorf("relayerAddress: %w", err)
	}
	return cryptox.CreditStateFields{
		ChannelID:       channelID,
		Seq:             s.Seq,
		Available:       available,
		CumulativeSpent: cumulative,
		LastDebitDigest: lastDigest,
		UpdatedAt:       s.UpdatedAt,
		AgentAddress:    agent,
		RelayerAddress:  relayer,
	}, nil
}

// stateHash computes the EIP-712 struct hash of a CreditState.
func stateHash(s CreditState) (cryptox.Word, error) {
	fields, err := stateFields(s)
	if err != nil {
		return cryptox.Word{}, err
	}
	return fields.StructHash(), nil
}

// verifySignedState checks that both the agent and the relayer signatures
// recover to the addresses named in the state, returning the state's struct
// hash for head-CAS comparisons.
func (p *Processor) verifySignedState(signed SignedCreditState) (cryptox.Word, error) {
	fields, err := stateFields(signed.State)
	if err != nil {
		return cryptox.Word{}, relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "malformed credit state", err)
	}
	structHash := fields.StructHash()
	digest := cryptox.Digest(p.domain.Separator(), structHash)

	agentSig, err := decodeSignature(signed.AgentSignature)
	if err != nil {
		return cryptox.Word{}, relayerrors.Wrap(relayerrors.ErrCodeInvalidSignature, "malformed agent signature", err)
	}
	agentSigner, err := cryptox.Recover(digest, agentSig)
	if err != nil {
		return cryptox.Word{}, relayerrors.Wrap(relayerrors.ErrCodeSignerNotRecovered, "agent signature not recoverable", err)
	}
	if agentSigner != fields.AgentAddress {
		return cryptox.Word{}, relayerrors.New(relayerrors.ErrCodeSignerMismatch, "agent signature does not match agentAddress")
	}

	relayerSig, err := decodeSignature(signed.RelayerSignature)
	if err != nil {
		return cryptox.Word{}, relayerrors.Wrap(relayerrors.ErrCodeInvalidSignature, "malformed relayer signature", err)
	}
	relayerSigner, err := cryptox.Recover(digest, relayerSig)
	if err != nil {
		return cryptox.Word{}, relayerrors.Wrap(relayerrors.ErrCodeSignerNotRecovered, "relayer signature not recoverable", err)
	}
	if relayerSigner != fields.RelayerAddress {
		return cryptox.Word{}, relayerrors.New(relayerrors.ErrCodeSignerMismatch, "relayer signature does not match relayerAddress")
	}

	return structHash, nil
}

// signState produces the relayer's own EIP-712 signature over state.
func (p *Processor) signState(s CreditState) (string, error) {
	fields, err := stateFields(s)
	if err != nil {
		return "", err
	}
	digest := cryptox.Digest(p.domain.Separator(), fields.StructHash())
	sig, err := cryptox.Sign(digest, p.relayerKey)
	if err != nil {
		return "", err
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// checkHeadCAS asserts an incoming latestState matches the channel's durable
// head exactly, per spec.md §3 invariant 2. If no durable head exists yet,
// latestState must be nil (the channel's first topup seeds it).
func (p *Processor) checkHeadCAS(ctx context.Context, channelID string, latestState *SignedCreditState) (*store.ChannelHead, error) {
	head, err := p.Store.GetHead(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if latestState != nil {
				return nil, relayerrors.New(relayerrors.ErrCodeStaleHead, "channel has no durable head but latestState was supplied")
			}
			return nil, nil
		}
		return nil, relayerrors.Wrap(relayerrors.ErrCodeStore, "read channel head", err)
	}
	if latestState == nil {
		return nil, relayerrors.New(relayerrors.ErrCodeStaleHead, "channel already has a durable head; latestState is required")
	}
	observedHash, err := p.verifySignedState(*latestState)
	if err != nil {
		return nil, err
	}
	if observedHash.String() != head.StateHash {
		return nil, relayerrors.New(relayerrors.ErrCodeStaleHead, "latestState does not match the durable head")
	}
	return &head, nil
}

func headToState(head store.ChannelHead) CreditState {
	return CreditState{
		ChannelID:       head.ChannelID,
		Seq:             head.Seq,
		Available:       head.Available,
		CumulativeSpent: head.CumulativeSpent,
		LastDebitDigest: head.LastDebitDigest,
		UpdatedAt:       head.UpdatedAt,
		AgentAddress:    head.AgentAddress,
		RelayerAddress:  head.RelayerAddress,
	}
}

func stateToHead(s CreditState, agentSig, relayerSig string, stateHash cryptox.Word) store.ChannelHead {
	return store.ChannelHead{
		ChannelID:        s.ChannelID,
		Seq:              s.Seq,
		Available:        s.Available,
		CumulativeSpent:  s.CumulativeSpent,
		LastDebitDigest:  s.LastDebitDigest,
		UpdatedAt:        s.UpdatedAt,
		AgentAddress:     s.AgentAddress,
		RelayerAddress:   s.RelayerAddress,
		AgentSignature:   agentSig,
		RelayerSignature: relayerSig,
		StateHash:        stateHash.String(),
	}
}

func decodeSignature(sigHex string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return nil, err
	}
	if len(raw) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(raw))
	}
	return raw, nil
}

func nowUnix() uint64 {
	return uint64(time.Now().Unix())
}
