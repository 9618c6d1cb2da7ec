// Package challenge implements C6: the shielded challenge bridge. It
// refetches a merchant's own x402 challenge directly (no payment attached),
// derives the shielded-rail binding hashes, and rewrites the upstream
// requirement into a shielded PaymentRequirement the agent can satisfy with
// a ZK spend proof instead of a plain on-chain transfer.
package challenge

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shielded-relay/relayer/internal/cryptox"
	relayerrors "github.com/shielded-relay/relayer/internal/errors"
	"github.com/shielded-relay/relayer/internal/logger"
	"github.com/shielded-relay/relayer/pkg/x402wire"
)

// MerchantRequest is the agent's would-be call to the merchant: enough to
// refetch the merchant's challenge and, later, to forward the real request.
type MerchantRequest struct {
	URL    string
	Method string
}

// Request is C6's input: the agent's intended merchant call plus, on a
// repeat attempt, the merchant's previously-observed PAYMENT-REQUIRED
// header so the bridge can detect drift.
type Request struct {
	MerchantRequest          MerchantRequest
	MerchantPaymentRequired  string // base64 PAYMENT-REQUIRED, optional
}

// Response is C6's output: a shielded requirement plus the encoded header
// an agent expects back on its own 402.
type Response struct {
	Requirement       x402wire.PaymentRequirement
	PaymentRequiredHeader string
}

// RelayerIdentity carries the values the bridge stamps onto every shielded
// requirement it mints.
type RelayerIdentity struct {
	Network           string
	MerchantPubKey    cryptox.Word
	VerifyingContract common.Address
}

// Bridge refetches merchant challenges and mints shielded requirements bound
// to them.
type Bridge struct {
	client      *http.Client
	identity    RelayerIdentity
	challengeTTL time.Duration
}

// New builds a challenge bridge. challengeTTL is the lifetime of each minted
// challenge; zero or negative selects x402wire.DefaultChallengeTTL.
func New(client *http.Client, identity RelayerIdentity, challengeTTL time.Duration) *Bridge {
	if challengeTTL <= 0 {
		challengeTTL = x402wire.DefaultChallengeTTL
	}
	return &Bridge{client: client, identity: identity, challengeTTL: challengeTTL}
}

// Bridge runs C6's seven steps: refetch, parse, hash upstream terms, check
// drift, mint a fresh nonce/expiry, compute the merchant-request binding,
// and return a shielded requirement.
func (b *Bridge) Bridge(ctx context.Context, req Request) (Response, error) {
	upstream, err := b.refetchChallenge(ctx, req.MerchantRequest)
	if err != nil {
		return Response{}, err
	}

	accept, err := firstAccept(upstream)
	if err != nil {
		return Response{}, err
	}

	upstreamTermsHash := cryptox.UpstreamTermsHash(accept.Scheme, accept.Network, accept.Asset, accept.PayTo, accept.Amount)

	if req.MerchantPaymentRequired != "" {
		priorBody, err := x402wire.DecodePaymentRequired(req.MerchantPaymentRequired)
		if err != nil {
			return Response{}, err
		}
		priorAccept, err := firstAccept(priorBody)
		if err != nil {
			return Response{}, err
		}
		priorHash := cryptox.UpstreamTermsHash(priorAccept.Scheme, priorAccept.Network, priorAccept.Asset, priorAccept.PayTo, priorAccept.Amount)
		if priorHash != upstreamTermsHash {
			return Response{}, relayerrors.New(relayerrors.ErrCodeMerchantChallengeDrift, "merchant challenge mismatch")
		}
	}

	nonce, err := randomWord()
	if err != nil {
		return Response{}, relayerrors.Wrap(relayerrors.ErrCodeInternal, "generate challenge nonce", err)
	}
	expiry := time.Now().Add(b.challengeTTL).Unix()

	merchantRequestHash := cryptox.MerchantRequestHash(req.MerchantRequest.URL, req.MerchantRequest.Method, req.MerchantRequest.URL)

	requirement := x402wire.PaymentRequirement{
		Scheme:            x402wire.SchemeExact,
		Network:           b.identity.Network,
		Asset:             accept.Asset,
		PayTo:             accept.PayTo,
		Rail:              x402wire.RailShieldedUSDC,
		Amount:            accept.Amount,
		ChallengeNonce:    nonce.String(),
		ChallengeExpiry:   expiry,
		MerchantPubKey:    b.identity.MerchantPubKey.String(),
		VerifyingContract: b.identity.VerifyingContract.Hex(),
		Description:       accept.Description,
		MimeType:          accept.MimeType,
		OutputSchema:      accept.OutputSchema,
		Extra: map[string]any{
			"upstreamTermsHash":   upstreamTermsHash.String(),
			"merchantRequestHash": merchantRequestHash.String(),
			"originalRail":        accept.Scheme,
			"originalAsset":       accept.Asset,
			"originalPayTo":       accept.PayTo,
			"originalNetwork":     accept.Network,
		},
	}

	header, err := x402wire.EncodePaymentRequired(x402wire.PaymentRequiredBody{
		X402Version: x402wire.X402Version,
		Accepts:     []x402wire.PaymentRequirement{requirement},
	})
	if err != nil {
		return Response{}, err
	}

	return Response{Requirement: requirement, PaymentRequiredHeader: header}, nil
}

func (b *Bridge) refetchChallenge(ctx context.Context, mr MerchantRequest) (x402wire.PaymentRequiredBody, error) {
	httpReq, err := http.NewRequestWithContext(ctx, mr.Method, mr.URL, nil)
	if err != nil {
		return x402wire.PaymentRequiredBody{}, fmt.Errorf("challenge: build refetch request: %w", err)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("url", mr.URL).Msg("challenge.refetch_failed")
		return x402wire.PaymentRequiredBody{}, relayerrors.Wrap(relayerrors.ErrCodeMerchantNetwork, "refetch merchant challenge failed", err)
	}
	defer resp.Body.Close()

	header := resp.Header.Get(x402wire.HeaderPaymentRequired)
	if header == "" {
		return x402wire.PaymentRequiredBody{}, relayerrors.New(relayerrors.ErrCodeMissingField, "merchant did not return a PAYMENT-REQUIRED challenge")
	}
	return x402wire.DecodePaymentRequired(header)
}

func firstAccept(body x402wire.PaymentRequiredBody) (x402wire.PaymentRequirement, error) {
	if len(body.Accepts) == 0 {
		return x402wire.PaymentRequirement{}, relayerrors.New(relayerrors.ErrCodeMissingField, "merchant challenge has no accepts entries")
	}
	accept := body.Accepts[0]
	if accept.Scheme == "" || accept.Network == "" || accept.Asset == "" || accept.PayTo == "" || accept.Amount == "" {
		return x402wire.PaymentRequirement{}, relayerrors.New(relayerrors.ErrCodeMissingField, "merchant challenge accepts entry missing a mandatory field")
	}
	if _, err := cryptox.ParseAddress(accept.PayTo); err != nil {
		return x402wire.PaymentRequirement{}, relayerrors.Wrap(relayerrors.ErrCodeInvalidHexWord, "merchant payTo is not a 20-byte address", err)
	}
	return accept, nil
}

func randomWord() (cryptox.Word, error) {
	var w cryptox.Word
	if _, err := rand.Read(w[:]); err != nil {
		return cryptox.Word{}, err
	}
	return w, nil
}
