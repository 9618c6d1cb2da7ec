package x402wire

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	relayerrors "github.com/shielded-relay/relayer/internal/errors"
)

// DecodePaymentRequired decodes a base64-encoded PAYMENT-REQUIRED header into
// a normalized PaymentRequiredBody, transparently adapting the legacy
// requirements[] shape and lower-casing/trimming every hex-bearing field.
func DecodePaymentRequired(header string) (PaymentRequiredBody, error) {
	data, err := decodeBase64(header)
	if err != nil {
		return PaymentRequiredBody{}, err
	}

	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return PaymentRequiredBody{}, relayerrors.New(relayerrors.ErrCodeMalformedEnvelope, "PAYMENT-REQUIRED body is not a JSON object")
	}
	if raw.X402Version != X402Version {
		return PaymentRequiredBody{}, relayerrors.New(relayerrors.ErrCodeUnsupportedVersion, "unsupported x402Version")
	}

	body := PaymentRequiredBody{X402Version: raw.X402Version, Error: raw.Error}
	switch {
	case len(raw.Accepts) > 0:
		if err := json.Unmarshal(raw.Accepts, &body.Accepts); err != nil {
			return PaymentRequiredBody{}, relayerrors.New(relayerrors.ErrCodeMalformedEnvelope, "accepts is not a valid requirement list")
		}
	case len(raw.Requirements) > 0:
		var legacy []PaymentRequirement
		if err := json.Unmarshal(raw.Requirements, &legacy); err != nil {
			return PaymentRequiredBody{}, relayerrors.New(relayerrors.ErrCodeMalformedEnvelope, "requirements is not a valid requirement list")
		}
		body.Accepts = adaptLegacyRequirements(legacy)
	default:
		return PaymentRequiredBody{}, relayerrors.New(relayerrors.ErrCodeMissingField, "PAYMENT-REQUIRED body missing accepts")
	}

	body.Accepts = filterExactScheme(body.Accepts)
	for i := range body.Accepts {
		normalizeRequirement(&body.Accepts[i])
	}
	return body, nil
}

// EncodePaymentRequired serializes body and base64-encodes it for the
// PAYMENT-REQUIRED header.
func EncodePaymentRequired(body PaymentRequiredBody) (string, error) {
	if body.X402Version == 0 {
		body.X402Version = X402Version
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", relayerrors.Wrap(relayerrors.ErrCodeInternal, "marshal PAYMENT-REQUIRED body", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentSignature decodes a base64-encoded PAYMENT-SIGNATURE header
// into a normalized PaymentSignatureBody.
func DecodePaymentSignature(header string) (PaymentSignatureBody, error) {
	data, err := decodeBase64(header)
	if err != nil {
		return PaymentSignatureBody{}, err
	}

	var body PaymentSignatureBody
	if err := json.Unmarshal(data, &body); err != nil {
		return PaymentSignatureBody{}, relayerrors.New(relayerrors.ErrCodeMalformedEnvelope, "PAYMENT-SIGNATURE body is not a JSON object")
	}
	if body.X402Version != X402Version {
		return PaymentSignatureBody{}, relayerrors.New(relayerrors.ErrCodeUnsupportedVersion, "unsupported x402Version")
	}
	if body.Signature == "" {
		return PaymentSignatureBody{}, relayerrors.New(relayerrors.ErrCodeMissingField, "PAYMENT-SIGNATURE body missing signature")
	}
	if body.ChallengeNonce == "" {
		return PaymentSignatureBody{}, relayerrors.New(relayerrors.ErrCodeMissingField, "PAYMENT-SIGNATURE body missing challengeNonce")
	}
	if body.Accepted.Rail != RailShieldedUSDC {
		return PaymentSignatureBody{}, relayerrors.New(relayerrors.ErrCodeUnsupportedRail, "accepted requirement is not the shielded rail")
	}

	normalizeRequirement(&body.Accepted)
	body.ChallengeNonce = strings.ToLower(strings.TrimSpace(body.ChallengeNonce))
	body.Signature = strings.ToLower(strings.TrimSpace(body.Signature))
	normalizePayload(&body.Payload)
	return body, nil
}

// EncodePaymentSignature serializes body and base64-encodes it for the
// PAYMENT-SIGNATURE header.
func EncodePaymentSignature(body PaymentSignatureBody) (string, error) {
	if body.X402Version == 0 {
		body.X402Version = X402Version
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", relayerrors.Wrap(relayerrors.ErrCodeInternal, "marshal PAYMENT-SIGNATURE body", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeBase64(header string) ([]byte, error) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return nil, relayerrors.New(relayerrors.ErrCodeMissingField, "empty payment header")
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(raw)
		if err != nil {
			return nil, relayerrors.Wrap(relayerrors.ErrCodeInvalidBase64, "payment header is not valid base64", err)
		}
	}
	return data, nil
}

func filterExactScheme(reqs []PaymentRequirement) []PaymentRequirement {
	out := reqs[:0]
	for _, r := range reqs {
		if r.Scheme == SchemeExact {
			out = append(out, r)
		}
	}
	return out
}

// normalizeRequirement lower-cases every hex-bearing field and trims string
// fields in place, per spec.md §4.2's normalizer.
func normalizeRequirement(r *PaymentRequirement) {
	r.Scheme = strings.TrimSpace(r.Scheme)
	r.Network = strings.TrimSpace(r.Network)
	r.Asset = strings.ToLower(strings.TrimSpace(r.Asset))
	r.PayTo = strings.ToLower(strings.TrimSpace(r.PayTo))
	r.Amount = strings.TrimSpace(r.Amount)
	r.Rail = strings.TrimSpace(r.Rail)
	r.ChallengeNonce = strings.ToLower(strings.TrimSpace(r.ChallengeNonce))
	r.MerchantPubKey = strings.ToLower(strings.TrimSpace(r.MerchantPubKey))
	r.VerifyingContract = strings.ToLower(strings.TrimSpace(r.VerifyingContract))
	r.Description = strings.TrimSpace(r.Description)
	r.MimeType = strings.TrimSpace(r.MimeType)
}

func normalizePayload(p *ShieldedPaymentPayload) {
	p.Nullifier = strings.ToLower(strings.TrimSpace(p.Nullifier))
	p.Root = strings.ToLower(strings.TrimSpace(p.Root))
	p.MerchantCommitment = strings.ToLower(strings.TrimSpace(p.MerchantCommitment))
	p.ChangeCommitment = strings.ToLower(strings.TrimSpace(p.ChangeCommitment))
	p.ChallengeHash = strings.ToLower(strings.TrimSpace(p.ChallengeHash))
	for i, w := range p.PublicInputs {
		p.PublicInputs[i] = strings.ToLower(strings.TrimSpace(w))
	}
}

// adaptLegacyRequirements remaps a legacy requirements[] body into the
// canonical accepts[] shape. The fields already line up one-to-one; the
// adapter exists so callers never need to know which shape a given merchant
// emits.
func adaptLegacyRequirements(legacy []PaymentRequirement) []PaymentRequirement {
	return legacy
}
