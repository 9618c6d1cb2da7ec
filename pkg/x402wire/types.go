// Package x402wire implements the wire-level envelopes of the shielded x402
// payment-required retry protocol: the PAYMENT-REQUIRED challenge a merchant
// returns on a 402, and the PAYMENT-SIGNATURE envelope an agent replies with.
// It owns base64/JSON (de)serialization, field normalization, the legacy
// requirements[]-to-accepts[] adapter, and CAIP-2/named-network translation.
// Apart from a requirement's free-form outputSchema and extra objects, it
// never leaks an untyped map past its parse boundary.
package x402wire

import "encoding/json"

// X402Version is the only protocol version this relayer understands.
const X402Version = 2

// SchemeExact is the only payment scheme this relayer accepts; any other
// accepts[] entry is filtered out during normalization.
const SchemeExact = "exact"

// RailShieldedUSDC marks a PaymentRequirement as traveling the shielded rail.
const RailShieldedUSDC = "shielded-usdc"

// PaymentRequirement is one entry of a PAYMENT-REQUIRED envelope's accepts
// list: an x402 "accept record" generalized to carry the shielded rail's
// challenge binding alongside the upstream merchant's original terms.
type PaymentRequirement struct {
	Scheme             string         `json:"scheme"`
	Network            string         `json:"network"`
	Asset              string         `json:"asset"`
	PayTo              string         `json:"payTo"`
	Rail               string         `json:"rail,omitempty"`
	Amount             string         `json:"amount"`
	ChallengeNonce     string         `json:"challengeNonce,omitempty"`
	ChallengeExpiry    int64          `json:"challengeExpiry,omitempty"`
	MerchantPubKey     string         `json:"merchantPubKey,omitempty"`
	VerifyingContract  string         `json:"verifyingContract,omitempty"`
	Description        string         `json:"description,omitempty"`
	MimeType           string         `json:"mimeType,omitempty"`
	OutputSchema       map[string]any `json:"outputSchema,omitempty"`
	Extra              map[string]any `json:"extra,omitempty"`
}

// ShieldedPaymentPayload is the scheme-dependent "payload" object carried
// inside a PAYMENT-SIGNATURE envelope: a ZK spend proof bound to a challenge.
type ShieldedPaymentPayload struct {
	Proof              []byte   `json:"proof"`
	PublicInputs       []string `json:"publicInputs"`
	Nullifier          string   `json:"nullifier"`
	Root               string   `json:"root"`
	MerchantCommitment string   `json:"merchantCommitment"`
	ChangeCommitment   string   `json:"changeCommitment"`
	ChallengeHash      string   `json:"challengeHash"`
	EncryptedReceipt   []byte   `json:"encryptedReceipt,omitempty"`
}

// PaymentRequiredBody is the decoded form of a PAYMENT-REQUIRED header: the
// merchant's (or relayer's, for the shielded rail) set of acceptable terms.
type PaymentRequiredBody struct {
	X402Version int                  `json:"x402Version"`
	Accepts     []PaymentRequirement `json:"accepts"`
	Error       string               `json:"error,omitempty"`
}

// PaymentSignatureBody is the decoded form of a PAYMENT-SIGNATURE header: the
// agent's signed response to a PAYMENT-REQUIRED challenge.
type PaymentSignatureBody struct {
	X402Version    int                    `json:"x402Version"`
	Accepted       PaymentRequirement     `json:"accepted"`
	Payload        ShieldedPaymentPayload `json:"payload"`
	ChallengeNonce string                 `json:"challengeNonce"`
	Signature      string                 `json:"signature"`
}

// legacyPaymentRequiredBody is the shape some upstream merchants still emit,
// carrying requirements instead of accepts. Adapted transparently by
// DecodePaymentRequired via adaptLegacyRequirements.
type legacyPaymentRequiredBody struct {
	X402Version  int                  `json:"x402Version"`
	Requirements []PaymentRequirement `json:"requirements"`
	Error        string               `json:"error,omitempty"`
}

// rawEnvelope is used to detect which of the two accepts/requirements shapes
// a PAYMENT-REQUIRED body uses before committing to one struct.
type rawEnvelope struct {
	X402Version  int             `json:"x402Version"`
	Accepts      json.RawMessage `json:"accepts"`
	Requirements json.RawMessage `json:"requirements"`
	Error        string          `json:"error,omitempty"`
}
