package cryptox

import (
	"encoding/binary"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain tags are string constants prefixed to their preimage before
// hashing, so a value computed for one purpose can never collide with a
// value computed for another.
const (
	DomainChallenge  = "shielded-x402:v1:challenge"
	DomainCommitment = "shielded-x402:v1:commitment"
	DomainNullifier  = "shielded-x402:v1:nullifier"
	DomainOutput     = "shielded-x402:v1:output"

	DomainIntent          = "x402:intent:v1"
	DomainAuthorization   = "x402:authorization:v1"
	DomainAuthLeaf        = "x402:authleaf:v1"
	DomainExecutionReport = "x402:execution-report:v1"
	DomainChannel         = "shielded-x402:v1:channel"
	DomainMerchantRequest = "shielded-x402:v1:merchant-request"
	DomainUpstreamTerms   = "shielded-x402:v1:upstream-terms"
)

// Keccak256 hashes the concatenation of its arguments with keccak-256, the
// hash function used everywhere in this package unless stated otherwise.
func Keccak256(parts ...[]byte) Word {
	return WordFromBytes(crypto.Keccak256(parts...))
}

// wordU128 encodes a u128 amount as a left-padded 32-byte big-endian value,
// matching spec.md §3's `word(amount)` convention.
func wordU128(amount *big.Int) []byte {
	b := amount.Bytes()
	out := make([]byte, 32)
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(out[32-len(b):], b)
	return out
}

// Commitment computes commitment(amount, rho, pkHash) = H(DOMAIN_COMMITMENT
// || word(amount) || rho || pkHash).
func Commitment(amount *big.Int, rho, pkHash Word) Word {
	return Keccak256([]byte(DomainCommitment), wordU128(amount), rho[:], pkHash[:])
}

// Nullifier computes nullifier(secret, commitment) = H(DOMAIN_NULLIFIER ||
// secret || commitment).
func Nullifier(secret, commitment Word) Word {
	return Keccak256([]byte(DomainNullifier), secret[:], commitment[:])
}

// ChallengeHash computes challengeHash(nonce, amount, merchant) =
// H(DOMAIN_CHALLENGE || nonce || word(amount) || leftPad20to32(merchant)).
func ChallengeHash(nonce Word, amount *big.Int, merchant common.Address) Word {
	return Keccak256([]byte(DomainChallenge), nonce[:], wordU128(amount), AddressToWord(merchant)[:])
}

// MerchantRequestHash computes merchantRequestHash = H(canonical({url,
// method, challengeUrl})), the binding that ties a debit intent or a
// shielded payload to a specific merchant call so the relayer can never
// settle payment for a different request than the one it forwards.
func MerchantRequestHash(url, method, challengeURL string) Word {
	enc := NewEncoder(DomainMerchantRequest).String(url).String(method).String(challengeURL)
	h, err := enc.Hash()
	if err != nil {
		// Unreachable: String() only fails above the u16 length-prefix
		// bound, which no HTTP URL/method in practice approaches.
		panic(err)
	}
	return h
}

// UpstreamTermsHash computes upstreamTermsHash = H(scheme | network |
// lower(asset) | lower(payTo) | amount), the fingerprint of a merchant's
// original (non-shielded) x402 terms used to detect drift between the
// challenge an agent observed and the one the relayer just refetched.
func UpstreamTermsHash(scheme, network, asset, payTo, amount string) Word {
	preimage := scheme + "|" + network + "|" + strings.ToLower(asset) + "|" + strings.ToLower(payTo) + "|" + amount
	return Keccak256([]byte(DomainUpstreamTerms), []byte(preimage))
}

// ChannelID computes channelId = H(DOMAIN_CHANNEL, chainId,
// verifyingContract, agentAddress, relayerAddress).
func ChannelID(chainID int64, verifyingContract, agentAddress, relayerAddress common.Address) Word {
	var chainWord Word
	binary.BigEndian.PutUint64(chainWord[24:], uint64(chainID))
	return Keccak256(
		[]byte(DomainChannel),
		chainWord[:],
		AddressToWord(verifyingContract)[:],
		AddressToWord(agentAddress)[:],
		AddressToWord(relayerAddress)[:],
	)
}
