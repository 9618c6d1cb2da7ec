package cryptox

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// TypedDataDomain is the fixed EIP-712 domain every signed credit-channel
// structure is bound to: {name, version="1", chainId, verifyingContract}.
type TypedDataDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

var domainTypeHash = crypto.Keccak256Hash([]byte(
	"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
))

// Separator computes the EIP-712 domain separator for d.
func (d TypedDataDomain) Separator() Word {
	enc := make([]byte, 5*32)
	copy(enc[0:32], domainTypeHash.Bytes())
	copy(enc[32:64], crypto.Keccak256([]byte(d.Name)))
	copy(enc[64:96], crypto.Keccak256([]byte(d.Version)))
	copy(enc[96:128], pad32(d.ChainID))
	copy(enc[128:160], AddressToWord(d.VerifyingContract)[:])
	return Keccak256(enc)
}

func pad32(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

var creditStateTypeHash = crypto.Keccak256Hash([]byte(
	"CreditState(bytes32 channelId,uint64 seq,uint128 available,uint128 cumulativeSpent,bytes32 lastDebitDigest,uint64 updatedAt,address agentAddress,address relayerAddress)",
))

// CreditStateFields is the subset of CreditState needed to compute its
// EIP-712 struct hash; kept decoupled from the wire/domain type so this
// package has no import-cycle on the relay packages.
type CreditStateFields struct {
	ChannelID       Word
	Seq             uint64
	Available       *big.Int
	CumulativeSpent *big.Int
	LastDebitDigest Word
	UpdatedAt       uint64
	AgentAddress    common.Address
	RelayerAddress  common.Address
}

// StructHash computes the EIP-712 struct hash of a CreditState.
func (s CreditStateFields) StructHash() Word {
	enc := make([]byte, 9*32)
	copy(enc[0:32], creditStateTypeHash.Bytes())
	copy(enc[32:64], s.ChannelID[:])
	copy(enc[64:96], pad32(new(big.Int).SetUint64(s.Seq)))
	copy(enc[96:128], pad32(s.Available))
	copy(enc[128:160], pad32(s.CumulativeSpent))
	copy(enc[160:192], s.LastDebitDigest[:])
	copy(enc[192:224], pad32(new(big.Int).SetUint64(s.UpdatedAt)))
	copy(enc[224:256], AddressToWord(s.AgentAddress)[:])
	copy(enc[256:288], AddressToWord(s.RelayerAddress)[:])
	return Keccak256(enc)
}

var creditDebitIntentTypeHash = crypto.Keccak256Hash([]byte(
	"CreditDebitIntent(bytes32 channelId,bytes32 requestId,uint64 nextSeq,uint128 amount,bytes32 merchantRequestHash,bytes32 prevStateHash,uint64 deadline)",
))

// CreditDebitIntentFields is the subset of CreditDebitIntent needed to
// compute its EIP-712 struct hash.
type CreditDebitIntentFields struct {
	ChannelID           Word
	RequestID           Word
	NextSeq             uint64
	Amount              *big.Int
	MerchantRequestHash Word
	PrevStateHash       Word
	Deadline            uint64
}

// StructHash computes the EIP-712 struct hash of a CreditDebitIntent.
func (in CreditDebitIntentFields) StructHash() Word {
	enc := make([]byte, 8*32)
	copy(enc[0:32], creditDebitIntentTypeHash.Bytes())
	copy(enc[32:64], in.ChannelID[:])
	copy(enc[64:96], in.RequestID[:])
	copy(enc[96:128], pad32(new(big.Int).SetUint64(in.NextSeq)))
	copy(enc[128:160], pad32(in.Amount))
	copy(enc[160:192], in.MerchantRequestHash[:])
	copy(enc[192:224], in.PrevStateHash[:])
	copy(enc[224:256], pad32(new(big.Int).SetUint64(in.Deadline)))
	return Keccak256(enc)
}

// Digest computes the final EIP-712 digest: keccak256(0x19 0x01 ||
// domainSeparator || structHash).
func Digest(domainSeparator, structHash Word) Word {
	return Keccak256([]byte{0x19, 0x01}, domainSeparator[:], structHash[:])
}

// Sign produces a 65-byte [R || S || V] signature over digest with V
// normalized to 27/28, the form relayer-issued signatures use on the wire.
func Sign(digest Word, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// Recover recovers the signer address from a 65-byte [R || S || V]
// signature over digest, accepting either V convention (0/1 or 27/28).
func Recover(digest Word, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] != 0 && normalized[64] != 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", normalized[64])
	}

	pubBytes, err := crypto.Ecrecover(digest[:], normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("unmarshal recovered pubkey: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
