package x402wire

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shielded-relay/relayer/internal/cryptox"
)

// IntentRecord canonically encodes a CreditDebitIntent for the multi-chain
// credit sequencer's ledger/authorization service wire contract (out of
// scope to implement; this is the shape the relayer emits to it).
type IntentRecord struct {
	ChannelID           cryptox.Word
	RequestID           cryptox.Word
	NextSeq             uint64
	Amount              *big.Int
	MerchantRequestHash cryptox.Word
	PrevStateHash       cryptox.Word
	Deadline            uint64
}

// Encode returns the canonical byte encoding of the intent.
func (r IntentRecord) Encode() ([]byte, error) {
	return cryptox.NewEncoder(cryptox.DomainIntent).
		Word(r.ChannelID).
		Word(r.RequestID).
		U64(r.NextSeq).
		Bytes(r.Amount.Bytes()).
		Word(r.MerchantRequestHash).
		Word(r.PrevStateHash).
		U64(r.Deadline).
		Finish()
}

// Hash returns the domain-tagged hash of the intent's canonical encoding.
func (r IntentRecord) Hash() (cryptox.Word, error) {
	b, err := r.Encode()
	if err != nil {
		return cryptox.Word{}, err
	}
	return cryptox.Keccak256(b), nil
}

// AuthorizationRecord canonically encodes a CreditState authorization for
// the sequencer's ledger service, mirroring CreditStateFields but tagged
// with DomainAuthorization instead of being bound into an EIP-712 struct.
type AuthorizationRecord struct {
	ChannelID       cryptox.Word
	Seq             uint64
	Available       *big.Int
	CumulativeSpent *big.Int
	LastDebitDigest cryptox.Word
	UpdatedAt       uint64
	AgentAddress    common.Address
	RelayerAddress  common.Address
}

// Encode returns the canonical byte encoding of the authorization.
func (r AuthorizationRecord) Encode() ([]byte, error) {
	return cryptox.NewEncoder(cryptox.DomainAuthorization).
		Word(r.ChannelID).
		U64(r.Seq).
		Bytes(r.Available.Bytes()).
		Bytes(r.CumulativeSpent.Bytes()).
		Word(r.LastDebitDigest).
		U64(r.UpdatedAt).
		Word(cryptox.AddressToWord(r.AgentAddress)).
		Word(cryptox.AddressToWord(r.RelayerAddress)).
		Finish()
}

// Hash returns the domain-tagged hash of the authorization's canonical
// encoding; this is the value an AuthLeafRecord commits to the sequencer's
// inclusion tree.
func (r AuthorizationRecord) Hash() (cryptox.Word, error) {
	b, err := r.Encode()
	if err != nil {
		return cryptox.Word{}, err
	}
	return cryptox.Keccak256(b), nil
}

// AuthLeafRecord is one leaf of the sequencer's depth-32 inclusion tree:
// an authorization hash bound to the slot the sequencer assigned it.
type AuthLeafRecord struct {
	AuthorizationHash cryptox.Word
	LeafIndex         uint32
}

// Leaf returns the tree leaf value for this record. Word and U64 fields
// never fail to encode, so the error from Hash is always nil here.
func (r AuthLeafRecord) Leaf() cryptox.Word {
	w, _ := cryptox.NewEncoder(cryptox.DomainAuthLeaf).
		Word(r.AuthorizationHash).
		U64(uint64(r.LeafIndex)).
		Hash()
	return w
}

// ExecutionReportRecord canonically encodes the sequencer's report that a
// debit intent executed, acknowledging the settlement that backs it.
type ExecutionReportRecord struct {
	ChannelID        cryptox.Word
	RequestID        cryptox.Word
	SettlementTxHash cryptox.Word
	Status           string
	Timestamp        uint64
}

// Encode returns the canonical byte encoding of the execution report.
func (r ExecutionReportRecord) Encode() ([]byte, error) {
	return cryptox.NewEncoder(cryptox.DomainExecutionReport).
		Word(r.ChannelID).
		Word(r.RequestID).
		Word(r.SettlementTxHash).
		String(r.Status).
		U64(r.Timestamp).
		Finish()
}

// Hash returns the domain-tagged hash of the execution report's canonical
// encoding.
func (r ExecutionReportRecord) Hash() (cryptox.Word, error) {
	b, err := r.Encode()
	if err != nil {
		return cryptox.Word{}, err
	}
	return cryptox.Keccak256(b), nil
}
