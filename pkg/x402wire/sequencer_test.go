package x402wire

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shielded-relay/relayer/internal/cryptox"
)

func TestIntentRecordHashDeterministic(t *testing.T) {
	r := IntentRecord{
		ChannelID:           cryptox.Keccak256([]byte("channel")),
		RequestID:           cryptox.Keccak256([]byte("request")),
		NextSeq:             7,
		Amount:              big.NewInt(1000),
		MerchantRequestHash: cryptox.Keccak256([]byte("merchant-request")),
		PrevStateHash:       cryptox.Keccak256([]byte("prev-state")),
		Deadline:            1999999999,
	}
	h1, err := r.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := r.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatal("hash is not deterministic")
	}

	r2 := r
	r2.NextSeq = 8
	h3, err := r2.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 == h3 {
		t.Fatal("changing nextSeq should change the hash")
	}
}

func TestAuthLeafRecordLeafDistinctByIndex(t *testing.T) {
	authHash := cryptox.Keccak256([]byte("authorization"))
	leaf0 := AuthLeafRecord{AuthorizationHash: authHash, LeafIndex: 0}.Leaf()
	leaf1 := AuthLeafRecord{AuthorizationHash: authHash, LeafIndex: 1}.Leaf()
	if leaf0 == leaf1 {
		t.Fatal("leaves with different indices must not collide")
	}
}

func TestAuthorizationRecordEncode(t *testing.T) {
	r := AuthorizationRecord{
		ChannelID:       cryptox.Keccak256([]byte("channel")),
		Seq:             3,
		Available:       big.NewInt(500),
		CumulativeSpent: big.NewInt(1500),
		LastDebitDigest: cryptox.Keccak256([]byte("debit")),
		UpdatedAt:       1999999999,
		AgentAddress:    common.HexToAddress("0xAAAA000000000000000000000000000000AAAA"),
		RelayerAddress:  common.HexToAddress("0xBBBB000000000000000000000000000000BBBB"),
	}
	enc, err := r.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(enc) == 0 {
		t.Fatal("expected non-empty canonical encoding")
	}
}
