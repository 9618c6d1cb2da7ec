package settlement

import (
	"context"
	"testing"

	"github.com/shielded-relay/relayer/internal/cryptox"
	"github.com/shielded-relay/relayer/internal/verifier"
)

func TestStubAdapterSettlesOnce(t *testing.T) {
	a := NewStubAdapter("eip155:84532")
	ctx := context.Background()
	payload := verifier.Payload{Nullifier: cryptox.Keccak256([]byte("nullifier-1"))}

	result, err := a.SettleOnchain(ctx, payload)
	if err != nil {
		t.Fatalf("SettleOnchain: %v", err)
	}
	if result.AlreadySettled {
		t.Fatal("expected first settlement to succeed, not alreadySettled")
	}
	if result.TxHash == "" {
		t.Fatal("expected a tx hash")
	}
	if result.MerchantLeafIndex == result.ChangeLeafIndex {
		t.Fatalf("expected distinct leaf indices, got %d == %d", result.MerchantLeafIndex, result.ChangeLeafIndex)
	}
}

func TestStubAdapterReportsAlreadySettled(t *testing.T) {
	a := NewStubAdapter("eip155:84532")
	ctx := context.Background()
	payload := verifier.Payload{Nullifier: cryptox.Keccak256([]byte("nullifier-2"))}

	first, err := a.SettleOnchain(ctx, payload)
	if err != nil {
		t.Fatalf("first SettleOnchain: %v", err)
	}

	second, err := a.SettleOnchain(ctx, payload)
	if err != nil {
		t.Fatalf("second SettleOnchain: %v", err)
	}
	if !second.AlreadySettled {
		t.Fatal("expected second settlement of the same nullifier to report alreadySettled")
	}
	if second.TxHash != first.TxHash {
		t.Fatalf("expected replayed tx hash %q, got %q", first.TxHash, second.TxHash)
	}
}
