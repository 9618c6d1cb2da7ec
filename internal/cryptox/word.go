// Package cryptox implements the relayer's cryptographic primitives: keyed
// domain-tagged hashes, commitment/nullifier/challenge derivations, the
// fixed-depth Merkle tree, canonical byte encoders, and EIP-712 typed-data
// signing/recovery for the credit-channel rail.
package cryptox

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Word is a 32-byte field, rendered on the wire as a lowercase 0x-prefixed
// 64-hex-char string. An address is a 20-byte value left-padded into a Word
// when it travels inside typed data.
type Word [32]byte

// ParseWord decodes a lowercase or mixed-case 0x-prefixed 64-hex-char string
// into a Word. It rejects anything else, matching spec.md §4.2's "invalid
// hex" ProtocolError.
func ParseWord(s string) (Word, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "0x") {
		return Word{}, fmt.Errorf("hex word %q missing 0x prefix", s)
	}
	body := s[2:]
	if len(body) != 64 {
		return Word{}, fmt.Errorf("hex word %q must be 64 hex chars, got %d", s, len(body))
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return Word{}, fmt.Errorf("hex word %q is not valid hex: %w", s, err)
	}
	var w Word
	copy(w[:], raw)
	return w, nil
}

// String renders the Word as a lowercase 0x-prefixed hex string.
func (w Word) String() string {
	return "0x" + hex.EncodeToString(w[:])
}

// IsZero reports whether every byte of the word is zero.
func (w Word) IsZero() bool {
	return w == Word{}
}

// WordFromBytes left-pads (or truncates, taking the low-order bytes, which
// never happens for valid 32-byte hash outputs) b into a Word.
func WordFromBytes(b []byte) Word {
	var w Word
	if len(b) >= 32 {
		copy(w[:], b[len(b)-32:])
		return w
	}
	copy(w[32-len(b):], b)
	return w
}

// AddressToWord left-pads a 20-byte address into a 32-byte Word, the
// convention spec.md §3 uses for addresses inside typed data.
func AddressToWord(addr common.Address) Word {
	var w Word
	copy(w[12:], addr.Bytes())
	return w
}

// ParseAddress decodes a 20-byte hex address, rejecting anything that is not
// exactly 20 bytes once the optional 0x prefix is stripped.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	trimmed := strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(trimmed) != 40 {
		return common.Address{}, fmt.Errorf("address %q must be 20 bytes (40 hex chars)", s)
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return common.Address{}, fmt.Errorf("address %q is not valid hex: %w", s, err)
	}
	var a common.Address
	copy(a[:], raw)
	return a, nil
}
