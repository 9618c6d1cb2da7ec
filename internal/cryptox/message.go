package cryptox

import "github.com/ethereum/go-ethereum/common"

// MessageDigest hashes raw payload bytes (the canonical JSON encoding of a
// shielded payment payload) with keccak-256. The direct-rail signed payment
// envelope binds the payer address to these bytes via plain ECDSA, not
// EIP-712 typed data — spec.md §3 calls this "signature: ECDSA over
// JSON(payload)" without naming a message prefix, so this module signs and
// recovers over the raw digest. See DESIGN.md's Open Question decisions.
func MessageDigest(payloadJSON []byte) Word {
	return Keccak256(payloadJSON)
}

// RecoverPayer recovers the payer address that produced signature over the
// canonical JSON encoding of a shielded payment payload.
func RecoverPayer(payloadJSON []byte, signature []byte) (common.Address, error) {
	return Recover(MessageDigest(payloadJSON), signature)
}
