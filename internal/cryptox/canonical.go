package cryptox

import (
	"encoding/binary"
	"fmt"
)

// Encoder builds a canonical, tag-prefixed byte string for the
// credit/sequencer rail: every field is encoded at a fixed width (u8,
// u16-BE length-prefixed strings/bytes, u64-BE integers, 32-byte words) so
// two semantically equal values always produce identical bytes. Any
// out-of-range u8/u16/u64 aborts encoding by recording the first error seen.
type Encoder struct {
	buf []byte
	err error
}

// NewEncoder starts a canonical encoding tagged with domain, one of the
// DomainX constants in hash.go.
func NewEncoder(domain string) *Encoder {
	e := &Encoder{}
	e.buf = append(e.buf, []byte(domain)...)
	return e
}

func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// U8 appends a single byte.
func (e *Encoder) U8(v int) *Encoder {
	if v < 0 || v > 0xff {
		e.fail(fmt.Errorf("u8 value %d out of range", v))
		return e
	}
	e.buf = append(e.buf, byte(v))
	return e
}

// U64 appends a big-endian uint64.
func (e *Encoder) U64(v uint64) *Encoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// Word appends a raw 32-byte word.
func (e *Encoder) Word(w Word) *Encoder {
	e.buf = append(e.buf, w[:]...)
	return e
}

// Bytes appends a u16-BE length prefix followed by the raw bytes.
func (e *Encoder) Bytes(b []byte) *Encoder {
	if len(b) > 0xffff {
		e.fail(fmt.Errorf("byte field length %d exceeds u16 range", len(b)))
		return e
	}
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(b)))
	e.buf = append(e.buf, l[:]...)
	e.buf = append(e.buf, b...)
	return e
}

// String appends a u16-BE length prefix followed by the UTF-8 bytes.
func (e *Encoder) String(s string) *Encoder {
	return e.Bytes([]byte(s))
}

// Finish returns the accumulated canonical byte string, or an error if any
// field was out of range.
func (e *Encoder) Finish() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// Hash finishes the encoding and hashes the result with keccak-256.
func (e *Encoder) Hash() (Word, error) {
	b, err := e.Finish()
	if err != nil {
		return Word{}, err
	}
	return Keccak256(b), nil
}
