// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fhe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/luxfi/lattice/v7/core/rlwe"
)

// ErrMalformed is returned when serialized data cannot be decoded.
var ErrMalformed = errors.New("fhe: malformed serialized data")

// ========== Ciphertext Serialization ==========

// MarshalBinary serializes a ciphertext to binary format
func (ct *Ciphertext) MarshalBinary() ([]byte, error) {
	if ct == nil || ct.Ciphertext == nil {
		return nil, fmt.Errorf("marshal ciphertext: nil ciphertext")
	}
	return ct.Ciphertext.MarshalBinary()
}

// UnmarshalCiphertext decodes a ciphertext written by MarshalBinary. The
// payload must have exactly the encoded size of a fresh ciphertext of p:
// the lattice decoder does not stop on truncated input.
func (p Parameters) UnmarshalCiphertext(data []byte) (*Ciphertext, error) {
	ct := rlwe.NewCiphertext(p.rlwe, 1, p.MaxLevel())
	if size := ct.BinarySize(); len(data) != size {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes, want %d", ErrMalformed, len(data), size)
	}
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ct.Degree() != 1 || ct.Level() != p.MaxLevel() || ct.Value[0].N() != p.N() {
		return nil, fmt.Errorf("%w: ciphertext has degree %d, level %d, ring degree %d",
			ErrMalformed, ct.Degree(), ct.Level(), ct.Value[0].N())
	}
	return &Ciphertext{ct}, nil
}

// ========== Ciphertext List Serialization ==========

// MarshalCiphertexts serializes a list of ciphertexts, each length-prefixed.
func MarshalCiphertexts(cts []*Ciphertext) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(cts))); err != nil {
		return nil, err
	}

	for i, ct := range cts {
		data, err := ct.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("ciphertext %d: %w", i, err)
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(data))); err != nil {
			return nil, err
		}
		if _, err := buf.Write(data); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// UnmarshalCiphertexts deserializes a list written by MarshalCiphertexts.
func UnmarshalCiphertexts(params Parameters, data []byte) ([]*Ciphertext, error) {
	buf := bytes.NewReader(data)

	var n uint32
	if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: read count: %v", ErrMalformed, err)
	}

	// Every entry carries at least its 4-byte length prefix.
	if int64(n)*4 > int64(buf.Len()) {
		return nil, fmt.Errorf("%w: ciphertext count %d exceeds payload", ErrMalformed, n)
	}

	cts := make([]*Ciphertext, n)
	for i := range cts {
		var size uint32
		if err := binary.Read(buf, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("%w: ciphertext %d: read length: %v", ErrMalformed, i, err)
		}
		if int64(size) > int64(buf.Len()) {
			return nil, fmt.Errorf("%w: ciphertext %d: length %d exceeds payload", ErrMalformed, i, size)
		}

		raw := make([]byte, size)
		if _, err := io.ReadFull(buf, raw); err != nil {
			return nil, fmt.Errorf("%w: ciphertext %d: %v", ErrMalformed, i, err)
		}

		ct, err := params.UnmarshalCiphertext(raw)
		if err != nil {
			return nil, fmt.Errorf("ciphertext %d: %w", i, err)
		}
		cts[i] = ct
	}

	if buf.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, buf.Len())
	}

	return cts, nil
}
