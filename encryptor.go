// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fhe

import (
	"fmt"

	"github.com/luxfi/lattice/v7/core/rlwe"
)

// Encryptor encrypts boolean values into FHE ciphertexts.
// It is not safe for concurrent use.
type Encryptor struct {
	params    Parameters
	encryptor *rlwe.Encryptor
}

// NewEncryptor creates a new encryptor from secret key
func NewEncryptor(params Parameters, sk *SecretKey) *Encryptor {
	return &Encryptor{
		params:    params,
		encryptor: rlwe.NewEncryptor(params.rlwe, sk.SKLWE),
	}
}

// Encrypt encrypts a boolean value. Every call draws fresh randomness, so
// equal plaintexts never produce equal ciphertexts.
func (enc *Encryptor) Encrypt(value bool) (*Ciphertext, error) {
	pt := rlwe.NewPlaintext(enc.params.rlwe, enc.params.MaxLevel())

	q := enc.params.Q()
	// Encode with Q/8 scale so sums of two bits stay in distinguishable range:
	// - true  -> +Q/8
	// - false -> -Q/8
	if value {
		pt.Value.Coeffs[0][0] = q / 8
	} else {
		pt.Value.Coeffs[0][0] = q - (q / 8) // = -Q/8 mod Q
	}

	enc.params.rlwe.RingQ().NTT(pt.Value, pt.Value)

	ct := rlwe.NewCiphertext(enc.params.rlwe, 1, enc.params.MaxLevel())
	if err := enc.encryptor.Encrypt(pt, ct); err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	return &Ciphertext{ct}, nil
}

// EncryptBit encrypts 0 or 1; any non-zero value encrypts 1.
func (enc *Encryptor) EncryptBit(bit int) (*Ciphertext, error) {
	return enc.Encrypt(bit != 0)
}
