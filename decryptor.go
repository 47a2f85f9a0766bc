// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fhe

import (
	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/luxfi/lattice/v7/ring"
)

// LowConfidenceMargin is the margin below which a decryption is reported as
// having exhausted most of its noise budget.
const LowConfidenceMargin = 0.25

// Measurement is a decrypted bit together with its noise margin.
type Measurement struct {
	Bit bool
	// Margin is 1 for a noiseless ciphertext and 0 when the noise reached
	// the decoding boundary.
	Margin float64
}

// LowConfidence reports whether the margin is below LowConfidenceMargin.
func (m Measurement) LowConfidence() bool {
	return m.Margin < LowConfidenceMargin
}

// Decryptor decrypts FHE ciphertexts to boolean values.
// It is not safe for concurrent use.
type Decryptor struct {
	params    Parameters
	decryptor *rlwe.Decryptor
	ringQ     *ring.Ring
}

// NewDecryptor creates a new decryptor from secret key
func NewDecryptor(params Parameters, sk *SecretKey) *Decryptor {
	return &Decryptor{
		params:    params,
		decryptor: rlwe.NewDecryptor(params.rlwe, sk.SKLWE),
		ringQ:     params.rlwe.RingQ(),
	}
}

// Decrypt decrypts a ciphertext to a boolean
func (dec *Decryptor) Decrypt(ct *Ciphertext) bool {
	return dec.Measure(ct).Bit
}

// DecryptBit returns the decrypted bit as int (0 or 1)
func (dec *Decryptor) DecryptBit(ct *Ciphertext) int {
	if dec.Decrypt(ct) {
		return 1
	}
	return 0
}

// Measure decrypts a ciphertext and reports how far the phase is from the
// value it decodes to.
func (dec *Decryptor) Measure(ct *Ciphertext) Measurement {
	c := dec.phase(ct)
	q := dec.params.Q()
	qHalf := q >> 1
	qEighth := q >> 3

	// Decode:
	// - true was encoded as Q/8, so c in [0, Q/2) means true
	// - false was encoded as 7Q/8, so c in [Q/2, Q) means false
	bit := c < qHalf

	nominal := qEighth
	if !bit {
		nominal = q - qEighth
	}
	var dist uint64
	if c > nominal {
		dist = c - nominal
	} else {
		dist = nominal - c
	}

	margin := 1 - float64(dist)/float64(qEighth)
	if margin < 0 {
		margin = 0
	}

	return Measurement{Bit: bit, Margin: margin}
}

// phase returns the constant coefficient of the decrypted plaintext.
func (dec *Decryptor) phase(ct *Ciphertext) uint64 {
	pt := rlwe.NewPlaintext(dec.params.rlwe, ct.Level())
	dec.decryptor.Decrypt(ct.Ciphertext, pt)

	if pt.IsNTT {
		dec.ringQ.AtLevel(ct.Level()).INTT(pt.Value, pt.Value)
	}

	return pt.Value.Coeffs[0][0]
}
