// Package fhe implements the boolean FHE engine used by the session
// orchestrator: key generation, bit encryption, gate bootstrapping and
// decryption over luxfi/lattice primitives.
//
// Every parameter set uses the same ring for the encrypted bits and for the
// blind rotation, so a single secret key serves both and the output of a
// bootstrapped gate is directly a fresh bit ciphertext.
//
// This implementation is built on luxfi/lattice primitives:
//   - LWE encryption for bits
//   - RGSW for bootstrap keys
//   - Blind rotations for programmable bootstrapping
//   - RLWE evaluation keys for switching ciphertexts between secret keys
//
// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause
package fhe

import (
	"errors"
	"fmt"

	"github.com/luxfi/lattice/v7/core/rgsw/blindrot"
	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/luxfi/lattice/v7/ring"
	"github.com/luxfi/lattice/v7/utils"
)

// ErrConfig is returned when a parameter set cannot be instantiated.
var ErrConfig = errors.New("fhe: invalid configuration")

// Parameters defines the FHE parameter set
type Parameters struct {
	// rlwe defines the ring shared by encrypted bits and blind rotation
	rlwe rlwe.Parameters
	// evkParams defines evaluation key decomposition
	evkParams rlwe.EvaluationKeyParameters
}

// ParametersLiteral is a user-friendly parameter specification
type ParametersLiteral struct {
	// LogN is log2 of the ring dimension (typically 10-11)
	LogN int
	// Q is the ciphertext modulus, an NTT-friendly prime (Q = 1 mod 2N)
	Q uint64
	// BaseTwoDecomposition for blind rotation and key switching keys
	BaseTwoDecomposition int
}

// Standard parameter sets
var (
	// PN10QP27 is the fast test set.
	// N=1024, Q=134215681
	PN10QP27 = ParametersLiteral{
		LogN:                 10,
		Q:                    0x7fff801,
		BaseTwoDecomposition: 7,
	}

	// PN10QP28 approximates OpenFHE's STD128 (ring dimension 1024, ~2^28 modulus).
	// Note: Q = 1 (mod 2048)
	PN10QP28 = ParametersLiteral{
		LogN:                 10,
		Q:                    0x10001801,
		BaseTwoDecomposition: 5, // Base 32 (matches OpenFHE)
	}

	// PN10QP27Q approximates OpenFHE's STD128Q (post-quantum).
	// Note: Q = 1 (mod 2048)
	PN10QP27Q = ParametersLiteral{
		LogN:                 10,
		Q:                    0x8007001,
		BaseTwoDecomposition: 5,
	}

	// PN11QP36 approximates OpenFHE's STD192 (ring dimension 2048).
	// Note: Q = 1 (mod 4096)
	PN11QP36 = ParametersLiteral{
		LogN:                 11,
		Q:                    0xfffffd001,
		BaseTwoDecomposition: 9,
	}

	// PN11QP30 approximates OpenFHE's STD256 (ring dimension 2048, ~2^30 modulus).
	// Note: Q = 1 (mod 4096)
	PN11QP30 = ParametersLiteral{
		LogN:                 11,
		Q:                    0x3fff4001,
		BaseTwoDecomposition: 6,
	}
)

// NewParametersFromLiteral creates Parameters from a literal specification
func NewParametersFromLiteral(lit ParametersLiteral) (params Parameters, err error) {
	if lit.BaseTwoDecomposition <= 0 {
		return params, fmt.Errorf("%w: base two decomposition must be positive, got %d", ErrConfig, lit.BaseTwoDecomposition)
	}

	params.rlwe, err = rlwe.NewParametersFromLiteral(rlwe.ParametersLiteral{
		LogN:    lit.LogN,
		Q:       []uint64{lit.Q},
		NTTFlag: true,
	})
	if err != nil {
		return params, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	params.evkParams = rlwe.EvaluationKeyParameters{
		BaseTwoDecomposition: utils.Pointy(lit.BaseTwoDecomposition),
	}

	return
}

// N returns the ring dimension
func (p Parameters) N() int {
	return p.rlwe.N()
}

// Q returns the ciphertext modulus
func (p Parameters) Q() uint64 {
	return p.rlwe.Q()[0]
}

// MaxLevel returns the level of fresh ciphertexts
func (p Parameters) MaxLevel() int {
	return p.rlwe.MaxLevel()
}

// Equal reports whether both parameter sets describe the same ring.
func (p Parameters) Equal(other Parameters) bool {
	return p.N() == other.N() && p.Q() == other.Q()
}

// SecretKey contains the LWE and RLWE secret keys
type SecretKey struct {
	// LWE secret key for encrypting bits
	SKLWE *rlwe.SecretKey
	// RLWE secret key for blind rotation results; the same key as SKLWE
	SKBR *rlwe.SecretKey
}

// BootstrapKey contains the keys needed for bootstrapping
type BootstrapKey struct {
	// BRK is the blind rotation key (RGSW encryptions of LWE secret key bits)
	BRK blindrot.BlindRotationEvaluationKeySet
	// TestPolyAND is the test polynomial for AND gate
	TestPolyAND *ring.Poly
	// TestPolyOR is the test polynomial for OR gate
	TestPolyOR *ring.Poly
	// TestPolyXOR is the test polynomial for XOR gate
	TestPolyXOR *ring.Poly
	// TestPolyNAND is the test polynomial for NAND gate
	TestPolyNAND *ring.Poly
	// TestPolyNOR is the test polynomial for NOR gate
	TestPolyNOR *ring.Poly
	// TestPolyXNOR is the test polynomial for XNOR gate
	TestPolyXNOR *ring.Poly
	// TestPolyID is the test polynomial for identity (refresh)
	TestPolyID *ring.Poly
	// Parameters
	params Parameters
}

// KeySwitchKey re-encrypts ciphertexts from one secret key to another.
type KeySwitchKey struct {
	*rlwe.EvaluationKey
}

// Ciphertext represents an encrypted bit
type Ciphertext struct {
	*rlwe.Ciphertext
}

// KeyGenerator generates FHE keys. It is not safe for concurrent use.
type KeyGenerator struct {
	params  Parameters
	kgen    *rlwe.KeyGenerator
	ringQ   *ring.Ring
	scaleBR float64
}

// NewKeyGenerator creates a new key generator
func NewKeyGenerator(params Parameters) *KeyGenerator {
	return &KeyGenerator{
		params:  params,
		kgen:    rlwe.NewKeyGenerator(params.rlwe),
		ringQ:   params.rlwe.RingQ(),
		scaleBR: float64(params.Q()) / 8.0, // Scale for [-1, 1] -> [-Q/8, Q/8]
	}
}

// GenSecretKey generates a new secret key
func (kg *KeyGenerator) GenSecretKey() *SecretKey {
	sk := kg.kgen.GenSecretKeyNew()
	return &SecretKey{
		SKLWE: sk,
		SKBR:  sk,
	}
}

// GenBootstrapKey generates the bootstrap key from a secret key.
// Each call samples fresh key material.
func (kg *KeyGenerator) GenBootstrapKey(sk *SecretKey) *BootstrapKey {
	brk := blindrot.GenEvaluationKeyNew(kg.params.rlwe, sk.SKBR, kg.params.rlwe, sk.SKLWE, kg.params.evkParams)

	scale := rlwe.NewScale(kg.scaleBR)

	// With Q/8 encoding, the phase of the sum of two bits normalized to
	// [-1, 1) is 0.5 for (T,T), 0 for (T,F) and -0.5 for (F,F).

	// AND: output 1 only when both inputs are 1
	testPolyAND := kg.testPoly(scale, func(x float64) bool { return x >= 0.25 })

	// OR: output 1 when at least one input is 1
	testPolyOR := kg.testPoly(scale, func(x float64) bool { return x > -0.25 })

	// XOR: inputs are doubled first, so (T,T) and (F,F) both land on +-1
	// and only the mixed case stays near 0. 0.30 leaves noise margin.
	testPolyXOR := kg.testPoly(scale, func(x float64) bool { return x > -0.30 && x < 0.30 })

	// NAND: output 0 only when both inputs are 1
	testPolyNAND := kg.testPoly(scale, func(x float64) bool { return x < 0.25 })

	// NOR: output 1 only when both inputs are 0
	testPolyNOR := kg.testPoly(scale, func(x float64) bool { return x <= -0.25 })

	// XNOR: inverse of XOR
	testPolyXNOR := kg.testPoly(scale, func(x float64) bool { return x <= -0.30 || x >= 0.30 })

	// Identity (for refresh): preserve input bit
	testPolyID := kg.testPoly(scale, func(x float64) bool { return x >= 0 })

	return &BootstrapKey{
		BRK:          brk,
		TestPolyAND:  testPolyAND,
		TestPolyOR:   testPolyOR,
		TestPolyXOR:  testPolyXOR,
		TestPolyNAND: testPolyNAND,
		TestPolyNOR:  testPolyNOR,
		TestPolyXNOR: testPolyXNOR,
		TestPolyID:   testPolyID,
		params:       kg.params,
	}
}

// GenKeySwitchKey generates a key that re-encrypts ciphertexts under from
// into ciphertexts under to.
func (kg *KeyGenerator) GenKeySwitchKey(from, to *SecretKey) *KeySwitchKey {
	return &KeySwitchKey{kg.kgen.GenEvaluationKeyNew(from.SKLWE, to.SKLWE, kg.params.evkParams)}
}

// testPoly builds a gate test polynomial mapping the normalized phase to +-1.
func (kg *KeyGenerator) testPoly(scale rlwe.Scale, truth func(x float64) bool) *ring.Poly {
	poly := blindrot.InitTestPolynomial(func(x float64) float64 {
		if truth(x) {
			return 1.0
		}
		return -1.0
	}, scale, kg.ringQ, -1, 1)
	return &poly
}

// Parameters returns the parameter set the bootstrap key was generated for.
func (bsk *BootstrapKey) Parameters() Parameters {
	return bsk.params
}
