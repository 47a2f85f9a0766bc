// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fhe

import (
	"errors"
	"fmt"

	"github.com/luxfi/lattice/v7/core/rgsw/blindrot"
	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/luxfi/lattice/v7/ring"
)

var (
	// ErrUnsupportedGate is returned by EvalGate for kinds it cannot evaluate.
	ErrUnsupportedGate = errors.New("fhe: unsupported gate")
	// ErrNoBootstrapKey is returned by gates that need a bootstrap key the
	// evaluator was not given.
	ErrNoBootstrapKey = errors.New("fhe: no bootstrap key")
)

// GateKind names a boolean gate.
type GateKind uint8

const (
	GateAND GateKind = iota
	GateOR
	GateNAND
	GateNOR
	GateXOR
	GateXNOR
	GateNOT
)

var gateNames = [...]string{
	GateAND:  "AND",
	GateOR:   "OR",
	GateNAND: "NAND",
	GateNOR:  "NOR",
	GateXOR:  "XOR",
	GateXNOR: "XNOR",
	GateNOT:  "NOT",
}

func (k GateKind) String() string {
	if int(k) < len(gateNames) {
		return gateNames[k]
	}
	return fmt.Sprintf("GateKind(%d)", uint8(k))
}

// Arity returns the number of inputs of the gate.
func (k GateKind) Arity() int {
	if k == GateNOT {
		return 1
	}
	return 2
}

// Apply evaluates the gate on plaintext bits.
func (k GateKind) Apply(in ...bool) (bool, error) {
	if len(in) != k.Arity() {
		return false, fmt.Errorf("%w: %s takes %d inputs, got %d", ErrUnsupportedGate, k, k.Arity(), len(in))
	}
	switch k {
	case GateNOT:
		return !in[0], nil
	case GateAND:
		return in[0] && in[1], nil
	case GateOR:
		return in[0] || in[1], nil
	case GateNAND:
		return !(in[0] && in[1]), nil
	case GateNOR:
		return !(in[0] || in[1]), nil
	case GateXOR:
		return in[0] != in[1], nil
	case GateXNOR:
		return in[0] == in[1], nil
	}
	return false, fmt.Errorf("%w: %s", ErrUnsupportedGate, k)
}

// Evaluator evaluates boolean gates on encrypted data.
// SECURITY: This evaluator does NOT require the secret key.
// It is not safe for concurrent use.
type Evaluator struct {
	params Parameters
	eval   *blindrot.Evaluator
	bsk    *BootstrapKey
	ringQ  *ring.Ring

	// Key switching evaluator (sk_i -> sk_j)
	ksEval *rlwe.Evaluator
}

// NewEvaluator creates a new evaluator with bootstrap key.
func NewEvaluator(params Parameters, bsk *BootstrapKey) *Evaluator {
	return &Evaluator{
		params: params,
		eval:   blindrot.NewEvaluator(params.rlwe, params.rlwe),
		bsk:    bsk,
		ringQ:  params.rlwe.RingQ(),
		ksEval: rlwe.NewEvaluator(params.rlwe, nil),
	}
}

// bootstrap performs programmable bootstrapping with the given test polynomial
// and returns a fresh ciphertext with the result.
//
// With a shared ring for bits and blind rotation, the blind rotation output
// is already an encryption of the gate result under the same secret key.
func (eval *Evaluator) bootstrap(ct *Ciphertext, testPoly *ring.Poly) (*Ciphertext, error) {
	if eval.bsk == nil || testPoly == nil {
		return nil, ErrNoBootstrapKey
	}

	testPolyMap := map[int]*ring.Poly{0: testPoly}

	results, err := eval.eval.Evaluate(ct.Ciphertext, testPolyMap, eval.bsk.BRK)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	ctBR, ok := results[0]
	if !ok {
		return nil, fmt.Errorf("bootstrap: no result for slot 0")
	}

	return &Ciphertext{ctBR.CopyNew()}, nil
}

// gateID selects the identity test polynomial.
const gateID GateKind = 0xff

// testPoly returns the test polynomial for kind, or nil without a bootstrap key.
func (eval *Evaluator) testPoly(kind GateKind) *ring.Poly {
	if eval.bsk == nil {
		return nil
	}
	switch kind {
	case GateAND:
		return eval.bsk.TestPolyAND
	case GateOR:
		return eval.bsk.TestPolyOR
	case GateNAND:
		return eval.bsk.TestPolyNAND
	case GateNOR:
		return eval.bsk.TestPolyNOR
	case GateXOR:
		return eval.bsk.TestPolyXOR
	case GateXNOR:
		return eval.bsk.TestPolyXNOR
	case gateID:
		return eval.bsk.TestPolyID
	}
	return nil
}

// addCiphertexts adds two ciphertexts element-wise
func (eval *Evaluator) addCiphertexts(ct1, ct2 *Ciphertext) *Ciphertext {
	result := rlwe.NewCiphertext(eval.params.rlwe, 1, ct1.Level())

	eval.ringQ.Add(ct1.Value[0], ct2.Value[0], result.Value[0])
	eval.ringQ.Add(ct1.Value[1], ct2.Value[1], result.Value[1])

	result.IsNTT = ct1.IsNTT

	return &Ciphertext{result}
}

// doubleCiphertext multiplies a ciphertext by 2 (element-wise addition with itself)
func (eval *Evaluator) doubleCiphertext(ct *Ciphertext) *Ciphertext {
	return eval.addCiphertexts(ct, ct)
}

// negateCiphertext negates a ciphertext
func (eval *Evaluator) negateCiphertext(ct *Ciphertext) *Ciphertext {
	result := rlwe.NewCiphertext(eval.params.rlwe, 1, ct.Level())

	eval.ringQ.Neg(ct.Value[0], result.Value[0])
	eval.ringQ.Neg(ct.Value[1], result.Value[1])

	result.IsNTT = ct.IsNTT

	return &Ciphertext{result}
}

// ========== Boolean Gates ==========

// NOT computes the logical NOT of the input
// NOT(a) = -a (free operation, no bootstrap)
func (eval *Evaluator) NOT(ct *Ciphertext) *Ciphertext {
	return eval.negateCiphertext(ct)
}

// AND computes the logical AND of two inputs
func (eval *Evaluator) AND(ct1, ct2 *Ciphertext) (*Ciphertext, error) {
	sum := eval.addCiphertexts(ct1, ct2)
	return eval.bootstrap(sum, eval.testPoly(GateAND))
}

// OR computes the logical OR of two inputs
func (eval *Evaluator) OR(ct1, ct2 *Ciphertext) (*Ciphertext, error) {
	sum := eval.addCiphertexts(ct1, ct2)
	return eval.bootstrap(sum, eval.testPoly(GateOR))
}

// XOR computes the logical XOR of two inputs
// 2*(ct1 + ct2) with a single bootstrap, as OpenFHE does
func (eval *Evaluator) XOR(ct1, ct2 *Ciphertext) (*Ciphertext, error) {
	doubled := eval.doubleCiphertext(eval.addCiphertexts(ct1, ct2))
	return eval.bootstrap(doubled, eval.testPoly(GateXOR))
}

// NAND computes the logical NAND of two inputs
func (eval *Evaluator) NAND(ct1, ct2 *Ciphertext) (*Ciphertext, error) {
	sum := eval.addCiphertexts(ct1, ct2)
	return eval.bootstrap(sum, eval.testPoly(GateNAND))
}

// NOR computes the logical NOR of two inputs
func (eval *Evaluator) NOR(ct1, ct2 *Ciphertext) (*Ciphertext, error) {
	sum := eval.addCiphertexts(ct1, ct2)
	return eval.bootstrap(sum, eval.testPoly(GateNOR))
}

// XNOR computes the logical XNOR of two inputs
func (eval *Evaluator) XNOR(ct1, ct2 *Ciphertext) (*Ciphertext, error) {
	doubled := eval.doubleCiphertext(eval.addCiphertexts(ct1, ct2))
	return eval.bootstrap(doubled, eval.testPoly(GateXNOR))
}

// EvalGate evaluates a binary gate by kind.
func (eval *Evaluator) EvalGate(kind GateKind, ct1, ct2 *Ciphertext) (*Ciphertext, error) {
	switch kind {
	case GateAND:
		return eval.AND(ct1, ct2)
	case GateOR:
		return eval.OR(ct1, ct2)
	case GateNAND:
		return eval.NAND(ct1, ct2)
	case GateNOR:
		return eval.NOR(ct1, ct2)
	case GateXOR:
		return eval.XOR(ct1, ct2)
	case GateXNOR:
		return eval.XNOR(ct1, ct2)
	}
	return nil, fmt.Errorf("%w: %s is not a binary gate", ErrUnsupportedGate, kind)
}

// Refresh bootstraps a ciphertext to reduce noise
func (eval *Evaluator) Refresh(ct *Ciphertext) (*Ciphertext, error) {
	return eval.bootstrap(ct, eval.testPoly(gateID))
}

// KeySwitch re-encrypts ct under the target key of ksk. The input is not
// modified.
func (eval *Evaluator) KeySwitch(ct *Ciphertext, ksk *KeySwitchKey) (*Ciphertext, error) {
	out := rlwe.NewCiphertext(eval.params.rlwe, 1, ct.Level())
	if err := eval.ksEval.ApplyEvaluationKey(ct.Ciphertext, ksk.EvaluationKey, out); err != nil {
		return nil, fmt.Errorf("key switch: %w", err)
	}
	return &Ciphertext{out}, nil
}
