// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

// Package session manages independent FHE key contexts. A Session owns one
// secret key and the bootstrap key-set derived from it; ciphertexts are
// tagged with the Session that produced them and gates refuse operands
// from other Sessions.
package session

import (
	"fmt"
	"sync"

	fhe "github.com/luxfi/fhe-sessions"
)

// ID identifies a Session within a Manager.
type ID int

// Ciphertext is an encrypted bit tagged with the Session whose key it is
// encrypted under. It is immutable.
type Ciphertext struct {
	owner ID
	ct    *fhe.Ciphertext
}

// Owner returns the Session the ciphertext belongs to.
func (c *Ciphertext) Owner() ID {
	return c.owner
}

// Raw returns the untagged engine ciphertext, for serialization.
func (c *Ciphertext) Raw() *fhe.Ciphertext {
	return c.ct
}

// Session is an isolated key context. Its keys are write-once: the secret
// key is set at creation and the bootstrap key-set at most once after.
type Session struct {
	id     ID
	params fhe.Parameters

	sk *fhe.SecretKey

	// mu guards bsk and the engine objects, which keep internal buffers.
	mu   sync.Mutex
	bsk  *fhe.BootstrapKey
	enc  *fhe.Encryptor
	dec  *fhe.Decryptor
	eval *fhe.Evaluator
}

func newSession(id ID, params fhe.Parameters, sk *fhe.SecretKey) *Session {
	return &Session{
		id:     id,
		params: params,
		sk:     sk,
		enc:    fhe.NewEncryptor(params, sk),
		dec:    fhe.NewDecryptor(params, sk),
	}
}

// ID returns the Session id.
func (s *Session) ID() ID {
	return s.id
}

func (s *Session) String() string {
	return fmt.Sprintf("session %d", s.id)
}

// HasBootstrapKey reports whether gates can be evaluated in the Session.
func (s *Session) HasBootstrapKey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bsk != nil
}

func (s *Session) setBootstrapKey(bsk *fhe.BootstrapKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bsk != nil {
		return fmt.Errorf("%w: %s already has a bootstrap key", ErrKeyGen, s)
	}
	s.bsk = bsk
	s.eval = fhe.NewEvaluator(s.params, bsk)
	return nil
}

// Encrypt encrypts a bit under the Session's secret key. It does not need
// the bootstrap key-set.
func (s *Session) Encrypt(bit bool) (*Ciphertext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ct, err := s.enc.Encrypt(bit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s, err)
	}
	return &Ciphertext{owner: s.id, ct: ct}, nil
}

// Decrypt decrypts a ciphertext of this Session and reports its noise margin.
func (s *Session) Decrypt(ct *Ciphertext) (fhe.Measurement, error) {
	if err := s.checkOperands("decrypt", ct); err != nil {
		return fhe.Measurement{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dec.Measure(ct.ct), nil
}

// EvalGate evaluates a binary gate on two ciphertexts of this Session.
func (s *Session) EvalGate(kind fhe.GateKind, a, b *Ciphertext) (*Ciphertext, error) {
	if kind.Arity() != 2 {
		return nil, fmt.Errorf("%s: %w: %s", s, fhe.ErrUnsupportedGate, kind)
	}
	if err := s.checkGate(kind, a, b); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.eval.EvalGate(kind, a.ct, b.ct)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", s, kind, err)
	}
	return &Ciphertext{owner: s.id, ct: out}, nil
}

// EvalNot negates a ciphertext of this Session. The result stays in the
// Session.
func (s *Session) EvalNot(a *Ciphertext) (*Ciphertext, error) {
	if err := s.checkGate(fhe.GateNOT, a); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return &Ciphertext{owner: s.id, ct: s.eval.NOT(a.ct)}, nil
}

// Eval evaluates kind on one or two operands depending on its arity.
func (s *Session) Eval(kind fhe.GateKind, in ...*Ciphertext) (*Ciphertext, error) {
	if len(in) != kind.Arity() {
		return nil, fmt.Errorf("%s: %w: %s takes %d inputs, got %d", s, fhe.ErrUnsupportedGate, kind, kind.Arity(), len(in))
	}
	if kind == fhe.GateNOT {
		return s.EvalNot(in[0])
	}
	return s.EvalGate(kind, in[0], in[1])
}

func (s *Session) checkGate(kind fhe.GateKind, in ...*Ciphertext) error {
	if !s.HasBootstrapKey() {
		return fmt.Errorf("%w: %s: %s", ErrMissingBootstrapKey, s, kind)
	}
	return s.checkOperands(kind.String(), in...)
}

// checkOperands verifies that every operand is a well-formed ciphertext of
// this Session.
func (s *Session) checkOperands(op string, in ...*Ciphertext) error {
	for i, c := range in {
		if c == nil || c.ct == nil || c.ct.Ciphertext == nil {
			return fmt.Errorf("%w: %s: %s operand %d is nil", ErrParameterMismatch, s, op, i)
		}
		if c.owner != s.id {
			return fmt.Errorf("%w: %s: %s operand %d belongs to session %d", ErrSessionMismatch, s, op, i, c.owner)
		}
		ct := c.ct
		if ct.Degree() != 1 || ct.Level() != s.params.MaxLevel() || ct.Value[0].N() != s.params.N() {
			return fmt.Errorf("%w: %s: %s operand %d has degree %d, level %d, ring degree %d",
				ErrParameterMismatch, s, op, i, ct.Degree(), ct.Level(), ct.Value[0].N())
		}
	}
	return nil
}
