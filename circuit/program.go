// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

// Package circuit runs a fixed boolean program over many independent FHE
// Sessions and verifies the decrypted results against a plaintext
// reference evaluation of the same program.
package circuit

import (
	"errors"
	"fmt"

	fhe "github.com/luxfi/fhe-sessions"
	"github.com/luxfi/fhe-sessions/session"
)

// ErrProgram is returned for malformed programs and input vectors.
var ErrProgram = errors.New("circuit: invalid program")

// Step assigns Gate(In...) to the wire Out. Steps sharing a Phase are
// timed together.
type Step struct {
	Out   string
	Gate  fhe.GateKind
	In    []string
	Phase string
}

// Program is a straight-line boolean program over named wires.
type Program struct {
	Inputs  []string
	Steps   []Step
	Outputs []string
}

// SubCircuit is the per-Session program: and = a AND b, and
// andnot = (NOT b) AND a. Its two outputs are combined with OR.
var SubCircuit = Program{
	Inputs: []string{"a", "b"},
	Steps: []Step{
		{Out: "and", Gate: fhe.GateAND, In: []string{"a", "b"}, Phase: PhaseAND},
		{Out: "notb", Gate: fhe.GateNOT, In: []string{"b"}, Phase: PhaseANDNot},
		{Out: "andnot", Gate: fhe.GateAND, In: []string{"notb", "a"}, Phase: PhaseANDNot},
	},
	Outputs: []string{"and", "andnot"},
}

// Validate checks that every wire is defined once before it is read and
// that gate arities match.
func (p Program) Validate() error {
	defined := make(map[string]bool, len(p.Inputs)+len(p.Steps))
	for _, in := range p.Inputs {
		if defined[in] {
			return fmt.Errorf("%w: input %q defined twice", ErrProgram, in)
		}
		defined[in] = true
	}
	for i, st := range p.Steps {
		if len(st.In) != st.Gate.Arity() {
			return fmt.Errorf("%w: step %d: %s takes %d inputs, got %d", ErrProgram, i, st.Gate, st.Gate.Arity(), len(st.In))
		}
		for _, in := range st.In {
			if !defined[in] {
				return fmt.Errorf("%w: step %d reads undefined wire %q", ErrProgram, i, in)
			}
		}
		if defined[st.Out] {
			return fmt.Errorf("%w: step %d redefines wire %q", ErrProgram, i, st.Out)
		}
		defined[st.Out] = true
	}
	for _, out := range p.Outputs {
		if !defined[out] {
			return fmt.Errorf("%w: output %q is never assigned", ErrProgram, out)
		}
	}
	return nil
}

// Phases returns the distinct step phases in program order.
func (p Program) Phases() []string {
	var phases []string
	seen := make(map[string]bool)
	for _, st := range p.Steps {
		if !seen[st.Phase] {
			seen[st.Phase] = true
			phases = append(phases, st.Phase)
		}
	}
	return phases
}

// Reference evaluates the program on plaintext bits and returns every wire.
func (p Program) Reference(inputs []bool) (map[string]bool, error) {
	if len(inputs) != len(p.Inputs) {
		return nil, fmt.Errorf("%w: %d inputs for %d input wires", ErrProgram, len(inputs), len(p.Inputs))
	}

	wires := make(map[string]bool, len(p.Inputs)+len(p.Steps))
	for i, name := range p.Inputs {
		wires[name] = inputs[i]
	}
	for _, st := range p.Steps {
		in := make([]bool, len(st.In))
		for i, name := range st.In {
			in[i] = wires[name]
		}
		v, err := st.Gate.Apply(in...)
		if err != nil {
			return nil, err
		}
		wires[st.Out] = v
	}
	return wires, nil
}

// evalPhase evaluates the steps of one phase inside a Session, reading and
// writing wires.
func (p Program) evalPhase(s *session.Session, phase string, wires map[string]*session.Ciphertext) error {
	for _, st := range p.Steps {
		if st.Phase != phase {
			continue
		}
		in := make([]*session.Ciphertext, len(st.In))
		for i, name := range st.In {
			in[i] = wires[name]
		}
		out, err := s.Eval(st.Gate, in...)
		if err != nil {
			return fmt.Errorf("%s = %s%v: %w", st.Out, st.Gate, st.In, err)
		}
		wires[st.Out] = out
	}
	return nil
}
