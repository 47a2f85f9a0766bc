// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package circuit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/require"

	fhe "github.com/luxfi/fhe-sessions"
	"github.com/luxfi/fhe-sessions/session"
)

func testConfig(sessions int, policy Policy) Config {
	cfg := DefaultConfig()
	cfg.Level = fhe.SecurityToy
	cfg.Sessions = sessions
	cfg.Policy = policy
	cfg.Workers = 2
	return cfg
}

func newTestRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	r, err := NewRunner(cfg, WithLogger(log.New(io.Discard, "", 0)))
	require.NoError(t, err)
	return r
}

func TestProgram(t *testing.T) {
	require.NoError(t, SubCircuit.Validate())
	require.Equal(t, []string{PhaseAND, PhaseANDNot}, SubCircuit.Phases())

	for _, tc := range []struct{ a, b bool }{
		{false, false},
		{false, true},
		{true, false},
		{true, true},
	} {
		t.Run(fmt.Sprintf("%v_%v", tc.a, tc.b), func(t *testing.T) {
			wires, err := SubCircuit.Reference([]bool{tc.a, tc.b})
			require.NoError(t, err)
			require.Equal(t, tc.a && tc.b, wires["and"])
			require.Equal(t, !tc.b, wires["notb"])
			require.Equal(t, tc.a && !tc.b, wires["andnot"])
			// (a AND b) OR (a AND NOT b) reduces to a.
			require.Equal(t, tc.a, wires["and"] || wires["andnot"])
		})
	}

	_, err := SubCircuit.Reference([]bool{true})
	require.ErrorIs(t, err, ErrProgram)
}

func TestProgramValidate(t *testing.T) {
	for name, p := range map[string]Program{
		"Undefined": {
			Inputs: []string{"a"},
			Steps:  []Step{{Out: "x", Gate: fhe.GateAND, In: []string{"a", "b"}}},
		},
		"Arity": {
			Inputs: []string{"a"},
			Steps:  []Step{{Out: "x", Gate: fhe.GateNOT, In: []string{"a", "a"}}},
		},
		"Redefined": {
			Inputs: []string{"a"},
			Steps:  []Step{{Out: "a", Gate: fhe.GateNOT, In: []string{"a"}}},
		},
		"Output": {
			Inputs:  []string{"a"},
			Outputs: []string{"y"},
		},
	} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, p.Validate(), ErrProgram)
		})
	}
}

func TestConfig(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	for name, mutate := range map[string]func(*Config){
		"Sessions": func(c *Config) { c.Sessions = 0 },
		"Workers":  func(c *Config) { c.Workers = 0 },
		"Runs":     func(c *Config) { c.Runs = 0 },
		"Inputs":   func(c *Config) { c.Inputs = []bool{true} },
		"Level":    func(c *Config) { c.Level = fhe.SecurityLevel(3) },
		"Policy":   func(c *Config) { c.Policy = Policy(9) },
		"Timeout":  func(c *Config) { c.KeyGenTimeout = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), fhe.ErrConfig)

			_, err := NewRunner(cfg)
			require.ErrorIs(t, err, fhe.ErrConfig)
		})
	}
}

func TestParse(t *testing.T) {
	p, err := ParsePolicy("KeySwitch")
	require.NoError(t, err)
	require.Equal(t, PolicyKeySwitch, p)
	_, err = ParsePolicy("mixed")
	require.ErrorIs(t, err, fhe.ErrConfig)

	in, err := ParseInputs("1, 0")
	require.NoError(t, err)
	require.Equal(t, []bool{true, false}, in)
	_, err = ParseInputs("1,2")
	require.ErrorIs(t, err, fhe.ErrConfig)
}

func TestRunStrict(t *testing.T) {
	r := newTestRunner(t, testConfig(2, PolicyStrict))

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.True(t, rep.OK())
	require.Nil(t, rep.Cross)
	require.Len(t, rep.Results, 2)

	for i, res := range rep.Results {
		require.Equal(t, session.ID(i), res.Session)
		require.True(t, res.Bit)
		require.True(t, res.Expected)
		require.False(t, res.LowConfidence, "session %d margin %f", i, res.Margin)
	}

	for _, label := range []string{PhaseKeyGen, PhaseBTKeyGen, PhaseEncrypt, PhaseAND, PhaseANDNot, PhaseCombine, PhaseDecrypt} {
		_, ok := rep.Timing.Lookup(label)
		require.True(t, ok, label)
	}
	_, ok := rep.Timing.Lookup(PhaseKeySwitch)
	require.False(t, ok)

	var buf bytes.Buffer
	rep.Print(&buf)
	require.Contains(t, buf.String(), "(1 AND 1) OR (1 AND (NOT 1)) = 1")
}

func TestRunKeySwitch(t *testing.T) {
	r := newTestRunner(t, testConfig(2, PolicyKeySwitch))

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rep.Cross)
	require.False(t, rep.Cross.Skipped)
	require.Equal(t, session.ID(1), rep.Cross.From)
	require.Equal(t, session.ID(0), rep.Cross.To)
	require.True(t, rep.Cross.Bit)
	require.True(t, rep.Cross.Expected)

	_, ok := rep.Timing.Lookup(PhaseKeySwitch)
	require.True(t, ok)
}

func TestRunSingleSession(t *testing.T) {
	for _, policy := range []Policy{PolicyStrict, PolicyKeySwitch} {
		t.Run(policy.String(), func(t *testing.T) {
			r := newTestRunner(t, testConfig(1, policy))

			rep, err := r.Run(context.Background())
			require.NoError(t, err)
			require.Len(t, rep.Results, 1)
			require.True(t, rep.Results[0].Bit)

			if policy == PolicyKeySwitch {
				require.NotNil(t, rep.Cross)
				require.True(t, rep.Cross.Skipped)

				var buf bytes.Buffer
				rep.Print(&buf)
				require.Contains(t, buf.String(), "skipped")
			}
		})
	}
}

func TestRunInputs(t *testing.T) {
	for _, in := range [][]bool{{true, false}, {false, true}} {
		t.Run(fmt.Sprint(in), func(t *testing.T) {
			cfg := testConfig(1, PolicyStrict)
			cfg.Inputs = in
			cfg.Verbose = true
			r := newTestRunner(t, cfg)

			rep, err := r.Run(context.Background())
			require.NoError(t, err)
			require.Equal(t, in[0], rep.Results[0].Bit)

			s, ok := rep.Timing.Lookup(PhaseAND)
			require.True(t, ok)
			require.Len(t, s.Samples, 1)
		})
	}
}

func TestRunVerboseLabels(t *testing.T) {
	cfg := testConfig(3, PolicyKeySwitch)
	cfg.Workers = 3
	cfg.Verbose = true
	r := newTestRunner(t, cfg)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	labels := func(phase string) []string {
		s, ok := rep.Timing.Lookup(phase)
		require.True(t, ok, phase)
		out := make([]string, len(s.Samples))
		for i, sub := range s.Samples {
			out[i] = sub.Label
		}
		return out
	}

	want := []string{"session 0", "session 1", "session 2"}
	// KeyGen sub-samples follow goroutine order but name the Session each
	// goroutine created.
	require.ElementsMatch(t, want, labels(PhaseKeyGen))
	for _, phase := range []string{PhaseBTKeyGen, PhaseEncrypt, PhaseAND, PhaseANDNot, PhaseCombine, PhaseDecrypt} {
		require.Equal(t, want, labels(phase), phase)
	}
	require.Equal(t, []string{"session 1 -> session 0"}, labels(PhaseKeySwitch))
}

func TestRunSession(t *testing.T) {
	r := newTestRunner(t, testConfig(1, PolicyStrict))

	run, err := r.RunSession(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, session.ID(7), run.Result.Session)
	require.True(t, run.Result.Bit)

	cts, err := fhe.UnmarshalCiphertexts(r.ec.Parameters(), run.Ciphertext)
	require.NoError(t, err)
	require.Len(t, cts, 1)
}

func TestRunCanceled(t *testing.T) {
	r := newTestRunner(t, testConfig(2, PolicyStrict))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestMismatch(t *testing.T) {
	r := newTestRunner(t, testConfig(2, PolicyKeySwitch))

	rep := &Report{
		Results: []SessionResult{
			{Session: 0, Bit: true, Expected: true},
			{Session: 1, Bit: false, Expected: true},
		},
		Cross: &CrossResult{From: 1, To: 0, Bit: false, Expected: true},
	}
	require.False(t, rep.OK())

	err := r.verify(rep)
	require.ErrorIs(t, err, ErrCorrectness)

	var mm *MismatchError
	require.True(t, errors.As(err, &mm))
	require.Equal(t, []Mismatch{
		{Session: 1, Got: false, Want: true},
		{Session: 0, Cross: true, Got: false, Want: true},
	}, mm.Mismatches)
	require.Contains(t, err.Error(), "session 1: got 0, want 1")
	require.Contains(t, err.Error(), "session 0 (cross)")

	rep.Cross.Skipped = true
	rep.Results[1].Bit = true
	require.NoError(t, r.verify(rep))
}
