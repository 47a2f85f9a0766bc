// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package circuit

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	fhe "github.com/luxfi/fhe-sessions"
)

// Policy selects how Session outputs are combined.
type Policy int

const (
	// PolicyStrict combines each Session's two outputs inside that Session.
	PolicyStrict Policy = iota
	// PolicyKeySwitch additionally switches Session 1's AND output to
	// Session 0's key and combines it with Session 0's AND output.
	PolicyKeySwitch
)

func (p Policy) String() string {
	switch p {
	case PolicyStrict:
		return "strict"
	case PolicyKeySwitch:
		return "keyswitch"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy parses "strict" or "keyswitch".
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "strict":
		return PolicyStrict, nil
	case "keyswitch", "key-switch":
		return PolicyKeySwitch, nil
	}
	return 0, fmt.Errorf("%w: unknown policy %q", fhe.ErrConfig, name)
}

// ParseInputs parses a comma separated list of 0/1 bits.
func ParseInputs(s string) ([]bool, error) {
	var out []bool
	for _, f := range strings.Split(s, ",") {
		switch strings.TrimSpace(f) {
		case "0":
			out = append(out, false)
		case "1":
			out = append(out, true)
		default:
			return nil, fmt.Errorf("%w: input %q is not a bit", fhe.ErrConfig, f)
		}
	}
	return out, nil
}

// Config describes a run.
type Config struct {
	Level         fhe.SecurityLevel
	Sessions      int
	Inputs        []bool
	Policy        Policy
	Workers       int
	KeyGenTimeout time.Duration
	Runs          int
	// Verbose adds per-Session sub-samples to the phase timings.
	Verbose bool
}

// DefaultConfig returns ten Sessions at STD256 evaluating inputs (1, 1)
// under the strict policy.
func DefaultConfig() Config {
	return Config{
		Level:    fhe.Security256,
		Sessions: 10,
		Inputs:   []bool{true, true},
		Policy:   PolicyStrict,
		Workers:  runtime.NumCPU(),
		Runs:     1,
	}
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if _, ok := fhe.GetSecurityParams(c.Level); !ok {
		return fmt.Errorf("%w: unknown security level %d", fhe.ErrConfig, int(c.Level))
	}
	if c.Sessions < 1 {
		return fmt.Errorf("%w: sessions must be at least 1, got %d", fhe.ErrConfig, c.Sessions)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", fhe.ErrConfig, c.Workers)
	}
	if c.Runs < 1 {
		return fmt.Errorf("%w: runs must be at least 1, got %d", fhe.ErrConfig, c.Runs)
	}
	if c.KeyGenTimeout < 0 {
		return fmt.Errorf("%w: negative key generation timeout %v", fhe.ErrConfig, c.KeyGenTimeout)
	}
	if len(c.Inputs) != len(SubCircuit.Inputs) {
		return fmt.Errorf("%w: need %d inputs, got %d", fhe.ErrConfig, len(SubCircuit.Inputs), len(c.Inputs))
	}
	switch c.Policy {
	case PolicyStrict, PolicyKeySwitch:
	default:
		return fmt.Errorf("%w: unknown policy %s", fhe.ErrConfig, c.Policy)
	}
	return nil
}
