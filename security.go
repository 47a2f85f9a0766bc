// Package fhe - Security Levels
//
// This file maps named security levels onto the parameter sets of this
// package and builds the process-wide EngineContext from one of them.
//
// # Security Levels
//
// - TOY: fast parameters for tests and demos, no security claim
// - MEDIUM: ring dimension 1024, ~2^27 modulus
// - STD128: 128-bit classical security target
// - STD128Q: 128-bit quantum security target
// - STD192: 192-bit classical security target
// - STD256: 256-bit classical security target
//
// # OpenFHE Compatibility
//
// The names follow OpenFHE's BINFHE_PARAMSET enum. The ring dimensions
// match; the moduli are the nearest NTT-friendly primes, and the LWE
// dimension equals the ring dimension (OpenFHE uses smaller LWE
// dimensions together with an extra key switch).
//
//	Go        C++ (OpenFHE)   Ring dim   Failure Prob
//	----------------------------------------------------
//	STD128    STD128          1024       2^(-55)
//	STD128Q   STD128Q         1024       2^(-50)
//	STD192    STD192          2048       2^(-60)
//	STD256    STD256          2048       2^(-50)
//
// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause
package fhe

import (
	"fmt"
	"strings"
)

// SecurityLevel represents the target security level
type SecurityLevel int

const (
	// SecurityToy provides no meaningful security; used by tests
	SecurityToy SecurityLevel = 1
	// SecurityMedium provides roughly 100-bit security
	SecurityMedium SecurityLevel = 100
	// Security128 provides 128-bit classical security
	Security128 SecurityLevel = 128
	// Security128Q provides 128-bit post-quantum security
	Security128Q SecurityLevel = 1128
	// Security192 provides 192-bit classical security
	Security192 SecurityLevel = 192
	// Security256 provides 256-bit classical security
	Security256 SecurityLevel = 256
)

// SecurityParams defines a named parameter set
type SecurityParams struct {
	// Name is the parameter set identifier
	Name string
	// Security is the target security level
	Security SecurityLevel
	// Literal is the ring specification
	Literal ParametersLiteral
	// FailureProb is the approximate log2 of the gate failure probability
	FailureProb int
}

// Standard security parameter sets
var (
	TOY = SecurityParams{
		Name:        "TOY",
		Security:    SecurityToy,
		Literal:     PN10QP27,
		FailureProb: -40,
	}

	MEDIUM = SecurityParams{
		Name:        "MEDIUM",
		Security:    SecurityMedium,
		Literal:     PN10QP27,
		FailureProb: -40,
	}

	STD128 = SecurityParams{
		Name:        "STD128",
		Security:    Security128,
		Literal:     PN10QP28,
		FailureProb: -55,
	}

	STD128Q = SecurityParams{
		Name:        "STD128Q",
		Security:    Security128Q,
		Literal:     PN10QP27Q,
		FailureProb: -50,
	}

	STD192 = SecurityParams{
		Name:        "STD192",
		Security:    Security192,
		Literal:     PN11QP36,
		FailureProb: -60,
	}

	STD256 = SecurityParams{
		Name:        "STD256",
		Security:    Security256,
		Literal:     PN11QP30,
		FailureProb: -50,
	}
)

// AllSecurityParams returns all available security parameter sets
func AllSecurityParams() []SecurityParams {
	return []SecurityParams{
		TOY,
		MEDIUM,
		STD128,
		STD128Q,
		STD192,
		STD256,
	}
}

// GetSecurityParams returns the SecurityParams for a given level
func GetSecurityParams(level SecurityLevel) (SecurityParams, bool) {
	for _, p := range AllSecurityParams() {
		if p.Security == level {
			return p, true
		}
	}
	return SecurityParams{}, false
}

// ParseSecurityLevel parses a level name such as "STD128" (case insensitive).
func ParseSecurityLevel(name string) (SecurityLevel, error) {
	for _, p := range AllSecurityParams() {
		if strings.EqualFold(p.Name, name) {
			return p.Security, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown security level %q", ErrConfig, name)
}

func (l SecurityLevel) String() string {
	if p, ok := GetSecurityParams(l); ok {
		return p.Name
	}
	return fmt.Sprintf("SecurityLevel(%d)", int(l))
}

// EngineContext is the immutable, process-wide engine configuration. It is
// safe for concurrent use; all key material is created per caller.
type EngineContext struct {
	sp     SecurityParams
	params Parameters
}

// NewEngineContext selects the parameter set for level. It performs no I/O.
func NewEngineContext(level SecurityLevel) (*EngineContext, error) {
	sp, ok := GetSecurityParams(level)
	if !ok {
		return nil, fmt.Errorf("%w: unknown security level %d", ErrConfig, int(level))
	}

	params, err := NewParametersFromLiteral(sp.Literal)
	if err != nil {
		return nil, fmt.Errorf("security level %s: %w", sp.Name, err)
	}

	return &EngineContext{sp: sp, params: params}, nil
}

// Level returns the configured security level.
func (ec *EngineContext) Level() SecurityLevel {
	return ec.sp.Security
}

// SecurityParams returns the named parameter set.
func (ec *EngineContext) SecurityParams() SecurityParams {
	return ec.sp
}

// Parameters returns the ring parameters.
func (ec *EngineContext) Parameters() Parameters {
	return ec.params
}

// NewKeyGenerator returns a key generator owned by the caller.
func (ec *EngineContext) NewKeyGenerator() *KeyGenerator {
	return NewKeyGenerator(ec.params)
}
