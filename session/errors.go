// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package session

import "errors"

// Key generation failures are fatal to a run.
var (
	ErrKeyGen        = errors.New("session: key generation failed")
	ErrKeyGenTimeout = errors.New("session: key generation deadline exceeded")
)

// Gate evaluation precondition violations. They indicate a sequencing bug,
// never a transient condition. All of them match ErrGateEval.
var (
	ErrGateEval            = errors.New("session: gate evaluation precondition violated")
	ErrSessionMismatch     = gateEvalError("operands belong to different sessions")
	ErrMissingBootstrapKey = gateEvalError("session has no bootstrap key")
	ErrParameterMismatch   = gateEvalError("ciphertext parameters do not match the engine")
)

// gateEvalErr is a precondition violation that also matches ErrGateEval.
type gateEvalErr struct {
	msg string
}

func gateEvalError(msg string) error {
	return &gateEvalErr{msg: msg}
}

func (e *gateEvalErr) Error() string {
	return "session: " + e.msg
}

func (e *gateEvalErr) Is(target error) bool {
	return target == ErrGateEval
}
