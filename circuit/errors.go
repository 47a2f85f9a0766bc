// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package circuit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/luxfi/fhe-sessions/session"
)

// ErrCorrectness is matched by every MismatchError.
var ErrCorrectness = errors.New("circuit: decrypted result differs from reference")

// Mismatch is one decrypted bit that differs from its reference value.
type Mismatch struct {
	Session session.ID
	// Cross marks the cross-session result decrypted under Session.
	Cross bool
	Got   bool
	Want  bool
}

func (m Mismatch) String() string {
	name := fmt.Sprintf("session %d", m.Session)
	if m.Cross {
		name += " (cross)"
	}
	return fmt.Sprintf("%s: got %d, want %d", name, bit(m.Got), bit(m.Want))
}

// MismatchError lists every result that failed verification.
type MismatchError struct {
	Mismatches []Mismatch
}

func (e *MismatchError) Error() string {
	parts := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		parts[i] = m.String()
	}
	return fmt.Sprintf("%v: %s", ErrCorrectness, strings.Join(parts, "; "))
}

func (e *MismatchError) Unwrap() error {
	return ErrCorrectness
}

func bit(b bool) int {
	if b {
		return 1
	}
	return 0
}
