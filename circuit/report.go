// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package circuit

import (
	"fmt"
	"io"

	"github.com/markkurossi/tabulate"

	fhe "github.com/luxfi/fhe-sessions"
	"github.com/luxfi/fhe-sessions/internal/timing"
	"github.com/luxfi/fhe-sessions/session"
)

// SessionResult is the verified outcome of one Session.
type SessionResult struct {
	Session       session.ID
	Bit           bool
	Expected      bool
	Margin        float64
	LowConfidence bool
}

// OK reports whether the decrypted bit matches the reference.
func (r SessionResult) OK() bool {
	return r.Bit == r.Expected
}

// CrossResult is the outcome of the cross-session step of PolicyKeySwitch.
type CrossResult struct {
	// Skipped is set when the run had a single Session.
	Skipped       bool
	From, To      session.ID
	Bit           bool
	Expected      bool
	Margin        float64
	LowConfidence bool
}

// Report holds the results and phase timings of one run.
type Report struct {
	Level   fhe.SecurityLevel
	Policy  Policy
	Inputs  []bool
	Results []SessionResult
	Cross   *CrossResult
	Timing  *timing.Timing
}

// Mismatches returns every result that differs from the reference.
func (r *Report) Mismatches() []Mismatch {
	var out []Mismatch
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, Mismatch{Session: res.Session, Got: res.Bit, Want: res.Expected})
		}
	}
	if c := r.Cross; c != nil && !c.Skipped && c.Bit != c.Expected {
		out = append(out, Mismatch{Session: c.To, Cross: true, Got: c.Bit, Want: c.Expected})
	}
	return out
}

// OK reports whether every result matches the reference.
func (r *Report) OK() bool {
	return len(r.Mismatches()) == 0
}

// Expression renders the evaluated expression with the run's inputs.
func (r *Report) Expression() string {
	if len(r.Inputs) != 2 {
		return "?"
	}
	a, b := bit(r.Inputs[0]), bit(r.Inputs[1])
	return fmt.Sprintf("(%d AND %d) OR (%d AND (NOT %d))", a, b, a, b)
}

// Print renders the per-Session results to w.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Security level %s, policy %s, %d sessions\n", r.Level, r.Policy, len(r.Results))

	tab := tabulate.New(tabulate.UnicodeLight)
	tab.Header("Session").SetAlign(tabulate.ML)
	tab.Header("Result").SetAlign(tabulate.MR)
	tab.Header("Expected").SetAlign(tabulate.MR)
	tab.Header("Margin").SetAlign(tabulate.MR)
	tab.Header("").SetAlign(tabulate.ML)

	for _, res := range r.Results {
		row := tab.Row()
		row.Column(fmt.Sprintf("%d", res.Session))
		row.Column(fmt.Sprintf("%d", bit(res.Bit)))
		row.Column(fmt.Sprintf("%d", bit(res.Expected)))
		row.Column(fmt.Sprintf("%.3f", res.Margin))
		row.Column(status(res.OK(), res.LowConfidence))
	}
	if c := r.Cross; c != nil && !c.Skipped {
		row := tab.Row()
		row.Column(fmt.Sprintf("%d<-%d", c.To, c.From)).SetFormat(tabulate.FmtItalic)
		row.Column(fmt.Sprintf("%d", bit(c.Bit)))
		row.Column(fmt.Sprintf("%d", bit(c.Expected)))
		row.Column(fmt.Sprintf("%.3f", c.Margin))
		row.Column(status(c.Bit == c.Expected, c.LowConfidence))
	}
	tab.Print(w)

	if c := r.Cross; c != nil && c.Skipped {
		fmt.Fprintln(w, "Cross-session step skipped: fewer than two sessions")
	}
	if len(r.Results) > 0 {
		fmt.Fprintf(w, "Result of encrypted computation of %s = %d\n", r.Expression(), bit(r.Results[0].Bit))
	}
}

func status(ok, low bool) string {
	switch {
	case !ok:
		return "MISMATCH"
	case low:
		return "low margin"
	}
	return "ok"
}
