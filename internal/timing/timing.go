// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

// Package timing records per-phase durations of a run and renders them.
package timing

import (
	"fmt"
	"io"
	"time"

	"github.com/markkurossi/tabulate"
)

// Timing records consecutive phase samples.
type Timing struct {
	Start   time.Time
	Samples []*Sample
}

// New creates a Timing starting now.
func New() *Timing {
	return &Timing{
		Start: time.Now(),
	}
}

// Sample closes a phase that started at the end of the previous sample.
func (t *Timing) Sample(label string) *Sample {
	start := t.Start
	if len(t.Samples) > 0 {
		start = t.Samples[len(t.Samples)-1].End
	}
	sample := &Sample{
		Label: label,
		Start: start,
		End:   time.Now(),
	}
	t.Samples = append(t.Samples, sample)
	return sample
}

// Total returns the time from Start to the end of the last sample.
func (t *Timing) Total() time.Duration {
	if len(t.Samples) == 0 {
		return 0
	}
	return t.Samples[len(t.Samples)-1].End.Sub(t.Start)
}

// Lookup returns the first sample with the label.
func (t *Timing) Lookup(label string) (*Sample, bool) {
	for _, s := range t.Samples {
		if s.Label == label {
			return s, true
		}
	}
	return nil, false
}

// Micros returns the phase durations in microseconds keyed by label.
func (t *Timing) Micros() map[string]int64 {
	out := make(map[string]int64, len(t.Samples))
	for _, s := range t.Samples {
		out[s.Label] = s.Duration().Microseconds()
	}
	return out
}

// Print renders the samples as a table to w.
func (t *Timing) Print(w io.Writer) {
	if len(t.Samples) == 0 {
		return
	}

	tab := tabulate.New(tabulate.UnicodeLight)
	tab.Header("Phase").SetAlign(tabulate.ML)
	tab.Header("Time").SetAlign(tabulate.MR)
	tab.Header("%").SetAlign(tabulate.MR)

	total := t.Total()
	for _, sample := range t.Samples {
		row := tab.Row()
		row.Column(sample.Label)

		duration := sample.Duration()
		row.Column(Micros(duration))
		row.Column(percent(duration, total))

		for idx, sub := range sample.Samples {
			row := tab.Row()

			var prefix string
			if idx+1 >= len(sample.Samples) {
				prefix = "╰╴"
			} else {
				prefix = "├╴"
			}

			d := sub.Duration()
			row.Column(prefix + sub.Label).SetFormat(tabulate.FmtItalic)
			row.Column(Micros(d)).SetFormat(tabulate.FmtItalic)
			row.Column(percent(d, duration)).SetFormat(tabulate.FmtItalic)
		}
	}
	row := tab.Row()
	row.Column("Total").SetFormat(tabulate.FmtBold)
	row.Column(Micros(total)).SetFormat(tabulate.FmtBold)
	row.Column("").SetFormat(tabulate.FmtBold)

	tab.Print(w)
}

// Sample is one timed phase. Sub-samples break a phase down, for instance
// per Session.
type Sample struct {
	Label   string
	Start   time.Time
	End     time.Time
	Abs     time.Duration
	Samples []*Sample
}

// Duration returns the absolute duration if set, else End - Start.
func (s *Sample) Duration() time.Duration {
	if s.Abs > 0 {
		return s.Abs
	}
	return s.End.Sub(s.Start)
}

// AbsSubSample adds a sub-sample with a measured duration. Parallel work
// inside a phase is recorded this way.
func (s *Sample) AbsSubSample(label string, duration time.Duration) {
	s.Samples = append(s.Samples, &Sample{
		Label: label,
		Abs:   duration,
	})
}

// Micros formats d in whole microseconds.
func Micros(d time.Duration) string {
	return fmt.Sprintf("%dµs", d.Microseconds())
}

func percent(d, total time.Duration) string {
	if total <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", float64(d)/float64(total)*100)
}
