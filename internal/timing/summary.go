// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package timing

import (
	"fmt"
	"io"

	"github.com/markkurossi/tabulate"
	"github.com/montanaflynn/stats"
)

// Summary aggregates the phases of several runs.
type Summary struct {
	labels []string
	values map[string]stats.Float64Data
}

// NewSummary creates an empty Summary.
func NewSummary() *Summary {
	return &Summary{
		values: make(map[string]stats.Float64Data),
	}
}

// Add records the phase durations of one run, in microseconds.
func (s *Summary) Add(t *Timing) {
	for _, sample := range t.Samples {
		s.Record(sample.Label, sample.Duration().Microseconds())
	}
	s.Record("Total", t.Total().Microseconds())
}

// Record adds one observation of label, in microseconds.
func (s *Summary) Record(label string, us int64) {
	if _, ok := s.values[label]; !ok {
		s.labels = append(s.labels, label)
	}
	s.values[label] = append(s.values[label], float64(us))
}

// Runs returns the number of runs recorded for label.
func (s *Summary) Runs(label string) int {
	return len(s.values[label])
}

// PhaseStats holds the statistics of one phase, in microseconds.
type PhaseStats struct {
	Label  string
	Runs   int
	Mean   float64
	Median float64
	Stddev float64
	P95    float64
}

// Stats returns the statistics of every phase in first-seen order.
func (s *Summary) Stats() ([]PhaseStats, error) {
	out := make([]PhaseStats, 0, len(s.labels))
	for _, label := range s.labels {
		data := s.values[label]

		mean, err := data.Mean()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}
		median, err := data.Median()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}
		stddev, err := data.StandardDeviation()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}
		p95, err := data.Percentile(95)
		if err != nil {
			// Too few runs for the percentile.
			p95, err = data.Max()
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}

		out = append(out, PhaseStats{
			Label:  label,
			Runs:   len(data),
			Mean:   mean,
			Median: median,
			Stddev: stddev,
			P95:    p95,
		})
	}
	return out, nil
}

// Print renders the statistics as a table to w.
func (s *Summary) Print(w io.Writer) error {
	rows, err := s.Stats()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tab := tabulate.New(tabulate.UnicodeLight)
	tab.Header("Phase").SetAlign(tabulate.ML)
	for _, h := range []string{"Runs", "Mean", "Median", "Stddev", "P95"} {
		tab.Header(h).SetAlign(tabulate.MR)
	}

	for _, r := range rows {
		row := tab.Row()
		row.Column(r.Label)
		row.Column(fmt.Sprintf("%d", r.Runs))
		row.Column(fmt.Sprintf("%.0fµs", r.Mean))
		row.Column(fmt.Sprintf("%.0fµs", r.Median))
		row.Column(fmt.Sprintf("%.0fµs", r.Stddev))
		row.Column(fmt.Sprintf("%.0fµs", r.P95))
	}

	tab.Print(w)
	return nil
}
