// Package design turns an experimental paradigm and acquisition timing into
// a design matrix: one hemodynamic regressor (plus optionally its temporal
// derivative) per condition, nuisance regressors, and low-frequency drift
// terms.
package design

import (
	"fmt"
	"sort"
)

// Paradigm lists the stimulation events of an experiment.
type Paradigm struct {
	// Conditions holds the label of each event
	Conditions []string

	// Onsets holds event start times in seconds
	Onsets []float64

	// Durations holds event lengths in seconds
	Durations []float64
}

// BlockParadigm lays out one block per label, back to back from t=0, each
// lasting duration seconds.
func BlockParadigm(conditions []string, duration float64) Paradigm {
	n := len(conditions)
	p := Paradigm{
		Conditions: append([]string(nil), conditions...),
		Onsets:     make([]float64, n),
		Durations:  make([]float64, n),
	}
	for i := range conditions {
		p.Onsets[i] = float64(i) * duration
		p.Durations[i] = duration
	}
	return p
}

// Validate checks that the paradigm's slices line up.
func (p Paradigm) Validate() error {
	if len(p.Conditions) == 0 {
		return fmt.Errorf("paradigm has no events")
	}
	if len(p.Onsets) != len(p.Conditions) || len(p.Durations) != len(p.Conditions) {
		return fmt.Errorf("paradigm has %d conditions, %d onsets and %d durations",
			len(p.Conditions), len(p.Onsets), len(p.Durations))
	}
	for i, d := range p.Durations {
		if d < 0 {
			return fmt.Errorf("event %d has negative duration %g", i, d)
		}
	}
	return nil
}

// ConditionNames returns the distinct labels in sorted order. This is the
// order of the condition columns in the design matrix.
func (p Paradigm) ConditionNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, c := range p.Conditions {
		if !seen[c] {
			seen[c] = true
			names = append(names, c)
		}
	}
	sort.Strings(names)
	return names
}

// events returns the onsets and durations of one condition.
func (p Paradigm) events(condition string) (onsets, durations []float64) {
	for i, c := range p.Conditions {
		if c == condition {
			onsets = append(onsets, p.Onsets[i])
			durations = append(durations, p.Durations[i])
		}
	}
	return onsets, durations
}

// Span returns the time at which the last event ends.
func (p Paradigm) Span() float64 {
	var end float64
	for i := range p.Onsets {
		if e := p.Onsets[i] + p.Durations[i]; e > end {
			end = e
		}
	}
	return end
}
