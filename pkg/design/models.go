package design

import (
	"fmt"
	"strings"
)

// DriftModel selects the low-frequency drift basis.
type DriftModel int

const (
	CosineDrift DriftModel = iota
	PolynomialDrift
	BlankDrift
)

func (d DriftModel) String() string {
	switch d {
	case CosineDrift:
		return "cosine"
	case PolynomialDrift:
		return "polynomial"
	case BlankDrift:
		return "blank"
	}
	return fmt.Sprintf("DriftModel(%d)", int(d))
}

// ParseDriftModel accepts "cosine", "polynomial" or "blank", case-insensitively.
func ParseDriftModel(s string) (DriftModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine":
		return CosineDrift, nil
	case "polynomial":
		return PolynomialDrift, nil
	case "blank":
		return BlankDrift, nil
	}
	return 0, fmt.Errorf("unknown drift model %q", s)
}

// HRFModel selects the hemodynamic response used to convolve conditions.
type HRFModel int

const (
	Canonical HRFModel = iota
	CanonicalWithDerivative
)

func (h HRFModel) String() string {
	switch h {
	case Canonical:
		return "canonical"
	case CanonicalWithDerivative:
		return "canonical with derivative"
	}
	return fmt.Sprintf("HRFModel(%d)", int(h))
}

// ColumnsPerCondition is the number of design columns each condition gets.
func (h HRFModel) ColumnsPerCondition() int {
	if h == CanonicalWithDerivative {
		return 2
	}
	return 1
}

// ParseHRFModel accepts "canonical" or "canonical with derivative",
// case-insensitively.
func ParseHRFModel(s string) (HRFModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "canonical":
		return Canonical, nil
	case "canonical with derivative":
		return CanonicalWithDerivative, nil
	}
	return 0, fmt.Errorf("unknown hrf model %q", s)
}
