// Package contrast derives named linear contrast vectors from the column
// structure of a design matrix. Every condition gets a one-hot vector on its
// main-effect column; compound contrasts are signed sums of named vectors.
package contrast

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/floats"

	"fmripipeline/pkg/design"
)

var (
	// ErrUnknownContrast is returned when a name does not resolve to a
	// condition or a previously defined compound.
	ErrUnknownContrast = errors.New("unknown contrast")

	// ErrDimension is returned when a vector length differs from the design
	// matrix column count.
	ErrDimension = errors.New("contrast dimension mismatch")
)

// Contrast is a named contrast vector.
type Contrast struct {
	Name   string
	Vector []float64
}

// Term is one signed name of a compound expression.
type Term struct {
	Name string
	Sign float64
}

// ValidName reports whether s can name a condition. Names may not be empty
// and may not contain whitespace or the + and - operators.
func ValidName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r == '+' || r == '-' || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// ParseExpression splits a compound expression such as "active-rest" or
// "a+b-c" into signed terms. A leading sign is allowed.
func ParseExpression(expr string) ([]Term, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, fmt.Errorf("empty contrast expression")
	}

	var terms []Term
	sign := 1.0
	start := 0
	flush := func(end int) error {
		name := strings.TrimSpace(s[start:end])
		if !ValidName(name) {
			return fmt.Errorf("contrast expression %q: invalid term %q", expr, name)
		}
		terms = append(terms, Term{Name: name, Sign: sign})
		return nil
	}
	for i, r := range s {
		if r != '+' && r != '-' {
			continue
		}
		if i == 0 {
			if r == '-' {
				sign = -1
			}
			start = 1
			continue
		}
		if err := flush(i); err != nil {
			return nil, err
		}
		sign = 1
		if r == '-' {
			sign = -1
		}
		start = i + 1
	}
	if err := flush(len(s)); err != nil {
		return nil, err
	}
	return terms, nil
}

// Set is an ordered collection of contrasts sharing one dimensionality.
type Set struct {
	width   int
	names   []string
	vectors map[string][]float64
}

// New returns an empty set for a design with width columns.
func New(width int) *Set {
	return &Set{width: width, vectors: make(map[string][]float64)}
}

// ForConditions returns the one-hot condition contrasts of m, in the
// design's condition order.
func ForConditions(m *design.Matrix) *Set {
	s := New(m.Columns())
	for _, cond := range m.Conditions {
		col, _ := m.ConditionColumn(cond)
		v := make([]float64, m.Columns())
		v[col] = 1
		s.names = append(s.names, cond)
		s.vectors[cond] = v
	}
	return s
}

// Build returns the condition contrasts of m followed by the given compound
// expressions.
func Build(m *design.Matrix, compounds []string) (*Set, error) {
	s := ForConditions(m)
	for _, expr := range compounds {
		if err := s.AddCompound(expr); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Width returns the design column count the set was built for.
func (s *Set) Width() int { return s.width }

// Len returns the number of contrasts.
func (s *Set) Len() int { return len(s.names) }

// Names returns the contrast names in definition order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Add stores a named vector.
func (s *Set) Add(name string, v []float64) error {
	if len(v) != s.width {
		return fmt.Errorf("%w: %q has %d entries, design has %d columns", ErrDimension, name, len(v), s.width)
	}
	if _, ok := s.vectors[name]; ok {
		return fmt.Errorf("contrast %q defined twice", name)
	}
	s.names = append(s.names, name)
	s.vectors[name] = append([]float64(nil), v...)
	return nil
}

// AddCompound defines a contrast named by expr as the signed sum of the
// vectors its terms name.
func (s *Set) AddCompound(expr string) error {
	terms, err := ParseExpression(expr)
	if err != nil {
		return err
	}
	v := make([]float64, s.width)
	for _, t := range terms {
		tv, ok := s.vectors[t.Name]
		if !ok {
			return fmt.Errorf("%w %q in %q", ErrUnknownContrast, t.Name, expr)
		}
		floats.AddScaled(v, t.Sign, tv)
	}
	return s.Add(strings.TrimSpace(expr), v)
}

// Get returns a copy of the named vector.
func (s *Set) Get(name string) ([]float64, error) {
	v, ok := s.vectors[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownContrast, name)
	}
	return append([]float64(nil), v...), nil
}

// All returns every contrast in definition order.
func (s *Set) All() []Contrast {
	out := make([]Contrast, len(s.names))
	for i, n := range s.names {
		out[i] = Contrast{Name: n, Vector: append([]float64(nil), s.vectors[n]...)}
	}
	return out
}

// Select returns a set holding only the named contrasts, in the given
// order. An empty list selects everything.
func (s *Set) Select(names []string) (*Set, error) {
	if len(names) == 0 {
		names = s.names
	}
	out := New(s.width)
	for _, n := range names {
		v, ok := s.vectors[n]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownContrast, n)
		}
		if err := out.Add(n, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Validate checks that every vector has width entries.
func (s *Set) Validate(width int) error {
	var errs []error
	for _, n := range s.names {
		if got := len(s.vectors[n]); got != width {
			errs = append(errs, fmt.Errorf("%w: %q has %d entries, design has %d columns", ErrDimension, n, got, width))
		}
	}
	return errors.Join(errs...)
}
