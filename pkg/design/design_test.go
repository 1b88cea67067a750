package design

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

const (
	testTR     = 7.0
	testScans  = 96
	testBlock  = 6 * testTR
	testDrifts = 8
)

func auditoryConditions() []string {
	var c []string
	for i := 0; i < 8; i++ {
		c = append(c, "rest", "active")
	}
	return c
}

func auditorySpec() Spec {
	return Spec{
		TR:       testTR,
		NScans:   testScans,
		Paradigm: BlockParadigm(auditoryConditions(), testBlock),
		HRF:      CanonicalWithDerivative,
		Drift:    CosineDrift,
		HFCut:    HFCutForBlocks(testBlock),
	}
}

func motion(n int) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = []float64{0.01 * float64(i), 0, -0.02, 0.001, 0, 0}
	}
	return rows
}

func TestBlockParadigm(t *testing.T) {
	p := BlockParadigm(auditoryConditions(), testBlock)
	require.NoError(t, p.Validate())
	assert.Len(t, p.Onsets, 16)
	assert.Equal(t, 0.0, p.Onsets[0])
	assert.Equal(t, 15*testBlock, p.Onsets[15])
	assert.Equal(t, 16*testBlock, p.Span())
	assert.Equal(t, []string{"active", "rest"}, p.ConditionNames())
}

func TestBuildColumnCount(t *testing.T) {
	tests := []struct {
		name  string
		spec  func() Spec
		want  int
		drift int
	}{
		{"cosine with derivative", auditorySpec, 2*2 + testDrifts, testDrifts},
		{"with motion regressors", func() Spec {
			s := auditorySpec()
			s.Nuisance = motion(testScans)
			return s
		}, 2*2 + testDrifts + 6, testDrifts},
		{"canonical only", func() Spec {
			s := auditorySpec()
			s.HRF = Canonical
			return s
		}, 2 + testDrifts, testDrifts},
		{"blank drift", func() Spec {
			s := auditorySpec()
			s.Drift = BlankDrift
			return s
		}, 2*2 + 1, 1},
		{"polynomial drift", func() Spec {
			s := auditorySpec()
			s.Drift = PolynomialDrift
			s.DriftOrder = 2
			return s
		}, 2*2 + 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Build(tt.spec())
			require.NoError(t, err)
			r, c := m.X.Dims()
			assert.Equal(t, testScans, r)
			assert.Equal(t, tt.want, c)
			assert.Equal(t, tt.want, m.Columns())
			assert.Equal(t, tt.drift, m.DriftColumns)
			assert.Equal(t, "constant", m.Names[len(m.Names)-1])
		})
	}
}

func TestBuildColumnNames(t *testing.T) {
	s := auditorySpec()
	s.Nuisance = motion(testScans)
	s.NuisanceNames = []string{"tx", "ty", "tz", "rx", "ry", "rz"}
	m, err := Build(s)
	require.NoError(t, err)

	want := []string{
		"active", "active_derivative", "rest", "rest_derivative",
		"tx", "ty", "tz", "rx", "ry", "rz",
		"drift_1", "drift_2", "drift_3", "drift_4", "drift_5", "drift_6", "drift_7", "constant",
	}
	assert.Equal(t, want, m.Names)

	col, ok := m.ConditionColumn("rest")
	require.True(t, ok)
	assert.Equal(t, 2, col)
	_, ok = m.ConditionColumn("missing")
	assert.False(t, ok)
}

func TestNuisanceKeepsConditionColumns(t *testing.T) {
	plain, err := Build(auditorySpec())
	require.NoError(t, err)
	s := auditorySpec()
	s.Nuisance = motion(testScans)
	withMotion, err := Build(s)
	require.NoError(t, err)

	approx := cmpopts.EquateApprox(0, 1e-12)
	for j := 0; j < 4; j++ {
		assert.Equal(t, plain.Names[j], withMotion.Names[j])
		if diff := cmp.Diff(plain.Column(j), withMotion.Column(j), approx); diff != "" {
			t.Errorf("condition column %d changed (-plain +motion):\n%s", j, diff)
		}
	}
}

func TestConditionRegressorsFollowBlocks(t *testing.T) {
	m, err := Build(auditorySpec())
	require.NoError(t, err)
	active, _ := m.ConditionColumn("active")
	rest, _ := m.ConditionColumn("rest")

	// scans 6-11 are the first active block, 12-17 the following rest block
	assert.Greater(t, m.X.At(10, active), m.X.At(10, rest))
	assert.Greater(t, m.X.At(16, rest), m.X.At(16, active))

	// the derivative is orthogonal to its main regressor
	assert.InDelta(t, 0, floats.Dot(m.Column(0), m.Column(1)), 1e-9)
}

func TestCanonicalHRF(t *testing.T) {
	h := canonicalHRF(testTR, 0)
	assert.InDelta(t, 1, floats.Sum(h), 1e-9)
	peak := floats.MaxIdx(h)
	dt := testTR / oversampling
	assert.InDelta(t, 5, float64(peak)*dt, 1.5, "peak should fall around 5 s")
	assert.Less(t, floats.Min(h), 0.0, "undershoot")
}

func TestCosineDriftIsOrthogonal(t *testing.T) {
	cols, names, err := cosineDrift(FrameTimes(testTR, testScans), HFCutForBlocks(testBlock))
	require.NoError(t, err)
	assert.Len(t, cols, testDrifts)
	assert.Equal(t, "drift_1", names[0])
	for i := 0; i < len(cols)-1; i++ {
		assert.InDelta(t, 1, floats.Norm(cols[i], 2), 1e-9)
		for j := i + 1; j < len(cols); j++ {
			assert.InDelta(t, 0, floats.Dot(cols[i], cols[j]), 1e-9, "columns %d and %d", i, j)
		}
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Spec)
	}{
		{"zero tr", func(s *Spec) { s.TR = 0 }},
		{"too few scans", func(s *Spec) { s.NScans = 1 }},
		{"empty paradigm", func(s *Spec) { s.Paradigm = Paradigm{} }},
		{"nuisance rows", func(s *Spec) { s.Nuisance = motion(testScans - 1) }},
		{"nuisance names", func(s *Spec) {
			s.Nuisance = motion(testScans)
			s.NuisanceNames = []string{"only-one"}
		}},
		{"cosine without cutoff", func(s *Spec) { s.HFCut = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := auditorySpec()
			tt.mutate(&s)
			_, err := Build(s)
			assert.Error(t, err)
		})
	}
}

func TestParseModels(t *testing.T) {
	d, err := ParseDriftModel("Cosine")
	require.NoError(t, err)
	assert.Equal(t, CosineDrift, d)
	_, err = ParseDriftModel("fourier")
	assert.Error(t, err)

	h, err := ParseHRFModel("Canonical With Derivative")
	require.NoError(t, err)
	assert.Equal(t, CanonicalWithDerivative, h)
	assert.Equal(t, 2, h.ColumnsPerCondition())
	_, err = ParseHRFModel("fir")
	assert.Error(t, err)
}

func TestSavePlot(t *testing.T) {
	m, err := Build(auditorySpec())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "stats", "design_matrix.png")
	require.NoError(t, m.SavePlot(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestHFCut(t *testing.T) {
	assert.Equal(t, 168.0, HFCutForBlocks(42))
}
