// Package glm fits a voxel-wise general linear model to a 4-D functional
// series and derives contrast maps from the fit. The noise model is either
// ordinary least squares or AR(1), in which case voxels are grouped by their
// quantized lag-1 residual autocorrelation and each group is prewhitened and
// refit.
package glm

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"fmripipeline/internal/models"
)

// NoiseModel selects the residual covariance model.
type NoiseModel int

const (
	// OLS assumes white noise.
	OLS NoiseModel = iota
	// AR1 assumes first-order autoregressive noise.
	AR1
)

func (n NoiseModel) String() string {
	if n == AR1 {
		return "ar1"
	}
	return "ols"
}

// rhoBins is the number of autocorrelation bins per unit of rho.
const rhoBins = 100

// Options control a fit.
type Options struct {
	// Mask restricts the fit; computed from the data when nil
	Mask *models.Volume

	// Scaling converts each voxel to percent signal change around its mean
	Scaling bool

	// Noise is the residual model
	Noise NoiseModel
}

// DefaultOptions returns the subject-level defaults: computed mask, scaling
// and AR(1) noise.
func DefaultOptions() Options {
	return Options{Scaling: true, Noise: AR1}
}

// group is a set of voxels sharing one whitening filter.
type group struct {
	rho float64
	cov *mat.Dense
}

// Model is a fitted GLM.
type Model struct {
	grid   *models.Volume
	mask   *models.Volume
	voxels []int

	beta    *mat.Dense
	sigma2  []float64
	groupOf []int
	groups  []group
	dof     float64
}

// Maps holds the four derived images of one contrast.
type Maps struct {
	Z        *models.Volume
	T        *models.Volume
	Effect   *models.Volume
	Variance *models.Volume
}

// Fit estimates the model for data, a 4-D series with one frame per row of
// x.
func Fit(data *models.Volume, x mat.Matrix, opts Options) (*Model, error) {
	n, p := x.Dims()
	if data.Nt != n {
		return nil, fmt.Errorf("design has %d rows but data has %d timepoints", n, data.Nt)
	}
	if n <= p {
		return nil, fmt.Errorf("design has %d columns for %d timepoints", p, n)
	}

	mask := opts.Mask
	if mask == nil {
		var err error
		if mask, err = ComputeMask(data); err != nil {
			return nil, err
		}
	} else if !mask.SameGrid(data) {
		return nil, fmt.Errorf("mask grid %dx%dx%d does not match data %dx%dx%d",
			mask.Nx, mask.Ny, mask.Nz, data.Nx, data.Ny, data.Nz)
	}
	voxels := maskedVoxels(mask)
	if len(voxels) == 0 {
		return nil, fmt.Errorf("mask is empty")
	}

	y := timeSeries(data, voxels)
	if opts.Scaling {
		scale(y)
	}

	m := &Model{
		grid:    data,
		mask:    mask,
		voxels:  voxels,
		beta:    mat.NewDense(p, len(voxels), nil),
		sigma2:  make([]float64, len(voxels)),
		groupOf: make([]int, len(voxels)),
	}

	all := make([]int, len(voxels))
	for i := range all {
		all[i] = i
	}
	resid, err := m.fitGroup(x, y, all, 0)
	if err != nil {
		return nil, err
	}
	if opts.Noise == OLS {
		return m, nil
	}

	// Group voxels by quantized lag-1 autocorrelation of the OLS residuals.
	bins := make(map[int][]int)
	col := make([]float64, n)
	for j := range voxels {
		mat.Col(col, j, resid)
		k := quantize(lag1(col))
		bins[k] = append(bins[k], j)
	}
	keys := make([]int, 0, len(bins))
	for k := range bins {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	m.groups = m.groups[:0]
	for _, k := range keys {
		rho := float64(k) / rhoBins
		if _, err := m.fitGroup(whiten(x, rho), whiten(columns(y, bins[k]), rho), bins[k], rho); err != nil {
			return nil, fmt.Errorf("fitting rho %.2f: %w", rho, err)
		}
	}
	return m, nil
}

// fitGroup solves the least-squares problem for the voxels at positions
// idx, whose series are the columns of y, and records their coefficients,
// residual variance and the shared coefficient covariance. It returns the
// residuals. Rank-deficient designs are handled through the
// pseudo-inverse.
func (m *Model) fitGroup(x mat.Matrix, y *mat.Dense, idx []int, rho float64) (*mat.Dense, error) {
	n, _ := x.Dims()

	px, rank, err := pinv(x)
	if err != nil {
		return nil, err
	}
	if rank == 0 {
		return nil, fmt.Errorf("design matrix has rank 0")
	}
	if len(m.groups) == 0 {
		m.dof = float64(n - rank)
	}

	var cov, beta mat.Dense
	cov.Mul(px, px.T())
	beta.Mul(px, y)

	var fitted, resid mat.Dense
	fitted.Mul(x, &beta)
	resid.Sub(y, &fitted)

	p, _ := beta.Dims()
	g := len(m.groups)
	m.groups = append(m.groups, group{rho: rho, cov: &cov})
	col := make([]float64, n)
	for j, pos := range idx {
		for i := 0; i < p; i++ {
			m.beta.Set(i, pos, beta.At(i, j))
		}
		mat.Col(col, j, &resid)
		var rss float64
		for _, r := range col {
			rss += r * r
		}
		m.sigma2[pos] = rss / m.dof
		m.groupOf[pos] = g
	}
	return &resid, nil
}

// pinv returns the Moore-Penrose pseudo-inverse of a and its numerical
// rank.
func pinv(a mat.Matrix) (*mat.Dense, int, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, 0, fmt.Errorf("singular value decomposition failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)

	r, c := a.Dims()
	tol := float64(max(r, c)) * s[0] * 2.220446049250313e-16
	rank := 0
	_, k := v.Dims()
	for j := 0; j < k; j++ {
		scale := 0.0
		if s[j] > tol {
			scale = 1 / s[j]
			rank++
		}
		for i := 0; i < c; i++ {
			v.Set(i, j, v.At(i, j)*scale)
		}
	}
	var out mat.Dense
	out.Mul(&v, u.T())
	return &out, rank, nil
}

// Contrast computes the z, t, effect and variance maps of contrast vector
// c.
func (m *Model) Contrast(c []float64) (*Maps, error) {
	p, _ := m.beta.Dims()
	if len(c) != p {
		return nil, fmt.Errorf("contrast has %d entries, design has %d columns", len(c), p)
	}
	cv := mat.NewVecDense(p, append([]float64(nil), c...))

	maps := &Maps{
		Z:        m.newMap(),
		T:        m.newMap(),
		Effect:   m.newMap(),
		Variance: m.newMap(),
	}
	quad := make([]float64, len(m.groups))
	for g, grp := range m.groups {
		quad[g] = mat.Inner(cv, grp.cov, cv)
	}
	student := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: m.dof}
	beta := make([]float64, p)
	for j, vox := range m.voxels {
		mat.Col(beta, j, m.beta)
		effect := floats.Dot(c, beta)
		variance := m.sigma2[j] * quad[m.groupOf[j]]
		t := 0.0
		if variance > 0 {
			t = effect / math.Sqrt(variance)
		}
		maps.Effect.Data[vox] = effect
		maps.Variance.Data[vox] = variance
		maps.T.Data[vox] = t
		maps.Z.Data[vox] = zScore(student, t)
	}
	return maps, nil
}

// Mask returns the analysis mask.
func (m *Model) Mask() *models.Volume { return m.mask }

// DOF returns the residual degrees of freedom.
func (m *Model) DOF() float64 { return m.dof }

// Voxels returns the number of voxels in the mask.
func (m *Model) Voxels() int { return len(m.voxels) }

// Rho returns the distinct AR(1) coefficients used for prewhitening.
func (m *Model) Rho() []float64 {
	out := make([]float64, len(m.groups))
	for i, g := range m.groups {
		out[i] = g.rho
	}
	return out
}

func (m *Model) newMap() *models.Volume {
	v := models.NewVolume(m.grid.Nx, m.grid.Ny, m.grid.Nz, 1, m.grid.Affine)
	v.VoxelSize = m.grid.VoxelSize
	return v
}

// zScore converts a t statistic to the standard normal deviate with the
// same upper-tail probability.
func zScore(student distuv.StudentsT, t float64) float64 {
	p := student.Survival(t)
	p = math.Min(math.Max(p, 1e-300), 1-1e-16)
	return -distuv.UnitNormal.Quantile(p)
}

// timeSeries gathers the masked voxel series as columns of an n×v matrix.
func timeSeries(data *models.Volume, voxels []int) *mat.Dense {
	n := data.NumVoxels()
	y := mat.NewDense(data.Nt, len(voxels), nil)
	for t := 0; t < data.Nt; t++ {
		for j, vox := range voxels {
			y.Set(t, j, data.Data[t*n+vox])
		}
	}
	return y
}

// scale converts every column to percent change around its mean. Columns
// with zero mean become zero.
func scale(y *mat.Dense) {
	n, v := y.Dims()
	col := make([]float64, n)
	for j := 0; j < v; j++ {
		mat.Col(col, j, y)
		mean := stat.Mean(col, nil)
		for i, val := range col {
			if mean == 0 {
				col[i] = 0
				continue
			}
			col[i] = 100 * (val/mean - 1)
		}
		y.SetCol(j, col)
	}
}

// lag1 returns the lag-1 autocorrelation of r.
func lag1(r []float64) float64 {
	var num, den float64
	for i, v := range r {
		den += v * v
		if i > 0 {
			num += v * r[i-1]
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// quantize maps rho to its bin, keeping the process stationary.
func quantize(rho float64) int {
	k := int(math.Round(rho * rhoBins))
	return max(-(rhoBins - 1), min(rhoBins-1, k))
}

// whiten applies the AR(1) prewhitening filter to the rows of a.
func whiten(a mat.Matrix, rho float64) *mat.Dense {
	n, c := a.Dims()
	out := mat.NewDense(n, c, nil)
	head := math.Sqrt(1 - rho*rho)
	for j := 0; j < c; j++ {
		out.Set(0, j, head*a.At(0, j))
		for i := 1; i < n; i++ {
			out.Set(i, j, a.At(i, j)-rho*a.At(i-1, j))
		}
	}
	return out
}

// columns returns the columns idx of y.
func columns(y *mat.Dense, idx []int) *mat.Dense {
	n, _ := y.Dims()
	out := mat.NewDense(n, len(idx), nil)
	col := make([]float64, n)
	for j, k := range idx {
		mat.Col(col, k, y)
		out.SetCol(j, col)
	}
	return out
}
