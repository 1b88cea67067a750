// Package realign estimates and removes head motion across the frames of
// functional runs. Motion is modelled as a rigid translation estimated from
// intensity centers of mass; every frame is resampled onto the first frame
// of the first run with trilinear interpolation.
package realign

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"fmripipeline/internal/models"
	"fmripipeline/pkg/coreg"
	"fmripipeline/pkg/nifti"
)

const (
	// Prefix is prepended to the basename of realigned runs.
	Prefix = "r"

	// ParamsPrefix is prepended to the basename of realignment parameter files.
	ParamsPrefix = "rp_"
)

// Params configure the realignment.
type Params struct {
	// Sessions groups consecutive runs; parameters in each run's file are
	// relative to the first frame of its session
	Sessions int
}

// Fitted holds the estimated motion.
type Fitted struct {
	// Motion holds, per run and frame, six rigid-body parameters relative
	// to the first frame of the first run
	Motion [][][6]float64

	// Session maps each run to its session
	Session []int
}

// Realigner is the motion-correction stage.
type Realigner struct {
	params Params
}

// New returns a realigner with the given parameters.
func New(p Params) *Realigner {
	return &Realigner{params: p}
}

func (r *Realigner) Name() string    { return "motion_correction" }
func (r *Realigner) Version() string { return "1" }
func (r *Realigner) Config() any     { return r.params }

// Fit estimates the displacement of every frame.
func (r *Realigner) Fit(store models.VolumeStore, runs []models.VolumeSet) (Fitted, error) {
	if len(runs) == 0 {
		return Fitted{}, fmt.Errorf("no functional runs")
	}
	sessions := r.params.Sessions
	if sessions < 1 || sessions > len(runs) {
		return Fitted{}, fmt.Errorf("%d sessions for %d runs", sessions, len(runs))
	}

	f := Fitted{Motion: make([][][6]float64, len(runs)), Session: make([]int, len(runs))}
	var ref [3]float64
	for i, run := range runs {
		f.Session[i] = i * sessions / len(runs)
		v, err := store.LoadSet(run)
		if err != nil {
			return Fitted{}, err
		}
		for t := 0; t < v.Nt; t++ {
			c, err := coreg.CenterOfMass(v, t)
			if err != nil {
				return Fitted{}, fmt.Errorf("%s: %w", run[0], err)
			}
			if i == 0 && t == 0 {
				ref = c
			}
			f.Motion[i] = append(f.Motion[i], [6]float64{c[0] - ref[0], c[1] - ref[1], c[2] - ref[2]})
		}
	}
	return f, nil
}

// Transform writes one realigned 4-D file and one parameter file per run.
func (r *Realigner) Transform(store models.VolumeStore, f Fitted, runs []models.VolumeSet, outDir string) (models.StageOutput, error) {
	out := models.StageOutput{Stage: r.Name()}
	if len(runs) != len(f.Motion) {
		return out, fmt.Errorf("motion was estimated for %d runs, got %d", len(f.Motion), len(runs))
	}

	// Offset of the first frame of each session.
	origin := make(map[int][6]float64)
	for i, s := range f.Session {
		if _, ok := origin[s]; !ok {
			origin[s] = f.Motion[i][0]
		}
	}

	for i, run := range runs {
		v, err := store.LoadSet(run)
		if err != nil {
			return out, err
		}
		if v.Nt != len(f.Motion[i]) {
			return out, fmt.Errorf("%s has %d frames, motion was estimated for %d", run[0], v.Nt, len(f.Motion[i]))
		}
		resliced, err := Reslice(v, f.Motion[i])
		if err != nil {
			return out, err
		}
		base := nifti.Basename(run[0])
		set, err := store.SaveVolumes(resliced, outDir, Prefix+base)
		if err != nil {
			return out, err
		}
		out.Func = append(out.Func, set)

		rel := make([][6]float64, len(f.Motion[i]))
		o := origin[f.Session[i]]
		for t, m := range f.Motion[i] {
			for k := range m {
				rel[t][k] = m[k] - o[k]
			}
		}
		path := filepath.Join(outDir, ParamsPrefix+base+".txt")
		if err := WriteParameters(path, rel); err != nil {
			return out, err
		}
		out.RealignmentParameters = append(out.RealignmentParameters, path)
	}
	return out, nil
}

// Reslice undoes the translation of every frame. Samples falling outside
// the field of view are zero.
func Reslice(v *models.Volume, motion [][6]float64) (*models.Volume, error) {
	lin := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			lin.Set(i, j, v.Affine[i][j])
		}
	}
	var lu mat.LU
	lu.Factorize(lin)

	out := v.Clone()
	n := v.NumVoxels()
	for t, m := range motion {
		var shift mat.VecDense
		if err := lu.SolveVecTo(&shift, false, mat.NewVecDense(3, []float64{m[0], m[1], m[2]})); err != nil {
			return nil, fmt.Errorf("voxel axes are singular: %w", err)
		}
		if shift.AtVec(0) == 0 && shift.AtVec(1) == 0 && shift.AtVec(2) == 0 {
			continue
		}
		frame := v.Data[t*n : (t+1)*n]
		dst := out.Data[t*n : (t+1)*n]
		for z := 0; z < v.Nz; z++ {
			for y := 0; y < v.Ny; y++ {
				for x := 0; x < v.Nx; x++ {
					dst[(z*v.Ny+y)*v.Nx+x] = trilinear(frame, v.Nx, v.Ny, v.Nz,
						float64(x)+shift.AtVec(0), float64(y)+shift.AtVec(1), float64(z)+shift.AtVec(2))
				}
			}
		}
	}
	return out, nil
}

func trilinear(data []float64, nx, ny, nz int, x, y, z float64) float64 {
	if x < 0 || y < 0 || z < 0 || x > float64(nx-1) || y > float64(ny-1) || z > float64(nz-1) {
		return 0
	}
	x0, y0, z0 := int(x), int(y), int(z)
	x1, y1, z1 := min(x0+1, nx-1), min(y0+1, ny-1), min(z0+1, nz-1)
	fx, fy, fz := x-float64(x0), y-float64(y0), z-float64(z0)
	at := func(i, j, k int) float64 { return data[(k*ny+j)*nx+i] }

	c00 := at(x0, y0, z0)*(1-fx) + at(x1, y0, z0)*fx
	c10 := at(x0, y1, z0)*(1-fx) + at(x1, y1, z0)*fx
	c01 := at(x0, y0, z1)*(1-fx) + at(x1, y0, z1)*fx
	c11 := at(x0, y1, z1)*(1-fx) + at(x1, y1, z1)*fx
	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy
	return c0*(1-fz) + c1*fz
}

// WriteParameters writes one line of six space separated parameters per
// frame.
func WriteParameters(path string, params [][6]float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating parameter directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating parameter file: %w", err)
	}
	w := bufio.NewWriter(file)
	for _, p := range params {
		fmt.Fprintf(w, "  %.8e  %.8e  %.8e  %.8e  %.8e  %.8e\n", p[0], p[1], p[2], p[3], p[4], p[5])
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("writing parameter file: %w", err)
	}
	return file.Close()
}

// ReadParameters loads a realignment parameter file as one row per frame.
func ReadParameters(path string) ([][]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rows [][]float64
	sc := bufio.NewScanner(file)
	for line := 1; sc.Scan(); line++ {
		row := make([]float64, 6)
		n, err := fmt.Sscan(sc.Text(), &row[0], &row[1], &row[2], &row[3], &row[4], &row[5])
		if err != nil {
			if n == 0 && len(sc.Bytes()) == 0 {
				continue
			}
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return rows, nil
}
