// Package visualization renders orthogonal slices of volumes, optionally
// with a thresholded statistical map overlaid on an anatomical background.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"fmripipeline/internal/models"
	"fmripipeline/pkg/affine"
)

// Viewer renders slices of a background volume.
type Viewer struct {
	// background is the 3-D volume drawn in gray levels
	background *models.Volume

	// lo and hi bound the gray-level window
	lo, hi float64

	// overlay is the statistical map drawn on top, nil for none
	overlay *models.Volume

	// toOverlay maps background voxel indices to overlay voxel indices
	toOverlay models.Affine

	// threshold hides overlay values whose magnitude is below it
	threshold float64
}

// NewViewer creates a viewer over the first frame of background.
func NewViewer(background *models.Volume) (*Viewer, error) {
	bg, err := background.Frame(0)
	if err != nil {
		return nil, err
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range bg.Data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi <= lo {
		hi = lo + 1
	}
	return &Viewer{background: bg, lo: lo, hi: hi}, nil
}

// SetOverlay draws stat on top of the background wherever |stat| reaches
// threshold. The two volumes are matched through their affines.
func (v *Viewer) SetOverlay(stat *models.Volume, threshold float64) error {
	m, err := affine.Solve(stat.Affine, v.background.Affine)
	if err != nil {
		return fmt.Errorf("mapping overlay onto background: %w", err)
	}
	v.overlay = stat
	v.toOverlay = m
	v.threshold = threshold
	return nil
}

// sliceDims returns the width and height of a slice along axis and the
// number of slices.
func (v *Viewer) sliceDims(axis string) (w, h, n int, err error) {
	b := v.background
	switch axis {
	case "x", "X":
		return b.Ny, b.Nz, b.Nx, nil
	case "y", "Y":
		return b.Nx, b.Nz, b.Ny, nil
	case "z", "Z":
		return b.Nx, b.Ny, b.Nz, nil
	}
	return 0, 0, 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// voxel returns the background voxel at pixel (i, j) of slice position
// along axis. Rows are flipped so superior and anterior point up.
func (v *Viewer) voxel(axis string, position, i, j, h int) (int, int, int) {
	j = h - 1 - j
	switch axis {
	case "x", "X":
		return position, i, j
	case "y", "Y":
		return i, position, j
	}
	return i, j, position
}

// ExtractSlice renders one slice along axis.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	w, h, n, err := v.sliceDims(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, n, axis)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	b := v.background
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			x, y, z := v.voxel(axis, position, i, j, h)
			g := (b.Data[b.Index(x, y, z, 0)] - v.lo) / (v.hi - v.lo)
			gray := uint8(math.Max(0, math.Min(255, g*255)))
			c := color.RGBA{R: gray, G: gray, B: gray, A: 255}
			if s, ok := v.overlayAt(x, y, z); ok {
				c = heat(s, v.threshold)
			}
			img.SetRGBA(i, j, c)
		}
	}
	return img, nil
}

// overlayAt samples the overlay nearest to background voxel (x, y, z).
func (v *Viewer) overlayAt(x, y, z int) (float64, bool) {
	if v.overlay == nil {
		return 0, false
	}
	fx, fy, fz := affine.Apply(v.toOverlay, float64(x), float64(y), float64(z))
	ox, oy, oz := int(math.Round(fx)), int(math.Round(fy)), int(math.Round(fz))
	o := v.overlay
	if ox < 0 || oy < 0 || oz < 0 || ox >= o.Nx || oy >= o.Ny || oz >= o.Nz {
		return 0, false
	}
	s := o.Data[o.Index(ox, oy, oz, 0)]
	if math.Abs(s) < v.threshold || s == 0 || math.IsNaN(s) {
		return 0, false
	}
	return s, true
}

// heat maps positive values from red to yellow and negative values from
// blue to cyan, saturating at twice the threshold.
func heat(s, threshold float64) color.RGBA {
	span := math.Max(threshold, 1)
	f := math.Min(1, (math.Abs(s)-threshold)/span)
	ramp := uint8(f * 255)
	if s > 0 {
		return color.RGBA{R: 255, G: ramp, B: 0, A: 255}
	}
	return color.RGBA{R: 0, G: ramp, B: 255, A: 255}
}

// SaveSlice writes img as a PNG file.
func SaveSlice(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveOrthogonal writes one slice per axis through the background voxel at
// world coordinate center, named <prefix>_<axis>.png in dir. It returns the
// written paths in x, y, z order.
func (v *Viewer) SaveOrthogonal(center [3]float64, dir, prefix string) ([]string, error) {
	m, err := affine.Solve(v.background.Affine, models.IdentityAffine())
	if err != nil {
		return nil, err
	}
	fx, fy, fz := affine.Apply(m, center[0], center[1], center[2])
	b := v.background
	pos := map[string]int{
		"x": clamp(int(math.Round(fx)), b.Nx),
		"y": clamp(int(math.Round(fy)), b.Ny),
		"z": clamp(int(math.Round(fz)), b.Nz),
	}

	var paths []string
	for _, axis := range []string{"x", "y", "z"} {
		img, err := v.ExtractSlice(axis, pos[axis])
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", prefix, axis))
		if err := SaveSlice(img, path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func clamp(i, n int) int {
	return max(0, min(n-1, i))
}

// Peak returns the largest value of the first frame of stat and its world
// coordinate.
func Peak(stat *models.Volume) (float64, [3]float64) {
	best, at := math.Inf(-1), 0
	n := stat.NumVoxels()
	for i, s := range stat.Data[:n] {
		if s > best {
			best, at = s, i
		}
	}
	x := at % stat.Nx
	y := (at / stat.Nx) % stat.Ny
	z := at / (stat.Nx * stat.Ny)
	var w [3]float64
	w[0], w[1], w[2] = affine.Apply(stat.Affine, float64(x), float64(y), float64(z))
	return best, w
}

// CountAbove returns the number of voxels of the first frame of stat at or
// above threshold.
func CountAbove(stat *models.Volume, threshold float64) int {
	count := 0
	for _, s := range stat.Data[:stat.NumVoxels()] {
		if s >= threshold {
			count++
		}
	}
	return count
}
