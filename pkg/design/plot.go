package design

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// heatGrid exposes the design matrix to plotter.HeatMap with every column
// scaled by its largest absolute value.
type heatGrid struct {
	m     *Matrix
	scale []float64
}

func newHeatGrid(m *Matrix) heatGrid {
	scale := make([]float64, m.Columns())
	for j := range scale {
		scale[j] = m.MaxAbs(j)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	return heatGrid{m: m, scale: scale}
}

func (g heatGrid) Dims() (c, r int)   { return g.m.Columns(), g.m.Rows() }
func (g heatGrid) X(c int) float64    { return float64(c) }
func (g heatGrid) Y(r int) float64    { return float64(r) }
func (g heatGrid) Z(c, r int) float64 { return g.m.X.At(r, c) / g.scale[c] }

// SavePlot renders the design matrix as an image. The format follows the
// file extension (.png, .svg, .pdf).
func (m *Matrix) SavePlot(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating design matrix directory: %w", err)
	}

	p := plot.New()
	p.Title.Text = "Design matrix"
	p.Y.Label.Text = "scan"

	h := plotter.NewHeatMap(newHeatGrid(m), palette.Heat(64, 1))
	h.Min, h.Max = -1, 1
	p.Add(h)

	ticks := make([]plot.Tick, m.Columns())
	for j, name := range m.Names {
		ticks[j] = plot.Tick{Value: float64(j), Label: name}
	}
	p.X.Tick.Marker = plot.ConstantTicks(ticks)
	p.X.Tick.Label.Rotation = math.Pi / 2
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter

	width := vg.Length(math.Max(4, 0.35*float64(m.Columns()))) * vg.Inch
	if err := p.Save(width, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("saving design matrix plot: %w", err)
	}
	return nil
}
