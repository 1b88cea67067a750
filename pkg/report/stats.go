// Package report renders the subject-level statistics report and the
// motion-parameter chart.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"fmripipeline/pkg/contrast"
	"fmripipeline/pkg/design"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Overlay is the set of slice images of one contrast z-map.
type Overlay struct {
	Contrast string
	Images   []string

	// PeakZ is the largest z value and Suprathreshold the number of voxels
	// at or above ZThreshold
	PeakZ          float64
	Suprathreshold int
}

// Data is everything shown in the statistics report. Paths may be
// absolute; they are written relative to the report. The report holds no
// run id or timestamp, so an unchanged configuration renders the same bytes.
type Data struct {
	SubjectID string

	// Config is the fingerprint of the processing options
	Config string

	TR         float64
	NScans     int
	HFCut      float64
	DriftModel string
	HRFModel   string
	Paradigm   design.Paradigm
	Columns    []string

	Contrasts        []contrast.Contrast
	DesignMatrix     string
	Mask             string
	Overlays         []Overlay
	ZThreshold       float64
	ClusterThreshold int

	MotionChart string

	// Failures lists per-contrast extraction errors
	Failures []string
}

// WriteStats renders the report as HTML at path.
func WriteStats(path string, d Data) error {
	dir := filepath.Dir(path)
	rel := func(p string) string {
		if r, err := filepath.Rel(dir, p); err == nil {
			return filepath.ToSlash(r)
		}
		return p
	}

	var md strings.Builder
	fmt.Fprintf(&md, "# Statistics report: %s\n\n", d.SubjectID)
	if d.Config != "" {
		fmt.Fprintf(&md, "Configuration `%s`\n\n", d.Config)
	}

	md.WriteString("## Acquisition\n\n| parameter | value |\n|---|---|\n")
	fmt.Fprintf(&md, "| TR | %g s |\n", d.TR)
	fmt.Fprintf(&md, "| scans | %d |\n", d.NScans)
	fmt.Fprintf(&md, "| high-pass cutoff | %g s |\n", d.HFCut)
	fmt.Fprintf(&md, "| drift model | %s |\n", d.DriftModel)
	fmt.Fprintf(&md, "| HRF model | %s |\n\n", d.HRFModel)

	md.WriteString("## Paradigm\n\n| condition | onset (s) | duration (s) |\n|---|---|---|\n")
	for i := range d.Paradigm.Conditions {
		fmt.Fprintf(&md, "| %s | %g | %g |\n", d.Paradigm.Conditions[i], d.Paradigm.Onsets[i], d.Paradigm.Durations[i])
	}
	md.WriteString("\n")

	if d.DesignMatrix != "" {
		fmt.Fprintf(&md, "## Design matrix\n\n![design matrix](%s)\n\n", rel(d.DesignMatrix))
	}

	if len(d.Contrasts) > 0 {
		md.WriteString("## Contrasts\n\n| contrast |")
		for _, c := range d.Columns {
			fmt.Fprintf(&md, " %s |", c)
		}
		md.WriteString("\n|---|" + strings.Repeat("---|", len(d.Columns)) + "\n")
		for _, c := range d.Contrasts {
			fmt.Fprintf(&md, "| %s |", c.Name)
			for _, w := range c.Vector {
				fmt.Fprintf(&md, " %g |", w)
			}
			md.WriteString("\n")
		}
		md.WriteString("\n")
	}

	for _, o := range d.Overlays {
		fmt.Fprintf(&md, "## %s\n\n", o.Contrast)
		fmt.Fprintf(&md, "Peak z = %.2f. %d voxels at z >= %g", o.PeakZ, o.Suprathreshold, d.ZThreshold)
		if o.Suprathreshold >= d.ClusterThreshold {
			fmt.Fprintf(&md, " (at least the %d voxel cluster threshold).\n\n", d.ClusterThreshold)
		} else {
			fmt.Fprintf(&md, " (below the %d voxel cluster threshold).\n\n", d.ClusterThreshold)
		}
		for _, img := range o.Images {
			fmt.Fprintf(&md, "![%s](%s) ", o.Contrast, rel(img))
		}
		md.WriteString("\n\n")
	}

	if d.Mask != "" {
		fmt.Fprintf(&md, "Analysis mask: [%s](%s)\n\n", filepath.Base(d.Mask), rel(d.Mask))
	}
	if d.MotionChart != "" {
		fmt.Fprintf(&md, "Motion parameters: [%s](%s)\n\n", filepath.Base(d.MotionChart), rel(d.MotionChart))
	}
	if len(d.Failures) > 0 {
		md.WriteString("## Failed contrasts\n\n")
		for _, f := range d.Failures {
			fmt.Fprintf(&md, "- %s\n", f)
		}
	}

	var body bytes.Buffer
	if err := markdown.Convert([]byte(md.String()), &body); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>Statistics report: %s</title>\n", d.SubjectID)
	page.WriteString("<style>body{font-family:sans-serif;max-width:1100px;margin:auto}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:2px 6px}img{max-width:32%}</style>\n")
	page.WriteString("</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	return os.WriteFile(path, page.Bytes(), 0644)
}
