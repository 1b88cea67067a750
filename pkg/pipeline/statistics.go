package pipeline

import (
	"fmt"
	"math"
	"path/filepath"

	"go.uber.org/zap"

	"fmripipeline/pkg/contrast"
	"fmripipeline/pkg/design"
	"fmripipeline/pkg/glm"
	"fmripipeline/pkg/realign"
	"fmripipeline/pkg/report"
	"fmripipeline/pkg/stats"
	"fmripipeline/pkg/visualization"
)

// File names inside the stats directory.
const (
	DesignMatrixFile = "design_matrix.png"
	MaskFile         = "mask.nii.gz"
	ReportFile       = "report_stats.html"
	MotionChartFile  = "motion_parameters.html"
)

// ReportZThreshold is the z value above which voxels are drawn and counted
// in the report.
const ReportZThreshold = 3.0

// motionNames label the motion nuisance columns.
var motionNames = []string{"motion_tx", "motion_ty", "motion_tz", "motion_rx", "motion_ry", "motion_rz"}

// StatsOutput describes the statistics written for a subject.
type StatsOutput struct {
	// Dir is <output_dir>/<stats basename>
	Dir string

	// TR and NScans describe the analysed run
	TR     float64
	NScans int

	// DesignMatrix is the rendered design matrix image
	DesignMatrix string

	// Columns names the design matrix columns
	Columns []string

	// Mask is the saved analysis mask
	Mask string

	// Contrasts are the extracted contrasts
	Contrasts []contrast.Contrast

	// Maps maps contrast name and map type to the written file
	Maps map[string]map[stats.MapType]string

	// ContrastErrors lists contrasts that could not be fully written
	ContrastErrors []*stats.ContrastError

	// PeakZ is the largest z of the report contrast; NaN when unavailable
	PeakZ float64

	// Report and MotionChart are the rendered report files
	Report      string
	MotionChart string
}

// statistics builds the design, fits the model on the first run, writes
// the contrast maps and renders the report.
func (p *Pipeline) statistics(out *Output) (*StatsOutput, error) {
	cfg := p.cfg.Stats
	so := &StatsOutput{
		Dir:   filepath.Join(p.cfg.Subject.OutputDir, cfg.OutputDirBasename),
		PeakZ: math.NaN(),
	}
	log := p.log.With(zap.String("stats_dir", so.Dir))

	data, err := p.store.LoadSet(out.Func[0])
	if err != nil {
		return so, fmt.Errorf("%w: loading functional data: %w", ErrIO, err)
	}
	tr := cfg.TR
	if tr <= 0 {
		tr = data.TR
	}
	if tr <= 0 {
		return so, fmt.Errorf("%w: repetition time is neither configured nor stored in %s", ErrConfig, out.Func[0][0])
	}
	so.TR, so.NScans = tr, data.Nt

	// Step 4: design matrix and contrasts
	block := float64(cfg.BlockDuration) * tr
	paradigm := design.BlockParadigm(cfg.Conditions, block)
	if span, length := paradigm.Span(), float64(data.Nt)*tr; math.Abs(span-length) > 1e-6*length {
		return so, fmt.Errorf("%w: paradigm spans %g s but the run lasts %g s (%d scans)", ErrConfig, span, length, data.Nt)
	}
	drift, _ := design.ParseDriftModel(cfg.DriftModel)
	hrf, _ := design.ParseHRFModel(cfg.HRFModel)
	spec := design.Spec{
		TR:         tr,
		NScans:     data.Nt,
		Paradigm:   paradigm,
		HRF:        hrf,
		Drift:      drift,
		DriftOrder: cfg.DriftOrder,
		HFCut:      design.HFCutForBlocks(block),
	}
	if len(out.MotionRegressors) > 0 {
		spec.Nuisance = out.MotionRegressors
		spec.NuisanceNames = motionNames
	}
	dm, err := design.Build(spec)
	if err != nil {
		return so, fmt.Errorf("%w: design matrix: %w", ErrConfig, err)
	}
	so.Columns = dm.Names

	so.DesignMatrix = filepath.Join(so.Dir, DesignMatrixFile)
	if err := dm.SavePlot(so.DesignMatrix); err != nil {
		return so, fmt.Errorf("%w: %w", ErrIO, err)
	}

	set, err := contrast.Build(dm, cfg.CompoundContrasts)
	if err == nil {
		set, err = set.Select(cfg.Contrasts)
	}
	if err == nil {
		err = set.Validate(dm.Columns())
	}
	if err != nil {
		return so, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	so.Contrasts = set.All()
	log.Info("design ready", zap.Int("columns", dm.Columns()), zap.Strings("contrasts", set.Names()))

	// Step 5: model fit and contrast maps
	model, err := glm.Fit(data, dm.X, glm.DefaultOptions())
	if err != nil {
		return so, fmt.Errorf("model fit: %w", err)
	}
	if so.Mask, err = p.store.SaveVolume(model.Mask(), so.Dir, MaskFile); err != nil {
		return so, fmt.Errorf("%w: saving mask: %w", ErrIO, err)
	}

	res, err := stats.NewExtractor(p.store, so.Dir, log).Extract(model, so.Contrasts, cfg.ReportContrast)
	if err != nil {
		return so, fmt.Errorf("%w: %w", ErrIO, err)
	}
	so.Maps = res.Paths
	so.ContrastErrors = res.Errors

	// Step 6: report
	if err := p.writeReport(out, so, dm, paradigm, res); err != nil {
		return so, fmt.Errorf("%w: report: %w", ErrIO, err)
	}
	return so, nil
}

func (p *Pipeline) writeReport(out *Output, so *StatsOutput, dm *design.Matrix, paradigm design.Paradigm, res *stats.Result) error {
	cfg := p.cfg.Stats
	d := report.Data{
		SubjectID:        out.Subject,
		Config:           p.cfg.Fingerprint(),
		TR:               so.TR,
		NScans:           so.NScans,
		HFCut:            design.HFCutForBlocks(float64(cfg.BlockDuration) * so.TR),
		DriftModel:       cfg.DriftModel,
		HRFModel:         cfg.HRFModel,
		Paradigm:         paradigm,
		Columns:          dm.Names,
		Contrasts:        so.Contrasts,
		DesignMatrix:     so.DesignMatrix,
		Mask:             so.Mask,
		ZThreshold:       ReportZThreshold,
		ClusterThreshold: cfg.ClusterThreshold,
	}
	for _, e := range res.Errors {
		d.Failures = append(d.Failures, e.Error())
	}

	if res.Retained != nil {
		anat, err := p.store.Load(out.Anat)
		if err != nil {
			return err
		}
		viewer, err := visualization.NewViewer(anat)
		if err != nil {
			return err
		}
		if err := viewer.SetOverlay(res.Retained, ReportZThreshold); err != nil {
			return err
		}
		peak, center := visualization.Peak(res.Retained)
		images, err := viewer.SaveOrthogonal(center, so.Dir, "zmap_"+cfg.ReportContrast)
		if err != nil {
			return err
		}
		so.PeakZ = peak
		d.Overlays = append(d.Overlays, report.Overlay{
			Contrast:       cfg.ReportContrast,
			Images:         images,
			PeakZ:          peak,
			Suprathreshold: visualization.CountAbove(res.Retained, ReportZThreshold),
		})
	}

	if len(out.RealignmentParameters) > 0 {
		params := out.MotionRegressors
		if params == nil {
			var err error
			if params, err = realign.ReadParameters(out.RealignmentParameters[0]); err != nil {
				return err
			}
		}
		so.MotionChart = filepath.Join(so.Dir, MotionChartFile)
		if err := report.WriteMotionChart(so.MotionChart, out.Subject, params); err != nil {
			return err
		}
		d.MotionChart = so.MotionChart
	}

	so.Report = filepath.Join(so.Dir, ReportFile)
	if err := report.WriteStats(so.Report, d); err != nil {
		return fmt.Errorf("writing %s: %w", so.Report, err)
	}
	return nil
}
