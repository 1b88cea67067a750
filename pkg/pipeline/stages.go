package pipeline

import (
	"fmripipeline/internal/models"
	"fmripipeline/pkg/config"
	"fmripipeline/pkg/coreg"
	"fmripipeline/pkg/realign"
	"fmripipeline/pkg/slicetiming"
	"fmripipeline/pkg/smooth"
)

// Stage is a preprocessing collaborator. Fit estimates the stage from the
// current runs and Transform applies the estimate, writing new files into
// outDir. Both must be deterministic in their explicit arguments, and F
// must be CBOR-serializable so both steps can be cached.
type Stage[F any] interface {
	// Version changes whenever the stage changes its results
	Version() string

	// Config returns the parameters identifying the stage configuration
	Config() any

	Fit(store models.VolumeStore, runs []models.VolumeSet) (F, error)
	Transform(store models.VolumeStore, fitted F, runs []models.VolumeSet, outDir string) (models.StageOutput, error)
}

// Estimator is the coregistration collaborator. It returns a rigid-body
// parameter vector aligning moving to fixed.
type Estimator interface {
	Version() string
	Estimate(moving, fixed *models.Volume) ([]float64, error)
}

// Stages holds the collaborators of one pipeline.
type Stages struct {
	SliceTiming      Stage[slicetiming.Fitted]
	Coregistration   Estimator
	MotionCorrection Stage[realign.Fitted]
	Smoothing        Stage[smooth.Fitted]
}

// DefaultStages returns the reference collaborators configured from cfg.
func DefaultStages(cfg *config.Config) Stages {
	var fwhm [3]float64
	copy(fwhm[:], cfg.Smoothing.FWHM)
	return Stages{
		SliceTiming: slicetiming.New(slicetiming.Params{
			Order:       cfg.SliceTiming.SliceOrder,
			Interleaved: cfg.SliceTiming.Interleaved,
			RefSlice:    cfg.SliceTiming.RefSlice,
			TR:          cfg.Stats.TR,
		}),
		Coregistration:   coreg.New(),
		MotionCorrection: realign.New(realign.Params{Sessions: cfg.MotionCorrection.Sessions}),
		Smoothing:        smooth.New(smooth.Params{FWHM: fwhm}),
	}
}
