package pipeline

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"fmripipeline/internal/models"
	"fmripipeline/pkg/affine"
	"fmripipeline/pkg/cache"
	"fmripipeline/pkg/config"
	"fmripipeline/pkg/nifti"
	"fmripipeline/pkg/realign"
)

// coregPrefix is prepended to the basename of the coregistered anatomical
// volume.
const coregPrefix = "c"

// Output is the bundle produced by one pipeline invocation. Fields are
// filled according to which stages ran.
type Output struct {
	// RunID identifies the invocation in logs and the run ledger
	RunID string

	// Subject is the subject identifier
	Subject string

	// State is the last state reached by the sequencer
	State State

	// StagesRun lists the stages that were enabled, in order
	StagesRun []string

	// Func holds the functional runs produced by the last enabled stage, or
	// the input runs when no stage touched them
	Func []models.VolumeSet

	// Anat references the anatomical volume, coregistered when that stage ran
	Anat string

	// CoregistrationParams is the estimated rigid-body parameter vector
	CoregistrationParams []float64

	// RealignmentParameters holds one parameter file per run when motion
	// correction ran
	RealignmentParameters []string

	// MotionRegressors holds the realignment parameters of the analysed run,
	// one row per scan, when motion regressors were requested and available
	MotionRegressors [][]float64

	// MotionRegressorsOmitted is set when motion regressors were requested
	// but motion correction did not run
	MotionRegressorsOmitted bool

	// Stats describes the statistics outputs
	Stats *StatsOutput
}

// coregResult is the cached outcome of applying a coregistration estimate.
type coregResult struct {
	Anat   string
	Params []float64
}

func (r coregResult) Artifacts() []string { return []string{r.Anat} }

// Sequencer drives the preprocessing state machine: slice-timing
// correction, coregistration, motion correction and smoothing, in that
// order. Disabled stages pass their input through unchanged. Every stage
// runs as two cached steps, so a rerun recomputes only the stages whose
// parameters or inputs changed.
type Sequencer struct {
	cache  *cache.Cache
	store  models.VolumeStore
	stages Stages
	cfg    *config.Config
	log    *zap.Logger

	state     State
	reference map[string]*models.Volume
}

// NewSequencer returns a sequencer in the Raw state.
func NewSequencer(c *cache.Cache, store models.VolumeStore, stages Stages, cfg *config.Config, log *zap.Logger) *Sequencer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sequencer{
		cache:     c,
		store:     store,
		stages:    stages,
		cfg:       cfg,
		log:       log,
		state:     Raw,
		reference: make(map[string]*models.Volume),
	}
}

// State returns the current state.
func (s *Sequencer) State() State {
	return s.state
}

// Run executes every stage. On failure the sequencer enters Failed, the
// remaining stages are not attempted and the partial output is returned
// with the error.
func (s *Sequencer) Run() (*Output, error) {
	subj := s.cfg.Subject
	out := &Output{
		Subject: subj.ID,
		Func:    subj.Func,
		Anat:    subj.Anat,
	}

	for !s.state.Terminal() {
		stage, next, _ := s.state.Next()
		log := s.log.With(zap.String("stage", stage), zap.Stringer("state", s.state))
		if !s.enabled(stage) {
			if stage == "coregistration" {
				log.Warn("coregistration disabled; the report overlays statistics on the uncoregistered anatomical volume")
			}
			log.Info("stage skipped")
			s.state = next
			continue
		}

		before := s.cache.Totals()
		if err := s.run(stage, out); err != nil {
			log.Error("stage failed", zap.Error(err))
			s.state = Failed
			out.State = s.state
			return out, err
		}
		after := s.cache.Totals()
		log.Info("stage done",
			zap.Int("cache_hits", after.Hits-before.Hits),
			zap.Int("cache_misses", after.Misses-before.Misses))
		out.StagesRun = append(out.StagesRun, stage)
		s.state = next
	}
	out.State = s.state

	if s.cfg.MotionCorrection.RegressMotion {
		if len(out.RealignmentParameters) == 0 {
			s.log.Warn("motion regressors requested but motion correction did not run; continuing without them")
			out.MotionRegressorsOmitted = true
			return out, nil
		}
		rows, err := realign.ReadParameters(out.RealignmentParameters[0])
		if err != nil {
			return out, fmt.Errorf("%w: loading motion regressors: %w", ErrIO, err)
		}
		out.MotionRegressors = rows
	}
	return out, nil
}

func (s *Sequencer) enabled(stage string) bool {
	switch stage {
	case "slice_timing":
		return s.cfg.SliceTiming.Enabled
	case "coregistration":
		return s.cfg.Coregistration.Enabled
	case "motion_correction":
		return s.cfg.MotionCorrection.Enabled
	case "smoothing":
		return s.cfg.Smoothing.Enabled()
	}
	return false
}

func (s *Sequencer) run(stage string, out *Output) error {
	switch stage {
	case "slice_timing":
		o, err := runStage(s, stage, s.stages.SliceTiming, out.Func)
		if err != nil {
			return err
		}
		out.Func = o.Func
	case "coregistration":
		return s.coregister(stage, out)
	case "motion_correction":
		o, err := runStage(s, stage, s.stages.MotionCorrection, out.Func)
		if err != nil {
			return err
		}
		out.Func = o.Func
		out.RealignmentParameters = o.RealignmentParameters
	case "smoothing":
		o, err := runStage(s, stage, s.stages.Smoothing, out.Func)
		if err != nil {
			return err
		}
		out.Func = o.Func
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
	return nil
}

// runStage caches the fit and transform steps of st. The transform key
// includes the fitted estimate, so a changed estimate invalidates it.
func runStage[F any](s *Sequencer, stage string, st Stage[F], runs []models.VolumeSet) (models.StageOutput, error) {
	inputs := flatten(runs)
	fitted, err := cache.Do(s.cache, cache.Call{
		Stage:   stage,
		Step:    "fit",
		Version: st.Version(),
		Params:  st.Config(),
		Inputs:  inputs,
	}, func(cache.Key) (F, error) {
		return st.Fit(s.store, runs)
	})
	if err != nil {
		return models.StageOutput{}, classify(stage, "fit", s.state, err)
	}

	out, err := cache.Do(s.cache, cache.Call{
		Stage:    stage,
		Step:     "transform",
		Version:  st.Version(),
		Params:   st.Config(),
		Inputs:   inputs,
		Upstream: fitted,
	}, func(key cache.Key) (models.StageOutput, error) {
		return st.Transform(s.store, fitted, runs, s.stageDir(stage, key))
	})
	if err != nil {
		return models.StageOutput{}, classify(stage, "transform", s.state, err)
	}
	return out, nil
}

// coregister estimates the anatomical-to-functional transform against the
// first volume of the first current run and writes a copy of the anatomical volume
// carrying the composed affine.
func (s *Sequencer) coregister(stage string, out *Output) error {
	est := s.stages.Coregistration
	anatRef := s.cfg.Subject.Anat
	ref := out.Func[0][0]
	inputs := []string{anatRef, ref}

	q, err := cache.Do(s.cache, cache.Call{
		Stage:   stage,
		Step:    "estimate",
		Version: est.Version(),
		Inputs:  inputs,
	}, func(cache.Key) ([]float64, error) {
		anat, fixed, err := s.coregInputs(anatRef, ref)
		if err != nil {
			return nil, err
		}
		return est.Estimate(anat, fixed)
	})
	if err != nil {
		return classify(stage, "estimate", s.state, err)
	}

	res, err := cache.Do(s.cache, cache.Call{
		Stage:    stage,
		Step:     "apply",
		Version:  est.Version(),
		Inputs:   inputs,
		Upstream: q,
	}, func(key cache.Key) (coregResult, error) {
		anat, fixed, err := s.coregInputs(anatRef, ref)
		if err != nil {
			return coregResult{}, err
		}
		moved, err := affine.Coregister(anat, fixed, q)
		if err != nil {
			return coregResult{}, err
		}
		path, err := s.store.SaveVolume(moved, s.stageDir(stage, key), coregPrefix+nifti.Basename(anatRef))
		if err != nil {
			return coregResult{}, err
		}
		return coregResult{Anat: path, Params: q}, nil
	})
	if err != nil {
		return classify(stage, "apply", s.state, err)
	}
	out.Anat = res.Anat
	out.CoregistrationParams = res.Params
	return nil
}

// coregInputs loads the anatomical volume and the coregistration target:
// volume 0 of the file ref.
func (s *Sequencer) coregInputs(anatRef, ref string) (*models.Volume, *models.Volume, error) {
	anat, err := s.store.Load(anatRef)
	if err != nil {
		return nil, nil, err
	}
	fixed, ok := s.reference[ref]
	if !ok {
		vol, err := s.store.Load(ref)
		if err != nil {
			return nil, nil, err
		}
		if fixed, err = vol.Frame(0); err != nil {
			return nil, nil, err
		}
		s.reference[ref] = fixed
	}
	return anat, fixed, nil
}

// stageDir is where a stage step writes its files. The key prefix keeps
// outputs of different configurations apart.
func (s *Sequencer) stageDir(stage string, key cache.Key) string {
	return filepath.Join(s.cfg.Subject.OutputDir, stage, key.Short())
}

func flatten(runs []models.VolumeSet) []string {
	var files []string
	for _, run := range runs {
		files = append(files, run...)
	}
	return files
}
