// Package pipeline runs the single-subject preprocessing and statistics
// pipeline.
//
// The pipeline consists of these steps:
//  1. Validating the configuration before any work is done
//  2. Opening the subject cache under <output_dir>/cache_dir
//  3. Running the preprocessing stages through the Sequencer
//  4. Building the design matrix and the contrasts
//  5. Fitting the subject model and writing the contrast maps
//  6. Rendering the statistics report
//
// Independent invocations, for other configurations or other subjects, can
// be run concurrently with Sweep.
package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fmripipeline/internal/models"
	"fmripipeline/pkg/cache"
	"fmripipeline/pkg/config"
	"fmripipeline/pkg/nifti"
)

// CacheDirName is the cache directory below the subject output directory.
const CacheDirName = "cache_dir"

// Params holds everything one invocation needs.
type Params struct {
	// Config is the validated-on-run pipeline configuration, including the
	// subject
	Config *config.Config

	// Store reads and writes volumes; defaults to the NIfTI store
	Store models.VolumeStore

	// Stages overrides the preprocessing collaborators; defaults to
	// DefaultStages(Config)
	Stages *Stages

	// Logger receives progress; defaults to a no-op logger
	Logger *zap.Logger

	// RunID identifies the invocation; generated when empty
	RunID string
}

// Pipeline runs one subject with one configuration.
type Pipeline struct {
	cfg    *config.Config
	store  models.VolumeStore
	stages Stages
	log    *zap.Logger
	runID  string
	cache  *cache.Cache
}

// NewPipeline creates a pipeline from params, filling in defaults.
func NewPipeline(params *Params) *Pipeline {
	p := &Pipeline{
		cfg:   params.Config,
		store: params.Store,
		log:   params.Logger,
		runID: params.RunID,
	}
	if p.store == nil {
		p.store = nifti.NewStore()
	}
	if params.Stages != nil {
		p.stages = *params.Stages
	} else {
		p.stages = DefaultStages(p.cfg)
	}
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	p.log = p.log.With(zap.String("run_id", p.runID), zap.String("subject", p.cfg.Subject.ID))
	return p
}

// RunID returns the invocation identifier.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Cache returns the subject cache once Process has opened it.
func (p *Pipeline) Cache() *cache.Cache {
	return p.cache
}

// Process runs the complete pipeline. The returned output is non-nil
// whenever preprocessing started, even on failure.
func (p *Pipeline) Process() (*Output, error) {
	// Step 1: validate the configuration
	if err := p.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	p.log.Info("starting pipeline", zap.String("config", p.cfg.Fingerprint()))

	// Step 2: open the subject cache
	c, err := cache.New(filepath.Join(p.cfg.Subject.OutputDir, CacheDirName), p.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	p.cache = c

	// Step 3: preprocessing
	seq := NewSequencer(c, p.store, p.stages, p.cfg, p.log)
	out, err := seq.Run()
	out.RunID = p.runID
	if err != nil {
		return out, err
	}

	// Steps 4 to 6: statistics and report
	out.Stats, err = p.statistics(out)
	if err != nil {
		return out, err
	}

	totals := c.Totals()
	p.log.Info("pipeline done",
		zap.Strings("stages", out.StagesRun),
		zap.Int("cache_hits", totals.Hits),
		zap.Int("cache_misses", totals.Misses),
		zap.Int("contrast_failures", len(out.Stats.ContrastErrors)))
	return out, nil
}
