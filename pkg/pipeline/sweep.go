package pipeline

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fmripipeline/pkg/cache"
	"fmripipeline/pkg/config"
)

// Job is one independent pipeline invocation.
type Job struct {
	// Label names the job in logs and results
	Label string

	// Config holds the subject and the processing options
	Config *config.Config

	// Stages overrides the default collaborators when set
	Stages *Stages
}

// Result is the outcome of one job.
type Result struct {
	Job      Job
	RunID    string
	Output   *Output
	Err      error
	Started  time.Time
	Duration time.Duration

	// Cache holds the lookups of the invocation; zero when the cache was
	// never opened
	Cache cache.Counter
}

// Sweep runs jobs with at most workers invocations in flight. Each
// invocation is sequential internally. A failed job never stops the
// others; every result carries its own error. Results are returned in job
// order.
func Sweep(jobs []Job, workers int, log *zap.Logger) []Result {
	if log == nil {
		log = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}

	results := make([]Result, len(jobs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, job := range jobs {
		g.Go(func() error {
			p := NewPipeline(&Params{
				Config: job.Config,
				Stages: job.Stages,
				Logger: log.With(zap.String("job", job.Label)),
			})
			start := time.Now()
			out, err := p.Process()
			results[i] = Result{
				Job:      job,
				RunID:    p.RunID(),
				Output:   out,
				Err:      err,
				Started:  start,
				Duration: time.Since(start),
			}
			if c := p.Cache(); c != nil {
				results[i].Cache = c.Totals()
			}
			if err != nil {
				log.Error("job failed", zap.String("job", job.Label), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
