package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fmripipeline/pkg/config"
	"fmripipeline/pkg/ledger"
	"fmripipeline/pkg/pipeline"
)

var (
	configPath string
	verbose    bool
	workers    int
	fwhm       []float64
	subject    string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "fmripipeline",
	Short: "Single-subject fMRI preprocessing and block-design statistics",
	Long: `fmripipeline preprocesses one subject's functional runs (slice-timing
correction, coregistration, motion correction, smoothing), fits a
block-design model and writes z, t, effect and variance maps per contrast.

Stage results are cached under <output_dir>/cache_dir, so rerunning with a
changed option only recomputes the stages it affects.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init-config" {
			return nil
		}
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg.Logging)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once with the loaded configuration",
	Args:  cobra.NoArgs,
	RunE:  runPipeline,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run every preprocessing variant of the configuration concurrently",
	Long: `sweep runs the twelve combinations of slice-timing correction, motion
correction (with and without motion regressors) and smoothing. Each variant
writes its statistics to its own directory named after its label.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

var initCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write a default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.CreateDefaultConfigFile(path); err != nil {
			return err
		}
		fmt.Printf("Default configuration written to %s\n", path)
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List the runs recorded in the ledger",
	Args:  cobra.NoArgs,
	RunE:  listRuns,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	sweepCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent invocations (default: execution.workers)")
	sweepCmd.Flags().Float64SliceVar(&fwhm, "fwhm", nil, "Smoothing kernel of the smoothed variants in mm (default: smoothing.fwhm or 5,5,5)")

	runsCmd.Flags().StringVar(&subject, "subject", "", "Only list runs of this subject")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zc.Level = level
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return l, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	p := pipeline.NewPipeline(&pipeline.Params{Config: cfg, Logger: logger})
	start := time.Now()
	out, err := p.Process()
	res := pipeline.Result{
		Job:      pipeline.Job{Label: cfg.Stats.OutputDirBasename, Config: cfg},
		RunID:    p.RunID(),
		Output:   out,
		Err:      err,
		Started:  start,
		Duration: time.Since(start),
	}
	if c := p.Cache(); c != nil {
		res.Cache = c.Totals()
	}
	if lerr := record(res); lerr != nil {
		logger.Warn("failed to record run", zap.Error(lerr))
	}
	if err != nil {
		return err
	}

	so := out.Stats
	fmt.Printf("\nSubject %s processed in %.2f seconds (run %s)\n", out.Subject, res.Duration.Seconds(), res.RunID)
	fmt.Printf("Stages run: %v\n", out.StagesRun)
	fmt.Printf("Design matrix: %d columns, %d scans, TR %.2f s\n", len(so.Columns), so.NScans, so.TR)
	fmt.Printf("Statistics written to: %s\n", so.Dir)
	fmt.Printf("Report: %s\n", so.Report)
	if len(so.ContrastErrors) > 0 {
		fmt.Printf("\n%d contrast(s) could not be fully written:\n", len(so.ContrastErrors))
		for _, e := range so.ContrastErrors {
			fmt.Printf("- %v\n", e)
		}
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	n := workers
	if n < 1 {
		n = cfg.Execution.Workers
	}
	var jobs []pipeline.Job
	for _, v := range cfg.Sweep(fwhm) {
		jobs = append(jobs, pipeline.Job{Label: v.Label, Config: v.Config})
	}
	logger.Info("starting sweep", zap.Int("variants", len(jobs)), zap.Int("workers", n))

	results := pipeline.Sweep(jobs, n, logger)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tSTATE\tSECONDS\tRESULT")
	var failed int
	for _, r := range results {
		state, status := "-", "ok"
		if r.Output != nil {
			state = r.Output.State.String()
		}
		if r.Err != nil {
			failed++
			status = r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%s\n", r.Job.Label, state, r.Duration.Seconds(), status)
		if err := record(r); err != nil {
			logger.Warn("failed to record run", zap.String("job", r.Job.Label), zap.Error(err))
		}
	}
	w.Flush()

	if failed > 0 {
		return fmt.Errorf("%d of %d variants failed", failed, len(results))
	}
	return nil
}

// record stores r in the ledger when one is configured.
func record(r pipeline.Result) error {
	if cfg.Execution.LedgerPath == "" {
		return nil
	}
	l, err := ledger.Open(cfg.Execution.LedgerPath)
	if err != nil {
		return err
	}
	defer l.Close()

	run := ledger.Run{
		RunID:       r.RunID,
		Subject:     r.Job.Config.Subject.ID,
		Label:       r.Job.Label,
		Fingerprint: r.Job.Config.Fingerprint(),
		State:       pipeline.Raw.String(),
		CacheHits:   r.Cache.Hits,
		CacheMisses: r.Cache.Misses,
		Started:     r.Started,
		Duration:    r.Duration,
	}
	if r.Output != nil {
		run.State = r.Output.State.String()
		if r.Output.Stats != nil {
			run.StatsDir = r.Output.Stats.Dir
		}
	}
	if r.Err != nil {
		run.Error = r.Err.Error()
	}
	return l.Record(run)
}

func listRuns(cmd *cobra.Command, args []string) error {
	if cfg.Execution.LedgerPath == "" {
		return errors.New("execution.ledger_path is not configured")
	}
	l, err := ledger.Open(cfg.Execution.LedgerPath)
	if err != nil {
		return err
	}
	defer l.Close()

	runs, err := l.Runs(subject)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tRUN\tSUBJECT\tLABEL\tCONFIG\tSTATE\tSECONDS\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.1f\t%s\n",
			r.Started.Format(time.RFC3339), r.RunID, r.Subject, r.Label, r.Fingerprint, r.State, r.Duration.Seconds(), r.Error)
	}
	return w.Flush()
}
