package config

import (
	"errors"
	"fmt"
	"strings"

	"fmripipeline/pkg/contrast"
	"fmripipeline/pkg/design"
)

// ValidationError reports one invalid or missing option.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// Validate checks every recognized option and reports all problems at
// once. It runs before any stage so configuration errors never leave
// partial work behind.
func (c *Config) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if err := c.Subject.Validate(); err != nil {
		fail("subject", "%v", err)
	}

	switch c.SliceTiming.SliceOrder {
	case "ascending", "descending":
	default:
		fail("slice_timing.slice_order", "must be ascending or descending, got %q", c.SliceTiming.SliceOrder)
	}
	if c.SliceTiming.RefSlice < 0 {
		fail("slice_timing.ref_slice", "must be non-negative, got %d", c.SliceTiming.RefSlice)
	}

	if c.MotionCorrection.Sessions < 1 {
		fail("motion_correction.n_sessions", "must be at least 1, got %d", c.MotionCorrection.Sessions)
	}
	if c.MotionCorrection.Enabled && c.MotionCorrection.Sessions > len(c.Subject.Func) && len(c.Subject.Func) > 0 {
		fail("motion_correction.n_sessions", "%d sessions but only %d functional runs", c.MotionCorrection.Sessions, len(c.Subject.Func))
	}

	if c.Smoothing.Enabled() {
		if len(c.Smoothing.FWHM) != 3 {
			fail("smoothing.fwhm", "must have 3 components, got %d", len(c.Smoothing.FWHM))
		}
		for i, f := range c.Smoothing.FWHM {
			if f <= 0 {
				fail("smoothing.fwhm", "component %d must be positive, got %g", i, f)
			}
		}
	}

	errs = append(errs, c.validateStats()...)

	if c.Execution.Workers < 1 {
		fail("execution.workers", "must be at least 1, got %d", c.Execution.Workers)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		fail("logging.level", "must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	return errors.Join(errs...)
}

func (c *Config) validateStats() []error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}
	s := c.Stats

	if s.OutputDirBasename == "" || strings.ContainsAny(s.OutputDirBasename, `/\`) {
		fail("stats.output_dir_basename", "must be a plain directory name, got %q", s.OutputDirBasename)
	}
	if s.TR < 0 {
		fail("stats.tr", "must be non-negative, got %g", s.TR)
	}
	if s.BlockDuration < 1 {
		fail("stats.block_duration", "must be at least 1 scan, got %d", s.BlockDuration)
	}
	if len(s.Conditions) == 0 {
		fail("stats.conditions", "at least one condition is required")
	}
	for i, cond := range s.Conditions {
		if !contrast.ValidName(cond) {
			fail("stats.conditions", "condition %d has invalid name %q", i, cond)
		}
	}
	if _, err := design.ParseDriftModel(s.DriftModel); err != nil {
		fail("stats.drift_model", "%v", err)
	}
	if s.DriftOrder < 0 {
		fail("stats.drift_order", "must be non-negative, got %d", s.DriftOrder)
	}
	if _, err := design.ParseHRFModel(s.HRFModel); err != nil {
		fail("stats.hrf_model", "%v", err)
	}
	if s.ClusterThreshold < 0 {
		fail("stats.cluster_threshold", "must be non-negative, got %d", s.ClusterThreshold)
	}

	// Contrast names resolve against conditions and earlier compounds. A
	// compound is named by its trimmed expression.
	known := make(map[string]bool)
	for _, cond := range s.Conditions {
		known[cond] = true
	}
	for _, expr := range s.CompoundContrasts {
		terms, err := contrast.ParseExpression(expr)
		if err != nil {
			fail("stats.compound_contrasts", "%v", err)
			continue
		}
		for _, t := range terms {
			if !known[t.Name] {
				fail("stats.compound_contrasts", "%q refers to unknown contrast %q", expr, t.Name)
			}
		}
		name := strings.TrimSpace(expr)
		if known[name] {
			fail("stats.compound_contrasts", "contrast %q is defined twice", name)
		}
		known[name] = true
	}
	for _, name := range s.Contrasts {
		if !known[name] {
			fail("stats.contrasts", "unknown contrast %q", name)
		}
	}
	if s.ReportContrast != "" {
		if !known[s.ReportContrast] {
			fail("stats.report_contrast", "unknown contrast %q", s.ReportContrast)
		} else if len(s.Contrasts) > 0 && !contains(s.Contrasts, s.ReportContrast) {
			fail("stats.report_contrast", "%q is not among the requested contrasts", s.ReportContrast)
		}
	}
	return errs
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
