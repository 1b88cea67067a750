package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fmripipeline/internal/models"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Subject = models.SubjectData{
		ID:        "sub001",
		Func:      []models.VolumeSet{{"bold.nii.gz"}},
		Anat:      "anat.nii.gz",
		OutputDir: "out",
	}
	return cfg
}

func TestDefaultConfigIsValidOnceSubjectIsSet(t *testing.T) {
	assert.Error(t, DefaultConfig().Validate())
	assert.NoError(t, validConfig().Validate())
}

func TestDefaultParadigm(t *testing.T) {
	cfg := DefaultConfig()
	assert.Len(t, cfg.Stats.Conditions, 16)
	assert.Equal(t, "rest", cfg.Stats.Conditions[0])
	assert.Equal(t, "active", cfg.Stats.Conditions[15])
	assert.Equal(t, 7.0, cfg.Stats.TR)
	assert.Equal(t, 6, cfg.Stats.BlockDuration)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
subject:
  id: sub002
  func: [[run1.nii.gz]]
  anat: t1.nii.gz
  output_dir: /tmp/out
smoothing:
  fwhm: [5, 5, 5]
stats:
  tr: 2.5
`), 0644))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sub002", cfg.Subject.ID)
	assert.Equal(t, []float64{5, 5, 5}, cfg.Smoothing.FWHM)
	assert.Equal(t, 2.5, cfg.Stats.TR)
	assert.Equal(t, "cosine", cfg.Stats.DriftModel, "keys absent from the file keep their defaults")
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stats:\n  hrf: canonical\n"), 0644))
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hrf")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := validConfig()
	cfg.Smoothing.FWHM = []float64{4, 4, 6}
	cfg.Stats.Contrasts = []string{"active-rest"}
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.SliceTiming.SliceOrder = "random"
	cfg.Smoothing.FWHM = []float64{5, -1}
	cfg.Stats.DriftModel = "spline"
	cfg.Stats.CompoundContrasts = []string{"active-missing"}
	cfg.Stats.Contrasts = []string{"rest"}
	cfg.Execution.Workers = 0

	err := cfg.Validate()
	require.Error(t, err)

	var fields []string
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var ve *ValidationError
		require.True(t, errors.As(e, &ve), e.Error())
		fields = append(fields, ve.Field)
	}
	assert.ElementsMatch(t, []string{
		"slice_timing.slice_order",
		"smoothing.fwhm",
		"smoothing.fwhm",
		"stats.drift_model",
		"stats.compound_contrasts",
		"stats.report_contrast",
		"execution.workers",
	}, fields)
}

func TestValidateContrastNames(t *testing.T) {
	cfg := validConfig()
	cfg.Stats.CompoundContrasts = []string{"active-rest", "active-rest-rest"}
	cfg.Stats.Contrasts = []string{"active-rest"}
	assert.NoError(t, cfg.Validate())

	cfg.Stats.Conditions = append(cfg.Stats.Conditions, "bad name")
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "stats.conditions"))
}

func TestValidateRejectsDuplicateContrasts(t *testing.T) {
	cases := map[string]func(*Config){
		"repeated compound":           func(c *Config) { c.Stats.CompoundContrasts = []string{"active-rest", "active-rest"} },
		"repeated after trimming":     func(c *Config) { c.Stats.CompoundContrasts = []string{"active-rest", " active-rest "} },
		"compound equal to condition": func(c *Config) { c.Stats.CompoundContrasts = []string{"active"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "defined twice")
		})
	}
}

func TestValidateMatchesTrimmedContrastNames(t *testing.T) {
	cfg := validConfig()
	cfg.Stats.CompoundContrasts = []string{" active-rest "}
	cfg.Stats.ReportContrast = "active-rest"
	require.NoError(t, cfg.Validate())

	cfg.Stats.ReportContrast = " active-rest"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stats.report_contrast")
}

func TestFingerprint(t *testing.T) {
	a := validConfig()
	b := a.Clone()
	b.Subject.ID = "other"
	b.Execution.Workers = 99
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Smoothing.FWHM = []float64{5, 5, 5}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestCloneIsIndependent(t *testing.T) {
	a := validConfig()
	b := a.Clone()
	b.Subject.Func[0][0] = "changed.nii"
	b.Stats.Conditions[0] = "changed"
	assert.Equal(t, "bold.nii.gz", a.Subject.Func[0][0])
	assert.Equal(t, "rest", a.Stats.Conditions[0])
}

func TestSweep(t *testing.T) {
	cfg := validConfig()
	variants := cfg.Sweep([]float64{6, 6, 6})
	require.Len(t, variants, 12)

	labels := make(map[string]bool)
	for _, v := range variants {
		assert.False(t, labels[v.Label], "duplicate label %s", v.Label)
		labels[v.Label] = true
		assert.Equal(t, v.Label, v.Config.Stats.OutputDirBasename)
		assert.NoError(t, v.Config.Validate(), v.Label)
		if !v.Config.MotionCorrection.Enabled {
			assert.False(t, v.Config.MotionCorrection.RegressMotion, v.Label)
		}
	}
	assert.True(t, labels["_with_stc_with_mc_with_reg_motion_with_smoothing"])
	assert.True(t, labels["_without_stc_without_mc_without_smoothing"])
	assert.Equal(t, "stats", cfg.Stats.OutputDirBasename, "sweeping leaves the base config alone")
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "_with_stc_with_mc_without_reg_motion_without_smoothing", Label(true, true, false, false))
	assert.Equal(t, "_without_stc_without_mc_with_smoothing", Label(false, false, true, true))
}
