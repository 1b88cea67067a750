package config

// Variant is one named configuration of a sweep.
type Variant struct {
	// Label describes the enabled stages, e.g. "_with_stc_without_mc_with_smoothing"
	Label string

	// Config is an independent copy whose stats basename is Label
	Config *Config
}

// Sweep expands c into every combination of slice-timing correction,
// motion correction (with and without motion regressors) and smoothing.
// Smoothing variants use fwhm, or c's kernel when fwhm is empty. Each
// variant writes statistics to its own directory; preprocessing shared
// between variants is reused through the subject cache.
func (c *Config) Sweep(fwhm []float64) []Variant {
	if len(fwhm) == 0 {
		fwhm = c.Smoothing.FWHM
	}
	if len(fwhm) == 0 {
		fwhm = []float64{5, 5, 5}
	}

	var variants []Variant
	for _, stc := range []bool{false, true} {
		for _, mc := range []bool{false, true} {
			for _, regMotion := range []bool{false, true} {
				if !mc && regMotion {
					// identical to the same variant without motion regressors
					continue
				}
				for _, smooth := range []bool{false, true} {
					v := c.Clone()
					v.SliceTiming.Enabled = stc
					v.MotionCorrection.Enabled = mc
					v.MotionCorrection.RegressMotion = regMotion
					v.Smoothing.FWHM = nil
					if smooth {
						v.Smoothing.FWHM = append([]float64(nil), fwhm...)
					}
					label := Label(stc, mc, regMotion, smooth)
					v.Stats.OutputDirBasename = label
					variants = append(variants, Variant{Label: label, Config: v})
				}
			}
		}
	}
	return variants
}

// Label names a combination of enabled stages.
func Label(stc, mc, regMotion, smooth bool) string {
	label := "_without_stc"
	if stc {
		label = "_with_stc"
	}
	if mc {
		label += "_with_mc"
		if regMotion {
			label += "_with_reg_motion"
		} else {
			label += "_without_reg_motion"
		}
	} else {
		label += "_without_mc"
	}
	if smooth {
		label += "_with_smoothing"
	} else {
		label += "_without_smoothing"
	}
	return label
}
