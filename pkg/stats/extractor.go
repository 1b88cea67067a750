// Package stats persists the statistical maps of a fitted subject model.
// Every contrast yields four images written to
// <stats_dir>/<maptype>_maps/<contrast>.nii.gz. Contrasts are extracted
// independently; a failure in one is recorded and never stops the others.
package stats

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"fmripipeline/internal/models"
	"fmripipeline/pkg/contrast"
	"fmripipeline/pkg/glm"
)

// MapType names one of the derived images of a contrast.
type MapType string

const (
	ZMap        MapType = "z"
	TMap        MapType = "t"
	EffectMap   MapType = "effects"
	VarianceMap MapType = "variance"
)

// MapTypes lists the map types in the order they are written.
var MapTypes = []MapType{ZMap, TMap, EffectMap, VarianceMap}

// Dir returns the subdirectory of statsDir holding maps of type t.
func (t MapType) Dir(statsDir string) string {
	return filepath.Join(statsDir, string(t)+"_maps")
}

// Fitted is the part of a fitted model the extractor needs.
type Fitted interface {
	Contrast(c []float64) (*glm.Maps, error)
}

// ContrastError records a failed extraction. MapType is empty when the
// contrast computation itself failed.
type ContrastError struct {
	Contrast string
	MapType  MapType
	Err      error
}

func (e *ContrastError) Error() string {
	if e.MapType == "" {
		return fmt.Sprintf("contrast %s: %v", e.Contrast, e.Err)
	}
	return fmt.Sprintf("contrast %s: saving %s map: %v", e.Contrast, e.MapType, e.Err)
}

func (e *ContrastError) Unwrap() error { return e.Err }

// Result describes what an extraction produced.
type Result struct {
	// Paths maps contrast name and map type to the written file
	Paths map[string]map[MapType]string

	// Retained is the z-map of the retained contrast, nil if it failed or
	// none was requested
	Retained *models.Volume

	// Errors lists per-contrast failures in extraction order
	Errors []*ContrastError
}

// Err joins the per-contrast failures, or returns nil.
func (r *Result) Err() error {
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Extractor writes contrast maps for one subject.
type Extractor struct {
	store models.VolumeStore
	dir   string
	log   *zap.Logger
}

// NewExtractor returns an extractor writing below statsDir.
func NewExtractor(store models.VolumeStore, statsDir string, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{store: store, dir: statsDir, log: log}
}

// Extract computes and saves the maps of every contrast. Only the z-map of
// the contrast named retain is kept in memory. The returned error is
// reserved for failures that affect every contrast, such as an unwritable
// stats directory.
func (e *Extractor) Extract(model Fitted, contrasts []contrast.Contrast, retain string) (*Result, error) {
	for _, t := range MapTypes {
		if err := os.MkdirAll(t.Dir(e.dir), 0755); err != nil {
			return nil, fmt.Errorf("creating %s map directory: %w", t, err)
		}
	}

	res := &Result{Paths: make(map[string]map[MapType]string)}
	for _, c := range contrasts {
		log := e.log.With(zap.String("contrast", c.Name))
		maps, err := model.Contrast(c.Vector)
		if err != nil {
			log.Error("contrast extraction failed", zap.Error(err))
			res.Errors = append(res.Errors, &ContrastError{Contrast: c.Name, Err: err})
			continue
		}

		paths := make(map[MapType]string, len(MapTypes))
		for _, t := range MapTypes {
			path, err := e.store.SaveVolume(mapOf(maps, t), t.Dir(e.dir), c.Name+".nii.gz")
			if err != nil {
				log.Error("saving contrast map failed", zap.String("map_type", string(t)), zap.Error(err))
				res.Errors = append(res.Errors, &ContrastError{Contrast: c.Name, MapType: t, Err: err})
				continue
			}
			paths[t] = path
		}
		res.Paths[c.Name] = paths
		if c.Name == retain {
			res.Retained = maps.Z
		}
		log.Debug("contrast maps written", zap.Int("maps", len(paths)))
	}
	return res, nil
}

func mapOf(m *glm.Maps, t MapType) *models.Volume {
	switch t {
	case ZMap:
		return m.Z
	case TMap:
		return m.T
	case EffectMap:
		return m.Effect
	default:
		return m.Variance
	}
}
