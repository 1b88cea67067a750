package models

import "fmt"

// VolumeSet references the files making up one functional run: either a
// single 4-D file or an ordered list of 3-D files.
type VolumeSet []string

// SubjectData is the immutable input of one pipeline invocation.
type SubjectData struct {
	// ID identifies the subject in logs and reports
	ID string `yaml:"id"`

	// Func holds one VolumeSet per functional run, in acquisition order
	Func []VolumeSet `yaml:"func"`

	// Anat references the anatomical volume
	Anat string `yaml:"anat"`

	// OutputDir receives the cache, intermediate volumes and statistics
	OutputDir string `yaml:"output_dir"`
}

// Validate checks that the subject references at least one run and an
// anatomical volume.
func (s SubjectData) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("subject id is required")
	}
	if len(s.Func) == 0 {
		return fmt.Errorf("subject %s: at least one functional run is required", s.ID)
	}
	for i, run := range s.Func {
		if len(run) == 0 {
			return fmt.Errorf("subject %s: functional run %d is empty", s.ID, i)
		}
	}
	if s.Anat == "" {
		return fmt.Errorf("subject %s: anatomical volume is required", s.ID)
	}
	if s.OutputDir == "" {
		return fmt.Errorf("subject %s: output directory is required", s.ID)
	}
	return nil
}

// StageOutput is the result of one preprocessing stage transform. Stages
// write new files; inputs are never modified in place.
type StageOutput struct {
	// Stage names the stage that produced the output
	Stage string

	// Func holds the transformed functional runs
	Func []VolumeSet

	// RealignmentParameters holds, for motion correction only, one text file
	// per run with six rigid-body parameters per timepoint
	RealignmentParameters []string
}

// Artifacts lists every file referenced by the output.
func (o StageOutput) Artifacts() []string {
	var files []string
	for _, run := range o.Func {
		files = append(files, run...)
	}
	return append(files, o.RealignmentParameters...)
}

// VolumeStore is the volume I/O collaborator.
type VolumeStore interface {
	// Load reads one volume file.
	Load(ref string) (*Volume, error)

	// LoadSet reads a run and concatenates its files along time.
	LoadSet(set VolumeSet) (*Volume, error)

	// SaveVolume writes a 3-D volume as dir/basename and returns its reference.
	SaveVolume(v *Volume, dir, basename string) (string, error)

	// SaveVolumes writes a 4-D run as dir/basename and returns its set.
	SaveVolumes(v *Volume, dir, basename string) (VolumeSet, error)
}
