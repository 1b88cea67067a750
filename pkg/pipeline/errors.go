package pipeline

import (
	"errors"
	"fmt"

	"fmripipeline/pkg/cache"
)

var (
	// ErrConfig marks invalid configuration. It is reported before any
	// stage runs whenever the problem can be detected statically.
	ErrConfig = errors.New("configuration error")

	// ErrIO marks a failure reading or writing the cache, inputs or
	// outputs. It is fatal to the subject and never retried.
	ErrIO = errors.New("i/o error")
)

// StageError reports a failed stage. Err is the collaborator's error,
// unchanged.
type StageError struct {
	Stage string
	Step  string
	State State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (%s) failed in state %s: %v", e.Stage, e.Step, e.State, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// classify turns an error from a cached step into an I/O error or a stage
// error.
func classify(stage, step string, state State, err error) error {
	var ioErr *cache.IOError
	if errors.As(err, &ioErr) {
		return fmt.Errorf("%w: %s: %w", ErrIO, stage, err)
	}
	return &StageError{Stage: stage, Step: step, State: state, Err: err}
}
