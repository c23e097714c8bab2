package logreg

import (
	"errors"
	"fmt"

	"github.com/z3rotig4r/ckks_train/internal/he"
)

var (
	ErrUninitializedModel = errors.New("logreg: weights are not initialized")
	ErrAlreadyInitialized = errors.New("logreg: weights already initialized, call Reset to start over")
	ErrSequenceConsumed   = errors.New("logreg: prediction sequence already consumed")
	ErrInvalidConfig      = errors.New("logreg: invalid configuration")
	ErrShapeMismatch      = errors.New("logreg: input shape mismatch")
)

// TrainingError reports where Fit stopped. The model state has been rolled back to
// the end of the last completed epoch (or to the initial weights).
type TrainingError struct {
	Epoch      int    // 1-based epoch that failed
	Sample     int    // samples completed in that epoch before the failure
	Checkpoint string // last checkpoint reached before the failure
	Err        error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("training stopped at epoch %d after %d samples (last checkpoint %q): %v",
		e.Epoch, e.Sample, e.Checkpoint, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

// Fatal reports whether the cause is an internal-consistency violation of the
// arithmetic unit rather than a provider or caller failure.
func (e *TrainingError) Fatal() bool { return he.IsFatal(e.Err) }
