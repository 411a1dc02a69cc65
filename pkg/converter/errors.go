package converter

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error classes. Every error returned by this package is marked with one of
// these and can be tested with errors.Is.
var (
	ErrInput      = errors.New("input error")
	ErrRange      = errors.New("range error")
	ErrSequence   = errors.New("sequence error")
	ErrNotation   = errors.New("notation error")
	ErrSynthesis  = errors.New("synthesis error")
	ErrEncoding   = errors.New("encoding error")
	ErrArtifactIO = errors.New("artifact io error")
)

// Stage names a step of the pipeline
type Stage string

const (
	StageNone       Stage = ""
	StageRead       Stage = "read"
	StageTranslate  Stage = "translate"
	StageSynthesize Stage = "synthesize"
	StageEncode     Stage = "encode"
)

// StageError is returned by Convert when a pipeline stage fails
type StageError struct {
	Stage Stage
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// StageOf extracts the failing stage from err, or StageNone
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return StageNone
}

// InputError marks err as an input error
func InputError(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrInput)
}

// RangeError reports an out-of-range value. Range errors are input errors too.
func RangeError(what string, value, lo, hi int) error {
	err := errors.Newf("%s %d out of range [%d, %d]", what, value, lo, hi)
	return errors.Mark(errors.Mark(err, ErrRange), ErrInput)
}

// SequenceError reports an operation invoked out of the required order
func SequenceError(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrSequence)
}

// NotationError marks err as a notation error
func NotationError(err error) error {
	return errors.Mark(err, ErrNotation)
}

// SynthesisError marks err as a synthesis error
func SynthesisError(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrSynthesis)
}

// EncodingError marks err as an encoding error
func EncodingError(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrEncoding)
}

// ArtifactError marks err as a temp artifact failure
func ArtifactError(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrArtifactIO)
}

// Classify returns the error class err belongs to, most specific first
func Classify(err error) error {
	for _, class := range []error{ErrRange, ErrSequence, ErrNotation, ErrSynthesis, ErrEncoding, ErrArtifactIO, ErrInput} {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}
