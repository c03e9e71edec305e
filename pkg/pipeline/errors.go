package pipeline

import (
	"errors"
	"fmt"
)

// Stage error kinds. A *StageError matches its kind with errors.Is.
var (
	ErrLoad       = errors.New("load error")
	ErrSnapshot   = errors.New("snapshot error")
	ErrExtraction = errors.New("extraction error")
	ErrModel      = errors.New("model error")
	ErrPrediction = errors.New("prediction error")
)

// StageError is the failure of one pipeline stage.
type StageError struct {
	Kind error
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func stageErr(kind, err error) *StageError {
	return &StageError{Kind: kind, Err: err}
}
