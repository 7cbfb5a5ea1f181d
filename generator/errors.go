package generator

import (
	"errors"
	"fmt"
)

// Error classes; callers tell them apart with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrExtraction          = errors.New("extraction failed")
	ErrNotFound            = errors.New("not found")
	ErrPersistence         = errors.New("persistence failed")
	// ErrEmptyContent aborts a run whose drafts include a post with no text.
	ErrEmptyContent = errors.New("draft has empty content")
)

// StageError names the stage that aborted a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
