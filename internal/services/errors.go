package services

import (
	"errors"
	"fmt"
)

// FailureKind places a pipeline error in the run's failure taxonomy.
// Validation, extraction and duplicate failures happen before any durable
// write and leave no record; compression and embedding failures are
// recorded on the run's record; store failures are raised to the caller
// with the record left at its last successfully written state.
type FailureKind string

const (
	FailureValidation  FailureKind = "validation"
	FailureExtraction  FailureKind = "extraction"
	FailureDuplicate   FailureKind = "duplicate"
	FailureCompression FailureKind = "compression"
	FailureEmbedding   FailureKind = "embedding"
	FailureStore       FailureKind = "store"
	FailureInternal    FailureKind = "internal"
)

type PipelineError struct {
	Kind  FailureKind
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s failure at stage %s: %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func newPipelineError(kind FailureKind, stage string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Err: err}
}

// FailureKindOf classifies any error produced by a pipeline run.
func FailureKindOf(err error) FailureKind {
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		return pErr.Kind
	}
	return FailureInternal
}
