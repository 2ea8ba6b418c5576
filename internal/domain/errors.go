package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure by how far it propagates.
type ErrorKind string

const (
	KindMalformedInput      ErrorKind = "malformed_input"
	KindUnparseableValue    ErrorKind = "unparseable_value"
	KindRecordNormalization ErrorKind = "record_normalization_failure"
	KindSchemaDrift         ErrorKind = "schema_drift"
	KindFetchFailure        ErrorKind = "fetch_failure"
	KindLoadFailure         ErrorKind = "load_failure"
	KindArchiveFailure      ErrorKind = "archive_failure"
	KindCycleFatal          ErrorKind = "cycle_fatal"
)

var (
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidReportDate    = errors.New("invalid report date")
	ErrCycleInProgress      = errors.New("an ETL cycle is already running")
	ErrNoConflictKey        = errors.New("load payload has no hash_id column")
)

// PipelineError carries the failure kind and where it happened.
type PipelineError struct {
	Kind      ErrorKind `json:"kind"`
	AccountID string    `json:"account_id,omitempty"`
	AdID      string    `json:"ad_id,omitempty"`
	Err       error     `json:"-"`
}

func (e *PipelineError) Error() string {
	switch {
	case e.AdID != "":
		return fmt.Sprintf("%s: account %s ad %s: %v", e.Kind, e.AccountID, e.AdID, e.Err)
	case e.AccountID != "":
		return fmt.Sprintf("%s: account %s: %v", e.Kind, e.AccountID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first PipelineError in the chain, or "".
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
