package model

import "fmt"

// ExtractionError signals structurally invalid input (unparsable JSON,
// missing features array). It is fatal to the run and carries no trust
// penalty; the submitter sees it as a pre-check failure.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

// ValidationError signals that every configured reference source was
// unreachable. Individual source failures degrade the aggregate instead.
type ValidationError struct {
	Sources []string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation unavailable: all %d sources failed", len(e.Sources))
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ContextError signals that the report search collaborator was unreachable.
// The Decision Engine treats it as neutral/unknown input, not a rejection.
type ContextError struct {
	Err error
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("context analysis unavailable: %v", e.Err)
}

func (e *ContextError) Unwrap() error { return e.Err }
