package model

import (
	"errors"
	"fmt"
)

// Sentinel kinds shared across the engine.
var (
	ErrDuplicateEvent = errors.New("duplicate event")
	ErrNotFound       = errors.New("not found")
)

// Quarantine reasons.
const (
	ReasonUncorroborated = "uncorroborated"
	ReasonOutOfTolerance = "out_of_tolerance"
)

// InvalidEventError reports a malformed or missing field. The event never
// enters the ledger.
type InvalidEventError struct {
	Field  string
	Reason string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Reason)
}

// QuarantineError reports an event held for manual review.
type QuarantineError struct {
	Reason       string
	QuarantineID string
}

func (e *QuarantineError) Error() string {
	return "event quarantined: " + e.Reason
}

// RuleEvaluationError reports a ruleset misconfiguration or missing context.
type RuleEvaluationError struct {
	RuleID string
	Err    error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

// CorrectionConflict reports a concurrent edit on the same match. Callers retry.
type CorrectionConflict struct {
	MatchID string
	Reason  string
}

func (e *CorrectionConflict) Error() string {
	return fmt.Sprintf("correction conflict on match %s: %s", e.MatchID, e.Reason)
}

// ProjectionRebuildFailure reports a fold error. ServedAsOf is the ledger
// version of the last known-good projection returned alongside the error.
type ProjectionRebuildFailure struct {
	MatchID    string
	FailedAt   int64
	ServedAsOf int64
	Err        error
}

func (e *ProjectionRebuildFailure) Error() string {
	return fmt.Sprintf("projection rebuild failed for match %s at seq %d (serving seq %d): %v",
		e.MatchID, e.FailedAt, e.ServedAsOf, e.Err)
}

func (e *ProjectionRebuildFailure) Unwrap() error { return e.Err }

// IsInvalid reports whether err is an InvalidEventError.
func IsInvalid(err error) bool {
	var target *InvalidEventError
	return errors.As(err, &target)
}

// IsQuarantine reports whether err is a QuarantineError.
func IsQuarantine(err error) bool {
	var target *QuarantineError
	return errors.As(err, &target)
}

// IsConflict reports whether err is a CorrectionConflict.
func IsConflict(err error) bool {
	var target *CorrectionConflict
	return errors.As(err, &target)
}
