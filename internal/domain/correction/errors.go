package correction

import "errors"

// Sentinel kinds for pipeline errors.
var (
	ErrInvalidRequest    = errors.New("invalid correction request")
	ErrNotPending        = errors.New("correction is not pending")
	ErrNotApplied        = errors.New("correction is not applied")
	ErrInsufficientRole  = errors.New("role cannot approve this tier")
	ErrDuplicateApprover = errors.New("actor already approved this correction")
)
