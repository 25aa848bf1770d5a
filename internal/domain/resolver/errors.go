package resolver

import "errors"

// Sentinel kinds for resolver errors.
var (
	ErrMatchNotScheduled = errors.New("match not scheduled")
	ErrAlreadyScheduled  = errors.New("match already scheduled")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrOpenReviews       = errors.New("match has open reviews")
	ErrMatchClosed       = errors.New("match no longer accepts events")
	ErrLeaseTimeout      = errors.New("match lease timeout")
	ErrInvalidCorrection = errors.New("invalid correction")
	ErrNotUnderReview    = errors.New("match is not under review")
	ErrInvalidSchedule   = errors.New("invalid match schedule")
)
