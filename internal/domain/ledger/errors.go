package ledger

import "errors"

// Sentinel kinds for ledger errors.
var (
	ErrOutOfSequence = errors.New("ledger: out-of-sequence append")
	ErrChainMismatch = errors.New("ledger: hash chain mismatch")
	ErrEmptyAppend   = errors.New("ledger: nothing to append")
	ErrClosed        = errors.New("ledger: store closed")
)
