package scoring

import "errors"

// Sentinel kinds for ruleset errors.
var (
	ErrInvalidRuleset   = errors.New("invalid ruleset")
	ErrRulesetNotFound  = errors.New("ruleset not found")
	ErrRulesetImmutable = errors.New("ruleset version already published with different content")
	ErrMissingInput     = errors.New("missing weight input")
)
