package feed

import "errors"

// Error taxonomy for the collector and pipeline. Callers classify with
// errors.Is; wrapping preserves the sentinel.
var (
	// ErrTransientFeed marks a single-tick extraction failure. The
	// collector logs it and continues with the next tick.
	ErrTransientFeed = errors.New("transient feed error")

	// ErrSessionLost marks an unrecoverable browser session failure and
	// triggers the recovery state machine.
	ErrSessionLost = errors.New("session lost")

	// ErrOracleUnavailable marks a scoring oracle timeout or rate limit.
	// Callers retry up to a bounded count, then drop with a reason.
	ErrOracleUnavailable = errors.New("oracle unavailable")

	// ErrMalformedItem marks an item failing minimal well-formedness.
	ErrMalformedItem = errors.New("malformed item")
)
