package health

import "errors"

var (
	// ErrCheckTimeout is reported by a check that did not answer in time.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound is returned for an unknown checker name.
	ErrCheckerNotFound = errors.New("health: checker not found")
)
