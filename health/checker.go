package health

import (
	"context"
	"time"
)

// Status is the health of one component.
type Status int

const (
	// StatusHealthy means the component works normally.
	StatusHealthy Status = iota
	// StatusDegraded means the component works but is under pressure.
	StatusDegraded
	// StatusUnhealthy means the component cannot serve.
	StatusUnhealthy
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// worse returns the more severe of s and o.
func (s Status) worse(o Status) Status {
	if o > s {
		return o
	}
	return s
}

// Result is the outcome of one check.
type Result struct {
	Status  Status
	Message string

	// Details carries checker-specific figures, such as entry counts.
	Details map[string]any

	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

// Healthy returns a healthy result.
func Healthy(message string) Result {
	return Result{Status: StatusHealthy, Message: message, Timestamp: time.Now()}
}

// Degraded returns a degraded result.
func Degraded(message string) Result {
	return Result{Status: StatusDegraded, Message: message, Timestamp: time.Now()}
}

// Unhealthy returns an unhealthy result carrying err.
func Unhealthy(message string, err error) Result {
	return Result{Status: StatusUnhealthy, Message: message, Error: err, Timestamp: time.Now()}
}

// WithDetails returns r with details attached.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// WithDuration returns r with its duration set.
func (r Result) WithDuration(d time.Duration) Result {
	r.Duration = d
	return r
}

// Checker reports the health of one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc creates a named Checker from fn.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

// Name returns the checker name.
func (f *CheckerFunc) Name() string {
	return f.name
}

// Check calls the wrapped function.
func (f *CheckerFunc) Check(ctx context.Context) Result {
	return f.fn(ctx)
}
