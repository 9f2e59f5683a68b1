package resilience

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout bounds a fetch when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Timeout bounds each fetch attempt.
type Timeout struct {
	d time.Duration
}

// NewTimeout creates a timeout wrapper; d <= 0 selects DefaultTimeout.
func NewTimeout(d time.Duration) *Timeout {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &Timeout{d: d}
}

// Execute runs op with a deadline. The fetch sees the deadline through its
// context; if it ignores it, Execute still returns ErrTimeout on time and
// the fetch finishes in the background.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return ErrTimeout
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

// Duration returns the configured timeout.
func (t *Timeout) Duration() time.Duration {
	return t.d
}
