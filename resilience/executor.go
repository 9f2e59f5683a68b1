package resilience

import (
	"context"
	"sync"
	"time"
)

// Executor composes the resilience patterns around a fetch.
type Executor struct {
	circuitBreaker *CircuitBreaker
	retry          *Retry
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates an executor. With no options it runs fetches as is.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithCircuitBreaker adds a circuit breaker.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.circuitBreaker = cb
	}
}

// WithRetry adds retries.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithRateLimiter adds rate limiting.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.rateLimiter = rl
	}
}

// WithBulkhead adds a concurrency cap.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) {
		e.bulkhead = b
	}
}

// WithTimeout bounds every attempt.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = NewTimeout(d)
	}
}

// Execute runs op through every configured pattern. Order, outermost first:
// rate limiter, bulkhead, circuit breaker, retry, timeout.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	execute := op

	wrap := func(layer func(context.Context, func(context.Context) error) error) {
		inner := execute
		execute = func(ctx context.Context) error {
			return layer(ctx, inner)
		}
	}

	if e.timeout != nil {
		wrap(e.timeout.Execute)
	}
	if e.retry != nil {
		wrap(e.retry.Execute)
	}
	if e.circuitBreaker != nil {
		wrap(e.circuitBreaker.Execute)
	}
	if e.bulkhead != nil {
		wrap(e.bulkhead.Execute)
	}
	if e.rateLimiter != nil {
		wrap(e.rateLimiter.Execute)
	}

	return execute(ctx)
}

// Fetch wraps a query fetch function so each call runs through e. A nil
// executor returns fn unchanged.
func Fetch[R any](e *Executor, fn func(ctx context.Context, params []any) (R, error)) func(ctx context.Context, params []any) (R, error) {
	if e == nil {
		return fn
	}
	return func(ctx context.Context, params []any) (R, error) {
		// An attempt abandoned by Timeout may still finish late.
		var (
			mu  sync.Mutex
			out R
		)
		err := e.Execute(ctx, func(ctx context.Context) error {
			v, err := fn(ctx, params)
			if err != nil {
				return err
			}
			mu.Lock()
			out = v
			mu.Unlock()
			return nil
		})
		if err != nil {
			var zero R
			return zero, err
		}
		mu.Lock()
		defer mu.Unlock()
		return out, nil
	}
}
