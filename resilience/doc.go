// Package resilience wraps query fetch functions with failure handling.
//
// The query cache never retries or times out a fetch on its own. Callers
// that want that behaviour compose it here and hand the wrapped function to
// query.New:
//
//	exec := resilience.NewExecutor(
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3})),
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
//	    resilience.WithTimeout(5*time.Second),
//	)
//	q, err := query.New(s, []any{"todos"}, resilience.Fetch(exec, fetchTodos))
//
// Patterns apply outermost first: rate limiter, bulkhead, circuit breaker,
// retry, timeout. Errors wrapped with Permanent are never retried and never
// trip the circuit; neither do context cancellations, since a fetch
// abandoned by its last subscriber says nothing about the backend.
package resilience
