// Package observe provides observability primitives for the query cache.
//
// It is a pure instrumentation library: OpenTelemetry tracing and metrics for
// fetches and cache actions, and a zerolog-backed structured logger. The store
// and query packages accept a Telemetry bundle; everything defaults to no-ops.
package observe
