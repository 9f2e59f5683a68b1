// Package health reports whether a query store can serve.
//
// StoreChecker inspects a store: closed is unhealthy, too many running
// effects or cached entries is degraded. An Aggregator combines checkers
// and runs them concurrently under one timeout.
//
// # HTTP Endpoints
//
//	agg := health.NewAggregator()
//	agg.Register("store", health.NewStoreChecker(s, health.StoreCheckerConfig{}))
//
//	r := health.NewRouter(agg, registry) // registry: prometheus.Gatherer
//	http.ListenAndServe(":8080", r)
//
// NewRouter serves /healthz, /readyz, /health, /health/{name} and, with a
// gatherer, /metrics.
package health
