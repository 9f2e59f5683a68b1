// Package config loads querycache settings from YAML.
//
// Durations are Go duration strings ("30s", "5m"). Keys missing from the
// file keep their Default values, and ${VAR} references are expanded from
// the environment before parsing.
//
//	service: todos-api
//	query:
//	  default_ttl: 5m
//	  max_ttl: 1h
//	store:
//	  dedupe: true
//	  sweep:
//	    enabled: true
//	    interval: 1m
//	    max_age: 10m
//	resilience:
//	  timeout: 10s
//	  retry:
//	    max_attempts: 3
//	observe:
//	  logging:
//	    enabled: true
//	    level: ${LOG_LEVEL}
//
// The helpers turn a Config into options for the other packages:
//
//	s := store.New(cfg.StoreOptions()...)
//	q, err := query.New(s, key, resilience.Fetch(cfg.Executor(), fetch), cfg.QueryOptions()...)
package config
