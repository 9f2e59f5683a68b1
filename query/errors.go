package query

import "errors"

var (
	// ErrNilStore is returned by New when no store is given.
	ErrNilStore = errors.New("query: store is nil")

	// ErrNilFetch is returned by New when no fetch function is given.
	ErrNilFetch = errors.New("query: fetch function is nil")

	// ErrTypeMismatch is published when the cached payload is not of the
	// query's result type, which happens when two queries with different
	// result types share a key.
	ErrTypeMismatch = errors.New("query: cached payload has unexpected type")
)
