// Package query turns a fetch function into a live, cached state stream.
//
// A Query watches the store entry for its key. A fresh entry is served as
// data; a missing or stale one publishes Loading and registers a refresh
// effect that fetches and writes the result back through the store, which
// in turn delivers it to every query watching that key. Concurrent
// refreshes of one key on one store share a single fetch.
//
// Keys may contain live values (see package params). When the key changes
// the previous key is abandoned: its refresh can no longer write to the
// store and its states are no longer published.
//
// Example:
//
//	s := store.New()
//	defer s.Close()
//
//	todos, err := query.New(s, []any{"todos", map[string]int{"skip": 0, "limit": 10}},
//	    func(ctx context.Context, params []any) (TodoPage, error) {
//	        return api.ListTodos(ctx, params[1])
//	    },
//	    query.WithTTL(5*time.Minute),
//	)
//	if err != nil {
//	    return err
//	}
//	todos.Subscribe(ctx, func(st query.State[TodoPage]) {
//	    render(st)
//	})
package query
