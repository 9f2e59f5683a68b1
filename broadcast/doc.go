// Package broadcast provides the fan-out primitives the store and queries are
// built on.
//
// Value holds the latest value of a stream and delivers every published value,
// in publication order, to each subscriber. Shared layers reference counting on
// top: its upstream runs only while at least one subscriber is attached.
package broadcast
