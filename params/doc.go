// Package params turns a mix of constants and live values into a single
// stream of key tuples.
//
// A tuple emits once every element has produced a value, then again whenever
// any element changes, carrying the latest value of every other element.
package params
