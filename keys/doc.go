// Package keys derives canonical cache keys from tuples of JSON-compatible values.
//
// Each tuple element becomes one part: primitives are tagged by type
// (str:, num:, bool:, null, undefined) so that values with the same string
// form never collide, and composite values are reduced to canonical JSON
// (object keys sorted at every level) hashed with xxhash. Parts are joined
// with Delimiter, which never occurs inside a part.
package keys
