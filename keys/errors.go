package keys

import (
	"errors"
	"fmt"
)

// ErrSerialization matches every *SerializationError via errors.Is.
var ErrSerialization = errors.New("keys: value is not JSON-representable")

// SerializationError reports a tuple element that cannot be canonicalized.
type SerializationError struct {
	Index int
	Value any
	Err   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("keys: element %d (%T) is not JSON-representable: %v", e.Index, e.Value, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// Is reports ErrSerialization as a match.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerialization
}
