package keys

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Delimiter separates the parts of a joined store key.
const Delimiter = "::"

// Undefined is a tuple element that is present but has no value. It
// canonicalizes to "undefined", which is distinct from nil ("null").
var Undefined = undefinedValue{}

type undefinedValue struct{}

var errUnsupportedType = errors.New("unsupported type")

// partEscaper keeps ':' out of string payloads so a part can never contain
// Delimiter.
var partEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// Canonicalize converts every element of a key tuple into its canonical part.
// Order across the tuple is preserved.
func Canonicalize(values ...any) ([]string, error) {
	parts := make([]string, len(values))
	for i, v := range values {
		p, err := part(v)
		if err != nil {
			return nil, &SerializationError{Index: i, Value: v, Err: err}
		}
		parts[i] = p
	}
	return parts, nil
}

// Part canonicalizes a single value.
func Part(v any) (string, error) {
	p, err := part(v)
	if err != nil {
		return "", &SerializationError{Value: v, Err: err}
	}
	return p, nil
}

// StoreKey canonicalizes a tuple and joins the parts into the store key.
func StoreKey(values ...any) (string, error) {
	parts, err := Canonicalize(values...)
	if err != nil {
		return "", err
	}
	return Join(parts), nil
}

// Join builds a store key from canonical parts.
func Join(parts []string) string {
	return strings.Join(parts, Delimiter)
}

// Split breaks a store key back into its parts.
//
// Canonical parts never start with ':' and never contain Delimiter, but a
// part may end with ':' (the empty string is "str:"). Within a run of
// colons the delimiter is therefore always the last two characters.
func Split(key string) []string {
	var parts []string
	start := 0
	for i := 0; i+1 < len(key); {
		if key[i] != ':' || key[i+1] != ':' {
			i++
			continue
		}
		j := i
		for j < len(key) && key[j] == ':' {
			j++
		}
		parts = append(parts, key[start:j-len(Delimiter)])
		start = j
		i = j
	}
	return append(parts, key[start:])
}

// maxIndirections bounds pointer chasing so self-referencing pointers fail
// instead of recursing forever.
const maxIndirections = 32

func part(v any) (string, error) {
	return partAt(v, 0)
}

func partAt(v any, depth int) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case undefinedValue:
		return "undefined", nil
	case string:
		return "str:" + partEscaper.Replace(val), nil
	case bool:
		return "bool:" + strconv.FormatBool(val), nil
	case float64:
		return "num:" + formatFloat(val), nil
	case int:
		return "num:" + strconv.Itoa(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return "", fmt.Errorf("invalid number: %w", err)
		}
		return "num:" + formatFloat(f), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return "str:" + partEscaper.Replace(rv.String()), nil
	case reflect.Bool:
		return "bool:" + strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "num:" + strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return "num:" + strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return "num:" + formatFloat(rv.Float()), nil
	case reflect.Complex64, reflect.Complex128, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return "", fmt.Errorf("%w: %s", errUnsupportedType, rv.Kind())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "null", nil
		}
		if depth >= maxIndirections {
			return "", errors.New("too many indirections")
		}
		return partAt(rv.Elem().Interface(), depth+1)
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return "null", nil
		}
	}
	return composite(v)
}

// formatFloat renders integral values without an exponent below 1e21, the
// same threshold JSON number formatting uses, so 1 and 1.0 share a part.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}
