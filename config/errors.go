package config

import "errors"

// ErrInvalidConfig wraps every load, parse and validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")
