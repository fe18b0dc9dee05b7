package control

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid controller setting detected at construction.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("invalid %s=%v: %s", e.Field, e.Value, e.Reason)
}

// IsConfigError reports whether err (or anything it wraps) is a ConfigError.
func IsConfigError(err error) bool {
	var ce ConfigError
	return errors.As(err, &ce)
}
