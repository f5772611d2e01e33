package monitor

import (
	"errors"
	"fmt"
)

// ConfigError is fatal for the invocation: the pass cannot be carried out
// with the directory as it is, and retrying will not help.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("monitor: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfig reports whether err is or wraps a *ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

var (
	ErrNotMonitored = errors.New("monitor: directory is not monitored")
	ErrUnknownFile  = errors.New("monitor: file is not in the database")
)
