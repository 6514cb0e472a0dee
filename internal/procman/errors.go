package procman

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrAlreadyRunning     = errors.New("script already running")
	ErrNotRunning         = errors.New("script not running")
	ErrInterpreterMissing = errors.New("interpreter not installed")
	ErrSpawnFailed        = errors.New("failed to start script")
)

// RegistryError wraps errors with execution-key context.
type RegistryError struct {
	Key Key
	Op  string // The operation that failed
	Err error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("script %s: %s: %s", e.Key, e.Op, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// IsAlreadyRunning returns true if the error means a live entry exists for the key.
func IsAlreadyRunning(err error) bool {
	return errors.Is(err, ErrAlreadyRunning)
}

// IsNotRunning returns true if the error means no entry exists for the key.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}
