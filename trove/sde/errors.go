package sde

import (
	"errors"
	"fmt"
)

// Common error values used across the package
var (
	// ErrCorruptSnapshot indicates a persisted snapshot that could not be
	// decoded. Treated as a full cache miss, never as a fatal error.
	ErrCorruptSnapshot = errors.New("snapshot is corrupt or incompatible")

	// ErrNotReady indicates a read that timed out waiting for the first
	// build to complete.
	ErrNotReady = errors.New("cache build has not completed")
)

// ParseError reports a failure to derive one index from its source file.
// Only the dependent index is affected; unrelated indexes build normally.
type ParseError struct {
	Index string
	File  string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing index %s from %s: %v", e.Index, e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
