package version

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat marks a string that is not a well-formed version.
	ErrFormat = errors.New("malformed version")
	// ErrUnknownSuffix marks a file or directory name whose suffix cannot
	// be mapped onto a version.
	ErrUnknownSuffix = errors.New("unknown suffix")
)

// FormatError describes why a version string was rejected.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed version %q: %s", e.Input, e.Reason)
}

func (e *FormatError) Unwrap() error { return ErrFormat }

// SuffixError is returned when a name does not carry a usable suffix.
type SuffixError struct {
	Name   string
	Reason string
}

func (e *SuffixError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Reason)
}

func (e *SuffixError) Unwrap() error { return ErrUnknownSuffix }
