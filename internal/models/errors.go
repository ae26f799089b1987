package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks across modules.
var (
	ErrTransport     = errors.New("transport error")
	ErrEmptyInput    = errors.New("input is empty")
	ErrImageIO       = errors.New("image i/o error")
	ErrMissingConfig = errors.New("missing required configuration")
	ErrInvalidState  = errors.New("invalid conversation state")
)

// TransportError reports a failed call to a remote collaborator: a network fault,
// a timeout, an open circuit or a non-success status.
type TransportError struct {
	Collaborator string
	StatusCode   int // zero when no response was received
	Cause        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Collaborator, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Collaborator, e.Cause)
}

func (e *TransportError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Cause}
}

// ValidationError reports unusable user input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrEmptyInput
}

// IOError reports a local failure while fetching or reading an image.
type IOError struct {
	Op    string
	Cause error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *IOError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrImageIO}
	}
	return []error{ErrImageIO, e.Cause}
}

// ConfigError reports missing or invalid startup configuration.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Key, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrMissingConfig
}
