package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a signal, issue, lifecycle record, or
	// suppression row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoLunarData is returned for Ramadan/Eid lookups in a year the
	// calendar has no table for. Callers must not substitute a guess.
	ErrNoLunarData = errors.New("no lunar calendar data for year")

	// ErrCycleRunning is returned when a cycle is requested while another is
	// still in progress.
	ErrCycleRunning = errors.New("cycle already running")
)

// ConfigurationError reports a missing or invalid configuration entry.
// It is fatal at startup and never defaulted.
type ConfigurationError struct {
	Component string
	Field     string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s configuration: %s", e.Component, e.Reason)
	}
	return fmt.Sprintf("%s configuration: %s: %s", e.Component, e.Field, e.Reason)
}

// DecodeError reports a stored value that could not be decoded at the
// storage boundary.
type DecodeError struct {
	Field string
	Value string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DetectorFailure records a detector whose Detect call failed.
type DetectorFailure struct {
	DetectorID string `json:"detector_id"`
	Message    string `json:"message"`
}

func (f DetectorFailure) Error() string {
	return fmt.Sprintf("detector %s: %s", f.DetectorID, f.Message)
}
