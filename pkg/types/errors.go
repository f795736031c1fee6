package types

import "fmt"

// ConfigError marks a configuration problem that is fatal at init time —
// never recovered locally (e.g. a rate-limit bucket sized below a requested
// acquire, or a non-positive rate/capacity).
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

// NewConfigError builds a ConfigError with a formatted message.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// TransientVenueError wraps an adapter call that failed or timed out. It is
// always swallowed by the orchestrator and contributes to the health-guard
// failure counter; the loop continues.
type TransientVenueError struct {
	Venue Venue
	Err   error
}

func (e *TransientVenueError) Error() string {
	return fmt.Sprintf("transient venue error (%s): %v", e.Venue, e.Err)
}

func (e *TransientVenueError) Unwrap() error { return e.Err }

// ScanFailure marks a universe-scanner refresh that failed. Cached rows are
// preserved and the next interval retries.
type ScanFailure struct {
	Err error
}

func (e *ScanFailure) Error() string { return fmt.Sprintf("scan failure: %v", e.Err) }

func (e *ScanFailure) Unwrap() error { return e.Err }

// PersistenceFailure marks a write to an audit store that failed. It is
// logged; in-memory trading state is never rolled back.
type PersistenceFailure struct {
	Op  string
	Err error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("persistence failure (%s): %v", e.Op, e.Err)
}

func (e *PersistenceFailure) Unwrap() error { return e.Err }
