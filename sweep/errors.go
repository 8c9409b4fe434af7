package sweep

import "fmt"

// CommunicationFault is a device failure unrelated to an operator abort:
// an unreachable instrument, a timeout, or a malformed response.
type CommunicationFault struct {
	Index     int
	Amplitude Amplitude
	Err       error
}

func (e *CommunicationFault) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("communication fault before the first sweep: %v", e.Err)
	}
	return fmt.Sprintf("communication fault on sweep %d at %s: %v", e.Index, e.Amplitude, e.Err)
}

// Unwrap returns the underlying device error
func (e *CommunicationFault) Unwrap() error { return e.Err }

// Cause is the github.com/pkg/errors spelling of Unwrap
func (e *CommunicationFault) Cause() error { return e.Err }

// PersistenceError is a failure to write a result to its store
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying filesystem error
func (e *PersistenceError) Unwrap() error { return e.Err }

// Cause is the github.com/pkg/errors spelling of Unwrap
func (e *PersistenceError) Cause() error { return e.Err }

// ConfigurationError is an invalid parameter detected before any device call
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
