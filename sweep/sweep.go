/*Package sweep runs a session of electrical sweeps against a measurement
device and hands every result to a recorder before the next sweep starts.

The pieces, leaves first:
	Range         the finite sequence of amplitudes to sweep
	Executor      one sweep on the device, normalized into a Result
	Recorder      persistence of a Result (see package record)
	Orchestrator  the loop, its state machine, and the device release

An operator abort is not an error.  It is the Aborted field of a Result; the
aborted result is recorded like any other and the session ends in state
Aborted.
*/
package sweep

import "fmt"

// Amplitude is the target extreme of the independent variable for one sweep, in volts
type Amplitude float64

// String implements fmt.Stringer
func (a Amplitude) String() string {
	return fmt.Sprintf("%g V", float64(a))
}

// Point is one sample within a sweep
type Point struct {
	// X is the independent variable; volts for a voltage sweep, seconds for sampling
	X float64

	// I is the measured current in amperes
	I float64
}

// Result is the outcome of one sweep.  Points are in acquisition order.
type Result struct {
	// Index is the zero-based position of the sweep within its session
	Index int

	// Amplitude is the amplitude that produced the result
	Amplitude Amplitude

	// Points holds whatever was acquired, including before an abort
	Points []Point

	// Aborted is true if the sweep was stopped from the instrument
	Aborted bool
}

// Kind names the kind of measurement, which determines the file prefix and
// the column header of the persisted result
type Kind string

const (
	// DoubleSweepFromZero sweeps 0 -> amplitude -> 0
	DoubleSweepFromZero Kind = "DoubleSweepFromZero"

	// Sampling is current against time at a fixed bias, as written by the
	// contact test.  Sessions do not produce it.
	Sampling Kind = "Sampling"
)

// Header returns the CSV column header for the kind
func (k Kind) Header() string {
	if k == Sampling {
		return "t,I"
	}
	return "V,I"
}

// Device is the measurement instrument a session borrows.  It is shared, not
// owned; a session releases it when it ends but never creates it.
type Device interface {
	// Configure sets the instrument's own timeout for one sweep
	Configure(timeoutSeconds int) error

	// Sweep performs one double sweep from zero to amplitude between the
	// low and high SMU terminals with the current limited to compliance,
	// blocking until the instrument finishes or is stopped.  aborted is true
	// if the operator stopped it.
	Sweep(low, high int, amplitude, step, compliance float64) (points []Point, aborted bool, err error)

	// Release returns the instrument to local control and drops the bus link
	Release() error
}

// Recorder persists results
type Recorder interface {
	// Begin reserves sessionID in the store and returns the id to record
	// under, which differs from sessionID when another session holds it
	Begin(sessionID string) (string, error)

	// Record durably writes the result and returns the path of its archive
	Record(sessionID string, r Result) (string, error)
}
