package sweep

import "fmt"

// Executor runs one sweep on a device.  Its fields are forwarded to the
// device unchanged.
type Executor struct {
	// Low and High are the SMU numbers of the grounded and swept terminals
	Low  int
	High int

	// Step is the resolution of the sweep in volts, > 0
	Step float64

	// Compliance bounds the current through the high terminal, in amperes
	Compliance float64
}

// Validate reports a ConfigurationError for unusable parameters
func (e *Executor) Validate() error {
	if !(e.Step > 0) {
		return &ConfigurationError{Field: "stepsize", Reason: fmt.Sprintf("%g is not > 0", e.Step)}
	}
	if !(e.Compliance > 0) {
		return &ConfigurationError{Field: "compliance", Reason: fmt.Sprintf("%g is not > 0", e.Compliance)}
	}
	if e.Low < 1 || e.High < 1 {
		return &ConfigurationError{Field: "terminal", Reason: "SMU numbers start at 1"}
	}
	if e.Low == e.High {
		return &ConfigurationError{Field: "terminal", Reason: fmt.Sprintf("low and high are both SMU%d", e.Low)}
	}
	return nil
}

// Execute issues exactly one sweep.  A device error is returned as a
// *CommunicationFault; any points the device returned with it are kept on
// the Result so they can still be reported.
func (e *Executor) Execute(dev Device, index int, amp Amplitude) (Result, error) {
	pts, aborted, err := dev.Sweep(e.Low, e.High, float64(amp), e.Step, e.Compliance)
	res := Result{
		Index:     index,
		Amplitude: amp,
		Points:    append(make([]Point, 0, len(pts)), pts...),
		Aborted:   aborted,
	}
	if err != nil {
		res.Aborted = false
		return res, &CommunicationFault{Index: index, Amplitude: amp, Err: err}
	}
	return res, nil
}
