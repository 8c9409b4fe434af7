// Package agilent provides an interface to agilent test and measurement equipment,
// here the 4156C precision semiconductor parameter analyzer
package agilent

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/ivsweep/gpib"
	"github.com/nasa-jpl/ivsweep/scpi"
	"github.com/nasa-jpl/ivsweep/sweep"
)

const (
	// DefaultCompliance is the current compliance of the swept SMU, in amperes
	DefaultCompliance = 10e-3

	// DefaultPollInterval is how often a running measurement is polled for completion
	DefaultPollInterval = 250 * time.Millisecond

	// busTimeout bounds a single bus transaction; long measurements are polled
	busTimeout = 10 * time.Second

	// esrOPC is the operation complete bit of the standard event status register
	esrOPC = 1

	// names of the VAR1 source and its current, as registered on the channel page
	vName = "V"
	iName = "I"
)

// Bus is what the analyzer needs from its bus; gpib.Controller satisfies it
type Bus interface {
	scpi.Bus
	Open() error
	Close() error
	Local() error
}

// Analyzer is an interface to a 4156C.  It implements sweep.Device.
type Analyzer struct {
	bus  Bus
	scpi scpi.SCPI

	// PollInterval paces completion polling
	PollInterval time.Duration

	timeout time.Duration
}

// NewAnalyzer creates a new Analyzer behind a GPIB gateway at addr, with
// the instrument at primary address gpibAddr
func NewAnalyzer(addr string, gpibAddr int, serial bool) (*Analyzer, error) {
	link := gpib.NewLink(addr, serial)
	link.Timeout = busTimeout
	ctl, err := gpib.NewController(link, gpibAddr)
	if err != nil {
		return nil, err
	}
	return NewAnalyzerOnBus(ctl), nil
}

// NewAnalyzerOnBus creates a new Analyzer on an existing bus
func NewAnalyzerOnBus(bus Bus) *Analyzer {
	return &Analyzer{
		bus:          bus,
		scpi:         scpi.SCPI{Bus: bus},
		PollInterval: DefaultPollInterval,
		timeout:      600 * time.Second}
}

// Identify returns the *IDN? response
func (a *Analyzer) Identify() (string, error) {
	if err := a.bus.Open(); err != nil {
		return "", err
	}
	return a.scpi.ReadString("*IDN?")
}

// Configure sets the longest a single sweep may run before it is
// considered a communication fault
func (a *Analyzer) Configure(timeoutSeconds int) error {
	if timeoutSeconds <= 0 {
		return errors.Errorf("agilent: timeout %d s is not > 0", timeoutSeconds)
	}
	a.timeout = time.Duration(timeoutSeconds) * time.Second
	if err := a.bus.Open(); err != nil {
		return err
	}
	// clear status and the error queue left over from front panel use
	return a.scpi.Write("*CLS")
}

// ExpectedPoints is the number of points in a complete double sweep from 0
// to amplitude and back at the given step.  The turnaround point is measured
// once.  Sweep only treats fewer points as an abort, so firmware that
// measures the turnaround twice still reads as complete.
func ExpectedPoints(amplitude, step float64) int {
	n := int(math.Floor(math.Abs(amplitude)/step+1e-9)) + 1
	return 2*n - 1
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'E', -1, 64)
}

// setup programs the channel and measurement pages for one double sweep
func (a *Analyzer) setup(low, high int, amplitude, step, compliance float64) error {
	if step <= 0 {
		return errors.Errorf("agilent: step %g is not > 0", step)
	}
	signed := step
	if amplitude < 0 {
		signed = -step
	}
	cmds := []string{
		":PAGE:CHAN:MODE SWEEP",
		":PAGE:CHAN:ALL:DIS",
		fmt.Sprintf(":PAGE:CHAN:SMU%d:VNAME 'VL'", low),
		fmt.Sprintf(":PAGE:CHAN:SMU%d:INAME 'IL'", low),
		fmt.Sprintf(":PAGE:CHAN:SMU%d:MODE COMM", low),
		fmt.Sprintf(":PAGE:CHAN:SMU%d:FUNC CONS", low),
		fmt.Sprintf(":PAGE:CHAN:SMU%d:VNAME '%s'", high, vName),
		fmt.Sprintf(":PAGE:CHAN:SMU%d:INAME '%s'", high, iName),
		fmt.Sprintf(":PAGE:CHAN:SMU%d:MODE V", high),
		fmt.Sprintf(":PAGE:CHAN:SMU%d:FUNC VAR1", high),
		":PAGE:MEAS:VAR1:MODE DOUBLE",
		":PAGE:MEAS:VAR1:SPAC LIN",
		":PAGE:MEAS:VAR1:START 0",
		":PAGE:MEAS:VAR1:STOP " + formatFloat(amplitude),
		":PAGE:MEAS:VAR1:STEP " + formatFloat(signed),
		":PAGE:MEAS:VAR1:COMP " + formatFloat(compliance),
		":PAGE:DISP:LIST '" + vName + "','" + iName + "'",
	}
	for _, c := range cmds {
		if err := a.scpi.Write(c); err != nil {
			return errors.Wrapf(err, "agilent: %s", c)
		}
	}
	if str, err := a.scpi.AllErrorsString(); err != nil {
		return errors.Errorf("agilent: sweep setup rejected:\n%s", str)
	}
	return nil
}

// waitComplete polls the event status register until the operation complete
// bit is set, at most once per PollInterval, for at most the configured timeout
func (a *Analyzer) waitComplete() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	lim := rate.NewLimiter(rate.Every(a.PollInterval), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return errors.Errorf("agilent: measurement did not complete within %v", a.timeout)
		}
		esr, err := a.scpi.ReadInt("*ESR?")
		if err != nil {
			return errors.Wrap(err, "agilent: polling *ESR?")
		}
		if esr&esrOPC != 0 {
			return nil
		}
	}
}

// Sweep performs a double sweep from zero to amplitude and back on SMU high,
// with SMU low as common and the current limited to compliance.  A sweep
// stopped with the front panel Stop key ends early with fewer points than a
// full sweep; it is reported as aborted and its points are returned.
func (a *Analyzer) Sweep(low, high int, amplitude, step, compliance float64) ([]sweep.Point, bool, error) {
	if err := a.bus.Open(); err != nil {
		return nil, false, err
	}
	if err := a.setup(low, high, amplitude, step, compliance); err != nil {
		return nil, false, err
	}
	if err := a.scpi.Write("*CLS", ":PAGE:SCON:SING", "*OPC"); err != nil {
		return nil, false, errors.Wrap(err, "agilent: triggering measurement")
	}
	if err := a.waitComplete(); err != nil {
		return nil, false, err
	}
	vs, err := a.scpi.ReadFloats(":DATA? '" + vName + "'")
	if err != nil {
		return nil, false, errors.Wrap(err, "agilent: reading voltages")
	}
	is, err := a.scpi.ReadFloats(":DATA? '" + iName + "'")
	if err != nil {
		return nil, false, errors.Wrap(err, "agilent: reading currents")
	}
	if len(vs) != len(is) {
		return nil, false, errors.Errorf("agilent: malformed data, %d voltages and %d currents", len(vs), len(is))
	}
	pts := make([]sweep.Point, len(vs))
	for i := range vs {
		pts[i] = sweep.Point{X: vs[i], I: is[i]}
	}
	aborted := len(pts) < ExpectedPoints(amplitude, step)
	return pts, aborted, nil
}

// Release puts the analyzer in standby, returns it to front panel control
// and closes the bus link
func (a *Analyzer) Release() error {
	var errs []error
	if err := a.scpi.Write(":PAGE:SCON:STAN ON"); err != nil {
		errs = append(errs, err)
	}
	if err := a.bus.Local(); err != nil {
		errs = append(errs, err)
	}
	if err := a.bus.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Wrapf(errs[0], "agilent: release (%d errors)", len(errs))
	}
	return nil
}

// PopError gets a single error from the queue on the analyzer
func (a *Analyzer) PopError() error {
	return a.scpi.PopError()
}
