// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Bus moves one command or one query across the wire.  gpib.Controller
// satisfies it.
type Bus interface {
	Write(string) error
	Query(string) (string, error)
}

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Bus Bus

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent after every set command
	// to ensure the device accepted the input
	Handshaking bool
}

// Write sends commands to the device, joined by ";".  if s.Handshaking == true,
// it also requests an error response and checks that it is OK.
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	str := strings.Join(cmds, ";")
	if err := s.Bus.Write(str); err != nil {
		return err
	}
	if s.Handshaking {
		return s.PopError()
	}
	return nil
}

// ReadString sends a query to the device, then reads the response
// and returns it with surrounding whitespace removed
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.Bus.Query(strings.Join(cmds, ";"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

// ReadFloat sends a query to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(resp, 64)
	return f, errors.Wrapf(err, "scpi: malformed float response %q", resp)
}

// ReadInt sends a query to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	// some instruments answer integer registers as "+1.000000E+00"
	if i, err := strconv.Atoi(strings.TrimPrefix(resp, "+")); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "scpi: malformed integer response %q", resp)
	}
	return int(f), nil
}

// ReadBool sends a query to the device, then reads the
// response and parses it as a boolean
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	i, err := s.ReadInt(cmds...)
	return i != 0, err
}

// ReadFloats sends a query to the device and parses a comma separated
// list of floats.  An empty response is an empty list.
func (s *SCPI) ReadFloats(cmds ...string) ([]float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return nil, err
	}
	return ParseFloats(resp)
}

// ParseFloats parses a comma separated list of floats
func ParseFloats(resp string) ([]float64, error) {
	resp = strings.TrimSpace(resp)
	if resp == "" {
		return []float64{}, nil
	}
	pieces := strings.Split(resp, ",")
	out := make([]float64, len(pieces))
	for i, p := range pieces {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "scpi: element %d of list is malformed", i)
		}
		out[i] = f
	}
	return out, nil
}

// Raw sends a command to the device and returns a response if it was a query,
// else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Bus.Write(str)
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	str, err := s.ReadString(":SYSTem:ERRor?")
	if err != nil {
		return err
	}
	if isNoError(str) {
		return nil
	}
	return fmt.Errorf("scpi: device error %s", str)
}

func isNoError(str string) bool {
	// "+0,"No error"" or "0,No error"
	code := strings.SplitN(str, ",", 2)[0]
	code = strings.TrimPrefix(strings.TrimSpace(code), "+")
	return code == "0"
}

// maxErrors bounds AllErrors against a device that never empties its queue
const maxErrors = 32

// AllErrors returns all errors from the device as a list
func (s *SCPI) AllErrors() []error {
	var errs []error
	for i := 0; i < maxErrors; i++ {
		err := s.PopError()
		if err == nil {
			break
		}
		errs = append(errs, err)
	}
	return errs
}

// AllErrorsString is equivalent to AllErrors, but joining by newline
// if there were no errors, the error return value is nil, otherwise
// it is the first error in the list and has no particular meaning
func (s *SCPI) AllErrorsString() (string, error) {
	errs := s.AllErrors()
	if len(errs) == 0 {
		return "", nil
	}
	strs := make([]string, len(errs))
	for i := 0; i < len(errs); i++ {
		strs[i] = errs[i].Error()
	}
	return strings.Join(strs, "\n"), errs[0]
}
