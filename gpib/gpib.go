// Package gpib talks to instruments on a GPIB bus through a Prologix-style
// gateway (GPIB-ETHERNET on TCP port 1234, or GPIB-USB as a virtual serial port).
//
// Every transaction re-addresses the gateway, so several Controllers with
// different primary addresses may share one gateway link.
package gpib

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"

	"github.com/nasa-jpl/ivsweep/comm"
)

// Link is the subset of comm.RemoteDevice used by a Controller
type Link interface {
	Open() error
	Close() error
	Transact(func(comm.Txn) error) error
}

// Controller addresses one instrument on the bus behind a gateway
type Controller struct {
	link Link

	// Addr is the GPIB primary address, 0..30
	Addr int

	setup bool
}

// SerConf is the serial configuration for a USB gateway.  The baud rate is
// ignored by the virtual COM port but must be valid.
func SerConf() *serial.Config {
	return &serial.Config{
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: comm.DefaultTimeout}
}

// NewLink creates a comm.RemoteDevice suited to a gateway at addr
func NewLink(addr string, isSerial bool) *comm.RemoteDevice {
	term := comm.Terminators{Tx: '\n', Rx: '\n'}
	return comm.NewRemoteDevice(addr, isSerial, &term, SerConf())
}

// NewController returns a controller for primary address gpibAddr on link
func NewController(link Link, gpibAddr int) (*Controller, error) {
	if gpibAddr < 0 || gpibAddr > 30 {
		return nil, fmt.Errorf("gpib: primary address %d outside [0,30]", gpibAddr)
	}
	return &Controller{link: link, Addr: gpibAddr}, nil
}

// Open opens the gateway link and puts the gateway in controller mode with
// manual read-after-write, EOI assertion and LF termination
func (c *Controller) Open() error {
	if err := c.link.Open(); err != nil {
		return err
	}
	if c.setup {
		return nil
	}
	err := c.link.Transact(func(tx comm.Txn) error {
		for _, cmd := range []string{"++mode 1", "++auto 0", "++eoi 1", "++eos 2"} {
			if err := tx.Send([]byte(cmd)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "gpib: gateway setup")
	}
	c.setup = true
	return nil
}

// Close closes the gateway link
func (c *Controller) Close() error {
	c.setup = false
	return c.link.Close()
}

func escape(cmd string) []byte {
	// the gateway interprets ESC, +, CR and LF itself
	var b strings.Builder
	for _, r := range cmd {
		switch r {
		case 27, '+', '\r', '\n':
			b.WriteByte(27)
		}
		b.WriteRune(r)
	}
	return []byte(b.String())
}

func (c *Controller) address(tx comm.Txn) error {
	return tx.Send([]byte("++addr " + strconv.Itoa(c.Addr)))
}

// Write sends a command to the instrument
func (c *Controller) Write(cmd string) error {
	return c.link.Transact(func(tx comm.Txn) error {
		if err := c.address(tx); err != nil {
			return err
		}
		return tx.Send(escape(cmd))
	})
}

// Query sends a command and reads the instrument's response up to EOI
func (c *Controller) Query(cmd string) (string, error) {
	var resp []byte
	err := c.link.Transact(func(tx comm.Txn) error {
		if err := c.address(tx); err != nil {
			return err
		}
		if err := tx.Send(escape(cmd)); err != nil {
			return err
		}
		if err := tx.Send([]byte("++read eoi")); err != nil {
			return err
		}
		var err error
		resp, err = tx.Recv()
		return err
	})
	return strings.TrimSpace(string(resp)), err
}

// Local returns the instrument to front panel control (GTL)
func (c *Controller) Local() error {
	return c.link.Transact(func(tx comm.Txn) error {
		if err := c.address(tx); err != nil {
			return err
		}
		return tx.Send([]byte("++loc"))
	})
}

// Clear sends the Selected Device Clear message
func (c *Controller) Clear() error {
	return c.link.Transact(func(tx comm.Txn) error {
		if err := c.address(tx); err != nil {
			return err
		}
		return tx.Send([]byte("++clr"))
	})
}

// SetTimeout sets the link timeout when the link is a comm.RemoteDevice.
// The gateway's own read timeout (++read_tmo_ms) tops out at 3 s, so long
// operations are polled rather than blocked on.
func (c *Controller) SetTimeout(d time.Duration) {
	if rd, ok := c.link.(*comm.RemoteDevice); ok {
		rd.Timeout = d
	}
}

// ParseResource splits a VISA-style resource string, e.g. "GPIB0::18::INSTR",
// into board and primary address.  A bare integer is accepted as an address
// on board 0.
func ParseResource(s string) (board, addr int, err error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return 0, n, nil
	}
	parts := strings.Split(s, "::")
	if len(parts) < 2 || !strings.HasPrefix(strings.ToUpper(parts[0]), "GPIB") {
		return 0, 0, fmt.Errorf("gpib: malformed resource %q", s)
	}
	boardS := parts[0][4:]
	if boardS != "" {
		board, err = strconv.Atoi(boardS)
		if err != nil {
			return 0, 0, fmt.Errorf("gpib: malformed board in %q", s)
		}
	}
	addr, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("gpib: malformed address in %q", s)
	}
	return board, addr, nil
}
