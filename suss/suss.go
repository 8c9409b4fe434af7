// Package suss enables working with the chuck of a SUSS MicroTec PA300
// probe station through ProberBench remote commands.
//
// Every ProberBench command is answered, and every answer starts with a
// status code, "0:" when the command succeeded.
package suss

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/ivsweep/gpib"
)

// Identity is the *IDN? response of a PA300 ProberBench
const Identity = "Suss MicroTec Test Systems GmbH,ProberBench PC,0,0"

// travel limits relative to the chuck center, in microns
const (
	LimitXY   = 20000.
	LimitZLow = 5200.
	LimitZHi  = 13000.
)

// DefaultVelocity is the chuck velocity, in percent of maximum
const DefaultVelocity = 1.

var (
	// ErrOutOfLimits is returned for a move or a position outside the travel limits
	ErrOutOfLimits = errors.New("suss: position outside chuck travel limits")

	// ErrBadVelocity is returned for a velocity outside (0, 100]
	ErrBadVelocity = errors.New("suss: velocity must be in (0, 100]")
)

// Ref is the origin a position is reported against
type Ref string

const (
	// Home is relative to the chuck home position
	Home Ref = "H"
	// Zero is relative to the chuck zero
	Zero Ref = "Z"
	// Center is relative to the chuck center
	Center Ref = "C"
)

// ParseRef converts "home", "zero", "center" or their first letters to a Ref
func ParseRef(s string) (Ref, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "H", "HOME":
		return Home, nil
	case "Z", "ZERO":
		return Zero, nil
	case "C", "CENTER", "":
		return Center, nil
	}
	return "", fmt.Errorf("suss: unknown reference %q, want home, zero or center", s)
}

// Position is a chuck position in microns
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

func (p Position) String() string {
	return fmt.Sprintf("(%g, %g, %g) um", p.X, p.Y, p.Z)
}

func inXY(x, y float64) bool {
	return x >= -LimitXY && x <= LimitXY && y >= -LimitXY && y <= LimitXY
}

func inZ(z float64) bool {
	return z >= LimitZLow && z <= LimitZHi
}

// Chuck is a probe station chuck.  Prober and MockProber satisfy it.
type Chuck interface {
	Check() error
	Position(Ref) (Position, error)
	MoveXY(x, y float64) error
	MoveXYFromHome(x, y float64) error
	MoveZ(z float64) error
	Align() error
	Contact() error
	SetVelocity(float64) error
	Close() error
}

// Bus is what the prober needs from its bus; gpib.Controller satisfies it
type Bus interface {
	Open() error
	Close() error
	Query(string) (string, error)
}

// Prober is a PA300 probe station
type Prober struct {
	bus      Bus
	velocity float64
}

// NewProber returns a prober behind a GPIB gateway at addr, with the
// ProberBench PC at primary address gpibAddr
func NewProber(addr string, gpibAddr int, serial bool) (*Prober, error) {
	ctl, err := gpib.NewController(gpib.NewLink(addr, serial), gpibAddr)
	if err != nil {
		return nil, err
	}
	return NewProberOnBus(ctl), nil
}

// NewProberOnBus returns a prober on an existing bus
func NewProberOnBus(bus Bus) *Prober {
	return &Prober{bus: bus, velocity: DefaultVelocity}
}

// command sends a ProberBench command and returns the answer after its status code
func (p *Prober) command(cmd string) (string, error) {
	if err := p.bus.Open(); err != nil {
		return "", err
	}
	resp, err := p.bus.Query(cmd)
	if err != nil {
		return "", errors.Wrapf(err, "suss: %s", cmd)
	}
	return parseStatus(cmd, resp)
}

func parseStatus(cmd, resp string) (string, error) {
	chunks := strings.SplitN(strings.TrimSpace(resp), ":", 2)
	code, err := strconv.Atoi(strings.TrimSpace(chunks[0]))
	if err != nil {
		return "", errors.Errorf("suss: %s: malformed response %q", cmd, resp)
	}
	rest := ""
	if len(chunks) == 2 {
		rest = strings.TrimSpace(chunks[1])
	}
	if code != 0 {
		return rest, errors.Errorf("suss: %s: status %d %s", cmd, code, rest)
	}
	return rest, nil
}

// Identify verifies the station answers *IDN? as a PA300 ProberBench
func (p *Prober) Identify() error {
	if err := p.bus.Open(); err != nil {
		return err
	}
	resp, err := p.bus.Query("*IDN?")
	if err != nil {
		return errors.Wrap(err, "suss: *IDN?")
	}
	if strings.TrimSpace(resp) != Identity {
		return errors.Errorf("suss: unexpected identity %q", resp)
	}
	return nil
}

// Check verifies the system status is OK and the chuck is within its limits
func (p *Prober) Check() error {
	if _, err := p.command("ReadSystemStatus"); err != nil {
		return err
	}
	pos, err := p.Position(Center)
	if err != nil {
		return err
	}
	if !inXY(pos.X, pos.Y) || !inZ(pos.Z) {
		return errors.Wrapf(ErrOutOfLimits, "chuck at %s", pos)
	}
	return nil
}

// Position reads the chuck position relative to ref
func (p *Prober) Position(ref Ref) (Position, error) {
	rest, err := p.command("ReadChuckPosition Y " + string(ref) + " D")
	if err != nil {
		return Position{}, err
	}
	return parsePosition(rest)
}

func parsePosition(s string) (Position, error) {
	f := strings.Fields(s)
	if len(f) != 3 {
		return Position{}, errors.Errorf("suss: malformed position %q", s)
	}
	var xyz [3]float64
	for i := range f {
		v, err := strconv.ParseFloat(f[i], 64)
		if err != nil {
			return Position{}, errors.Wrapf(err, "suss: malformed position %q", s)
		}
		xyz[i] = v
	}
	return Position{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

// SetVelocity sets the velocity of subsequent moves, in percent of maximum
func (p *Prober) SetVelocity(v float64) error {
	if v <= 0 || v > 100 {
		return ErrBadVelocity
	}
	p.velocity = v
	return nil
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// MoveXY moves the chuck to x, y relative to its center, then checks status
func (p *Prober) MoveXY(x, y float64) error {
	if !inXY(x, y) {
		return errors.Wrapf(ErrOutOfLimits, "move to (%g, %g)", x, y)
	}
	if _, err := p.command(fmt.Sprintf("MoveChuck %s %s C %s", num(x), num(y), num(p.velocity))); err != nil {
		return err
	}
	return p.Check()
}

// MoveXYFromHome moves the chuck to x, y relative to home
func (p *Prober) MoveXYFromHome(x, y float64) error {
	home, err := p.Position(Home)
	if err != nil {
		return err
	}
	center, err := p.Position(Center)
	if err != nil {
		return err
	}
	return p.MoveXY(x+center.X-home.X, y+center.Y-home.Y)
}

// MoveZ moves the chuck to height z relative to zero
func (p *Prober) MoveZ(z float64) error {
	if !inZ(z) {
		return errors.Wrapf(ErrOutOfLimits, "move to z=%g", z)
	}
	if _, err := p.command(fmt.Sprintf("MoveChuckZ %s Z Y %s", num(z), num(p.velocity))); err != nil {
		return err
	}
	return p.Check()
}

// Align moves the chuck to the alignment height
func (p *Prober) Align() error {
	if _, err := p.command("MoveChuckAlign " + num(p.velocity)); err != nil {
		return err
	}
	return p.Check()
}

// Contact moves the chuck to the contact height
func (p *Prober) Contact() error {
	if _, err := p.command("MoveChuckContact " + num(p.velocity)); err != nil {
		return err
	}
	return p.Check()
}

// Close closes the bus
func (p *Prober) Close() error {
	return p.bus.Close()
}
