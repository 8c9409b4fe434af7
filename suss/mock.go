package suss

import (
	"sync"

	"github.com/pkg/errors"
)

// home and zero offsets of the mock chuck from its center, in microns
var (
	mockHome = Position{X: -2423.5, Y: -2425.5, Z: 0}
	mockZero = Position{X: 157600, Y: 155000, Z: 0}
)

// alignment and contact heights of the mock chuck
const (
	mockAlignZ   = 10947.6
	mockContactZ = 11000
)

// MockProber is a chuck that moves instantly and never leaves its limits
type MockProber struct {
	sync.Mutex
	pos      Position // relative to center
	velocity float64
	moves    int
}

// NewMockProber returns a mock prober at its center, aligned
func NewMockProber(addr string, gpibAddr int, serial bool) *MockProber {
	return &MockProber{pos: Position{Z: mockAlignZ}, velocity: DefaultVelocity}
}

// Check always succeeds
func (m *MockProber) Check() error { return nil }

// Position returns the chuck position relative to ref
func (m *MockProber) Position(ref Ref) (Position, error) {
	m.Lock()
	defer m.Unlock()
	p := m.pos
	switch ref {
	case Home:
		p.X -= mockHome.X
		p.Y -= mockHome.Y
	case Zero:
		p.X += mockZero.X
		p.Y += mockZero.Y
	case Center:
	default:
		return Position{}, errors.Errorf("suss: unknown reference %q", ref)
	}
	return p, nil
}

// MoveXY moves the chuck relative to its center
func (m *MockProber) MoveXY(x, y float64) error {
	if !inXY(x, y) {
		return errors.Wrapf(ErrOutOfLimits, "move to (%g, %g)", x, y)
	}
	m.Lock()
	defer m.Unlock()
	m.pos.X, m.pos.Y = x, y
	m.moves++
	return nil
}

// MoveXYFromHome moves the chuck relative to home
func (m *MockProber) MoveXYFromHome(x, y float64) error {
	return m.MoveXY(x+mockHome.X, y+mockHome.Y)
}

// MoveZ moves the chuck to height z
func (m *MockProber) MoveZ(z float64) error {
	if !inZ(z) {
		return errors.Wrapf(ErrOutOfLimits, "move to z=%g", z)
	}
	m.Lock()
	defer m.Unlock()
	m.pos.Z = z
	m.moves++
	return nil
}

// Align moves to the alignment height
func (m *MockProber) Align() error { return m.MoveZ(mockAlignZ) }

// Contact moves to the contact height
func (m *MockProber) Contact() error { return m.MoveZ(mockContactZ) }

// SetVelocity sets the velocity, in percent of maximum
func (m *MockProber) SetVelocity(v float64) error {
	if v <= 0 || v > 100 {
		return ErrBadVelocity
	}
	m.Lock()
	m.velocity = v
	m.Unlock()
	return nil
}

// Moves is the number of moves made
func (m *MockProber) Moves() int {
	m.Lock()
	defer m.Unlock()
	return m.moves
}

// Close does nothing
func (m *MockProber) Close() error { return nil }
