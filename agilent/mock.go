package agilent

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/ivsweep/mathx"
	"github.com/nasa-jpl/ivsweep/sweep"
)

// diode model used by the mock
const (
	saturation   = 1e-12
	thermalV     = 0.02585
	ideality     = 1.5
	maxMockPoint = 100001
)

// MockAnalyzer is a stand-in for a 4156C with a diode between the SMUs.
// AbortOn and FailOn are 1-based sweep numbers; zero disables them.
type MockAnalyzer struct {
	sync.Mutex

	AbortOn int
	FailOn  int

	sweeps     int
	releases   int
	configured bool
}

// NewMockAnalyzer returns a mock analyzer; its arguments mirror NewAnalyzer
func NewMockAnalyzer(addr string, gpibAddr int, serial bool) *MockAnalyzer {
	return &MockAnalyzer{}
}

func diode(v, compliance float64) float64 {
	i := saturation * (math.Exp(v/(ideality*thermalV)) - 1)
	if compliance > 0 {
		i = math.Max(-compliance, math.Min(compliance, i))
	}
	return i
}

// Configure marks the mock configured
func (m *MockAnalyzer) Configure(timeoutSeconds int) error {
	m.Lock()
	defer m.Unlock()
	if timeoutSeconds <= 0 {
		return errors.Errorf("agilent: timeout %d s is not > 0", timeoutSeconds)
	}
	m.configured = true
	return nil
}

// Sweep computes a double sweep through the diode model
func (m *MockAnalyzer) Sweep(low, high int, amplitude, step, compliance float64) ([]sweep.Point, bool, error) {
	m.Lock()
	defer m.Unlock()
	m.sweeps++
	if !m.configured {
		return nil, false, errors.New("agilent: mock not configured")
	}
	if step <= 0 {
		return nil, false, errors.New("agilent: step must be > 0")
	}
	n := ExpectedPoints(amplitude, step)
	if n > maxMockPoint {
		return nil, false, errors.Errorf("agilent: %d points exceeds the mock's limit", n)
	}
	half := n / 2
	signed := math.Copysign(step, amplitude)
	pts := make([]sweep.Point, 0, n)
	for k := 0; k < n; k++ {
		j := k
		if k > half {
			j = n - 1 - k
		}
		v := mathx.RoundDigits(float64(j)*signed, 12)
		pts = append(pts, sweep.Point{X: v, I: diode(v, compliance)})
	}
	if m.sweeps == m.FailOn {
		return pts[:len(pts)/3], false, errors.New("agilent: mock bus timeout")
	}
	if m.sweeps == m.AbortOn {
		return pts[:half], true, nil
	}
	return pts, false, nil
}

// Release counts the release and unconfigures the mock
func (m *MockAnalyzer) Release() error {
	m.Lock()
	defer m.Unlock()
	m.releases++
	m.configured = false
	return nil
}

// Sweeps is the number of sweeps requested of the mock
func (m *MockAnalyzer) Sweeps() int {
	m.Lock()
	defer m.Unlock()
	return m.sweeps
}

// Releases is the number of times the mock was released
func (m *MockAnalyzer) Releases() int {
	m.Lock()
	defer m.Unlock()
	return m.releases
}
