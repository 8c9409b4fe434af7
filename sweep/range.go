package sweep

import (
	"fmt"
	"math"
	"strings"

	"github.com/nasa-jpl/ivsweep/mathx"
)

const (
	// MaxAmplitudes bounds the length of a Range
	MaxAmplitudes = 10000

	// gridDigits is the decimal precision amplitudes are rounded to
	gridDigits = 12

	// gridSlack is how far, in steps, last may sit short of the grid and
	// still be included
	gridSlack = 1e-9
)

// Policy selects how a Range turns (first, step, last) into amplitudes
type Policy string

const (
	// Arithmetic yields first, first+step, ..., last inclusive
	Arithmetic Policy = "arithmetic"

	// Alternating yields each arithmetic value m followed by -m, testing
	// both polarities at increasing magnitude.  Zero is yielded once.
	Alternating Policy = "alternating"
)

// ParsePolicy converts a string to a Policy, case insensitive.  The empty
// string is Arithmetic.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Arithmetic:
		return Arithmetic, nil
	case Alternating:
		return Alternating, nil
	default:
		return "", &ConfigurationError{Field: "policy", Reason: fmt.Sprintf("%q is not arithmetic or alternating", s)}
	}
}

// Range is a finite, restartable sequence of amplitudes.  The zero Policy is
// Arithmetic.
type Range struct {
	First  float64
	Step   float64
	Last   float64
	Policy Policy
}

// Validate reports a ConfigurationError if the range is not usable
func (r Range) Validate() error {
	for _, v := range []struct {
		name string
		val  float64
	}{{"first", r.First}, {"step", r.Step}, {"last", r.Last}} {
		if math.IsNaN(v.val) || math.IsInf(v.val, 0) {
			return &ConfigurationError{Field: v.name, Reason: "must be finite"}
		}
	}
	if _, err := ParsePolicy(string(r.Policy)); err != nil {
		return err
	}
	if r.Step == 0 {
		return &ConfigurationError{Field: "step", Reason: "must be non-zero"}
	}
	span := r.Last - r.First
	if span != 0 && math.Signbit(span) != math.Signbit(r.Step) {
		return &ConfigurationError{Field: "step",
			Reason: fmt.Sprintf("sign of %g does not lead from %g to %g", r.Step, r.First, r.Last)}
	}
	if r.Len() > MaxAmplitudes {
		return &ConfigurationError{Field: "step",
			Reason: fmt.Sprintf("range yields more than %d amplitudes", MaxAmplitudes)}
	}
	return nil
}

// steps is the number of arithmetic values, valid only after Validate
func (r Range) steps() int {
	n := (r.Last - r.First) / r.Step
	if n < -gridSlack {
		return 0
	}
	if n > MaxAmplitudes*2 {
		return MaxAmplitudes*2 + 1
	}
	return int(math.Floor(n+gridSlack)) + 1
}

func (r Range) arith(i int) float64 {
	return mathx.RoundDigits(r.First+float64(i)*r.Step, gridDigits)
}

// Len is the number of amplitudes the range yields
func (r Range) Len() int {
	if r.Step == 0 {
		return 0
	}
	n := r.steps()
	if r.Policy != Alternating {
		return n
	}
	total := 0
	for i := 0; i < n && total <= MaxAmplitudes; i++ {
		if r.arith(i) == 0 {
			total++
		} else {
			total += 2
		}
	}
	return total
}

// Iter returns a fresh iterator positioned before the first amplitude.
// The range is not validated; call Validate first.
func (r Range) Iter() *Iterator {
	return &Iterator{r: r, n: r.steps()}
}

// Values materializes the sequence
func (r Range) Values() []Amplitude {
	out := make([]Amplitude, 0, r.Len())
	it := r.Iter()
	for it.Next() {
		out = append(out, it.Amplitude())
	}
	return out
}

// Iterator walks a Range lazily
type Iterator struct {
	r       Range
	n       int
	i       int
	negNext bool
	cur     Amplitude
}

// Next advances the iterator and reports whether an amplitude is available
func (it *Iterator) Next() bool {
	if it.r.Step == 0 {
		return false
	}
	if it.negNext {
		it.negNext = false
		it.cur = -it.cur
		return true
	}
	if it.i >= it.n {
		return false
	}
	v := it.r.arith(it.i)
	it.i++
	it.cur = Amplitude(v)
	if it.r.Policy == Alternating && v != 0 {
		it.negNext = true
	}
	return true
}

// Amplitude returns the current amplitude
func (it *Iterator) Amplitude() Amplitude {
	return it.cur
}
