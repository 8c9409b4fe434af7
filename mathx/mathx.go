// Package mathx provides decimal rounding helpers for values computed on a grid.
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// Negative values round away from zero at the half, like math.Round.
func Round(x, unit float64) float64 {
	if unit <= 0 {
		return x
	}
	return math.Round(x/unit) * unit
}

// RoundDigits rounds x to the given number of decimal places.
// The division by an exact power of ten makes 0.1+0.2 come back as 0.3,
// which Round with unit=1e-12 cannot guarantee.
func RoundDigits(x float64, digits int) float64 {
	if math.IsInf(x, 0) || math.IsNaN(x) {
		return x
	}
	p := math.Pow10(digits)
	return math.Round(x*p) / p
}
