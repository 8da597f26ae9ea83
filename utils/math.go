package utils

import "math"

// MaxInt returns the larger of a and b.
func MaxInt(a, b int) int {
	if a < b {
		return b
	}
	return a
}

// MinInt returns the smaller of a and b.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ClampF64 clamps x to the range [lower, upper].
func ClampF64(x, lower, upper float64) float64 {
	return math.Max(lower, math.Min(upper, x))
}

// Square returns n*n.
func Square(n float64) float64 {
	return n * n
}

// IsFinite is true when x is neither NaN nor infinite.
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// AllFinite is true when every value is finite.
func AllFinite(values ...float64) bool {
	for _, v := range values {
		if !IsFinite(v) {
			return false
		}
	}
	return true
}
