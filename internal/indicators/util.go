// Package indicators implements incrementally updatable technical
// indicators over streaming tick prices. Every indicator is a small
// state machine fed one price at a time; a full recomputation is simply
// a fresh instance replayed over the window, so the incremental and
// recomputed values can never drift apart.
//
// Inputs are validated for NaN/Inf and divisions are guarded. When an
// indicator cannot produce a meaningful value it reports its documented
// neutral value with ok=false instead of propagating garbage.
package indicators

import "math"

// Neutral values reported while an indicator is not ready.
const (
	NeutralRSI   = 50.0
	NeutralStoch = 50.0
)

// finite rejects NaN and ±Inf.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ValidPrice reports whether a price may enter an indicator: finite and
// strictly positive.
func ValidPrice(p float64) bool {
	return finite(p) && p > 0
}

// safeDiv divides with a zero/invalid guard, returning fallback when
// the quotient would be meaningless.
func safeDiv(num, den, fallback float64) float64 {
	if den == 0 || !finite(num) || !finite(den) {
		return fallback
	}
	q := num / den
	if !finite(q) {
		return fallback
	}
	return q
}

// Round trims v for display only; arithmetic always stays full precision.
func Round(v float64, places int) float64 {
	if !finite(v) {
		return 0
	}
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
