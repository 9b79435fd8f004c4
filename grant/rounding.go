package grant

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROUNDING MODES - Applied to the fractional sub-year entitlement formula
// =============================================================================

// RoundingMode determines how the fractional first-January grant
// (15 x worked_days / 365) is rounded before it is added to the balance.
type RoundingMode string

const (
	// RoundUpHalf: Round up to the nearest 0.5. 1.2 -> 1.5, 1.6 -> 2.0,
	// exact multiples of 0.5 unchanged.
	RoundUpHalf RoundingMode = "round_up_half"

	// Truncate: Floor to the integer below. 1.9 -> 1.
	Truncate RoundingMode = "truncate"

	// RoundUp: Ceiling to the integer above. 1.1 -> 2.
	RoundUp RoundingMode = "round_up"

	// RoundNearest: Standard half-up rounding to integer. 1.5 -> 2, 1.4 -> 1.
	RoundNearest RoundingMode = "round_nearest"
)

func ParseRoundingMode(s string) (RoundingMode, error) {
	switch RoundingMode(s) {
	case RoundUpHalf, Truncate, RoundUp, RoundNearest:
		return RoundingMode(s), nil
	}
	return "", fmt.Errorf("unknown rounding mode %q", s)
}

var two = decimal.NewFromInt(2)

// Apply rounds a day quantity according to the mode. Idempotent: applying a
// mode to its own output returns the same value.
func (m RoundingMode) Apply(d Days) Days {
	switch m {
	case RoundUpHalf:
		// Ceil at half-day resolution: x -> ceil(2x)/2.
		return Days{Value: d.Value.Mul(two).Ceil().Div(two)}
	case Truncate:
		return Days{Value: d.Value.Floor()}
	case RoundUp:
		return Days{Value: d.Value.Ceil()}
	case RoundNearest:
		// decimal.Round is half away from zero; grants are never negative,
		// so this is half-up.
		return Days{Value: d.Value.Round(0)}
	}
	// Unreachable for parsed modes; construction-time validation rejects
	// anything else.
	return d
}
