package grant

// =============================================================================
// TENURE TABLE - Whole tenure-years to entitlement days
// =============================================================================

// The statutory stepped table: 15 days at 1 year of tenure, +1 day every two
// years, capped at 25 days from 21 years on.
//
//	1-2y  -> 15    11-12y -> 20
//	3-4y  -> 16    13-14y -> 21
//	5-6y  -> 17    15-16y -> 22
//	7-8y  -> 18    17-18y -> 23
//	9-10y -> 19    19-20y -> 24
//	               >=21y  -> 25

const (
	baseEntitlementDays = 15
	maxEntitlementDays  = 25
	maxEntitlementYears = 21
)

// TenureEntitlement returns the annual entitlement in days for a given number
// of whole tenure years. Zero for employees under one year; the sub-year
// rules in calculator.go cover those.
func TenureEntitlement(tenureYears int) Days {
	if tenureYears < 1 {
		return ZeroDays()
	}
	if tenureYears >= maxEntitlementYears {
		return DaysFromInt(maxEntitlementDays)
	}
	return DaysFromInt(baseEntitlementDays + (tenureYears-1)/2)
}
