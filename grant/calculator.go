/*
calculator.go - Per-strategy grant evaluation

PURPOSE:
  The three mutually exclusive grant strategies, each a pure function from
  (employee, policy, evaluation date) to an Outcome. The scheduler dispatches
  here once per employee per day; everything below is deterministic.

STRATEGY TRIGGERS:
  Account-based:    evaluation date is the 1st of a month
  Entry-date-based: evaluation date matches the hire month+day (annual) or
                    hire day-of-month (monthly, sub-year)
  Conditional:      evaluation date matches the hire day-of-month

RESET vs ROLLOVER:
  Only the >=1-year milestone grant obeys the reset behavior. Sub-year grants
  are additive even under reset - a new hire's accrued monthly days are never
  discarded by the January grant.

SEE ALSO:
  - tenure.go: The stepped entitlement table
  - rounding.go: Rounding of the fractional first-January grant
*/
package grant

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// Fixed bootstrap grant for brand-new hires under the lump-sum sub-year
	// behavior.
	lumpSumBootstrapDays = 11

	// A hire is "just hired" for the lump-sum bootstrap while total tenure
	// is at most this many days.
	lumpSumWindowDays = 31

	daysPerYear = 365
)

var (
	annualBaseline = decimal.NewFromInt(baseEntitlementDays)
	yearDenominator = decimal.NewFromInt(daysPerYear)
)

// =============================================================================
// ACCOUNT-BASED STRATEGY (calendar year)
// =============================================================================

// EvaluateAccount applies the account-based strategy. Fires only on the 1st
// of a month; on January 1 it is the annual grant, on other firsts the
// sub-year accrual.
func EvaluateAccount(e Employee, p AccountPolicy, on Date) Outcome {
	if !on.IsFirstOfMonth() || !on.After(e.HireDate) {
		return noOutcome()
	}

	tenureYears := WholeYearsBetween(e.HireDate, on)

	if on.IsJanuaryFirst() {
		if tenureYears >= 1 {
			return annualGrant(e, TenureEntitlement(tenureYears), p.Reset, "annual account-based grant")
		}
		return accountSubYearJanuary(e, p, on)
	}

	if tenureYears >= 1 {
		return noOutcome()
	}

	switch p.SubYear {
	case SubYearOnePerMonth:
		// Skip the hire month; the first accrual lands on the 1st of the
		// month after hire.
		if on.SameCalendarMonth(e.HireDate) {
			return noOutcome()
		}
		one := DaysFromInt(1)
		return Outcome{
			Apply:      true,
			NewBalance: e.Balance.Add(one),
			Granted:    one,
			Reason:     "monthly sub-year accrual",
		}
	case SubYearLumpSumSameYear:
		// One-time bootstrap for brand-new hires: balance is SET to the
		// lump sum, not added.
		if DaysBetween(e.HireDate, on) > lumpSumWindowDays {
			return noOutcome()
		}
		lump := DaysFromInt(lumpSumBootstrapDays)
		return Outcome{
			Apply:      true,
			NewBalance: lump,
			Granted:    lump.Sub(e.Balance),
			Reason:     "first-month lump-sum bootstrap",
		}
	}
	return noOutcome()
}

// accountSubYearJanuary handles the January 1 grant for employees with under
// one year of tenure: rounding(15 x worked_days_last_year / 365), always
// additive regardless of the reset behavior.
func accountSubYearJanuary(e Employee, p AccountPolicy, on Date) Outcome {
	priorYear := on.Year() - 1
	from := e.HireDate
	if from.Before(StartOfYear(priorYear)) {
		from = StartOfYear(priorYear)
	}
	// Inclusive of Dec 31: hire Mar 15 -> Dec 31 is 292 worked days.
	worked := DaysBetween(from, EndOfYear(priorYear)) + 1
	if worked <= 0 {
		return noOutcome()
	}

	prorated := Days{Value: annualBaseline.
		Mul(decimal.NewFromInt(int64(worked))).
		Div(yearDenominator)}
	granted := p.Rounding.Apply(prorated)
	if !granted.IsPositive() {
		return noOutcome()
	}

	return Outcome{
		Apply:      true,
		NewBalance: e.Balance.Add(granted),
		Granted:    granted,
		Reason:     fmt.Sprintf("prorated first-January grant (%d worked days)", worked),
	}
}

// =============================================================================
// ENTRY-DATE-BASED STRATEGY (hire anniversary)
// =============================================================================

// EvaluateEntryDate applies the entry-date-based strategy: the annual table
// grant on the hire anniversary, +1/month on the hire day-of-month before the
// first anniversary.
func EvaluateEntryDate(e Employee, p EntryDatePolicy, on Date) Outcome {
	if !on.After(e.HireDate) || on.Day() != e.HireDate.Day() {
		return noOutcome()
	}

	tenureYears := WholeYearsBetween(e.HireDate, on)

	if on.Month() == e.HireDate.Month() {
		if tenureYears < 1 {
			return noOutcome()
		}
		return annualGrant(e, TenureEntitlement(tenureYears), p.Reset, "annual entry-date grant")
	}

	if tenureYears >= 1 {
		return noOutcome()
	}

	one := DaysFromInt(1)
	return Outcome{
		Apply:      true,
		NewBalance: e.Balance.Add(one),
		Granted:    one,
		Reason:     "monthly anniversary accrual",
	}
}

// =============================================================================
// CONDITIONAL STRATEGY (custom N-month cadence)
// =============================================================================

// EvaluateConditions applies every configured cadence rule independently.
// Rules that fire on the same date are cumulative.
func EvaluateConditions(e Employee, rules []ConditionRule, on Date) Outcome {
	if !on.After(e.HireDate) || on.Day() != e.HireDate.Day() {
		return noOutcome()
	}

	months := WholeMonthsBetween(e.HireDate, on)
	if months <= 0 {
		return noOutcome()
	}

	total := ZeroDays()
	fired := 0
	for _, rule := range rules {
		if rule.EveryNMonths <= 0 {
			continue
		}
		if months%rule.EveryNMonths == 0 {
			total = total.Add(DaysFromInt(rule.DaysGranted))
			fired++
		}
	}
	if fired == 0 || !total.IsPositive() {
		return noOutcome()
	}

	return Outcome{
		Apply:      true,
		NewBalance: e.Balance.Add(total),
		Granted:    total,
		Reason:     fmt.Sprintf("conditional grant (%d rules fired at %d months)", fired, months),
	}
}

// =============================================================================
// SHARED
// =============================================================================

// annualGrant applies the >=1-year milestone grant under the configured
// reset behavior. This is the only grant that can discard an existing
// balance.
func annualGrant(e Employee, entitlement Days, reset ResetBehavior, reason string) Outcome {
	var newBalance Days
	switch reset {
	case ResetRollover:
		newBalance = e.Balance.Add(entitlement)
	default: // ResetDiscard
		newBalance = entitlement
	}
	return Outcome{
		Apply:      true,
		NewBalance: newBalance,
		Granted:    newBalance.Sub(e.Balance),
		Reason:     reason,
	}
}
