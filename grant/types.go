/*
Package grant implements the automatic annual-leave grant calculator.

PURPOSE:
  Pure, side-effect-free computation of paid-leave balances. Given an
  employee's hire date, current balance, the governing policy, and an
  evaluation date, the calculator answers one question: what should the
  balance be after today's automatic grant, if any?

KEY CONCEPTS IN THIS FILE (types.go):
  - Days: A leave quantity (fractional days allowed, decimal-backed)
  - Strategy: Which grant rule-set governs an org unit
  - ResetBehavior / SubYearBehavior / RoundingMode: Policy knobs
  - Employee / Outcome: Calculator input and output

DESIGN PRINCIPLES:
  1. Purity: No clock reads, no I/O. The scheduler supplies the date.
  2. Precision: decimal.Decimal for every balance; float64 never stores one.
  3. Closed enums: Unknown policy values fail at parse time, not as a
     silent no-op inside a calculation branch.

SEE ALSO:
  - calculator.go: Per-strategy evaluation
  - tenure.go: The stepped tenure-years entitlement table
  - rounding.go: The four rounding modes
*/
package grant

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DAYS - Leave quantity
// =============================================================================

// Days is a quantity of leave. Fractional values (half days) are legal.
type Days struct {
	Value decimal.Decimal
}

func DaysOf(value float64) Days    { return Days{Value: decimal.NewFromFloat(value)} }
func DaysFromInt(value int) Days   { return Days{Value: decimal.NewFromInt(int64(value))} }
func ZeroDays() Days               { return Days{Value: decimal.Zero} }

// ParseDays parses a stored decimal string. Invalid input yields zero; the
// store layer validates balances before they ever reach here.
func ParseDays(s string) Days {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroDays()
	}
	return Days{Value: d}
}

func (d Days) Add(other Days) Days      { return Days{Value: d.Value.Add(other.Value)} }
func (d Days) Sub(other Days) Days      { return Days{Value: d.Value.Sub(other.Value)} }
func (d Days) Equal(other Days) bool    { return d.Value.Equal(other.Value) }
func (d Days) IsZero() bool             { return d.Value.IsZero() }
func (d Days) IsNegative() bool         { return d.Value.IsNegative() }
func (d Days) IsPositive() bool         { return d.Value.IsPositive() }
func (d Days) String() string           { return d.Value.String() }
func (d Days) Float64() float64         { f, _ := d.Value.Float64(); return f }

// =============================================================================
// STRATEGY - Which grant rule-set governs an org unit
// =============================================================================

type Strategy string

const (
	// StrategyManual: No automatic grants. Balance changes only through
	// explicit admin adjustments.
	StrategyManual Strategy = "manual"

	// StrategyAccountBased: Calendar-year driven. Annual grant on January 1,
	// monthly accrual for sub-year employees on the 1st of each month.
	StrategyAccountBased Strategy = "account_based"

	// StrategyEntryDateBased: Hire-anniversary driven. Annual grant on the
	// hire anniversary, monthly +1 for sub-year employees.
	StrategyEntryDateBased Strategy = "entry_date_based"

	// StrategyConditional: Custom N-month cadence rules, independently
	// evaluated and cumulative.
	StrategyConditional Strategy = "conditional"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyManual, StrategyAccountBased, StrategyEntryDateBased, StrategyConditional:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown grant strategy %q", s)
}

// =============================================================================
// POLICY KNOBS
// =============================================================================

// ResetBehavior controls what happens to the existing balance when the
// annual (>=1 year tenure) grant fires.
type ResetBehavior string

const (
	// ResetDiscard: Balance becomes exactly the new entitlement.
	ResetDiscard ResetBehavior = "reset"

	// ResetRollover: New entitlement is added to the existing balance.
	ResetRollover ResetBehavior = "rollover"
)

func ParseResetBehavior(s string) (ResetBehavior, error) {
	switch ResetBehavior(s) {
	case ResetDiscard, ResetRollover:
		return ResetBehavior(s), nil
	}
	return "", fmt.Errorf("unknown reset behavior %q", s)
}

// SubYearBehavior controls how account-based employees with under one year
// of tenure accrue during the year.
type SubYearBehavior string

const (
	// SubYearOnePerMonth: +1 day on the 1st of each month, skipping the
	// hire month itself.
	SubYearOnePerMonth SubYearBehavior = "one_per_month"

	// SubYearLumpSumSameYear: A fixed 11-day bootstrap in the first month
	// of employment, nothing after.
	SubYearLumpSumSameYear SubYearBehavior = "lump_sum_same_year"
)

func ParseSubYearBehavior(s string) (SubYearBehavior, error) {
	switch SubYearBehavior(s) {
	case SubYearOnePerMonth, SubYearLumpSumSameYear:
		return SubYearBehavior(s), nil
	}
	return "", fmt.Errorf("unknown sub-year behavior %q", s)
}

// =============================================================================
// POLICY PAYLOADS - Calculator-facing policy configuration
// =============================================================================

// AccountPolicy configures the account-based (calendar year) strategy.
type AccountPolicy struct {
	Reset    ResetBehavior
	SubYear  SubYearBehavior
	Rounding RoundingMode
}

// EntryDatePolicy configures the entry-date-based (anniversary) strategy.
type EntryDatePolicy struct {
	Reset ResetBehavior
}

// ConditionRule is a single custom cadence rule. Zero or many per branch;
// each is evaluated independently.
type ConditionRule struct {
	EveryNMonths int
	DaysGranted  int
}

func (r ConditionRule) Validate() error {
	if r.EveryNMonths <= 0 {
		return fmt.Errorf("condition rule: every_n_months must be positive, got %d", r.EveryNMonths)
	}
	if r.DaysGranted <= 0 {
		return fmt.Errorf("condition rule: days_granted must be positive, got %d", r.DaysGranted)
	}
	return nil
}

// =============================================================================
// CALCULATOR INPUT / OUTPUT
// =============================================================================

// Employee is the calculator's view of an employee: only what the grant
// rules need.
type Employee struct {
	HireDate Date
	Balance  Days
}

// Outcome is the result of evaluating one employee against one policy on
// one date. Apply=false means no rule fired; the balance is untouched.
type Outcome struct {
	Apply      bool
	NewBalance Days
	Granted    Days   // Delta applied (informational; equals NewBalance-old for additive grants)
	Reason     string // Human-readable rule description for run logs
}

func noOutcome() Outcome { return Outcome{} }

func (o Outcome) String() string {
	if !o.Apply {
		return "no-op"
	}
	return fmt.Sprintf("%s -> balance %s", o.Reason, o.NewBalance)
}
