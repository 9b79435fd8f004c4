/*
Package policy holds the per-branch leave-policy model and the facade that
reads and writes it.

PURPOSE:
  A branch owns four policy rows - account-based grant, entry-date-based
  grant, a list of condition-based grants, and auto-approval - plus a grant
  strategy per org unit ("part"). This package defines those records, the
  aggregate DTO that bundles them, the typed patches used to update them,
  and the append-only history snapshots written after every update.

KEY CONCEPTS IN THIS FILE (types.go):
  - Branch / OrgUnit / Employee: Directory records
  - AccountPolicy / EntryDatePolicy / ConditionPolicy / AutoApprovalPolicy:
    One policy row type per table
  - PolicySet / Aggregate: The bundled read model
  - Patches and AggregateChanges: The explicit, reflection-free write model

DESIGN PRINCIPLES:
  1. Explicit patches: Each policy type has a patch struct listing exactly
     its mutable fields. No runtime column introspection.
  2. Explicit assignment: Every part's target strategy is named in the
     request. A part absent from the request keeps its strategy; nothing is
     silently demoted to manual.
  3. Lazy defaults: Policy rows are created on first read with documented
     defaults, never left dangling.

SEE ALSO:
  - service.go: Read/write facade and validation
  - history.go: Snapshot recorder
  - store.go: Persistence interfaces
*/
package policy

import (
	"time"

	"github.com/warp/leave-engine/grant"
)

// =============================================================================
// DIRECTORY RECORDS
// =============================================================================

// Branch is a clinic location, the tenant boundary for all policies.
type Branch struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// OrgUnit is a department/role grouping of employees within a branch.
// Exactly one grant strategy governs it at a time.
type OrgUnit struct {
	ID       string
	BranchID string
	Name     string
	Strategy grant.Strategy
}

// Employee belongs to exactly one org unit. Balance is mutated only by the
// grant scheduler or the manual-adjustment endpoint, both through the same
// compare-and-set primitive.
type Employee struct {
	ID              string
	OrgUnitID       string
	Name            string
	HireDate        grant.Date
	ResignationDate *grant.Date
	Balance         grant.Days
	Version         int
}

// ActiveOn reports whether the employee is still employed on the given date.
func (e Employee) ActiveOn(d grant.Date) bool {
	return e.ResignationDate == nil || e.ResignationDate.After(d)
}

// GrantView converts to the calculator's input shape.
func (e Employee) GrantView() grant.Employee {
	return grant.Employee{HireDate: e.HireDate, Balance: e.Balance}
}

// =============================================================================
// POLICY ROWS - One type per table, one row per branch (conditions: many)
// =============================================================================

type AccountPolicy struct {
	ID       string
	BranchID string
	Reset    grant.ResetBehavior
	SubYear  grant.SubYearBehavior
	Rounding grant.RoundingMode
}

// Rules returns the calculator-facing configuration.
func (p AccountPolicy) Rules() grant.AccountPolicy {
	return grant.AccountPolicy{Reset: p.Reset, SubYear: p.SubYear, Rounding: p.Rounding}
}

type EntryDatePolicy struct {
	ID       string
	BranchID string
	Reset    grant.ResetBehavior
}

func (p EntryDatePolicy) Rules() grant.EntryDatePolicy {
	return grant.EntryDatePolicy{Reset: p.Reset}
}

type ConditionPolicy struct {
	ID           string
	BranchID     string
	EveryNMonths int
	DaysGranted  int
}

func (p ConditionPolicy) Rule() grant.ConditionRule {
	return grant.ConditionRule{EveryNMonths: p.EveryNMonths, DaysGranted: p.DaysGranted}
}

// AutoApprovalPolicy gates whether leave requests auto-approve per actor
// class. Not part of the grant math, but part of the same aggregate and
// history.
type AutoApprovalPolicy struct {
	ID                         string
	BranchID                   string
	AutoApproveIntegratedAdmin bool
	AutoApproveAdmin           bool
	AutoApproveEmployee        bool
}

// =============================================================================
// DEFAULTS - Applied on lazy creation, never NULL-referenced
// =============================================================================

func DefaultAccountPolicy(branchID string) AccountPolicy {
	return AccountPolicy{
		BranchID: branchID,
		Reset:    grant.ResetDiscard,
		SubYear:  grant.SubYearOnePerMonth,
		Rounding: grant.RoundUpHalf,
	}
}

func DefaultEntryDatePolicy(branchID string) EntryDatePolicy {
	return EntryDatePolicy{BranchID: branchID, Reset: grant.ResetDiscard}
}

func DefaultAutoApprovalPolicy(branchID string) AutoApprovalPolicy {
	return AutoApprovalPolicy{BranchID: branchID}
}

// =============================================================================
// AGGREGATE - The full per-branch policy state
// =============================================================================

// PolicySet bundles the four policy tables for one branch.
type PolicySet struct {
	Account      AccountPolicy
	EntryDate    EntryDatePolicy
	AutoApproval AutoApprovalPolicy
	Conditions   []ConditionPolicy
}

// Aggregate is the read model: the policy set plus every part classified by
// its governing strategy.
type Aggregate struct {
	BranchID string
	PolicySet

	ManualParts    []OrgUnit
	AccountParts   []OrgUnit
	EntryDateParts []OrgUnit
	ConditionParts []OrgUnit
}

// Bucketize classifies parts by strategy for presentation.
func (a *Aggregate) Bucketize(parts []OrgUnit) {
	a.ManualParts = []OrgUnit{}
	a.AccountParts = []OrgUnit{}
	a.EntryDateParts = []OrgUnit{}
	a.ConditionParts = []OrgUnit{}
	for _, part := range parts {
		switch part.Strategy {
		case grant.StrategyAccountBased:
			a.AccountParts = append(a.AccountParts, part)
		case grant.StrategyEntryDateBased:
			a.EntryDateParts = append(a.EntryDateParts, part)
		case grant.StrategyConditional:
			a.ConditionParts = append(a.ConditionParts, part)
		default:
			a.ManualParts = append(a.ManualParts, part)
		}
	}
}

// =============================================================================
// PATCHES - Explicit mutable-field lists, compared field by field
// =============================================================================

// AccountPatch lists the mutable fields of AccountPolicy. Nil means "leave
// unchanged".
type AccountPatch struct {
	Reset    *grant.ResetBehavior
	SubYear  *grant.SubYearBehavior
	Rounding *grant.RoundingMode
}

// ApplyTo mutates the policy in place and reports whether anything changed.
func (p AccountPatch) ApplyTo(row *AccountPolicy) bool {
	changed := false
	if p.Reset != nil && *p.Reset != row.Reset {
		row.Reset = *p.Reset
		changed = true
	}
	if p.SubYear != nil && *p.SubYear != row.SubYear {
		row.SubYear = *p.SubYear
		changed = true
	}
	if p.Rounding != nil && *p.Rounding != row.Rounding {
		row.Rounding = *p.Rounding
		changed = true
	}
	return changed
}

type EntryDatePatch struct {
	Reset *grant.ResetBehavior
}

func (p EntryDatePatch) ApplyTo(row *EntryDatePolicy) bool {
	if p.Reset != nil && *p.Reset != row.Reset {
		row.Reset = *p.Reset
		return true
	}
	return false
}

type AutoApprovalPatch struct {
	AutoApproveIntegratedAdmin *bool
	AutoApproveAdmin           *bool
	AutoApproveEmployee        *bool
}

func (p AutoApprovalPatch) ApplyTo(row *AutoApprovalPolicy) bool {
	changed := false
	if p.AutoApproveIntegratedAdmin != nil && *p.AutoApproveIntegratedAdmin != row.AutoApproveIntegratedAdmin {
		row.AutoApproveIntegratedAdmin = *p.AutoApproveIntegratedAdmin
		changed = true
	}
	if p.AutoApproveAdmin != nil && *p.AutoApproveAdmin != row.AutoApproveAdmin {
		row.AutoApproveAdmin = *p.AutoApproveAdmin
		changed = true
	}
	if p.AutoApproveEmployee != nil && *p.AutoApproveEmployee != row.AutoApproveEmployee {
		row.AutoApproveEmployee = *p.AutoApproveEmployee
		changed = true
	}
	return changed
}

// ConditionUpsert is one requested condition rule. Empty ID means create;
// a known ID means update. Existing rules absent from the request list are
// deleted (the condition list is replaced as a set).
type ConditionUpsert struct {
	ID           string
	EveryNMonths int
	DaysGranted  int
}

// PartAssignment names one part's target strategy explicitly. Parts not
// listed keep their current strategy.
type PartAssignment struct {
	PartID   string
	Strategy grant.Strategy
}

// UpdateRequest is the full aggregate write. Nil patch pointers leave that
// policy untouched; a nil Conditions pointer leaves the rule list untouched.
type UpdateRequest struct {
	Account      *AccountPatch
	EntryDate    *EntryDatePatch
	AutoApproval *AutoApprovalPatch
	Conditions   *[]ConditionUpsert
	Assignments  []PartAssignment
}

// =============================================================================
// CHANGES - Resolved write operations, applied in one transaction
// =============================================================================

// AggregateChanges is the diff the facade hands to the store. The store
// applies every field inside a single transaction; a failure anywhere rolls
// back everything.
type AggregateChanges struct {
	Account      *AccountPolicy
	EntryDate    *EntryDatePolicy
	AutoApproval *AutoApprovalPolicy

	CreateConditions   []ConditionPolicy
	UpdateConditions   []ConditionPolicy
	DeleteConditionIDs []string

	Assignments []PartAssignment
}

func (c AggregateChanges) IsEmpty() bool {
	return c.Account == nil && c.EntryDate == nil && c.AutoApproval == nil &&
		len(c.CreateConditions) == 0 && len(c.UpdateConditions) == 0 &&
		len(c.DeleteConditionIDs) == 0 && len(c.Assignments) == 0
}

// =============================================================================
// GRANT RUNS - Daily job bookkeeping
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// GrantRun records one branch's daily grant execution. The unique
// (branch, run date) pair is the double-fire guard: the source system relies
// on its trigger firing exactly once per day; this marker makes a re-run of
// the same calendar date a per-branch no-op.
type GrantRun struct {
	ID          string
	BranchID    string
	RunDate     grant.Date
	Status      RunStatus
	Granted     int
	Skipped     int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
