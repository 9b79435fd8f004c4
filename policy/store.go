/*
store.go - Persistence interfaces

PURPOSE:
  The facade and scheduler talk to storage only through these interfaces.
  store/sqlite implements all of them; store/memory implements them for
  tests.

TRANSACTION CONTRACT:
  ApplyChanges is the one multi-table write. Implementations MUST apply the
  whole AggregateChanges value inside a single transaction: a failure in any
  step leaves every policy table and part assignment untouched.
*/
package policy

import (
	"context"

	"github.com/warp/leave-engine/grant"
)

// =============================================================================
// DIRECTORY - Branches, org units, employees
// =============================================================================

type Directory interface {
	CreateBranch(ctx context.Context, b Branch) error
	GetBranch(ctx context.Context, id string) (*Branch, error)
	ListBranches(ctx context.Context) ([]Branch, error)

	CreatePart(ctx context.Context, part OrgUnit) error
	GetPart(ctx context.Context, id string) (*OrgUnit, error)
	ListParts(ctx context.Context, branchID string) ([]OrgUnit, error)

	CreateEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	ListEmployees(ctx context.Context, orgUnitID string) ([]Employee, error)

	// UpdateEmployeeBalance is the single balance-mutation primitive, used
	// by both the scheduler and manual adjustments. Compare-and-set on the
	// version column; returns ErrVersionConflict on a lost race.
	UpdateEmployeeBalance(ctx context.Context, id string, balance grant.Days, expectedVersion int) error
}

// =============================================================================
// POLICIES
// =============================================================================

type PolicyStore interface {
	// GetPolicySet returns the branch's four policy tables, lazily creating
	// any missing row with its documented default.
	GetPolicySet(ctx context.Context, branchID string) (*PolicySet, error)

	// ApplyChanges applies a resolved aggregate diff in one transaction.
	ApplyChanges(ctx context.Context, branchID string, changes AggregateChanges) error
}

// =============================================================================
// HISTORY - Append-only snapshots
// =============================================================================

type HistoryStore interface {
	// AppendHistory appends snapshot rows. History is never updated or
	// deleted.
	AppendHistory(ctx context.Context, rows []SnapshotRow) error

	// ListHistory returns snapshot rows for a branch and history type,
	// newest snapshot group first, paginated by snapshot group.
	ListHistory(ctx context.Context, branchID string, historyType HistoryType, page, perPage int) ([]SnapshotRow, error)
}

// =============================================================================
// GRANT RUNS
// =============================================================================

type RunStore interface {
	// BeginRun inserts a running marker for (branch, date). Returns
	// ErrRunAlreadyDone if a completed run already exists for the pair.
	BeginRun(ctx context.Context, run GrantRun) error

	CompleteRun(ctx context.Context, run GrantRun) error

	ListRuns(ctx context.Context, branchID string, limit int) ([]GrantRun, error)
}

// =============================================================================
// COMBINED
// =============================================================================

// Store is everything the facade and scheduler need.
type Store interface {
	Directory
	PolicyStore
	HistoryStore
	RunStore
}
