/*
service.go - Policy query/update facade

PURPOSE:
  Assembles the four policy tables plus per-part strategy assignment into
  one aggregate for reads, and drives the update-and-snapshot sequence for
  writes:

    1. Validate everything (enums, part ownership, duplicates, role) before
       touching the database.
    2. Diff the request against current state into explicit AggregateChanges.
    3. Apply the changes in ONE store transaction.
    4. Re-read the committed aggregate and record a history snapshot.

  A failure inside step 3 rolls back every policy table and part
  reassignment together; a partial update is never visible.

SEE ALSO:
  - types.go: Aggregate, patches, AggregateChanges
  - history.go: Snapshot recorder invoked after writes
*/
package policy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/leave-engine/grant"
)

// =============================================================================
// ACTOR - Identity supplied by the external auth collaborator
// =============================================================================

type Role string

const (
	RoleIntegratedAdmin Role = "integrated_admin"
	RoleBranchAdmin     Role = "branch_admin"
	RoleEmployee        Role = "employee"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleIntegratedAdmin, RoleBranchAdmin, RoleEmployee:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// Actor identifies who is performing a write. ID and role come from the
// identity provider; this subsystem only enforces the branch-admin gate.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) CanWritePolicies() bool {
	return a.Role == RoleIntegratedAdmin || a.Role == RoleBranchAdmin
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store    Store
	Recorder *Recorder
}

func NewService(store Store) *Service {
	return &Service{Store: store, Recorder: NewRecorder(store)}
}

// ReadAggregate returns the full policy aggregate for a branch, creating
// missing policy rows with defaults.
func (s *Service) ReadAggregate(ctx context.Context, branchID string) (*Aggregate, error) {
	if _, err := s.Store.GetBranch(ctx, branchID); err != nil {
		return nil, err
	}

	set, err := s.Store.GetPolicySet(ctx, branchID)
	if err != nil {
		return nil, err
	}

	parts, err := s.Store.ListParts(ctx, branchID)
	if err != nil {
		return nil, err
	}

	agg := &Aggregate{BranchID: branchID, PolicySet: *set}
	agg.Bucketize(parts)
	return agg, nil
}

// UpdateAggregate performs the full update-and-snapshot write. Returns the
// snapshot id of the recorded history group.
func (s *Service) UpdateAggregate(ctx context.Context, branchID string, req UpdateRequest, actor Actor) (string, error) {
	if !actor.CanWritePolicies() {
		return "", fmt.Errorf("%w: role %q may not write policies", ErrForbidden, actor.Role)
	}

	current, err := s.ReadAggregate(ctx, branchID)
	if err != nil {
		return "", err
	}

	changes, err := s.resolveChanges(current, req)
	if err != nil {
		return "", err
	}

	if !changes.IsEmpty() {
		if err := s.Store.ApplyChanges(ctx, branchID, changes); err != nil {
			return "", err
		}
	}

	// Snapshot the committed state, not the request.
	committed, err := s.ReadAggregate(ctx, branchID)
	if err != nil {
		return "", err
	}
	return s.Recorder.Record(ctx, committed, actor.ID)
}

// resolveChanges validates the request against current state and produces
// the explicit operation list. No database writes happen here.
func (s *Service) resolveChanges(current *Aggregate, req UpdateRequest) (AggregateChanges, error) {
	var changes AggregateChanges

	if req.Account != nil {
		row := current.Account
		if req.Account.ApplyTo(&row) {
			changes.Account = &row
		}
	}
	if req.EntryDate != nil {
		row := current.EntryDate
		if req.EntryDate.ApplyTo(&row) {
			changes.EntryDate = &row
		}
	}
	if req.AutoApproval != nil {
		row := current.AutoApproval
		if req.AutoApproval.ApplyTo(&row) {
			changes.AutoApproval = &row
		}
	}

	if req.Conditions != nil {
		create, update, remove, err := reconcileConditions(current, *req.Conditions)
		if err != nil {
			return AggregateChanges{}, err
		}
		changes.CreateConditions = create
		changes.UpdateConditions = update
		changes.DeleteConditionIDs = remove
	}

	assignments, err := resolveAssignments(current, req.Assignments)
	if err != nil {
		return AggregateChanges{}, err
	}
	changes.Assignments = assignments

	return changes, nil
}

// reconcileConditions computes the set difference between existing and
// requested condition rules: delete removed, create added, update the rest.
func reconcileConditions(current *Aggregate, requested []ConditionUpsert) (create, update []ConditionPolicy, remove []string, err error) {
	existing := make(map[string]ConditionPolicy, len(current.Conditions))
	for _, c := range current.Conditions {
		existing[c.ID] = c
	}

	seen := make(map[string]bool, len(requested))
	for _, upsert := range requested {
		rule := grant.ConditionRule{EveryNMonths: upsert.EveryNMonths, DaysGranted: upsert.DaysGranted}
		if err := rule.Validate(); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}

		if upsert.ID == "" {
			create = append(create, ConditionPolicy{
				ID:           uuid.NewString(),
				BranchID:     current.BranchID,
				EveryNMonths: upsert.EveryNMonths,
				DaysGranted:  upsert.DaysGranted,
			})
			continue
		}

		prev, ok := existing[upsert.ID]
		if !ok {
			return nil, nil, nil, fmt.Errorf("%w: %s", ErrConditionNotFound, upsert.ID)
		}
		if seen[upsert.ID] {
			return nil, nil, nil, fmt.Errorf("%w: condition %s listed twice", ErrInvalidInput, upsert.ID)
		}
		seen[upsert.ID] = true

		if prev.EveryNMonths != upsert.EveryNMonths || prev.DaysGranted != upsert.DaysGranted {
			prev.EveryNMonths = upsert.EveryNMonths
			prev.DaysGranted = upsert.DaysGranted
			update = append(update, prev)
		}
	}

	for id := range existing {
		if !seen[id] {
			remove = append(remove, id)
		}
	}
	return create, update, remove, nil
}

// resolveAssignments validates explicit per-part strategy assignments.
// Every assignment names its target strategy; parts absent from the request
// keep their current strategy.
func resolveAssignments(current *Aggregate, requested []PartAssignment) ([]PartAssignment, error) {
	if len(requested) == 0 {
		return nil, nil
	}

	known := make(map[string]grant.Strategy)
	for _, bucket := range [][]OrgUnit{current.ManualParts, current.AccountParts, current.EntryDateParts, current.ConditionParts} {
		for _, part := range bucket {
			known[part.ID] = part.Strategy
		}
	}

	seen := make(map[string]bool, len(requested))
	var resolved []PartAssignment
	for _, a := range requested {
		if _, err := grant.ParseStrategy(string(a.Strategy)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if seen[a.PartID] {
			return nil, &DuplicateAssignmentError{PartID: a.PartID}
		}
		seen[a.PartID] = true

		currentStrategy, ok := known[a.PartID]
		if !ok {
			return nil, &ForeignPartError{PartID: a.PartID, BranchID: current.BranchID}
		}
		if currentStrategy != a.Strategy {
			resolved = append(resolved, a)
		}
	}
	return resolved, nil
}

// =============================================================================
// BALANCE ADJUSTMENTS - Manual grant/deduction primitive
// =============================================================================

// AdjustBalance applies a manual delta through the same compare-and-set
// primitive the scheduler uses. Manual deductions may drive the balance
// negative; that is the administrator's call.
func (s *Service) AdjustBalance(ctx context.Context, employeeID string, delta grant.Days, actor Actor) (grant.Days, error) {
	if !actor.CanWritePolicies() {
		return grant.ZeroDays(), fmt.Errorf("%w: role %q may not adjust balances", ErrForbidden, actor.Role)
	}

	// One retry on a lost race; a second loss is surfaced.
	for attempt := 0; attempt < 2; attempt++ {
		emp, err := s.Store.GetEmployee(ctx, employeeID)
		if err != nil {
			return grant.ZeroDays(), err
		}
		newBalance := emp.Balance.Add(delta)
		err = s.Store.UpdateEmployeeBalance(ctx, employeeID, newBalance, emp.Version)
		if err == nil {
			return newBalance, nil
		}
		if !IsConflict(err) {
			return grant.ZeroDays(), err
		}
	}
	return grant.ZeroDays(), ErrVersionConflict
}
