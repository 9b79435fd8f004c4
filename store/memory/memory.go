// Package memory provides an in-memory policy.Store implementation for
// testing and development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/warp/leave-engine/grant"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu sync.RWMutex

	branches  map[string]policy.Branch
	parts     map[string]policy.OrgUnit
	employees map[string]policy.Employee

	accountPolicies      map[string]policy.AccountPolicy      // by branch id
	entryDatePolicies    map[string]policy.EntryDatePolicy    // by branch id
	autoApprovalPolicies map[string]policy.AutoApprovalPolicy // by branch id
	conditionPolicies    map[string]policy.ConditionPolicy    // by condition id

	history []policy.SnapshotRow
	runs    map[string]policy.GrantRun // by run id

	// FailApplyAfterConditionDeletes makes ApplyChanges fail after deleting
	// condition rows, to exercise rollback behavior in tests.
	FailApplyAfterConditionDeletes bool
}

func New() *Store {
	return &Store{
		branches:             make(map[string]policy.Branch),
		parts:                make(map[string]policy.OrgUnit),
		employees:            make(map[string]policy.Employee),
		accountPolicies:      make(map[string]policy.AccountPolicy),
		entryDatePolicies:    make(map[string]policy.EntryDatePolicy),
		autoApprovalPolicies: make(map[string]policy.AutoApprovalPolicy),
		conditionPolicies:    make(map[string]policy.ConditionPolicy),
		runs:                 make(map[string]policy.GrantRun),
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) CreateBranch(_ context.Context, b policy.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branches[b.ID] = b
	return nil
}

func (s *Store) GetBranch(_ context.Context, id string) (*policy.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[id]
	if !ok {
		return nil, policy.ErrBranchNotFound
	}
	return &b, nil
}

func (s *Store) ListBranches(_ context.Context) ([]policy.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]policy.Branch, 0, len(s.branches))
	for _, b := range s.branches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreatePart(_ context.Context, part policy.OrgUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[part.BranchID]; !ok {
		return policy.ErrBranchNotFound
	}
	s.parts[part.ID] = part
	return nil
}

func (s *Store) GetPart(_ context.Context, id string) (*policy.OrgUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	part, ok := s.parts[id]
	if !ok {
		return nil, policy.ErrPartNotFound
	}
	return &part, nil
}

func (s *Store) ListParts(_ context.Context, branchID string) ([]policy.OrgUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []policy.OrgUnit
	for _, part := range s.parts {
		if part.BranchID == branchID {
			out = append(out, part)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateEmployee(_ context.Context, e policy.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parts[e.OrgUnitID]; !ok {
		return policy.ErrPartNotFound
	}
	s.employees[e.ID] = e
	return nil
}

func (s *Store) GetEmployee(_ context.Context, id string) (*policy.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[id]
	if !ok {
		return nil, policy.ErrEmployeeNotFound
	}
	return &e, nil
}

func (s *Store) ListEmployees(_ context.Context, orgUnitID string) ([]policy.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []policy.Employee
	for _, e := range s.employees {
		if e.OrgUnitID == orgUnitID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateEmployeeBalance(_ context.Context, id string, balance grant.Days, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.employees[id]
	if !ok {
		return policy.ErrEmployeeNotFound
	}
	if e.Version != expectedVersion {
		return policy.ErrVersionConflict
	}
	e.Balance = balance
	e.Version++
	s.employees[id] = e
	return nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (s *Store) GetPolicySet(_ context.Context, branchID string) (*policy.PolicySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[branchID]; !ok {
		return nil, policy.ErrBranchNotFound
	}

	account, ok := s.accountPolicies[branchID]
	if !ok {
		account = policy.DefaultAccountPolicy(branchID)
		account.ID = s.newID()
		s.accountPolicies[branchID] = account
	}
	entryDate, ok := s.entryDatePolicies[branchID]
	if !ok {
		entryDate = policy.DefaultEntryDatePolicy(branchID)
		entryDate.ID = s.newID()
		s.entryDatePolicies[branchID] = entryDate
	}
	autoApproval, ok := s.autoApprovalPolicies[branchID]
	if !ok {
		autoApproval = policy.DefaultAutoApprovalPolicy(branchID)
		autoApproval.ID = s.newID()
		s.autoApprovalPolicies[branchID] = autoApproval
	}

	var conditions []policy.ConditionPolicy
	for _, c := range s.conditionPolicies {
		if c.BranchID == branchID {
			conditions = append(conditions, c)
		}
	}
	sort.Slice(conditions, func(i, j int) bool { return conditions[i].ID < conditions[j].ID })

	return &policy.PolicySet{
		Account:      account,
		EntryDate:    entryDate,
		AutoApproval: autoApproval,
		Conditions:   conditions,
	}, nil
}

// ApplyChanges applies the diff atomically: state is snapshotted up front
// and restored wholesale if any step fails.
func (s *Store) ApplyChanges(_ context.Context, branchID string, changes policy.AggregateChanges) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[branchID]; !ok {
		return policy.ErrBranchNotFound
	}

	backup := s.snapshotLocked()
	if err := s.applyLocked(branchID, changes); err != nil {
		s.restoreLocked(backup)
		return err
	}
	return nil
}

func (s *Store) applyLocked(branchID string, changes policy.AggregateChanges) error {
	if changes.Account != nil {
		s.accountPolicies[branchID] = *changes.Account
	}
	if changes.EntryDate != nil {
		s.entryDatePolicies[branchID] = *changes.EntryDate
	}
	if changes.AutoApproval != nil {
		s.autoApprovalPolicies[branchID] = *changes.AutoApproval
	}

	for _, id := range changes.DeleteConditionIDs {
		if _, ok := s.conditionPolicies[id]; !ok {
			return policy.ErrConditionNotFound
		}
		delete(s.conditionPolicies, id)
	}
	if s.FailApplyAfterConditionDeletes && len(changes.DeleteConditionIDs) > 0 {
		return policy.ErrConditionNotFound
	}
	for _, c := range changes.UpdateConditions {
		if _, ok := s.conditionPolicies[c.ID]; !ok {
			return policy.ErrConditionNotFound
		}
		s.conditionPolicies[c.ID] = c
	}
	for _, c := range changes.CreateConditions {
		s.conditionPolicies[c.ID] = c
	}

	for _, a := range changes.Assignments {
		part, ok := s.parts[a.PartID]
		if !ok || part.BranchID != branchID {
			return policy.ErrPartNotFound
		}
		part.Strategy = a.Strategy
		s.parts[a.PartID] = part
	}
	return nil
}

type memorySnapshot struct {
	accountPolicies      map[string]policy.AccountPolicy
	entryDatePolicies    map[string]policy.EntryDatePolicy
	autoApprovalPolicies map[string]policy.AutoApprovalPolicy
	conditionPolicies    map[string]policy.ConditionPolicy
	parts                map[string]policy.OrgUnit
}

func (s *Store) snapshotLocked() memorySnapshot {
	snap := memorySnapshot{
		accountPolicies:      make(map[string]policy.AccountPolicy, len(s.accountPolicies)),
		entryDatePolicies:    make(map[string]policy.EntryDatePolicy, len(s.entryDatePolicies)),
		autoApprovalPolicies: make(map[string]policy.AutoApprovalPolicy, len(s.autoApprovalPolicies)),
		conditionPolicies:    make(map[string]policy.ConditionPolicy, len(s.conditionPolicies)),
		parts:                make(map[string]policy.OrgUnit, len(s.parts)),
	}
	for k, v := range s.accountPolicies {
		snap.accountPolicies[k] = v
	}
	for k, v := range s.entryDatePolicies {
		snap.entryDatePolicies[k] = v
	}
	for k, v := range s.autoApprovalPolicies {
		snap.autoApprovalPolicies[k] = v
	}
	for k, v := range s.conditionPolicies {
		snap.conditionPolicies[k] = v
	}
	for k, v := range s.parts {
		snap.parts[k] = v
	}
	return snap
}

func (s *Store) restoreLocked(snap memorySnapshot) {
	s.accountPolicies = snap.accountPolicies
	s.entryDatePolicies = snap.entryDatePolicies
	s.autoApprovalPolicies = snap.autoApprovalPolicies
	s.conditionPolicies = snap.conditionPolicies
	s.parts = snap.parts
}

// =============================================================================
// HISTORY
// =============================================================================

func (s *Store) AppendHistory(_ context.Context, rows []policy.SnapshotRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rows...)
	return nil
}

func (s *Store) ListHistory(_ context.Context, branchID string, historyType policy.HistoryType, page, perPage int) ([]policy.SnapshotRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matching []policy.SnapshotRow
	for _, row := range s.history {
		if row.BranchID == branchID && row.Type == historyType {
			matching = append(matching, row)
		}
	}
	// Newest snapshot group first; appended order is creation order.
	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].CreatedAt.After(matching[j].CreatedAt)
	})

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	start := (page - 1) * perPage
	if start >= len(matching) {
		return []policy.SnapshotRow{}, nil
	}
	end := start + perPage
	if end > len(matching) {
		end = len(matching)
	}
	return matching[start:end], nil
}

// =============================================================================
// GRANT RUNS
// =============================================================================

func (s *Store) BeginRun(_ context.Context, run policy.GrantRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.runs {
		if existing.BranchID == run.BranchID && existing.RunDate.Equal(run.RunDate) &&
			existing.Status != policy.RunFailed {
			return policy.ErrRunAlreadyDone
		}
	}
	s.runs[run.ID] = run
	return nil
}

func (s *Store) CompleteRun(_ context.Context, run policy.GrantRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *Store) ListRuns(_ context.Context, branchID string, limit int) ([]policy.GrantRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []policy.GrantRun
	for _, run := range s.runs {
		if branchID == "" || run.BranchID == branchID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) newID() string {
	return uuid.NewString()
}
