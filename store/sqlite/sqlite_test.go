/*
sqlite_test.go - Storage tests

Tests for:
- Lazy default creation on first policy read
- All-or-nothing aggregate writes
- Compare-and-set balance updates
- Snapshot grouping and pagination
- Daily-run double-fire guard
*/
package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/warp/leave-engine/grant"
	"github.com/warp/leave-engine/policy"
	"github.com/warp/leave-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedBranch(t *testing.T, store *sqlite.Store, id string) {
	t.Helper()
	err := store.CreateBranch(context.Background(), policy.Branch{
		ID:        id,
		Name:      "Clinic " + id,
		CreatedAt: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Failed to create branch: %v", err)
	}
}

func seedPart(t *testing.T, store *sqlite.Store, id, branchID string, strategy grant.Strategy) {
	t.Helper()
	err := store.CreatePart(context.Background(), policy.OrgUnit{
		ID:       id,
		BranchID: branchID,
		Name:     "Unit " + id,
		Strategy: strategy,
	})
	if err != nil {
		t.Fatalf("Failed to create org unit: %v", err)
	}
}

func seedEmployee(t *testing.T, store *sqlite.Store, id, orgUnitID string, hire grant.Date) {
	t.Helper()
	err := store.CreateEmployee(context.Background(), policy.Employee{
		ID:        id,
		OrgUnitID: orgUnitID,
		Name:      "Employee " + id,
		HireDate:  hire,
		Balance:   grant.ZeroDays(),
	})
	if err != nil {
		t.Fatalf("Failed to create employee: %v", err)
	}
}

func date(year int, month time.Month, day int) grant.Date {
	return grant.NewDate(year, month, day)
}

// =============================================================================
// LAZY DEFAULTS
// =============================================================================

func TestGetPolicySet_CreatesDefaults(t *testing.T) {
	// GIVEN: A branch with no policy rows yet
	store := newTestStore(t)
	ctx := context.Background()
	seedBranch(t, store, "br-1")

	// WHEN: Reading the policy set for the first time
	set, err := store.GetPolicySet(ctx, "br-1")
	if err != nil {
		t.Fatalf("Failed to read policy set: %v", err)
	}

	// THEN: Every row exists with its documented default
	if set.Account.Reset != grant.ResetDiscard {
		t.Errorf("Expected default reset behavior, got %q", set.Account.Reset)
	}
	if set.Account.SubYear != grant.SubYearOnePerMonth {
		t.Errorf("Expected default sub-year behavior, got %q", set.Account.SubYear)
	}
	if set.Account.Rounding != grant.RoundUpHalf {
		t.Errorf("Expected default rounding mode, got %q", set.Account.Rounding)
	}
	if set.EntryDate.Reset != grant.ResetDiscard {
		t.Errorf("Expected default entry-date reset, got %q", set.EntryDate.Reset)
	}
	if set.AutoApproval.AutoApproveEmployee {
		t.Error("Expected auto-approval off by default")
	}
	if len(set.Conditions) != 0 {
		t.Errorf("Expected no condition rules, got %d", len(set.Conditions))
	}

	// AND: A second read returns the same persisted rows
	again, err := store.GetPolicySet(ctx, "br-1")
	if err != nil {
		t.Fatalf("Failed to re-read policy set: %v", err)
	}
	if again.Account.ID != set.Account.ID {
		t.Errorf("Expected stable account policy row, got %q then %q", set.Account.ID, again.Account.ID)
	}
}

func TestGetPolicySet_UnknownBranch(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetPolicySet(context.Background(), "nope")
	if !errors.Is(err, policy.ErrBranchNotFound) {
		t.Fatalf("Expected ErrBranchNotFound, got %v", err)
	}
}

// =============================================================================
// TRANSACTIONAL AGGREGATE WRITES
// =============================================================================

func TestApplyChanges_RollsBackOnFailure(t *testing.T) {
	// GIVEN: A branch with default policies and one condition rule
	store := newTestStore(t)
	ctx := context.Background()
	seedBranch(t, store, "br-1")
	if _, err := store.GetPolicySet(ctx, "br-1"); err != nil {
		t.Fatalf("Failed to seed defaults: %v", err)
	}
	err := store.ApplyChanges(ctx, "br-1", policy.AggregateChanges{
		CreateConditions: []policy.ConditionPolicy{
			{ID: "cond-1", BranchID: "br-1", EveryNMonths: 3, DaysGranted: 1},
		},
	})
	if err != nil {
		t.Fatalf("Failed to create condition: %v", err)
	}

	// WHEN: A write bundles a valid policy change with an update to a
	// condition rule that doesn't exist
	rollover := grant.ResetRollover
	bad := policy.AggregateChanges{
		Account: &policy.AccountPolicy{
			BranchID: "br-1",
			Reset:    rollover,
			SubYear:  grant.SubYearLumpSumSameYear,
			Rounding: grant.RoundUp,
		},
		DeleteConditionIDs: []string{"cond-1"},
		UpdateConditions: []policy.ConditionPolicy{
			{ID: "ghost", BranchID: "br-1", EveryNMonths: 6, DaysGranted: 2},
		},
	}
	err = store.ApplyChanges(ctx, "br-1", bad)

	// THEN: The write fails and NOTHING changed, including the steps that
	// would have succeeded on their own
	if !errors.Is(err, policy.ErrConditionNotFound) {
		t.Fatalf("Expected ErrConditionNotFound, got %v", err)
	}
	set, err := store.GetPolicySet(ctx, "br-1")
	if err != nil {
		t.Fatalf("Failed to re-read policy set: %v", err)
	}
	if set.Account.Reset != grant.ResetDiscard {
		t.Errorf("Account policy leaked through a failed transaction: %q", set.Account.Reset)
	}
	if len(set.Conditions) != 1 || set.Conditions[0].ID != "cond-1" {
		t.Errorf("Condition delete leaked through a failed transaction: %+v", set.Conditions)
	}
}

func TestApplyChanges_ReassignsPartStrategy(t *testing.T) {
	// GIVEN: A manual part
	store := newTestStore(t)
	ctx := context.Background()
	seedBranch(t, store, "br-1")
	seedPart(t, store, "part-1", "br-1", grant.StrategyManual)

	// WHEN: Assigning the account-based strategy
	err := store.ApplyChanges(ctx, "br-1", policy.AggregateChanges{
		Assignments: []policy.PartAssignment{
			{PartID: "part-1", Strategy: grant.StrategyAccountBased},
		},
	})
	if err != nil {
		t.Fatalf("Failed to reassign: %v", err)
	}

	// THEN: The part carries the new strategy
	part, err := store.GetPart(ctx, "part-1")
	if err != nil {
		t.Fatalf("Failed to get org unit: %v", err)
	}
	if part.Strategy != grant.StrategyAccountBased {
		t.Errorf("Expected account_based, got %q", part.Strategy)
	}
}

func TestApplyChanges_UnknownPart(t *testing.T) {
	store := newTestStore(t)
	seedBranch(t, store, "br-1")

	err := store.ApplyChanges(context.Background(), "br-1", policy.AggregateChanges{
		Assignments: []policy.PartAssignment{
			{PartID: "ghost", Strategy: grant.StrategyManual},
		},
	})
	if !errors.Is(err, policy.ErrPartNotFound) {
		t.Fatalf("Expected ErrPartNotFound, got %v", err)
	}
}

// =============================================================================
// COMPARE-AND-SET BALANCES
// =============================================================================

func TestUpdateEmployeeBalance_VersionConflict(t *testing.T) {
	// GIVEN: An employee at version 0
	store := newTestStore(t)
	ctx := context.Background()
	seedBranch(t, store, "br-1")
	seedPart(t, store, "part-1", "br-1", grant.StrategyManual)
	seedEmployee(t, store, "emp-1", "part-1", date(2024, time.April, 1))

	// WHEN: A first writer wins the race
	if err := store.UpdateEmployeeBalance(ctx, "emp-1", grant.DaysFromInt(10), 0); err != nil {
		t.Fatalf("First update failed: %v", err)
	}

	// THEN: A second writer holding the stale version loses
	err := store.UpdateEmployeeBalance(ctx, "emp-1", grant.DaysFromInt(12), 0)
	if !errors.Is(err, policy.ErrVersionConflict) {
		t.Fatalf("Expected ErrVersionConflict, got %v", err)
	}

	// AND: The stored state reflects only the winner
	emp, err := store.GetEmployee(ctx, "emp-1")
	if err != nil {
		t.Fatalf("Failed to get employee: %v", err)
	}
	if !emp.Balance.Equal(grant.DaysFromInt(10)) {
		t.Errorf("Expected balance 10, got %s", emp.Balance)
	}
	if emp.Version != 1 {
		t.Errorf("Expected version 1, got %d", emp.Version)
	}
}

func TestUpdateEmployeeBalance_UnknownEmployee(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateEmployeeBalance(context.Background(), "ghost", grant.DaysFromInt(1), 0)
	if !errors.Is(err, policy.ErrEmployeeNotFound) {
		t.Fatalf("Expected ErrEmployeeNotFound, got %v", err)
	}
}

// =============================================================================
// HISTORY SNAPSHOTS
// =============================================================================

func TestListHistory_GroupsAndPaginates(t *testing.T) {
	// GIVEN: Three snapshot groups written over time
	store := newTestStore(t)
	ctx := context.Background()
	seedBranch(t, store, "br-1")

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		snapshotID := fmt.Sprintf("snap-%d", i)
		at := base.Add(time.Duration(i) * time.Hour)
		rows := []policy.SnapshotRow{
			{
				BranchID:   "br-1",
				SnapshotID: snapshotID,
				Type:       policy.HistoryGrantPolicy,
				Payload:    []byte(fmt.Sprintf(`{"rev":%d}`, i)),
				CreatedBy:  "admin-1",
				CreatedAt:  at,
			},
			{
				BranchID:   "br-1",
				SnapshotID: snapshotID,
				Type:       policy.HistoryAutoApproval,
				Payload:    []byte(`{}`),
				CreatedBy:  "admin-1",
				CreatedAt:  at,
			},
		}
		if err := store.AppendHistory(ctx, rows); err != nil {
			t.Fatalf("Failed to append history: %v", err)
		}
	}

	// WHEN: Listing the first page of grant-policy history, one group per page
	page1, err := store.ListHistory(ctx, "br-1", policy.HistoryGrantPolicy, 1, 1)
	if err != nil {
		t.Fatalf("Failed to list history: %v", err)
	}

	// THEN: The newest group comes first and the types don't mix
	if len(page1) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(page1))
	}
	if page1[0].SnapshotID != "snap-2" {
		t.Errorf("Expected newest snapshot first, got %q", page1[0].SnapshotID)
	}
	if page1[0].Type != policy.HistoryGrantPolicy {
		t.Errorf("Auto-approval rows leaked into grant-policy listing")
	}

	// AND: Page two holds the middle group
	page2, err := store.ListHistory(ctx, "br-1", policy.HistoryGrantPolicy, 2, 1)
	if err != nil {
		t.Fatalf("Failed to list history page 2: %v", err)
	}
	if len(page2) != 1 || page2[0].SnapshotID != "snap-1" {
		t.Errorf("Expected snap-1 on page 2, got %+v", page2)
	}
}

// =============================================================================
// GRANT RUN GUARD
// =============================================================================

func TestBeginRun_DoubleFire(t *testing.T) {
	// GIVEN: A completed run for today
	store := newTestStore(t)
	ctx := context.Background()
	runDate := date(2025, time.June, 1)
	started := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)

	run := policy.GrantRun{
		ID:        "run-1",
		BranchID:  "br-1",
		RunDate:   runDate,
		Status:    policy.RunRunning,
		StartedAt: started,
	}
	if err := store.BeginRun(ctx, run); err != nil {
		t.Fatalf("Failed to begin run: %v", err)
	}
	completed := started.Add(time.Minute)
	run.Status = policy.RunCompleted
	run.Granted = 4
	run.CompletedAt = &completed
	if err := store.CompleteRun(ctx, run); err != nil {
		t.Fatalf("Failed to complete run: %v", err)
	}

	// WHEN: The trigger fires again for the same branch and date
	err := store.BeginRun(ctx, policy.GrantRun{
		ID:        "run-2",
		BranchID:  "br-1",
		RunDate:   runDate,
		Status:    policy.RunRunning,
		StartedAt: started.Add(time.Hour),
	})

	// THEN: The second fire is refused
	if !errors.Is(err, policy.ErrRunAlreadyDone) {
		t.Fatalf("Expected ErrRunAlreadyDone, got %v", err)
	}

	// AND: A different branch on the same date is unaffected
	err = store.BeginRun(ctx, policy.GrantRun{
		ID:        "run-3",
		BranchID:  "br-2",
		RunDate:   runDate,
		Status:    policy.RunRunning,
		StartedAt: started,
	})
	if err != nil {
		t.Fatalf("Expected other branch to run, got %v", err)
	}
}

func TestBeginRun_RetriesFailedRun(t *testing.T) {
	// GIVEN: A failed run for today
	store := newTestStore(t)
	ctx := context.Background()
	runDate := date(2025, time.June, 1)
	started := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)

	run := policy.GrantRun{
		ID:        "run-1",
		BranchID:  "br-1",
		RunDate:   runDate,
		Status:    policy.RunRunning,
		StartedAt: started,
	}
	if err := store.BeginRun(ctx, run); err != nil {
		t.Fatalf("Failed to begin run: %v", err)
	}
	run.Status = policy.RunFailed
	run.Error = "storage unavailable"
	if err := store.CompleteRun(ctx, run); err != nil {
		t.Fatalf("Failed to mark run failed: %v", err)
	}

	// WHEN: The job retries the same date
	err := store.BeginRun(ctx, policy.GrantRun{
		ID:        "run-2",
		BranchID:  "br-1",
		RunDate:   runDate,
		Status:    policy.RunRunning,
		StartedAt: started.Add(time.Hour),
	})

	// THEN: The retry is allowed and replaces the failed marker
	if err != nil {
		t.Fatalf("Expected retry after failure, got %v", err)
	}
	runs, err := store.ListRuns(ctx, "br-1", 10)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected the failed run replaced, got %d runs", len(runs))
	}
	if runs[0].ID != "run-2" {
		t.Errorf("Expected run-2, got %q", runs[0].ID)
	}
}
