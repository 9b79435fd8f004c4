/*
scheduler_test.go - Grant scheduler tests

Tests for:
- Strategy dispatch across a branch's parts
- Resigned employees and manual parts left untouched
- Per-date run guard and single-branch runs
*/
package api

import (
	"context"
	"testing"
	"time"

	"github.com/warp/leave-engine/grant"
	"github.com/warp/leave-engine/policy"
)

func (f *fixture) seedPart(t *testing.T, id, branchID string, strategy grant.Strategy) {
	t.Helper()
	err := f.store.CreatePart(context.Background(), policy.OrgUnit{
		ID: id, BranchID: branchID, Name: "Unit " + id, Strategy: strategy,
	})
	if err != nil {
		t.Fatalf("Failed to seed org unit: %v", err)
	}
}

func (f *fixture) seedEmployeeIn(t *testing.T, id, partID string, hire grant.Date, balance grant.Days) {
	t.Helper()
	err := f.store.CreateEmployee(context.Background(), policy.Employee{
		ID: id, OrgUnitID: partID, Name: "Employee " + id,
		HireDate: hire, Balance: balance,
	})
	if err != nil {
		t.Fatalf("Failed to seed employee: %v", err)
	}
}

func (f *fixture) balanceOf(t *testing.T, id string) grant.Days {
	t.Helper()
	emp, err := f.store.GetEmployee(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to get employee: %v", err)
	}
	return emp.Balance
}

func TestScheduler_StrategyDispatch(t *testing.T) {
	// GIVEN: One part per strategy, each with one employee hired 2021-06-01
	f := newFixture(t)
	ctx := context.Background()
	f.seedPart(t, "part-entry", "br-1", grant.StrategyEntryDateBased)
	f.seedPart(t, "part-cond", "br-1", grant.StrategyConditional)
	f.seedPart(t, "part-manual", "br-1", grant.StrategyManual)

	hire := grant.NewDate(2021, time.June, 1)
	f.seedEmployeeIn(t, "emp-account", "part-1", hire, grant.DaysFromInt(2))
	f.seedEmployeeIn(t, "emp-entry", "part-entry", hire, grant.DaysFromInt(2))
	f.seedEmployeeIn(t, "emp-cond", "part-cond", hire, grant.DaysFromInt(2))
	f.seedEmployeeIn(t, "emp-manual", "part-manual", hire, grant.DaysFromInt(2))

	rules := []policy.ConditionUpsert{{EveryNMonths: 12, DaysGranted: 3}}
	svc := policy.NewService(f.store)
	_, err := svc.UpdateAggregate(ctx, "br-1", policy.UpdateRequest{Conditions: &rules},
		policy.Actor{ID: "admin-1", Role: policy.RoleIntegratedAdmin})
	if err != nil {
		t.Fatalf("Failed to configure conditions: %v", err)
	}

	// WHEN: Running on the hire anniversary
	anniversary := grant.NewDate(2025, time.June, 1)
	runs, err := f.handler.Scheduler.RunNow(ctx, anniversary, "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != policy.RunCompleted {
		t.Fatalf("Expected one completed run, got %+v", runs)
	}

	// THEN: Entry-date gets the tenure table (4 years -> 16, replacing 2)
	if got := f.balanceOf(t, "emp-entry"); !got.Equal(grant.DaysFromInt(16)) {
		t.Errorf("Entry-date employee: expected 16, got %s", got)
	}
	// Conditional gets its 48-month rule (+3 on top of 2)
	if got := f.balanceOf(t, "emp-cond"); !got.Equal(grant.DaysFromInt(5)) {
		t.Errorf("Conditional employee: expected 5, got %s", got)
	}
	// Account-based grants only on the 1st of January or month boundaries;
	// June 1st four years in is a first-of-month but past the first year,
	// so nothing applies outside January
	if got := f.balanceOf(t, "emp-account"); !got.Equal(grant.DaysFromInt(2)) {
		t.Errorf("Account employee: expected untouched 2, got %s", got)
	}
	// Manual parts are never touched
	if got := f.balanceOf(t, "emp-manual"); !got.Equal(grant.DaysFromInt(2)) {
		t.Errorf("Manual employee: expected untouched 2, got %s", got)
	}
}

func TestScheduler_SkipsResignedEmployee(t *testing.T) {
	// GIVEN: An account-based employee who resigned last year
	f := newFixture(t)
	ctx := context.Background()
	resigned := grant.NewDate(2024, time.September, 30)
	err := f.store.CreateEmployee(ctx, policy.Employee{
		ID: "emp-gone", OrgUnitID: "part-1", Name: "Former",
		HireDate:        grant.NewDate(2020, time.February, 1),
		ResignationDate: &resigned,
		Balance:         grant.DaysFromInt(7),
	})
	if err != nil {
		t.Fatalf("Failed to seed employee: %v", err)
	}

	// WHEN: The January run fires
	if _, err := f.handler.Scheduler.RunNow(ctx, grant.NewDate(2025, time.January, 1), ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// THEN: The resigned employee's balance is untouched
	if got := f.balanceOf(t, "emp-gone"); !got.Equal(grant.DaysFromInt(7)) {
		t.Errorf("Expected untouched 7, got %s", got)
	}
}

func TestScheduler_RunGuard(t *testing.T) {
	// GIVEN: A completed run for the date
	f := newFixture(t)
	ctx := context.Background()
	f.seedEmployeeIn(t, "emp-1", "part-1", grant.NewDate(2021, time.June, 1), grant.ZeroDays())
	runDate := grant.NewDate(2025, time.January, 1)

	first, err := f.handler.Scheduler.RunNow(ctx, runDate, "")
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if len(first) != 1 || first[0].Granted != 1 {
		t.Fatalf("Expected one run granting once, got %+v", first)
	}
	after := f.balanceOf(t, "emp-1")

	// WHEN: The same date fires again
	second, err := f.handler.Scheduler.RunNow(ctx, runDate, "")
	if err != nil {
		t.Fatalf("Second run errored: %v", err)
	}

	// THEN: Nothing runs and nothing is granted twice
	if len(second) != 0 {
		t.Errorf("Expected no runs on re-fire, got %d", len(second))
	}
	if got := f.balanceOf(t, "emp-1"); !got.Equal(after) {
		t.Errorf("Balance changed on re-fire: %s -> %s", after, got)
	}
}

func TestScheduler_SingleBranchRun(t *testing.T) {
	// GIVEN: A second branch with its own account-based employee
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.CreateBranch(ctx, policy.Branch{
		ID: "br-2", Name: "North Clinic", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Failed to seed branch: %v", err)
	}
	f.seedPart(t, "part-2", "br-2", grant.StrategyAccountBased)
	f.seedEmployeeIn(t, "emp-br1", "part-1", grant.NewDate(2021, time.June, 1), grant.ZeroDays())
	f.seedEmployeeIn(t, "emp-br2", "part-2", grant.NewDate(2021, time.June, 1), grant.ZeroDays())

	// WHEN: Running only the second branch
	runs, err := f.handler.Scheduler.RunNow(ctx, grant.NewDate(2025, time.January, 1), "br-2")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// THEN: Only the second branch's employee is granted
	if len(runs) != 1 || runs[0].BranchID != "br-2" {
		t.Fatalf("Expected one br-2 run, got %+v", runs)
	}
	if got := f.balanceOf(t, "emp-br2"); got.IsZero() {
		t.Error("Expected br-2 employee granted")
	}
	if got := f.balanceOf(t, "emp-br1"); !got.IsZero() {
		t.Errorf("Expected br-1 employee untouched, got %s", got)
	}
}
