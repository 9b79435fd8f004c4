/*
handlers_test.go - HTTP handler tests

Tests for:
- Policy aggregate reads and patch writes over HTTP
- Actor header validation and role gates
- History listing after writes
- Manual adjustments and run triggers
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/warp/leave-engine/grant"
	"github.com/warp/leave-engine/policy"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	store   *memory.Store
	handler *Handler
	router  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	svc := policy.NewService(store)
	scheduler := NewGrantScheduler(store)
	scheduler.Enabled = false
	h := NewHandler(store, svc, scheduler)

	ctx := context.Background()
	if err := store.CreateBranch(ctx, policy.Branch{
		ID: "br-1", Name: "Central Clinic", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Failed to seed branch: %v", err)
	}
	if err := store.CreatePart(ctx, policy.OrgUnit{
		ID: "part-1", BranchID: "br-1", Name: "Nursing", Strategy: grant.StrategyAccountBased,
	}); err != nil {
		t.Fatalf("Failed to seed org unit: %v", err)
	}

	return &fixture{store: store, handler: h, router: NewRouter(h)}
}

func (f *fixture) seedEmployee(t *testing.T, id string, hire grant.Date, balance grant.Days) {
	t.Helper()
	err := f.store.CreateEmployee(context.Background(), policy.Employee{
		ID: id, OrgUnitID: "part-1", Name: "Employee " + id,
		HireDate: hire, Balance: balance,
	})
	if err != nil {
		t.Fatalf("Failed to seed employee: %v", err)
	}
}

// do issues a request; role "" means no actor headers.
func (f *fixture) do(method, path, body, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if role != "" {
		req.Header.Set("X-Actor-ID", "actor-1")
		req.Header.Set("X-Actor-Role", role)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

// =============================================================================
// POLICY AGGREGATE
// =============================================================================

func TestGetPolicies_Defaults(t *testing.T) {
	// GIVEN: A branch that has never been configured
	f := newFixture(t)

	// WHEN: Reading the aggregate
	rec := f.do("GET", "/api/branches/br-1/policies", "", "")

	// THEN: Defaults are returned and the part sits in its bucket
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	agg := decode[PolicyAggregateDTO](t, rec)
	if agg.Account.Reset != "reset" {
		t.Errorf("Expected default reset behavior, got %q", agg.Account.Reset)
	}
	if agg.Account.Rounding != "round_up_half" {
		t.Errorf("Expected default rounding, got %q", agg.Account.Rounding)
	}
	if len(agg.Parts.Account) != 1 || agg.Parts.Account[0].ID != "part-1" {
		t.Errorf("Expected part-1 in account bucket, got %+v", agg.Parts)
	}
}

func TestGetPolicies_UnknownBranch(t *testing.T) {
	f := newFixture(t)

	rec := f.do("GET", "/api/branches/ghost/policies", "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestUpdatePolicies_PatchAndHistory(t *testing.T) {
	// GIVEN: A branch on defaults
	f := newFixture(t)

	// WHEN: A branch admin switches the rounding mode and adds a rule
	body := `{
		"account_based": {"rounding_mode": "truncate"},
		"condition_based": [{"every_n_months": 6, "days_granted": 2}]
	}`
	rec := f.do("PATCH", "/api/branches/br-1/policies", body, "branch_admin")

	// THEN: The committed aggregate and a snapshot id come back
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[UpdatePoliciesResponse](t, rec)
	if resp.SnapshotID == "" {
		t.Error("Expected a snapshot id")
	}
	if resp.Aggregate.Account.Rounding != "truncate" {
		t.Errorf("Expected truncate, got %q", resp.Aggregate.Account.Rounding)
	}
	if len(resp.Aggregate.Conditions) != 1 {
		t.Fatalf("Expected 1 condition rule, got %d", len(resp.Aggregate.Conditions))
	}

	// AND: The history endpoint lists the snapshot
	rec = f.do("GET", "/api/branches/br-1/policies/history?type=grant_policy", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	entries := decode[[]HistoryEntryDTO](t, rec)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(entries))
	}
	if entries[0].SnapshotID != resp.SnapshotID {
		t.Errorf("History snapshot %q does not match write %q", entries[0].SnapshotID, resp.SnapshotID)
	}
}

func TestUpdatePolicies_ActorGate(t *testing.T) {
	f := newFixture(t)
	body := `{"entry_date_based": {"reset_behavior": "rollover"}}`

	// Missing actor headers
	rec := f.do("PATCH", "/api/branches/br-1/policies", body, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without actor headers, got %d", rec.Code)
	}

	// Plain employee
	rec = f.do("PATCH", "/api/branches/br-1/policies", body, "employee")
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for employee, got %d", rec.Code)
	}
}

func TestUpdatePolicies_InvalidEnum(t *testing.T) {
	f := newFixture(t)

	body := `{"account_based": {"rounding_mode": "banker"}}`
	rec := f.do("PATCH", "/api/branches/br-1/policies", body, "integrated_admin")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown rounding mode, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdatePolicies_PartAssignment(t *testing.T) {
	// GIVEN: part-1 governed by the account strategy
	f := newFixture(t)

	// WHEN: Reassigning it to entry-date
	body := `{"part_assignments": [{"part_id": "part-1", "grant_strategy": "entry_date_based"}]}`
	rec := f.do("PATCH", "/api/branches/br-1/policies", body, "branch_admin")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// THEN: The aggregate shows the move
	resp := decode[UpdatePoliciesResponse](t, rec)
	if len(resp.Aggregate.Parts.EntryDate) != 1 {
		t.Errorf("Expected part-1 in entry-date bucket, got %+v", resp.Aggregate.Parts)
	}
	if len(resp.Aggregate.Parts.Account) != 0 {
		t.Errorf("Expected account bucket empty, got %+v", resp.Aggregate.Parts.Account)
	}
}

// =============================================================================
// EMPLOYEES AND ADJUSTMENTS
// =============================================================================

func TestCreateAndGetEmployee(t *testing.T) {
	f := newFixture(t)

	body := `{"id": "emp-1", "name": "Alice", "hire_date": "2023-03-15"}`
	rec := f.do("POST", "/api/parts/part-1/employees", body, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do("GET", "/api/employees/emp-1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	emp := decode[EmployeeDTO](t, rec)
	if emp.HireDate != "2023-03-15" {
		t.Errorf("Expected hire date preserved, got %q", emp.HireDate)
	}
	if emp.Balance != "0" {
		t.Errorf("Expected zero starting balance, got %q", emp.Balance)
	}
}

func TestCreateAdjustment(t *testing.T) {
	// GIVEN: An employee with 10 days
	f := newFixture(t)
	f.seedEmployee(t, "emp-1", grant.NewDate(2023, time.March, 15), grant.DaysFromInt(10))

	// WHEN: An admin deducts half a day
	rec := f.do("POST", "/api/employees/emp-1/adjustments", `{"delta": "-0.5"}`, "branch_admin")

	// THEN: The new balance comes back exact
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[AdjustmentResponse](t, rec)
	if resp.Balance != "9.5" {
		t.Errorf("Expected 9.5, got %q", resp.Balance)
	}
}

func TestCreateAdjustment_Forbidden(t *testing.T) {
	f := newFixture(t)
	f.seedEmployee(t, "emp-1", grant.NewDate(2023, time.March, 15), grant.DaysFromInt(10))

	rec := f.do("POST", "/api/employees/emp-1/adjustments", `{"delta": "1"}`, "employee")
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}
}

// =============================================================================
// GRANT RUN TRIGGER
// =============================================================================

func TestTriggerGrantRun(t *testing.T) {
	// GIVEN: An account-based employee four calendar years in
	f := newFixture(t)
	f.seedEmployee(t, "emp-1", grant.NewDate(2021, time.June, 1), grant.DaysFromInt(3))

	// WHEN: Triggering a run for January 1st
	body := `{"date": "2025-01-01"}`
	rec := f.do("POST", "/api/admin/grant-runs", body, "integrated_admin")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	runs := decode[[]GrantRunDTO](t, rec)
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}
	if runs[0].Status != "completed" || runs[0].Granted != 1 {
		t.Errorf("Expected completed run with 1 grant, got %+v", runs[0])
	}

	// THEN: The annual grant replaced the old balance (3 tenure years -> 16)
	emp, err := f.store.GetEmployee(context.Background(), "emp-1")
	if err != nil {
		t.Fatalf("Failed to get employee: %v", err)
	}
	if !emp.Balance.Equal(grant.DaysFromInt(16)) {
		t.Errorf("Expected balance 16, got %s", emp.Balance)
	}

	// AND: Re-triggering the same date grants nothing twice
	rec = f.do("POST", "/api/admin/grant-runs", body, "integrated_admin")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on re-trigger, got %d", rec.Code)
	}
	again := decode[[]GrantRunDTO](t, rec)
	if len(again) != 0 {
		t.Errorf("Expected no runs on re-trigger, got %d", len(again))
	}
	emp, _ = f.store.GetEmployee(context.Background(), "emp-1")
	if !emp.Balance.Equal(grant.DaysFromInt(16)) {
		t.Errorf("Balance changed on re-trigger: %s", emp.Balance)
	}

	// AND: The run list shows exactly one run
	rec = f.do("GET", "/api/admin/grant-runs?branch_id=br-1", "", "")
	listed := decode[[]GrantRunDTO](t, rec)
	if len(listed) != 1 {
		t.Errorf("Expected 1 recorded run, got %d", len(listed))
	}
}

func TestTriggerGrantRun_Forbidden(t *testing.T) {
	f := newFixture(t)

	rec := f.do("POST", "/api/admin/grant-runs", `{}`, "employee")
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}
}

// =============================================================================
// BRANCH DIRECTORY
// =============================================================================

func TestCreateBranchAndPart(t *testing.T) {
	f := newFixture(t)

	rec := f.do("POST", "/api/branches", `{"name": "North Clinic"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	branch := decode[BranchDTO](t, rec)
	if branch.ID == "" {
		t.Fatal("Expected a generated branch id")
	}

	path := fmt.Sprintf("/api/branches/%s/parts", branch.ID)
	rec = f.do("POST", path, `{"name": "Radiology", "grant_strategy": "conditional"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	part := decode[PartDTO](t, rec)
	if part.Strategy != "conditional" {
		t.Errorf("Expected conditional strategy, got %q", part.Strategy)
	}

	rec = f.do("GET", path, "", "")
	parts := decode[[]PartDTO](t, rec)
	if len(parts) != 1 {
		t.Errorf("Expected 1 part, got %d", len(parts))
	}
}
