/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

PATCH SEMANTICS:
  Policy update requests use pointer fields throughout: a nil field means
  "leave unchanged", a present field means "set to this value". The
  condition list and part assignments follow the same convention at the
  list level.

SEE ALSO:
  - handlers.go: Uses these types
  - policy/types.go: The domain model these map onto
*/
package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/leave-engine/grant"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// DIRECTORY TYPES
// =============================================================================

// BranchDTO represents a clinic branch in API responses.
type BranchDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateBranchRequest is the request to create a branch.
type CreateBranchRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// PartDTO represents an org unit in API responses.
type PartDTO struct {
	ID       string `json:"id"`
	BranchID string `json:"branch_id"`
	Name     string `json:"name"`
	Strategy string `json:"grant_strategy"`
}

// CreatePartRequest is the request to create an org unit. Strategy defaults
// to manual when omitted.
type CreatePartRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Strategy string `json:"grant_strategy,omitempty"`
}

// EmployeeDTO represents an employee in API responses. The balance is a
// decimal string so half-day grants survive the wire exactly.
type EmployeeDTO struct {
	ID              string `json:"id"`
	OrgUnitID       string `json:"org_unit_id"`
	Name            string `json:"name"`
	HireDate        string `json:"hire_date"`
	ResignationDate string `json:"resignation_date,omitempty"`
	Balance         string `json:"leave_balance"`
	Version         int    `json:"version"`
}

// CreateEmployeeRequest is the request to create an employee.
type CreateEmployeeRequest struct {
	ID              string `json:"id,omitempty"`
	Name            string `json:"name"`
	HireDate        string `json:"hire_date"`
	ResignationDate string `json:"resignation_date,omitempty"`
	Balance         string `json:"leave_balance,omitempty"`
}

// =============================================================================
// POLICY AGGREGATE TYPES
// =============================================================================

// AccountPolicyDTO is the account-based grant configuration.
type AccountPolicyDTO struct {
	Reset    string `json:"reset_behavior"`
	SubYear  string `json:"sub_one_year_behavior"`
	Rounding string `json:"rounding_mode"`
}

// EntryDatePolicyDTO is the entry-date-based grant configuration.
type EntryDatePolicyDTO struct {
	Reset string `json:"reset_behavior"`
}

// ConditionDTO is one condition-based grant rule.
type ConditionDTO struct {
	ID           string `json:"id,omitempty"`
	EveryNMonths int    `json:"every_n_months"`
	DaysGranted  int    `json:"days_granted"`
}

// AutoApprovalDTO is the auto-approval configuration.
type AutoApprovalDTO struct {
	IntegratedAdmin bool `json:"auto_approve_integrated_admin"`
	Admin           bool `json:"auto_approve_admin"`
	Employee        bool `json:"auto_approve_employee"`
}

// PartStrategiesDTO buckets the branch's parts by governing strategy.
type PartStrategiesDTO struct {
	Manual    []PartDTO `json:"manual"`
	Account   []PartDTO `json:"account_based"`
	EntryDate []PartDTO `json:"entry_date_based"`
	Condition []PartDTO `json:"condition_based"`
}

// PolicyAggregateDTO is the full per-branch policy state.
type PolicyAggregateDTO struct {
	BranchID     string             `json:"branch_id"`
	Account      AccountPolicyDTO   `json:"account_based"`
	EntryDate    EntryDatePolicyDTO `json:"entry_date_based"`
	Conditions   []ConditionDTO     `json:"condition_based"`
	AutoApproval AutoApprovalDTO    `json:"auto_approval"`
	Parts        PartStrategiesDTO  `json:"part_strategies"`
}

// AccountPolicyPatchDTO carries the mutable account-policy fields. Nil
// means "leave unchanged".
type AccountPolicyPatchDTO struct {
	Reset    *string `json:"reset_behavior"`
	SubYear  *string `json:"sub_one_year_behavior"`
	Rounding *string `json:"rounding_mode"`
}

type EntryDatePolicyPatchDTO struct {
	Reset *string `json:"reset_behavior"`
}

type AutoApprovalPatchDTO struct {
	IntegratedAdmin *bool `json:"auto_approve_integrated_admin"`
	Admin           *bool `json:"auto_approve_admin"`
	Employee        *bool `json:"auto_approve_employee"`
}

// PartAssignmentDTO names one part's target strategy.
type PartAssignmentDTO struct {
	PartID   string `json:"part_id"`
	Strategy string `json:"grant_strategy"`
}

// UpdatePoliciesRequest is the aggregate policy write. Every section is
// optional; the condition list, when present, replaces the rule set.
type UpdatePoliciesRequest struct {
	Account      *AccountPolicyPatchDTO   `json:"account_based"`
	EntryDate    *EntryDatePolicyPatchDTO `json:"entry_date_based"`
	AutoApproval *AutoApprovalPatchDTO    `json:"auto_approval"`
	Conditions   *[]ConditionDTO          `json:"condition_based"`
	Assignments  []PartAssignmentDTO      `json:"part_assignments"`
}

// UpdatePoliciesResponse returns the committed aggregate and the history
// snapshot written for it.
type UpdatePoliciesResponse struct {
	SnapshotID string             `json:"snapshot_id"`
	Aggregate  PolicyAggregateDTO `json:"aggregate"`
}

// HistoryEntryDTO is one append-only policy snapshot row.
type HistoryEntryDTO struct {
	SnapshotID string          `json:"snapshot_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedBy  string          `json:"created_by"`
	CreatedAt  string          `json:"created_at"`
}

// =============================================================================
// ADJUSTMENT AND RUN TYPES
// =============================================================================

// AdjustmentRequest is a manual balance delta, positive or negative, as a
// decimal string.
type AdjustmentRequest struct {
	Delta  string `json:"delta"`
	Reason string `json:"reason,omitempty"`
}

// AdjustmentResponse returns the balance after the adjustment.
type AdjustmentResponse struct {
	EmployeeID string `json:"employee_id"`
	Balance    string `json:"leave_balance"`
}

// TriggerGrantRunRequest starts grant processing. Date defaults to today in
// the scheduler's timezone; an empty branch id means all branches.
type TriggerGrantRunRequest struct {
	Date     string `json:"date,omitempty"`
	BranchID string `json:"branch_id,omitempty"`
}

// GrantRunDTO reports one branch's grant execution.
type GrantRunDTO struct {
	ID          string `json:"id"`
	BranchID    string `json:"branch_id"`
	RunDate     string `json:"run_date"`
	Status      string `json:"status"`
	Granted     int    `json:"granted"`
	Skipped     int    `json:"skipped"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBranchDTO(b policy.Branch) BranchDTO {
	return BranchDTO{
		ID:        b.ID,
		Name:      b.Name,
		CreatedAt: b.CreatedAt.Format(time.RFC3339),
	}
}

func toPartDTO(part policy.OrgUnit) PartDTO {
	return PartDTO{
		ID:       part.ID,
		BranchID: part.BranchID,
		Name:     part.Name,
		Strategy: string(part.Strategy),
	}
}

func toPartDTOs(parts []policy.OrgUnit) []PartDTO {
	dtos := make([]PartDTO, 0, len(parts))
	for _, part := range parts {
		dtos = append(dtos, toPartDTO(part))
	}
	return dtos
}

func toEmployeeDTO(e policy.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:        e.ID,
		OrgUnitID: e.OrgUnitID,
		Name:      e.Name,
		HireDate:  e.HireDate.String(),
		Balance:   e.Balance.String(),
		Version:   e.Version,
	}
	if e.ResignationDate != nil {
		dto.ResignationDate = e.ResignationDate.String()
	}
	return dto
}

func toAggregateDTO(agg *policy.Aggregate) PolicyAggregateDTO {
	dto := PolicyAggregateDTO{
		BranchID: agg.BranchID,
		Account: AccountPolicyDTO{
			Reset:    string(agg.Account.Reset),
			SubYear:  string(agg.Account.SubYear),
			Rounding: string(agg.Account.Rounding),
		},
		EntryDate: EntryDatePolicyDTO{Reset: string(agg.EntryDate.Reset)},
		AutoApproval: AutoApprovalDTO{
			IntegratedAdmin: agg.AutoApproval.AutoApproveIntegratedAdmin,
			Admin:           agg.AutoApproval.AutoApproveAdmin,
			Employee:        agg.AutoApproval.AutoApproveEmployee,
		},
		Conditions: make([]ConditionDTO, 0, len(agg.Conditions)),
		Parts: PartStrategiesDTO{
			Manual:    toPartDTOs(agg.ManualParts),
			Account:   toPartDTOs(agg.AccountParts),
			EntryDate: toPartDTOs(agg.EntryDateParts),
			Condition: toPartDTOs(agg.ConditionParts),
		},
	}
	for _, c := range agg.Conditions {
		dto.Conditions = append(dto.Conditions, ConditionDTO{
			ID:           c.ID,
			EveryNMonths: c.EveryNMonths,
			DaysGranted:  c.DaysGranted,
		})
	}
	return dto
}

func toGrantRunDTO(run policy.GrantRun) GrantRunDTO {
	dto := GrantRunDTO{
		ID:        run.ID,
		BranchID:  run.BranchID,
		RunDate:   run.RunDate.String(),
		Status:    string(run.Status),
		Granted:   run.Granted,
		Skipped:   run.Skipped,
		Error:     run.Error,
		StartedAt: run.StartedAt.Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

// toUpdateRequest parses enum strings up front so a typo fails the whole
// request before anything is written.
func toUpdateRequest(req UpdatePoliciesRequest) (policy.UpdateRequest, error) {
	var out policy.UpdateRequest

	if req.Account != nil {
		patch := &policy.AccountPatch{}
		if req.Account.Reset != nil {
			v, err := grant.ParseResetBehavior(*req.Account.Reset)
			if err != nil {
				return out, err
			}
			patch.Reset = &v
		}
		if req.Account.SubYear != nil {
			v, err := grant.ParseSubYearBehavior(*req.Account.SubYear)
			if err != nil {
				return out, err
			}
			patch.SubYear = &v
		}
		if req.Account.Rounding != nil {
			v, err := grant.ParseRoundingMode(*req.Account.Rounding)
			if err != nil {
				return out, err
			}
			patch.Rounding = &v
		}
		out.Account = patch
	}

	if req.EntryDate != nil {
		patch := &policy.EntryDatePatch{}
		if req.EntryDate.Reset != nil {
			v, err := grant.ParseResetBehavior(*req.EntryDate.Reset)
			if err != nil {
				return out, err
			}
			patch.Reset = &v
		}
		out.EntryDate = patch
	}

	if req.AutoApproval != nil {
		out.AutoApproval = &policy.AutoApprovalPatch{
			AutoApproveIntegratedAdmin: req.AutoApproval.IntegratedAdmin,
			AutoApproveAdmin:           req.AutoApproval.Admin,
			AutoApproveEmployee:        req.AutoApproval.Employee,
		}
	}

	if req.Conditions != nil {
		upserts := make([]policy.ConditionUpsert, 0, len(*req.Conditions))
		for _, c := range *req.Conditions {
			upserts = append(upserts, policy.ConditionUpsert{
				ID:           c.ID,
				EveryNMonths: c.EveryNMonths,
				DaysGranted:  c.DaysGranted,
			})
		}
		out.Conditions = &upserts
	}

	for _, a := range req.Assignments {
		if a.PartID == "" {
			return out, fmt.Errorf("%w: part assignment missing part_id", policy.ErrInvalidInput)
		}
		out.Assignments = append(out.Assignments, policy.PartAssignment{
			PartID:   a.PartID,
			Strategy: grant.Strategy(a.Strategy),
		})
	}

	return out, nil
}
