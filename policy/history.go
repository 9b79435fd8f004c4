/*
history.go - Append-only policy history snapshots

PURPOSE:
  Every policy write produces an immutable, timestamped copy of the full
  resulting aggregate. One snapshot id groups all rows written in one
  logical update; each row carries a history-type discriminator so multiple
  audit trails share one table.

INVARIANT:
  For a given (branch, history type), the newest snapshot group always holds
  the complete policy state at that moment - a full copy, never a diff.
  History rows are never edited or compacted; growth is linear in the number
  of policy edits, which are rare administrative actions.
*/
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SNAPSHOT ROWS
// =============================================================================

type HistoryType string

const (
	// HistoryGrantPolicy covers the three grant policies plus the per-part
	// strategy assignment.
	HistoryGrantPolicy HistoryType = "grant_policy"

	// HistoryAutoApproval covers the auto-approval booleans.
	HistoryAutoApproval HistoryType = "auto_approval"
)

func ParseHistoryType(s string) (HistoryType, error) {
	switch HistoryType(s) {
	case HistoryGrantPolicy, HistoryAutoApproval:
		return HistoryType(s), nil
	}
	return "", fmt.Errorf("%w: unknown history type %q", ErrInvalidInput, s)
}

// SnapshotRow is one immutable history record.
type SnapshotRow struct {
	BranchID   string
	SnapshotID string
	Type       HistoryType
	Payload    json.RawMessage
	CreatedBy  string
	CreatedAt  time.Time
}

// =============================================================================
// PAYLOADS - Full-state copies, JSON-serialized
// =============================================================================

// GrantPolicyPayload is the grant_policy snapshot body.
type GrantPolicyPayload struct {
	Account struct {
		Reset    string `json:"reset_behavior"`
		SubYear  string `json:"sub_one_year_behavior"`
		Rounding string `json:"rounding_mode"`
	} `json:"account_based"`
	EntryDate struct {
		Reset string `json:"reset_behavior"`
	} `json:"entry_date_based"`
	Conditions []ConditionPayload `json:"condition_based"`
	Parts      struct {
		Manual    []string `json:"manual"`
		Account   []string `json:"account_based"`
		EntryDate []string `json:"entry_date_based"`
		Condition []string `json:"condition_based"`
	} `json:"part_strategies"`
}

type ConditionPayload struct {
	ID           string `json:"id"`
	EveryNMonths int    `json:"every_n_months"`
	DaysGranted  int    `json:"days_granted"`
}

// AutoApprovalPayload is the auto_approval snapshot body.
type AutoApprovalPayload struct {
	IntegratedAdmin bool `json:"auto_approve_integrated_admin"`
	Admin           bool `json:"auto_approve_admin"`
	Employee        bool `json:"auto_approve_employee"`
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder serializes an aggregate into snapshot rows and appends them.
type Recorder struct {
	Store HistoryStore

	// Now is injectable for tests; defaults to time.Now UTC.
	Now func() time.Time
}

func NewRecorder(store HistoryStore) *Recorder {
	return &Recorder{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// Record writes one snapshot group for the aggregate and returns its id.
func (r *Recorder) Record(ctx context.Context, agg *Aggregate, actor string) (string, error) {
	snapshotID := uuid.NewString()
	now := r.Now()

	grantPayload, err := json.Marshal(grantPolicyPayload(agg))
	if err != nil {
		return "", fmt.Errorf("failed to serialize grant policy snapshot: %w", err)
	}
	approvalPayload, err := json.Marshal(AutoApprovalPayload{
		IntegratedAdmin: agg.AutoApproval.AutoApproveIntegratedAdmin,
		Admin:           agg.AutoApproval.AutoApproveAdmin,
		Employee:        agg.AutoApproval.AutoApproveEmployee,
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize auto-approval snapshot: %w", err)
	}

	rows := []SnapshotRow{
		{
			BranchID:   agg.BranchID,
			SnapshotID: snapshotID,
			Type:       HistoryGrantPolicy,
			Payload:    grantPayload,
			CreatedBy:  actor,
			CreatedAt:  now,
		},
		{
			BranchID:   agg.BranchID,
			SnapshotID: snapshotID,
			Type:       HistoryAutoApproval,
			Payload:    approvalPayload,
			CreatedBy:  actor,
			CreatedAt:  now,
		},
	}

	if err := r.Store.AppendHistory(ctx, rows); err != nil {
		return "", err
	}
	return snapshotID, nil
}

func grantPolicyPayload(agg *Aggregate) GrantPolicyPayload {
	var p GrantPolicyPayload
	p.Account.Reset = string(agg.Account.Reset)
	p.Account.SubYear = string(agg.Account.SubYear)
	p.Account.Rounding = string(agg.Account.Rounding)
	p.EntryDate.Reset = string(agg.EntryDate.Reset)

	p.Conditions = make([]ConditionPayload, 0, len(agg.Conditions))
	for _, c := range agg.Conditions {
		p.Conditions = append(p.Conditions, ConditionPayload{
			ID:           c.ID,
			EveryNMonths: c.EveryNMonths,
			DaysGranted:  c.DaysGranted,
		})
	}

	p.Parts.Manual = partIDs(agg.ManualParts)
	p.Parts.Account = partIDs(agg.AccountParts)
	p.Parts.EntryDate = partIDs(agg.EntryDateParts)
	p.Parts.Condition = partIDs(agg.ConditionParts)
	return p
}

func partIDs(parts []OrgUnit) []string {
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		ids = append(ids, part.ID)
	}
	return ids
}
