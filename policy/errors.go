/*
errors.go - Centralized error taxonomy for the policy subsystem

PURPOSE:
  One place for every error the facade, stores, and scheduler surface.
  The HTTP layer maps these onto status codes:
    not-found  -> 404    forbidden -> 403
    bad input  -> 400    conflict  -> 409    everything else -> 500

USAGE:
    if policy.IsNotFound(err) { ... }
    return fmt.Errorf("%w: unknown strategy %q", policy.ErrInvalidInput, s)
*/
package policy

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrBranchNotFound is returned when a referenced branch doesn't exist.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrPartNotFound is returned when a referenced org unit doesn't exist.
	ErrPartNotFound = errors.New("org unit not found")

	// ErrEmployeeNotFound is returned when a referenced employee doesn't exist.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrConditionNotFound is returned when an update names a condition rule
	// that doesn't exist for the branch.
	ErrConditionNotFound = errors.New("condition policy not found")

	// ErrInvalidInput is returned for malformed requests: unknown enum
	// values, non-positive cadence rules, duplicate part assignments.
	// Rejected before any write.
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden is returned when the actor lacks branch-admin privilege
	// for a policy write.
	ErrForbidden = errors.New("forbidden")

	// ErrVersionConflict is returned when a compare-and-set balance update
	// loses a race. Retryable.
	ErrVersionConflict = errors.New("employee version conflict")

	// ErrRunAlreadyDone is returned when a grant run for a (branch, date)
	// pair has already completed.
	ErrRunAlreadyDone = errors.New("grant run already completed for date")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateAssignmentError reports a part referenced more than once in a
// single update request.
type DuplicateAssignmentError struct {
	PartID string
}

func (e *DuplicateAssignmentError) Error() string {
	return fmt.Sprintf("org unit %s assigned more than once in one request", e.PartID)
}

func (e *DuplicateAssignmentError) Unwrap() error { return ErrInvalidInput }

// ForeignPartError reports a part assignment targeting a part outside the
// branch being updated.
type ForeignPartError struct {
	PartID   string
	BranchID string
}

func (e *ForeignPartError) Error() string {
	return fmt.Sprintf("org unit %s does not belong to branch %s", e.PartID, e.BranchID)
}

func (e *ForeignPartError) Unwrap() error { return ErrInvalidInput }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBranchNotFound) ||
		errors.Is(err, ErrPartNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrConditionNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsForbidden returns true if the actor lacked privilege.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsConflict returns true for retryable concurrency conflicts.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrRunAlreadyDone)
}
