/*
handlers.go - HTTP API handlers for the leave back office

PURPOSE:
  Exposes the branch directory, the per-branch policy aggregate, and the
  grant machinery via REST. Handles HTTP request/response, JSON
  serialization, and delegates to the policy facade.

ENDPOINTS:
  Branches:
    GET    /api/branches                        List branches
    POST   /api/branches                        Create branch
    GET    /api/branches/{branchID}             Get branch
    GET    /api/branches/{branchID}/parts       List org units
    POST   /api/branches/{branchID}/parts       Create org unit

  Policies:
    GET    /api/branches/{branchID}/policies          Full aggregate
    PATCH  /api/branches/{branchID}/policies          Update and snapshot
    GET    /api/branches/{branchID}/policies/history  Snapshot history

  Employees:
    GET    /api/parts/{partID}/employees        List employees
    POST   /api/parts/{partID}/employees        Create employee
    GET    /api/employees/{id}                  Get employee
    POST   /api/employees/{id}/adjustments      Manual balance delta

  Admin:
    POST   /api/admin/grant-runs                Trigger grant processing
    GET    /api/admin/grant-runs                List runs

ACTOR HEADERS:
  Writes carry X-Actor-ID and X-Actor-Role. Authentication lives in the
  surrounding platform; these headers are its already-verified output and
  this layer only enforces the branch-admin gate on policy writes.

ERROR HANDLING:
  Domain errors map onto HTTP status:
  - 400: Validation errors, unknown enum values
  - 403: Actor lacks privilege
  - 404: Branch/part/employee/condition not found
  - 409: Version conflict, run already done
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scheduler.go: Daily grant job (shares the run machinery)
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/grant"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     policy.Store
	Policies  *policy.Service
	Scheduler *GrantScheduler
}

// NewHandler creates a new handler around the store and facade.
func NewHandler(store policy.Store, svc *policy.Service, scheduler *GrantScheduler) *Handler {
	return &Handler{Store: store, Policies: svc, Scheduler: scheduler}
}

// =============================================================================
// BRANCH HANDLERS
// =============================================================================

// ListBranches returns all branches.
func (h *Handler) ListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.Store.ListBranches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list branches", err)
		return
	}

	dtos := make([]BranchDTO, 0, len(branches))
	for _, b := range branches {
		dtos = append(dtos, toBranchDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBranch creates a new branch.
func (h *Handler) CreateBranch(w http.ResponseWriter, r *http.Request) {
	var req CreateBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Branch name is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	b := policy.Branch{ID: req.ID, Name: req.Name, CreatedAt: time.Now().UTC()}
	if err := h.Store.CreateBranch(r.Context(), b); err != nil {
		writeDomainError(w, "Failed to create branch", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBranchDTO(b))
}

// GetBranch returns a single branch.
func (h *Handler) GetBranch(w http.ResponseWriter, r *http.Request) {
	b, err := h.Store.GetBranch(r.Context(), chi.URLParam(r, "branchID"))
	if err != nil {
		writeDomainError(w, "Failed to get branch", err)
		return
	}
	writeJSON(w, http.StatusOK, toBranchDTO(*b))
}

// =============================================================================
// ORG UNIT HANDLERS
// =============================================================================

// ListParts returns a branch's org units.
func (h *Handler) ListParts(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")
	if _, err := h.Store.GetBranch(r.Context(), branchID); err != nil {
		writeDomainError(w, "Failed to get branch", err)
		return
	}

	parts, err := h.Store.ListParts(r.Context(), branchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list org units", err)
		return
	}
	writeJSON(w, http.StatusOK, toPartDTOs(parts))
}

// CreatePart creates an org unit under a branch.
func (h *Handler) CreatePart(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")

	var req CreatePartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Org unit name is required", nil)
		return
	}

	strategy := grant.StrategyManual
	if req.Strategy != "" {
		parsed, err := grant.ParseStrategy(req.Strategy)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid grant strategy", err)
			return
		}
		strategy = parsed
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	part := policy.OrgUnit{ID: req.ID, BranchID: branchID, Name: req.Name, Strategy: strategy}
	if err := h.Store.CreatePart(r.Context(), part); err != nil {
		writeDomainError(w, "Failed to create org unit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPartDTO(part))
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// GetPolicies returns the full policy aggregate for a branch.
func (h *Handler) GetPolicies(w http.ResponseWriter, r *http.Request) {
	agg, err := h.Policies.ReadAggregate(r.Context(), chi.URLParam(r, "branchID"))
	if err != nil {
		writeDomainError(w, "Failed to read policies", err)
		return
	}
	writeJSON(w, http.StatusOK, toAggregateDTO(agg))
}

// UpdatePolicies applies a patch to the aggregate and records a history
// snapshot of the committed state.
func (h *Handler) UpdatePolicies(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid actor headers", err)
		return
	}

	var req UpdatePoliciesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	update, err := toUpdateRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy update", err)
		return
	}

	branchID := chi.URLParam(r, "branchID")
	snapshotID, err := h.Policies.UpdateAggregate(r.Context(), branchID, update, actor)
	if err != nil {
		writeDomainError(w, "Failed to update policies", err)
		return
	}

	agg, err := h.Policies.ReadAggregate(r.Context(), branchID)
	if err != nil {
		writeDomainError(w, "Failed to read policies", err)
		return
	}
	writeJSON(w, http.StatusOK, UpdatePoliciesResponse{
		SnapshotID: snapshotID,
		Aggregate:  toAggregateDTO(agg),
	})
}

// ListPolicyHistory returns snapshot rows, newest group first.
// Query: type=grant_policy|auto_approval, page, per_page.
func (h *Handler) ListPolicyHistory(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")
	if _, err := h.Store.GetBranch(r.Context(), branchID); err != nil {
		writeDomainError(w, "Failed to get branch", err)
		return
	}

	historyType := policy.HistoryGrantPolicy
	if v := r.URL.Query().Get("type"); v != "" {
		parsed, err := policy.ParseHistoryType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid history type", err)
			return
		}
		historyType = parsed
	}
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 20)

	rows, err := h.Store.ListHistory(r.Context(), branchID, historyType, page, perPage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list history", err)
		return
	}

	dtos := make([]HistoryEntryDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, HistoryEntryDTO{
			SnapshotID: row.SnapshotID,
			Type:       string(row.Type),
			Payload:    row.Payload,
			CreatedBy:  row.CreatedBy,
			CreatedAt:  row.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns an org unit's employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	partID := chi.URLParam(r, "partID")
	if _, err := h.Store.GetPart(r.Context(), partID); err != nil {
		writeDomainError(w, "Failed to get org unit", err)
		return
	}

	employees, err := h.Store.ListEmployees(r.Context(), partID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, 0, len(employees))
	for _, e := range employees {
		dtos = append(dtos, toEmployeeDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEmployee creates an employee under an org unit.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	partID := chi.URLParam(r, "partID")

	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Employee name is required", nil)
		return
	}

	hireDate, err := grant.ParseDate(req.HireDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hire date", err)
		return
	}

	e := policy.Employee{
		ID:        req.ID,
		OrgUnitID: partID,
		Name:      req.Name,
		HireDate:  hireDate,
		Balance:   grant.ZeroDays(),
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if req.ResignationDate != "" {
		d, err := grant.ParseDate(req.ResignationDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid resignation date", err)
			return
		}
		e.ResignationDate = &d
	}
	if req.Balance != "" {
		v, err := decimal.NewFromString(req.Balance)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid leave balance", err)
			return
		}
		e.Balance = grant.Days{Value: v}
	}

	if err := h.Store.CreateEmployee(r.Context(), e); err != nil {
		writeDomainError(w, "Failed to create employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(e))
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	e, err := h.Store.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*e))
}

// CreateAdjustment applies a manual balance delta.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid actor headers", err)
		return
	}

	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid delta", err)
		return
	}

	employeeID := chi.URLParam(r, "id")
	balance, err := h.Policies.AdjustBalance(r.Context(), employeeID, grant.Days{Value: delta}, actor)
	if err != nil {
		writeDomainError(w, "Failed to adjust balance", err)
		return
	}
	writeJSON(w, http.StatusOK, AdjustmentResponse{
		EmployeeID: employeeID,
		Balance:    balance.String(),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerGrantRun starts grant processing outside the daily schedule. The
// per-date run guard still applies, so re-triggering an already processed
// date is a no-op per branch.
func (h *Handler) TriggerGrantRun(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid actor headers", err)
		return
	}
	if !actor.CanWritePolicies() {
		writeError(w, http.StatusForbidden, "Actor may not trigger grant runs", nil)
		return
	}

	// Empty body means "all branches, today"
	var req TriggerGrantRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	runDate := h.Scheduler.Today()
	if req.Date != "" {
		d, err := grant.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid run date", err)
			return
		}
		runDate = d
	}

	runs, err := h.Scheduler.RunNow(r.Context(), runDate, req.BranchID)
	if err != nil {
		writeDomainError(w, "Failed to run grant processing", err)
		return
	}

	dtos := make([]GrantRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toGrantRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListGrantRuns returns recent runs. Query: branch_id, limit.
func (h *Handler) ListGrantRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListRuns(r.Context(), r.URL.Query().Get("branch_id"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list grant runs", err)
		return
	}

	dtos := make([]GrantRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toGrantRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// actorFromRequest reads the verified identity headers.
func actorFromRequest(r *http.Request) (policy.Actor, error) {
	role, err := policy.ParseRole(r.Header.Get("X-Actor-Role"))
	if err != nil {
		return policy.Actor{}, err
	}
	id := r.Header.Get("X-Actor-ID")
	if id == "" {
		return policy.Actor{}, policy.ErrInvalidInput
	}
	return policy.Actor{ID: id, Role: role}, nil
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

// writeDomainError maps policy-layer errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case policy.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case policy.IsForbidden(err):
		writeError(w, http.StatusForbidden, message, err)
	case policy.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case policy.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
