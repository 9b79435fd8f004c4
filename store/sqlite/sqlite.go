/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements policy.Store (directory, policies, history, grant runs) using
  SQLite. In production the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

KEY TABLES:
  branches, org_units, employees:  Directory records
  account_policies, entry_date_policies,
  auto_approval_policies:          One row per branch, lazily created
  condition_policies:              Many rows per branch
  policy_history:                  Append-only snapshot rows
  grant_runs:                      Daily-job markers, UNIQUE(branch, date)

TRANSACTIONAL WRITES:
  ApplyChanges runs the entire aggregate diff - four policy upserts,
  condition set reconciliation, part reassignment - inside one SQL
  transaction. Any failure rolls back all of it; a half-updated policy
  aggregate is never visible to a concurrent read.

APPEND-ONLY ENFORCEMENT:
  policy_history has no UPDATE or DELETE statements anywhere in this
  package. Snapshots are immutable.

CONCURRENCY:
  WAL mode for concurrent readers; sync.RWMutex around the handle as in
  single-process deployments. Employee balances use an optimistic version
  column checked in UpdateEmployeeBalance.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil { log.Fatal(err) }
  defer store.Close()

SEE ALSO:
  - policy/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/grant"
	"github.com/warp/leave-engine/policy"
)

// Store implements policy.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and matches the
	// mutex-guarded single-writer design.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS branches (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS org_units (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL REFERENCES branches(id),
		name TEXT NOT NULL,
		grant_strategy TEXT NOT NULL DEFAULT 'manual'
	);

	CREATE INDEX IF NOT EXISTS idx_org_units_branch ON org_units(branch_id);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		org_unit_id TEXT NOT NULL REFERENCES org_units(id),
		name TEXT NOT NULL,
		hire_date TEXT NOT NULL,
		resignation_date TEXT,
		leave_balance TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_employees_org_unit ON employees(org_unit_id);

	-- One row per branch, created lazily with defaults on first read
	CREATE TABLE IF NOT EXISTS account_policies (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL UNIQUE REFERENCES branches(id),
		reset_behavior TEXT NOT NULL,
		sub_year_behavior TEXT NOT NULL,
		rounding_mode TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entry_date_policies (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL UNIQUE REFERENCES branches(id),
		reset_behavior TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auto_approval_policies (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL UNIQUE REFERENCES branches(id),
		auto_integrated_admin INTEGER NOT NULL DEFAULT 0,
		auto_admin INTEGER NOT NULL DEFAULT 0,
		auto_employee INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS condition_policies (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL REFERENCES branches(id),
		every_n_months INTEGER NOT NULL,
		days_granted INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_condition_policies_branch ON condition_policies(branch_id);

	-- Append-only: no UPDATE or DELETE ever touches this table
	CREATE TABLE IF NOT EXISTS policy_history (
		branch_id TEXT NOT NULL,
		snapshot_id TEXT NOT NULL,
		history_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_policy_history_branch_type
		ON policy_history(branch_id, history_type, created_at DESC);

	-- Daily-job double-fire guard
	CREATE TABLE IF NOT EXISTS grant_runs (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL,
		run_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		granted INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		UNIQUE(branch_id, run_date)
	);

	CREATE INDEX IF NOT EXISTS idx_grant_runs_branch ON grant_runs(branch_id, started_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DIRECTORY (policy.Directory interface)
// =============================================================================

func (s *Store) CreateBranch(ctx context.Context, b policy.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO branches (id, name, created_at) VALUES (?, ?, ?)`,
		b.ID, b.Name, b.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create branch: %w", err)
	}
	return nil
}

func (s *Store) GetBranch(ctx context.Context, id string) (*policy.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM branches WHERE id = ?`, id)

	var b policy.Branch
	var createdAt string
	if err := row.Scan(&b.ID, &b.Name, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, policy.ErrBranchNotFound
		}
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &b, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]policy.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM branches ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	defer rows.Close()

	var out []policy.Branch
	for rows.Next() {
		var b policy.Branch
		var createdAt string
		if err := rows.Scan(&b.ID, &b.Name, &createdAt); err != nil {
			return nil, err
		}
		b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) CreatePart(ctx context.Context, part policy.OrgUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO org_units (id, branch_id, name, grant_strategy) VALUES (?, ?, ?, ?)`,
		part.ID, part.BranchID, part.Name, string(part.Strategy))
	if err != nil {
		if isForeignKeyError(err) {
			return policy.ErrBranchNotFound
		}
		return fmt.Errorf("failed to create org unit: %w", err)
	}
	return nil
}

func (s *Store) GetPart(ctx context.Context, id string) (*policy.OrgUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, branch_id, name, grant_strategy FROM org_units WHERE id = ?`, id)
	return scanPart(row)
}

func (s *Store) ListParts(ctx context.Context, branchID string) ([]policy.OrgUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, branch_id, name, grant_strategy FROM org_units WHERE branch_id = ? ORDER BY id`,
		branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list org units: %w", err)
	}
	defer rows.Close()

	var out []policy.OrgUnit
	for rows.Next() {
		var part policy.OrgUnit
		var strategy string
		if err := rows.Scan(&part.ID, &part.BranchID, &part.Name, &strategy); err != nil {
			return nil, err
		}
		part.Strategy = grant.Strategy(strategy)
		out = append(out, part)
	}
	return out, rows.Err()
}

func (s *Store) CreateEmployee(ctx context.Context, e policy.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var resignation sql.NullString
	if e.ResignationDate != nil {
		resignation = sql.NullString{String: e.ResignationDate.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, org_unit_id, name, hire_date, resignation_date, leave_balance, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OrgUnitID, e.Name, e.HireDate.String(), resignation, e.Balance.String(), e.Version)
	if err != nil {
		if isForeignKeyError(err) {
			return policy.ErrPartNotFound
		}
		return fmt.Errorf("failed to create employee: %w", err)
	}
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, id string) (*policy.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_unit_id, name, hire_date, resignation_date, leave_balance, version
		FROM employees WHERE id = ?`, id)
	return scanEmployee(row)
}

func (s *Store) ListEmployees(ctx context.Context, orgUnitID string) ([]policy.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_unit_id, name, hire_date, resignation_date, leave_balance, version
		FROM employees WHERE org_unit_id = ? ORDER BY id`, orgUnitID)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var out []policy.Employee
	for rows.Next() {
		e, err := scanEmployeeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// UpdateEmployeeBalance is the compare-and-set balance primitive. The
// version check serializes a manual grant racing the scheduled job.
func (s *Store) UpdateEmployeeBalance(ctx context.Context, id string, balance grant.Days, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE employees SET leave_balance = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		balance.String(), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Either the employee is gone or the version moved underneath us.
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM employees WHERE id = ?`, id).Scan(&exists); err == nil && exists == 0 {
			return policy.ErrEmployeeNotFound
		}
		return policy.ErrVersionConflict
	}
	return nil
}

// =============================================================================
// POLICIES (policy.PolicyStore interface)
// =============================================================================

// GetPolicySet returns the branch's four policy tables, lazily inserting
// any missing row with its documented default so callers never see a
// NULL-referenced policy.
func (s *Store) GetPolicySet(ctx context.Context, branchID string) (*policy.PolicySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM branches WHERE id = ?`, branchID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, policy.ErrBranchNotFound
	}

	set := &policy.PolicySet{}

	// Account-based
	var resetStr, subYearStr, roundingStr string
	err = tx.QueryRowContext(ctx, `
		SELECT id, reset_behavior, sub_year_behavior, rounding_mode
		FROM account_policies WHERE branch_id = ?`, branchID).
		Scan(&set.Account.ID, &resetStr, &subYearStr, &roundingStr)
	switch {
	case err == sql.ErrNoRows:
		def := policy.DefaultAccountPolicy(branchID)
		def.ID = uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO account_policies (id, branch_id, reset_behavior, sub_year_behavior, rounding_mode)
			VALUES (?, ?, ?, ?, ?)`,
			def.ID, branchID, string(def.Reset), string(def.SubYear), string(def.Rounding)); err != nil {
			return nil, fmt.Errorf("failed to create default account policy: %w", err)
		}
		set.Account = def
	case err != nil:
		return nil, err
	default:
		set.Account.BranchID = branchID
		set.Account.Reset = grant.ResetBehavior(resetStr)
		set.Account.SubYear = grant.SubYearBehavior(subYearStr)
		set.Account.Rounding = grant.RoundingMode(roundingStr)
	}

	// Entry-date-based
	err = tx.QueryRowContext(ctx, `
		SELECT id, reset_behavior FROM entry_date_policies WHERE branch_id = ?`, branchID).
		Scan(&set.EntryDate.ID, &resetStr)
	switch {
	case err == sql.ErrNoRows:
		def := policy.DefaultEntryDatePolicy(branchID)
		def.ID = uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entry_date_policies (id, branch_id, reset_behavior) VALUES (?, ?, ?)`,
			def.ID, branchID, string(def.Reset)); err != nil {
			return nil, fmt.Errorf("failed to create default entry-date policy: %w", err)
		}
		set.EntryDate = def
	case err != nil:
		return nil, err
	default:
		set.EntryDate.BranchID = branchID
		set.EntryDate.Reset = grant.ResetBehavior(resetStr)
	}

	// Auto-approval
	err = tx.QueryRowContext(ctx, `
		SELECT id, auto_integrated_admin, auto_admin, auto_employee
		FROM auto_approval_policies WHERE branch_id = ?`, branchID).
		Scan(&set.AutoApproval.ID,
			&set.AutoApproval.AutoApproveIntegratedAdmin,
			&set.AutoApproval.AutoApproveAdmin,
			&set.AutoApproval.AutoApproveEmployee)
	switch {
	case err == sql.ErrNoRows:
		def := policy.DefaultAutoApprovalPolicy(branchID)
		def.ID = uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO auto_approval_policies (id, branch_id, auto_integrated_admin, auto_admin, auto_employee)
			VALUES (?, ?, ?, ?, ?)`,
			def.ID, branchID, def.AutoApproveIntegratedAdmin, def.AutoApproveAdmin, def.AutoApproveEmployee); err != nil {
			return nil, fmt.Errorf("failed to create default auto-approval policy: %w", err)
		}
		set.AutoApproval = def
	case err != nil:
		return nil, err
	default:
		set.AutoApproval.BranchID = branchID
	}

	// Condition-based (zero or many)
	rows, err := tx.QueryContext(ctx, `
		SELECT id, branch_id, every_n_months, days_granted
		FROM condition_policies WHERE branch_id = ? ORDER BY id`, branchID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var c policy.ConditionPolicy
		if err := rows.Scan(&c.ID, &c.BranchID, &c.EveryNMonths, &c.DaysGranted); err != nil {
			rows.Close()
			return nil, err
		}
		set.Conditions = append(set.Conditions, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit policy defaults: %w", err)
	}
	return set, nil
}

// ApplyChanges applies a resolved aggregate diff in ONE transaction. A
// failure in any step - policy upsert, condition reconciliation, part
// reassignment - rolls back every other step.
func (s *Store) ApplyChanges(ctx context.Context, branchID string, changes policy.AggregateChanges) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if changes.Account != nil {
		if err := upsertRow(ctx, tx, `
			UPDATE account_policies SET reset_behavior = ?, sub_year_behavior = ?, rounding_mode = ?
			WHERE branch_id = ?`, `
			INSERT INTO account_policies (id, branch_id, reset_behavior, sub_year_behavior, rounding_mode)
			VALUES (?, ?, ?, ?, ?)`,
			[]any{string(changes.Account.Reset), string(changes.Account.SubYear), string(changes.Account.Rounding), branchID},
			[]any{uuid.NewString(), branchID, string(changes.Account.Reset), string(changes.Account.SubYear), string(changes.Account.Rounding)},
		); err != nil {
			return err
		}
	}
	if changes.EntryDate != nil {
		if err := upsertRow(ctx, tx, `
			UPDATE entry_date_policies SET reset_behavior = ? WHERE branch_id = ?`, `
			INSERT INTO entry_date_policies (id, branch_id, reset_behavior) VALUES (?, ?, ?)`,
			[]any{string(changes.EntryDate.Reset), branchID},
			[]any{uuid.NewString(), branchID, string(changes.EntryDate.Reset)},
		); err != nil {
			return err
		}
	}
	if changes.AutoApproval != nil {
		a := changes.AutoApproval
		if err := upsertRow(ctx, tx, `
			UPDATE auto_approval_policies SET auto_integrated_admin = ?, auto_admin = ?, auto_employee = ?
			WHERE branch_id = ?`, `
			INSERT INTO auto_approval_policies (id, branch_id, auto_integrated_admin, auto_admin, auto_employee)
			VALUES (?, ?, ?, ?, ?)`,
			[]any{a.AutoApproveIntegratedAdmin, a.AutoApproveAdmin, a.AutoApproveEmployee, branchID},
			[]any{uuid.NewString(), branchID, a.AutoApproveIntegratedAdmin, a.AutoApproveAdmin, a.AutoApproveEmployee},
		); err != nil {
			return err
		}
	}

	for _, id := range changes.DeleteConditionIDs {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM condition_policies WHERE id = ? AND branch_id = ?`, id, branchID)
		if err != nil {
			return fmt.Errorf("failed to delete condition policy: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return policy.ErrConditionNotFound
		}
	}
	for _, c := range changes.UpdateConditions {
		res, err := tx.ExecContext(ctx, `
			UPDATE condition_policies SET every_n_months = ?, days_granted = ?
			WHERE id = ? AND branch_id = ?`,
			c.EveryNMonths, c.DaysGranted, c.ID, branchID)
		if err != nil {
			return fmt.Errorf("failed to update condition policy: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return policy.ErrConditionNotFound
		}
	}
	for _, c := range changes.CreateConditions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO condition_policies (id, branch_id, every_n_months, days_granted)
			VALUES (?, ?, ?, ?)`,
			c.ID, branchID, c.EveryNMonths, c.DaysGranted); err != nil {
			return fmt.Errorf("failed to create condition policy: %w", err)
		}
	}

	for _, a := range changes.Assignments {
		res, err := tx.ExecContext(ctx, `
			UPDATE org_units SET grant_strategy = ? WHERE id = ? AND branch_id = ?`,
			string(a.Strategy), a.PartID, branchID)
		if err != nil {
			return fmt.Errorf("failed to reassign org unit strategy: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return policy.ErrPartNotFound
		}
	}

	return tx.Commit()
}

func upsertRow(ctx context.Context, tx *sql.Tx, updateQuery, insertQuery string, updateArgs, insertArgs []any) error {
	res, err := tx.ExecContext(ctx, updateQuery, updateArgs...)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, insertQuery, insertArgs...); err != nil {
		return fmt.Errorf("failed to insert policy: %w", err)
	}
	return nil
}

// =============================================================================
// HISTORY (policy.HistoryStore interface)
// =============================================================================

func (s *Store) AppendHistory(ctx context.Context, rows []policy.SnapshotRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO policy_history (branch_id, snapshot_id, history_type, payload, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			row.BranchID, row.SnapshotID, string(row.Type), string(row.Payload),
			row.CreatedBy, row.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}
	}
	return tx.Commit()
}

// ListHistory pages by snapshot group: the newest groups (by max created_at
// within the group) come first, and every row of a selected group is
// returned.
func (s *Store) ListHistory(ctx context.Context, branchID string, historyType policy.HistoryType, page, perPage int) ([]policy.SnapshotRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT branch_id, snapshot_id, history_type, payload, created_by, created_at
		FROM policy_history
		WHERE branch_id = ? AND history_type = ?
		  AND snapshot_id IN (
			SELECT snapshot_id FROM policy_history
			WHERE branch_id = ? AND history_type = ?
			GROUP BY snapshot_id
			ORDER BY MAX(created_at) DESC
			LIMIT ? OFFSET ?
		  )
		ORDER BY created_at DESC`,
		branchID, string(historyType), branchID, string(historyType),
		perPage, (page-1)*perPage)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	out := []policy.SnapshotRow{}
	for rows.Next() {
		var row policy.SnapshotRow
		var typeStr, payload, createdAt string
		if err := rows.Scan(&row.BranchID, &row.SnapshotID, &typeStr, &payload, &row.CreatedBy, &createdAt); err != nil {
			return nil, err
		}
		row.Type = policy.HistoryType(typeStr)
		row.Payload = []byte(payload)
		row.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, row)
	}
	return out, rows.Err()
}

// =============================================================================
// GRANT RUNS (policy.RunStore interface)
// =============================================================================

// BeginRun inserts a running marker for (branch, run date). A completed or
// still-running run for the pair yields ErrRunAlreadyDone; a failed run is
// replaced so the branch can be retried.
func (s *Store) BeginRun(ctx context.Context, run policy.GrantRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM grant_runs WHERE branch_id = ? AND run_date = ?`,
		run.BranchID, run.RunDate.String()).Scan(&status)
	switch {
	case err == sql.ErrNoRows:
		// First run for this date
	case err != nil:
		return err
	case status == string(policy.RunFailed):
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM grant_runs WHERE branch_id = ? AND run_date = ?`,
			run.BranchID, run.RunDate.String()); err != nil {
			return err
		}
	default:
		return policy.ErrRunAlreadyDone
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO grant_runs (id, branch_id, run_date, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.BranchID, run.RunDate.String(), string(run.Status),
		run.StartedAt.UTC().Format(time.RFC3339)); err != nil {
		if isUniqueConstraintError(err) {
			return policy.ErrRunAlreadyDone
		}
		return fmt.Errorf("failed to record grant run: %w", err)
	}
	return tx.Commit()
}

func (s *Store) CompleteRun(ctx context.Context, run policy.GrantRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completedAt sql.NullString
	if run.CompletedAt != nil {
		completedAt = sql.NullString{String: run.CompletedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE grant_runs SET status = ?, granted = ?, skipped = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		string(run.Status), run.Granted, run.Skipped, nullString(run.Error), completedAt, run.ID)
	if err != nil {
		return fmt.Errorf("failed to complete grant run: %w", err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, branchID string, limit int) ([]policy.GrantRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, branch_id, run_date, status, granted, skipped, error, started_at, completed_at
		FROM grant_runs`
	args := []any{}
	if branchID != "" {
		query += ` WHERE branch_id = ?`
		args = append(args, branchID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list grant runs: %w", err)
	}
	defer rows.Close()

	var out []policy.GrantRun
	for rows.Next() {
		var run policy.GrantRun
		var runDate, status, startedAt string
		var errMsg, completedAt sql.NullString
		if err := rows.Scan(&run.ID, &run.BranchID, &runDate, &status, &run.Granted,
			&run.Skipped, &errMsg, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		run.RunDate, _ = grant.ParseDate(runDate)
		run.Status = policy.RunStatus(status)
		run.Error = errMsg.String
		run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			run.CompletedAt = &t
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPart(row *sql.Row) (*policy.OrgUnit, error) {
	var part policy.OrgUnit
	var strategy string
	if err := row.Scan(&part.ID, &part.BranchID, &part.Name, &strategy); err != nil {
		if err == sql.ErrNoRows {
			return nil, policy.ErrPartNotFound
		}
		return nil, fmt.Errorf("failed to get org unit: %w", err)
	}
	part.Strategy = grant.Strategy(strategy)
	return &part, nil
}

func scanEmployee(row *sql.Row) (*policy.Employee, error) {
	e, err := scanEmployeeRows(row)
	if err == sql.ErrNoRows {
		return nil, policy.ErrEmployeeNotFound
	}
	return e, err
}

func scanEmployeeRows(row rowScanner) (*policy.Employee, error) {
	var e policy.Employee
	var hireDate, balance string
	var resignation sql.NullString
	if err := row.Scan(&e.ID, &e.OrgUnitID, &e.Name, &hireDate, &resignation, &balance, &e.Version); err != nil {
		return nil, err
	}
	e.HireDate, _ = grant.ParseDate(hireDate)
	if resignation.Valid {
		d, err := grant.ParseDate(resignation.String)
		if err == nil {
			e.ResignationDate = &d
		}
	}
	e.Balance = grant.ParseDays(balance)
	return &e, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
