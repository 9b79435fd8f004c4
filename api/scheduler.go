/*
scheduler.go - Daily automatic grant scheduler

PURPOSE:
  Runs the annual-leave grant calculation for every branch once per day at
  a configured local time, and exposes the same machinery to the manual
  trigger endpoint.

DESIGN:
  - Background goroutine with a short check interval; fires when the clock
    in the configured timezone passes the daily run time
  - One grant run record per (branch, date); the store-level guard makes a
    duplicate fire a per-branch no-op, so a restart or a manual trigger on
    an already processed date grants nothing twice
  - Branches are isolated: a failure inside one branch marks that run
    failed and the remaining branches still process
  - Balance writes go through the compare-and-set primitive with one
    retry, so a manual adjustment racing the job never loses an update

CONFIGURATION:
  - RunAt: Local wall-clock time of the daily run ("02:00")
  - Location: Timezone the run time and grant dates are evaluated in
  - CheckInterval: Clock poll interval (default: 1 minute)
  - Enabled: Whether the background loop starts (default: true)

USAGE:
  scheduler := NewGrantScheduler(store)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - grant/calculator.go: The per-employee grant rules
  - handlers.go: TriggerGrantRun endpoint (manual runs)
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/leave-engine/grant"
	"github.com/warp/leave-engine/policy"
)

// GrantScheduler runs the daily leave-grant job.
type GrantScheduler struct {
	Store         policy.Store
	RunAt         string
	Location      *time.Location
	CheckInterval time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan bool
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun grant.Date
}

// NewGrantScheduler creates a scheduler with the default 02:00 UTC run time.
func NewGrantScheduler(store policy.Store) *GrantScheduler {
	return &GrantScheduler{
		Store:         store,
		RunAt:         "02:00",
		Location:      time.UTC,
		CheckInterval: time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (gs *GrantScheduler) Start() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if !gs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	gs.ticker = time.NewTicker(gs.CheckInterval)
	gs.wg.Add(1)

	go gs.run()

	log.Printf("[Scheduler] Started, daily grant at %s %s", gs.RunAt, gs.Location)
}

// Stop stops the scheduler.
func (gs *GrantScheduler) Stop() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if gs.ticker != nil {
		gs.ticker.Stop()
		close(gs.stop)
		gs.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

// Today returns the current date in the scheduler's timezone.
func (gs *GrantScheduler) Today() grant.Date {
	return grant.Today(gs.Location)
}

func (gs *GrantScheduler) run() {
	defer gs.wg.Done()

	for {
		select {
		case <-gs.ticker.C:
			gs.checkClock()
		case <-gs.stop:
			return
		}
	}
}

// checkClock fires the daily run once the local time passes RunAt. The
// in-process lastRun marker is just a cheap filter; the store-level run
// guard is what actually prevents double grants.
func (gs *GrantScheduler) checkClock() {
	runAt, err := time.ParseInLocation("15:04", gs.RunAt, gs.Location)
	if err != nil {
		log.Printf("[Scheduler] Invalid run time %q: %v", gs.RunAt, err)
		return
	}

	now := time.Now().In(gs.Location)
	today := grant.Today(gs.Location)

	gs.mu.Lock()
	alreadyRan := gs.lastRun.Equal(today)
	gs.mu.Unlock()
	if alreadyRan {
		return
	}

	threshold := time.Date(now.Year(), now.Month(), now.Day(),
		runAt.Hour(), runAt.Minute(), 0, 0, gs.Location)
	if now.Before(threshold) {
		return
	}

	gs.mu.Lock()
	gs.lastRun = today
	gs.mu.Unlock()

	if _, err := gs.RunNow(context.Background(), today, ""); err != nil {
		log.Printf("[Scheduler] Daily run failed: %v", err)
	}
}

// RunNow processes grants for the given date. An empty branch id means all
// branches. Branches whose run guard refuses the date are skipped silently;
// the returned slice holds only the runs that executed.
func (gs *GrantScheduler) RunNow(ctx context.Context, date grant.Date, branchID string) ([]policy.GrantRun, error) {
	var branches []policy.Branch
	if branchID != "" {
		b, err := gs.Store.GetBranch(ctx, branchID)
		if err != nil {
			return nil, err
		}
		branches = []policy.Branch{*b}
	} else {
		all, err := gs.Store.ListBranches(ctx)
		if err != nil {
			return nil, err
		}
		branches = all
	}

	log.Printf("[Scheduler] Grant run for %s across %d branch(es)", date, len(branches))

	runs := make([]policy.GrantRun, 0, len(branches))
	for _, b := range branches {
		run, err := gs.processBranch(ctx, b, date)
		if err != nil {
			if errors.Is(err, policy.ErrRunAlreadyDone) {
				log.Printf("[Scheduler] Branch %s already processed for %s, skipping", b.ID, date)
				continue
			}
			log.Printf("[Scheduler] Branch %s failed: %v", b.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// processBranch runs the grant calculation for one branch under its run
// guard. Failures are recorded on the run and do not leak to other branches.
func (gs *GrantScheduler) processBranch(ctx context.Context, b policy.Branch, date grant.Date) (policy.GrantRun, error) {
	run := policy.GrantRun{
		ID:        uuid.NewString(),
		BranchID:  b.ID,
		RunDate:   date,
		Status:    policy.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := gs.Store.BeginRun(ctx, run); err != nil {
		return run, err
	}

	granted, skipped, err := gs.grantBranch(ctx, b.ID, date)
	run.Granted = granted
	run.Skipped = skipped
	completed := time.Now().UTC()
	run.CompletedAt = &completed

	if err != nil {
		run.Status = policy.RunFailed
		run.Error = err.Error()
		if saveErr := gs.Store.CompleteRun(ctx, run); saveErr != nil {
			log.Printf("[Scheduler] Failed to record failed run for %s: %v", b.ID, saveErr)
		}
		return run, err
	}

	run.Status = policy.RunCompleted
	if err := gs.Store.CompleteRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to record run: %w", err)
	}

	log.Printf("[Scheduler] Branch %s: %d granted, %d skipped", b.ID, granted, skipped)
	return run, nil
}

// grantBranch walks every part and employee of the branch and applies the
// part's strategy.
func (gs *GrantScheduler) grantBranch(ctx context.Context, branchID string, date grant.Date) (granted, skipped int, err error) {
	set, err := gs.Store.GetPolicySet(ctx, branchID)
	if err != nil {
		return 0, 0, err
	}

	parts, err := gs.Store.ListParts(ctx, branchID)
	if err != nil {
		return 0, 0, err
	}

	rules := make([]grant.ConditionRule, 0, len(set.Conditions))
	for _, c := range set.Conditions {
		rules = append(rules, c.Rule())
	}

	for _, part := range parts {
		if part.Strategy == grant.StrategyManual {
			continue
		}

		employees, err := gs.Store.ListEmployees(ctx, part.ID)
		if err != nil {
			return granted, skipped, err
		}

		for _, emp := range employees {
			applied, err := gs.grantEmployee(ctx, emp.ID, part.Strategy, set, rules, date)
			if err != nil {
				return granted, skipped, err
			}
			if applied {
				granted++
			} else {
				skipped++
			}
		}
	}
	return granted, skipped, nil
}

// grantEmployee evaluates one employee and applies the outcome through the
// compare-and-set primitive. One retry covers a lost race with a manual
// adjustment; the recomputation uses the fresh balance.
func (gs *GrantScheduler) grantEmployee(ctx context.Context, employeeID string, strategy grant.Strategy, set *policy.PolicySet, rules []grant.ConditionRule, date grant.Date) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		emp, err := gs.Store.GetEmployee(ctx, employeeID)
		if err != nil {
			return false, err
		}
		if !emp.ActiveOn(date) {
			return false, nil
		}

		var outcome grant.Outcome
		switch strategy {
		case grant.StrategyAccountBased:
			outcome = grant.EvaluateAccount(emp.GrantView(), set.Account.Rules(), date)
		case grant.StrategyEntryDateBased:
			outcome = grant.EvaluateEntryDate(emp.GrantView(), set.EntryDate.Rules(), date)
		case grant.StrategyConditional:
			outcome = grant.EvaluateConditions(emp.GrantView(), rules, date)
		default:
			return false, nil
		}
		if !outcome.Apply {
			return false, nil
		}

		err = gs.Store.UpdateEmployeeBalance(ctx, emp.ID, outcome.NewBalance, emp.Version)
		if err == nil {
			log.Printf("[Scheduler] %s: %s, balance %s -> %s",
				emp.ID, outcome.Reason, emp.Balance, outcome.NewBalance)
			return true, nil
		}
		if !policy.IsConflict(err) {
			return false, err
		}
	}
	return false, policy.ErrVersionConflict
}
