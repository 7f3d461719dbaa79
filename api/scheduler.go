/*
scheduler.go - In-process daily settlement scheduler

PURPOSE:
  Runs the settlement batch once per day without an external cron. The
  external trigger endpoint stays available; because the batch is
  idempotent per (family, period), the two firing on the same day is
  harmless.

DESIGN:
  - Background goroutine with a configurable check interval
  - Invokes the orchestrator with today's date on every tick; days with
    no due families are cheap no-ops
  - Start/Stop lifecycle owned by main

USAGE:
  scheduler := NewSettlementScheduler(orch)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - credit/batch.go: the orchestrator this drives
  - handlers.go: TriggerSettlement (external trigger)
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/hearth/credit-engine/credit"
)

// SettlementScheduler fires the daily batch from inside the process.
type SettlementScheduler struct {
	Orchestrator  *credit.Orchestrator
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSettlementScheduler creates a scheduler with a 1-hour check
// interval. Hourly checks rather than a daily timer so a restart never
// misses the day; repeated checks are absorbed by the idempotency guard.
func NewSettlementScheduler(orch *credit.Orchestrator) *SettlementScheduler {
	return &SettlementScheduler{
		Orchestrator:  orch,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (ss *SettlementScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.wg.Add(1)
	go ss.run()

	log.Printf("[Scheduler] Started with check interval: %v", ss.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (ss *SettlementScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ss *SettlementScheduler) run() {
	defer ss.wg.Done()

	// Run immediately on start
	ss.runOnce()

	for {
		select {
		case <-ss.ticker.C:
			ss.runOnce()
		case <-ss.stop:
			return
		}
	}
}

func (ss *SettlementScheduler) runOnce() {
	ctx := context.Background()
	result, err := ss.Orchestrator.RunDue(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("[Scheduler] Settlement batch failed: %v", err)
		return
	}
	if result.Due > 0 {
		log.Printf("[Scheduler] Settlement run: %d due, %d processed, %d skipped, %d errors",
			result.Due, result.Processed, result.Skipped, len(result.Errors))
	}
}

// RunNow triggers an immediate run (for testing/admin).
func (ss *SettlementScheduler) RunNow() {
	ss.runOnce()
}
