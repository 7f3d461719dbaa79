/*
batch.go - Due-family batch orchestrator

PURPOSE:
  The single daily entry point. Figures out which families are due on a
  given calendar day, settles each one through the Processor, dispatches
  the per-family report, and records every outcome in the audit trail.

IDEMPOTENCY:
  The orchestrator claims a family's period by inserting the pending
  audit entry BEFORE settling. The audit store's unique constraint on
  (family, type, period start) means at most one invocation wins a
  racing day - the loser sees ErrAlreadySettled and counts a skip. The
  scheduler may deliver the same day twice; the second run settles
  nothing and duplicates nothing.

FAILURE ISOLATION:
  Nothing escaping one family may abort another. Per-child errors are
  collected and the family continues; a family-level failure (including
  a panic) is caught, stringified into the batch result, and the loop
  moves on. Only the initial "list families" read can fail the batch as
  a whole, because a failed due-family read must never be mistaken for
  "zero due families".

STATE MACHINE (per family per period):
  NotDue -> Due -> Skipped[already-settled]
                 | Settling -> Settled -> Notified
                                        | NotificationFailed
                                        | NotificationSkipped[no-recipient]
                 | SettlementFailed

  There is no retry inside a run; a failed family waits for the next
  period or a manual re-trigger.

SEE ALSO:
  - settle.go: per-child work
  - period.go: due rule and period keys
  - api/handlers.go: the HTTP trigger
*/
package credit

import (
	"context"
	"fmt"
	"log"
	"time"
)

// =============================================================================
// BATCH RESULT
// =============================================================================

// BatchResult summarizes one orchestrator run. Partial failure is normal:
// Errors can be non-empty while Processed counts the families that made it.
type BatchResult struct {
	RunDate   time.Time `json:"runDate"`
	Due       int       `json:"due"`
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Errors    []string  `json:"errors"`
}

// =============================================================================
// REPORT BUILDER - Rendering boundary
// =============================================================================

// ReportBuilder renders a family's settlement outcome into a deliverable
// subject and body. Implemented by the notify package; injected so the
// engine stays free of formatting concerns.
type ReportBuilder interface {
	Build(family Family, period Period, records []SettlementRecord) (subject, body string)
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator runs the daily settlement batch. All collaborators are
// injected. Families are processed sequentially; they share no state, so
// ordering is irrelevant to correctness.
type Orchestrator struct {
	Families   FamilyStore
	Audit      AuditStore
	Processor  *Processor
	Dispatcher Dispatcher
	Reports    ReportBuilder

	// FamilyTimeout bounds one family's settlement so a slow family
	// cannot stall the batch. Zero means DefaultFamilyTimeout.
	FamilyTimeout time.Duration

	Now func() time.Time
}

const DefaultFamilyTimeout = 30 * time.Second

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) familyTimeout() time.Duration {
	if o.FamilyTimeout > 0 {
		return o.FamilyTimeout
	}
	return DefaultFamilyTimeout
}

// RunDue settles every family due on today. The returned error is non-nil
// only when the orchestrator itself cannot run (the due-family read
// failed); per-family failures live in the result's Errors.
func (o *Orchestrator) RunDue(ctx context.Context, today time.Time) (*BatchResult, error) {
	today = DateOnly(today)
	result := &BatchResult{RunDate: today, Errors: []string{}}

	families, err := o.Families.ListFamilies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list families: %w", err)
	}

	for _, family := range families {
		if !ValidSettlementDay(family.SettlementDay) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("family %s: %v (%d)", family.ID, ErrInvalidSettlementDay, family.SettlementDay))
			continue
		}
		if !IsDue(family.SettlementDay, today) {
			continue
		}
		result.Due++

		outcome := o.settleFamily(ctx, family, today)
		switch {
		case outcome.skipped:
			result.Skipped++
		case outcome.failed:
			result.Errors = append(result.Errors, outcome.errs...)
		default:
			result.Processed++
			result.Errors = append(result.Errors, outcome.errs...)
		}
	}

	log.Printf("[Batch] %s: %d due, %d processed, %d skipped, %d errors",
		today.Format("2006-01-02"), result.Due, result.Processed, result.Skipped, len(result.Errors))
	return result, nil
}

// familyOutcome is the internal tally for one family.
type familyOutcome struct {
	skipped bool
	failed  bool // settlement failed for the family as a whole
	errs    []string
}

// settleFamily handles one due family end to end. Panics are converted to
// a family-level error so one bad family cannot take down the batch.
func (o *Orchestrator) settleFamily(parent context.Context, family Family, today time.Time) (outcome familyOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = familyOutcome{failed: true,
				errs: []string{fmt.Sprintf("family %s: panic: %v", family.ID, r)}}
		}
	}()

	ctx, cancel := context.WithTimeout(parent, o.familyTimeout())
	defer cancel()

	period := PeriodFor(today)

	// Fast-path skip, then claim the period. The Create is the real
	// guard: its unique constraint decides races.
	done, err := o.Audit.Exists(ctx, family.ID, ReportSettlement, period.Start)
	if err != nil {
		return familyOutcome{failed: true,
			errs: []string{fmt.Sprintf("family %s: idempotency check: %v", family.ID, err)}}
	}
	if done {
		return familyOutcome{skipped: true}
	}

	entry := ReportEntry{
		FamilyID:    family.ID,
		Type:        ReportSettlement,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Status:      StatusPending,
		Recipient:   family.Recipient,
		CreatedAt:   o.now(),
	}
	if err := o.Audit.Create(ctx, &entry); err != nil {
		if IsSkip(err) {
			return familyOutcome{skipped: true}
		}
		return familyOutcome{failed: true,
			errs: []string{fmt.Sprintf("family %s: claim period: %v", family.ID, err)}}
	}

	children, err := o.Processor.Ledger.GetChildrenOf(ctx, family.ID)
	if err != nil {
		o.finishEntry(parent, entry.ID, StatusFailed, fmt.Sprintf("list children: %v", err))
		return familyOutcome{failed: true,
			errs: []string{fmt.Sprintf("family %s: list children: %v", family.ID, err)}}
	}

	var (
		records []SettlementRecord
		errs    []string
	)
	for _, childID := range children {
		rec, err := o.Processor.SettleChild(ctx, family.ID, childID, today)
		if err != nil {
			cerr := &ChildSettlementError{FamilyID: family.ID, ChildID: childID, Err: err}
			errs = append(errs, cerr.Error())
			continue
		}
		records = append(records, *rec)
	}

	if len(children) > 0 && len(records) == 0 {
		// Every child failed: the family's settlement did not happen.
		o.finishEntry(parent, entry.ID, StatusFailed, "settlement failed for all children")
		return familyOutcome{failed: true, errs: errs}
	}

	o.notify(ctx, parent, family, period, entry.ID, records)
	return familyOutcome{errs: errs}
}

// notify renders and dispatches the family report, then records the
// outcome. Delivery failure is logged to the audit trail only; the
// settlement is already committed and stays committed. Delivery runs on
// the family-timeout ctx but status writes use the batch's audit ctx, so
// a family that ran out its timeout still gets a terminal status instead
// of an entry stuck at pending.
func (o *Orchestrator) notify(ctx, audit context.Context, family Family, period Period, entryID string, records []SettlementRecord) {
	if family.Recipient == "" {
		o.finishEntry(audit, entryID, StatusSkipped, ErrNoRecipient.Error())
		return
	}
	if o.Dispatcher == nil || o.Reports == nil {
		o.finishEntry(audit, entryID, StatusSkipped, "notifications disabled")
		return
	}

	subject, body := o.Reports.Build(family, period, records)
	if err := o.Dispatcher.Send(ctx, family.Recipient, subject, body); err != nil {
		log.Printf("[Batch] family %s: notification failed: %v", family.ID, err)
		o.finishEntry(audit, entryID, StatusFailed, err.Error())
		return
	}

	sentAt := o.now()
	if err := o.Audit.UpdateStatus(audit, entryID, StatusSent, &sentAt, ""); err != nil {
		log.Printf("[Batch] family %s: audit update failed: %v", family.ID, err)
	}
}

// finishEntry records a terminal audit status, logging rather than
// propagating any store failure: the batch outcome must not depend on
// being able to write the log of the batch outcome.
func (o *Orchestrator) finishEntry(ctx context.Context, entryID string, status ReportStatus, msg string) {
	if err := o.Audit.UpdateStatus(ctx, entryID, status, nil, msg); err != nil {
		log.Printf("[Batch] audit update failed for entry %s: %v", entryID, err)
	}
}
