/*
settle.go - Per-child settlement processor

PURPOSE:
  Settles one (family, child) for one period: reads the child's debt and
  credit settings, runs the progressive interest calculator, derives the
  new credit limit, posts the interest debit to the ledger, and persists
  an immutable SettlementRecord with a full before/after snapshot.

STEP ORDER:
  1. Read balance + settings (a child with no settings row gets a
     disabled zero-value default; a failed read is an error, not a default)
  2. Compute interest from the family's tier table
  3. Derive the new limit via AdjustmentPolicy
  4. Post the interest debit (idempotent per child+period key)
  5. Persist the record, update the stored limit
  6. Return the record

  Disabled-credit children still produce a zero-debt, zero-interest,
  zero-adjustment record. One documented choice, applied everywhere: the
  audit trail stays complete and report rendering drops the no-ops.

CONCURRENCY:
  All steps run inside the ledger's per-child lock (WithChildLock). A
  concurrent points write for the same child queues behind the
  settlement instead of landing between the debt read and the interest
  debit.

FAILURE SCOPE:
  Any step failing aborts only this child. The error is returned to the
  orchestrator, which records it and moves on.

SEE ALSO:
  - interest.go: step 2
  - policy.go:   step 3
  - batch.go:    the caller
*/
package credit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// PROCESSOR
// =============================================================================

// Processor settles individual children. All collaborators are injected;
// the processor holds no mutable state of its own.
type Processor struct {
	Ledger      Ledger
	Tiers       TierStore
	Credits     CreditStore
	Settlements SettlementStore
	Policy      AdjustmentPolicy

	// Now is the clock; nil means time.Now. Tests pin it.
	Now func() time.Time
}

// NewProcessor wires a processor with the default adjustment policy.
func NewProcessor(ledger Ledger, tiers TierStore, credits CreditStore, settlements SettlementStore) *Processor {
	return &Processor{
		Ledger:      ledger,
		Tiers:       tiers,
		Credits:     credits,
		Settlements: settlements,
		Policy:      DefaultAdjustmentPolicy(),
	}
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// SettleChild settles one child as of the given date and returns the
// persisted record. asOf is date-granular; the interest debit and record
// both carry it as the settlement date.
//
// The whole sequence runs under the ledger's child lock: a points write
// arriving mid-settlement waits until the record is committed, so the
// debt that was read is the debt that gets charged.
func (p *Processor) SettleChild(ctx context.Context, familyID FamilyID, childID ChildID, asOf time.Time) (*SettlementRecord, error) {
	asOf = DateOnly(asOf)

	var rec *SettlementRecord
	err := p.Ledger.WithChildLock(ctx, childID, func(ctx context.Context) error {
		var err error
		rec, err = p.settleLocked(ctx, familyID, childID, asOf)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *Processor) settleLocked(ctx context.Context, familyID FamilyID, childID ChildID, asOf time.Time) (*SettlementRecord, error) {
	balance, err := p.Ledger.GetBalance(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}

	settings, err := p.loadSettings(ctx, familyID, childID)
	if err != nil {
		return nil, err
	}

	rec := &SettlementRecord{
		ID:                RecordID(uuid.NewString()),
		FamilyID:          familyID,
		ChildID:           childID,
		SettlementDate:    asOf,
		BalanceBefore:     balance,
		CreditLimitBefore: settings.CreditLimit,
		CreditLimitAfter:  settings.CreditLimit,
		SettledAt:         p.now(),
	}

	if settings.Enabled {
		if err := p.settleEnabled(ctx, rec, settings, asOf); err != nil {
			return nil, err
		}
	}

	if err := p.Settlements.SaveRecord(ctx, *rec); err != nil {
		return nil, fmt.Errorf("persist settlement record: %w", err)
	}
	return rec, nil
}

// settleEnabled fills in debt, interest, and the limit adjustment for a
// child with an active credit line, and applies the side effects.
func (p *Processor) settleEnabled(ctx context.Context, rec *SettlementRecord, settings *CreditSettings, asOf time.Time) error {
	debt, err := p.Ledger.GetOutstandingDebt(ctx, rec.ChildID)
	if err != nil {
		return fmt.Errorf("read outstanding debt: %w", err)
	}

	tiers, err := p.Tiers.GetTiers(ctx, rec.FamilyID)
	if err != nil {
		return fmt.Errorf("read tier table: %w", err)
	}

	total, breakdown, err := ComputeInterest(debt, tiers)
	if err != nil {
		return err
	}
	if uncovered := UncoveredDebt(debt, tiers); uncovered > 0 {
		// Debt above the highest finite bracket is charged nothing.
		// Surfaced here so the gap is an operator decision, not a secret.
		log.Printf("[Settle] family %s child %s: %d points of debt above tier table, no interest charged",
			rec.FamilyID, rec.ChildID, uncovered)
	}

	rec.DebtAmount = debt
	rec.InterestCalculated = total
	rec.Breakdown = breakdown

	newLimit := p.Policy.NextLimit(*settings, debt)
	rec.CreditLimitAfter = newLimit
	rec.CreditLimitAdjustment = newLimit - settings.CreditLimit

	if total > 0 {
		key := fmt.Sprintf("interest:%s:%s", rec.ChildID, asOf.Format("2006-01-02"))
		if err := p.Ledger.PostInterestDebit(ctx, rec.ChildID, total, asOf, key); err != nil {
			return fmt.Errorf("post interest debit: %w", err)
		}
	}

	if rec.CreditLimitAdjustment != 0 {
		if err := p.Credits.UpdateLimit(ctx, rec.FamilyID, rec.ChildID, newLimit); err != nil {
			return fmt.Errorf("update credit limit: %w", err)
		}
	}
	return nil
}

// loadSettings resolves the child's credit settings, defaulting a missing
// row to a disabled zero line. Only the not-found case defaults; any
// other read failure propagates.
func (p *Processor) loadSettings(ctx context.Context, familyID FamilyID, childID ChildID) (*CreditSettings, error) {
	settings, err := p.Credits.GetSettings(ctx, familyID, childID)
	if err == nil {
		return settings, nil
	}
	if IsNotFound(err) {
		return &CreditSettings{FamilyID: familyID, ChildID: childID, Enabled: false}, nil
	}
	return nil, fmt.Errorf("read credit settings: %w", err)
}
