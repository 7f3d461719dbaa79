/*
Package credit provides the core credit and settlement engine.

PURPOSE:
  This package contains the domain types and algorithms for charging
  interest on a child's outstanding debt and running the periodic
  per-family settlement: progressive bracket interest, credit-limit
  adjustment, immutable settlement records, and the idempotent batch
  orchestrator that drives it all.

KEY CONCEPTS IN THIS FILE (types.go):
  - InterestTier: One debt bracket with its rate
  - CreditSettings: Per-child credit line state (limit, baseline, ceiling)
  - SettlementRecord: Immutable before/after snapshot of one settlement
  - TierInterest: One bracket's contribution inside a record
  - Family: Settlement schedule + report recipient

DESIGN PRINCIPLES:
  1. Immutability: Settlement records are written once, never updated
  2. Precision: Rates use decimal.Decimal; stored amounts are whole points
  3. Snapshots: Records carry their own breakdown copy, so later tier
     edits never change history
  4. Explicit reads: An empty result and a failed read are different
     things; every store call returns an error

USAGE:
  total, breakdown, err := credit.ComputeInterest(35, tiers)
  rec, err := processor.SettleChild(ctx, familyID, childID, asOf)

SEE ALSO:
  - interest.go: Progressive bracket calculator
  - settle.go:   Per-child settlement processor
  - batch.go:    Due-family batch orchestrator
*/
package credit

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type FamilyID string
type ChildID string
type RecordID string

// =============================================================================
// INTEREST TIER - One debt bracket with its rate
// =============================================================================

// InterestTier is one bracket of a family's progressive interest table.
// Brackets are walked in ascending Order; only the units of debt inside
// [MinDebt, MaxDebt] are charged at Rate. MaxDebt == nil means the bracket
// is unlimited and must be the last one.
type InterestTier struct {
	Order   int
	MinDebt int64
	MaxDebt *int64 // nil = unlimited
	Rate    decimal.Decimal
}

// Unlimited reports whether the tier has no upper bound.
func (t InterestTier) Unlimited() bool { return t.MaxDebt == nil }

// =============================================================================
// CREDIT SETTINGS - Per-child credit line state
// =============================================================================

// CreditSettings is the mutable credit line for one (family, child).
//
// CreditLimit moves with every settlement; OriginalCreditLimit is the
// administrator's baseline and anchors the recovery policy. MaxCreditLimit
// is the administrator ceiling the limit may grow to; zero means "use the
// baseline as ceiling".
type CreditSettings struct {
	FamilyID            FamilyID
	ChildID             ChildID
	Enabled             bool
	CreditLimit         int64
	OriginalCreditLimit int64
	MaxCreditLimit      int64
}

// Ceiling resolves the effective upper bound for limit adjustments.
func (cs CreditSettings) Ceiling() int64 {
	if cs.MaxCreditLimit > 0 {
		return cs.MaxCreditLimit
	}
	return cs.OriginalCreditLimit
}

// =============================================================================
// SETTLEMENT RECORD - Immutable snapshot of one settlement
// =============================================================================

// TierInterest is one bracket's contribution inside a settlement record.
// Interest amounts are whole points; the breakdown always sums exactly to
// the record's InterestCalculated.
type TierInterest struct {
	TierOrder  int
	MinDebt    int64
	MaxDebt    *int64 // nil = unlimited
	DebtInTier int64
	Rate       decimal.Decimal
	Interest   int64
}

// SettlementRecord is the immutable outcome of settling one child for one
// period. Written exactly once; corrections happen in a later period,
// never by editing history.
type SettlementRecord struct {
	ID             RecordID
	FamilyID       FamilyID
	ChildID        ChildID
	SettlementDate time.Time // the period's settlement day (date only)

	DebtAmount         int64 // magnitude of the negative balance, >= 0
	InterestCalculated int64
	BalanceBefore      int64 // signed running balance prior to settlement

	CreditLimitBefore     int64
	CreditLimitAfter      int64
	CreditLimitAdjustment int64 // signed delta, After - Before

	Breakdown []TierInterest
	SettledAt time.Time
}

// IsNoOp reports whether the record changed nothing visible: no interest
// charged and no limit movement. No-op records are still persisted for
// audit completeness but report rendering may omit them.
func (r *SettlementRecord) IsNoOp() bool {
	return r.InterestCalculated == 0 && r.CreditLimitAdjustment == 0
}

// =============================================================================
// FAMILY - Settlement schedule and report recipient
// =============================================================================

// LastDayOfMonth is the settlement-day wildcard: run on the last calendar
// day of every month, whatever its length.
const LastDayOfMonth = 0

// Family carries the per-family settlement configuration the orchestrator
// needs. SettlementDay is 1..28 for a fixed day-of-month, or
// LastDayOfMonth (0) for the end-of-month wildcard.
type Family struct {
	ID            FamilyID
	Name          string
	SettlementDay int
	Recipient     string // report destination; empty = notifications skipped
}

// =============================================================================
// AUDIT TRAIL - Report log doubling as the idempotency guard
// =============================================================================

type ReportType string

const (
	ReportSettlement ReportType = "settlement"
	ReportWeekly     ReportType = "weekly"
	ReportMonthly    ReportType = "monthly"
)

type ReportStatus string

const (
	StatusPending ReportStatus = "pending"
	StatusSent    ReportStatus = "sent"
	StatusFailed  ReportStatus = "failed"
	StatusSkipped ReportStatus = "skipped" // no recipient / notifications disabled
)

// ReportEntry is one row of the audit trail: one per
// (family, report type, period). Its existence is the idempotency guard
// against re-settling the same period; its status tracks notification
// delivery.
type ReportEntry struct {
	ID           string
	FamilyID     FamilyID
	Type         ReportType
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Status       ReportStatus
	Recipient    string
	SentAt       *time.Time
	ErrorMessage string
	CreatedAt    time.Time
}
