/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the boundary between the settlement engine and everything it
  reads or writes: the points ledger, the tier/credit/settlement/audit
  stores, and the outbound notification dispatcher. The orchestrator and
  processor receive these as injected dependencies, so tests substitute
  in-memory fakes and never touch HTTP or SQL.

CONTRACTS:
  - SettlementStore is append-only for records: no update, no delete.
  - AuditStore.Create must reject a duplicate (family, type, periodStart)
    with ErrAlreadySettled; that unique constraint is what makes the
    batch idempotent under racing invocations.
  - Every read returns an explicit error. An empty result and a failed
    read are never conflated: a failed "which families are due" read
    must not look like "zero due families".

IMPLEMENTATIONS:
  - store/sqlite: production persistence, single database
  - credit/store: in-memory fakes for tests

SEE ALSO:
  - batch.go:   consumes all of these
  - store/sqlite/sqlite.go: concrete implementation
*/
package credit

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER - The day-to-day points ledger (external collaborator)
// =============================================================================

// Ledger is the narrow view of the household points ledger the engine
// needs. The engine never touches transaction history directly except
// through PostInterestDebit.
type Ledger interface {
	// GetOutstandingDebt returns the magnitude of the child's negative
	// balance, >= 0. A child in the black has zero debt.
	GetOutstandingDebt(ctx context.Context, childID ChildID) (int64, error)

	// GetBalance returns the child's signed running balance.
	GetBalance(ctx context.Context, childID ChildID) (int64, error)

	// PostInterestDebit appends an interest charge against the child's
	// balance. Must be idempotent per (child, key). Only called inside a
	// WithChildLock section, so it must not acquire the child lock itself.
	PostInterestDebit(ctx context.Context, childID ChildID, amount int64, at time.Time, key string) error

	// GetChildrenOf lists the children belonging to a family.
	GetChildrenOf(ctx context.Context, familyID FamilyID) ([]ChildID, error)

	// WithChildLock runs fn while holding an exclusive lock scoped to the
	// child. Every other ledger write for that child blocks until fn
	// returns; the processor runs the whole balance-read to interest-debit
	// sequence inside one section so no points write can land in between.
	WithChildLock(ctx context.Context, childID ChildID, fn func(ctx context.Context) error) error
}

// =============================================================================
// CONFIGURATION STORES
// =============================================================================

// FamilyStore provides the settlement schedule and recipient per family.
type FamilyStore interface {
	GetFamily(ctx context.Context, id FamilyID) (*Family, error)
	ListFamilies(ctx context.Context) ([]Family, error)
	SaveFamily(ctx context.Context, f Family) error
}

// TierStore persists each family's interest tier table.
type TierStore interface {
	GetTiers(ctx context.Context, familyID FamilyID) ([]InterestTier, error)

	// ReplaceTiers swaps a family's whole table atomically after
	// validation. Tier edits never touch existing settlement records.
	ReplaceTiers(ctx context.Context, familyID FamilyID, tiers []InterestTier) error
}

// CreditStore persists per-child credit settings.
type CreditStore interface {
	GetSettings(ctx context.Context, familyID FamilyID, childID ChildID) (*CreditSettings, error)
	SaveSettings(ctx context.Context, s CreditSettings) error

	// UpdateLimit moves only the current limit; baseline and ceiling stay
	// administrator-owned.
	UpdateLimit(ctx context.Context, familyID FamilyID, childID ChildID, newLimit int64) error
}

// =============================================================================
// SETTLEMENT STORE - Append-only record history
// =============================================================================

// SettlementStore persists settlement records. APPEND-ONLY: records are
// immutable snapshots, never updated or deleted.
type SettlementStore interface {
	// SaveRecord persists one settlement record.
	SaveRecord(ctx context.Context, rec SettlementRecord) error

	// ListRecords returns a family's records, newest first.
	ListRecords(ctx context.Context, familyID FamilyID, limit int) ([]SettlementRecord, error)

	// ListRecordsForChild returns one child's records, newest first.
	ListRecordsForChild(ctx context.Context, childID ChildID, limit int) ([]SettlementRecord, error)
}

// =============================================================================
// AUDIT STORE - Report log + idempotency guard
// =============================================================================

// AuditStore persists report entries. Create enforces uniqueness on
// (family, type, period start); a duplicate returns ErrAlreadySettled,
// which the orchestrator treats as a normal skip, not a failure.
type AuditStore interface {
	// Create inserts a pending entry, assigning entry.ID if empty, or
	// fails with ErrAlreadySettled if the (family, type, periodStart)
	// slot is taken.
	Create(ctx context.Context, entry *ReportEntry) error

	// Exists checks the idempotency slot without writing.
	Exists(ctx context.Context, familyID FamilyID, typ ReportType, periodStart time.Time) (bool, error)

	// UpdateStatus records the notification outcome for an entry.
	UpdateStatus(ctx context.Context, id string, status ReportStatus, sentAt *time.Time, errMsg string) error

	// ListEntries returns a family's entries, newest first.
	ListEntries(ctx context.Context, familyID FamilyID, limit int) ([]ReportEntry, error)
}

// =============================================================================
// DISPATCHER - Outbound notification (external collaborator)
// =============================================================================

// Dispatcher delivers a rendered report. The engine calls it once per due
// family after settlement commits; delivery failure never unwinds the
// settlement.
type Dispatcher interface {
	Send(ctx context.Context, recipient, subject, body string) error
}
