/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is(); structured errors carry context and
  unwrap to their sentinel.

ERROR CATEGORIES:
  1. Configuration errors - malformed tier tables, bad settings
  2. Data-access errors   - store/ledger read and write failures
  3. Idempotency          - duplicate settlement for a period (a skip,
                            not a failure)

USAGE:
  if errors.Is(err, credit.ErrAlreadySettled) {
      // normal skip on retried batch
  }

SEE ALSO:
  - interest.go: returns TierConfigError
  - batch.go:    maps ErrAlreadySettled to a skip
*/
package credit

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAlreadySettled is returned when a settlement for the same
	// (family, period) already exists. Expected on retried batch runs.
	ErrAlreadySettled = errors.New("family already settled for period")

	// ErrInvalidTierTable is returned when a family's tier table violates
	// the bracket invariants. The family's settlement is skipped.
	ErrInvalidTierTable = errors.New("invalid interest tier table")

	// ErrNegativeDebt is returned when a caller passes a negative debt
	// amount to the calculator.
	ErrNegativeDebt = errors.New("debt must be non-negative")

	// ErrFamilyNotFound is returned when a referenced family doesn't exist.
	ErrFamilyNotFound = errors.New("family not found")

	// ErrChildNotFound is returned when a referenced child doesn't exist.
	ErrChildNotFound = errors.New("child not found")

	// ErrSettingsNotFound is returned when a child has no credit settings.
	ErrSettingsNotFound = errors.New("credit settings not found")

	// ErrInvalidSettlementDay is returned for a schedule outside {0, 1..28}.
	ErrInvalidSettlementDay = errors.New("settlement day must be 0 or 1..28")

	// ErrNoRecipient marks a notification skipped because the family has
	// no report recipient configured.
	ErrNoRecipient = errors.New("no report recipient configured")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TierConfigError describes exactly which bracket invariant a tier table
// violates. Unwraps to ErrInvalidTierTable.
type TierConfigError struct {
	Order  int    // offending tier (0 = table-level problem)
	Reason string // e.g. "gap before tier", "rate out of range"
}

func (e *TierConfigError) Error() string {
	if e.Order == 0 {
		return fmt.Sprintf("invalid tier table: %s", e.Reason)
	}
	return fmt.Sprintf("invalid tier table at order %d: %s", e.Order, e.Reason)
}

func (e *TierConfigError) Unwrap() error { return ErrInvalidTierTable }

// ChildSettlementError wraps a failure settling one child so the batch
// result can name the unit that failed without losing the cause.
type ChildSettlementError struct {
	FamilyID FamilyID
	ChildID  ChildID
	Err      error
}

func (e *ChildSettlementError) Error() string {
	return fmt.Sprintf("settle child %s (family %s): %v", e.ChildID, e.FamilyID, e.Err)
}

func (e *ChildSettlementError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsSkip reports whether the error is a normal "nothing to do" outcome
// rather than a failure.
func IsSkip(err error) bool {
	return errors.Is(err, ErrAlreadySettled) || errors.Is(err, ErrNoRecipient)
}

// IsConfigError reports whether the error is caused by bad administrator
// configuration, as opposed to a data-access failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidTierTable) || errors.Is(err, ErrInvalidSettlementDay)
}

// IsNotFound reports whether the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFamilyNotFound) ||
		errors.Is(err, ErrChildNotFound) ||
		errors.Is(err, ErrSettingsNotFound)
}
