/*
policy.go - Credit limit adjustment policy

PURPOSE:
  Decides how a child's credit limit moves after settlement. Good
  repayment (ending the period debt-free) is rewarded by restoring the
  limit toward its baseline; unpaid debt shrinks the limit in proportion
  to what is owed.

POLICY SHAPE:
  Debt-free period:
    limit += RecoveryRate x originalLimit   (minimum 1 point)
    clamped to the administrator ceiling (MaxCreditLimit, falling back
    to OriginalCreditLimit)

  Unpaid debt:
    limit -= PenaltyRate x debt             (minimum 1 point when debt > 0)
    floored at 0

  Disabled credit lines are never adjusted.

EXAMPLE:
  original=50, limit=40, debt=35, penalty 10%:
    reduction = round(3.5) = 4, new limit = 36

SEE ALSO:
  - settle.go: applies the policy and snapshots before/after
*/
package credit

import "github.com/shopspring/decimal"

// =============================================================================
// ADJUSTMENT POLICY
// =============================================================================

// AdjustmentPolicy holds the rates that drive limit movement. Zero value
// is not useful; use DefaultAdjustmentPolicy or configure explicitly.
type AdjustmentPolicy struct {
	// RecoveryRate is the fraction of the original limit restored per
	// debt-free period.
	RecoveryRate decimal.Decimal

	// PenaltyRate is the fraction of unpaid debt deducted from the limit.
	PenaltyRate decimal.Decimal
}

// DefaultAdjustmentPolicy restores 10% of baseline per clean period and
// deducts 10% of outstanding debt.
func DefaultAdjustmentPolicy() AdjustmentPolicy {
	return AdjustmentPolicy{
		RecoveryRate: decimal.NewFromFloat(0.10),
		PenaltyRate:  decimal.NewFromFloat(0.10),
	}
}

// NextLimit computes the post-settlement credit limit for the given
// settings and outstanding debt. The result is always in [0, ceiling].
func (p AdjustmentPolicy) NextLimit(settings CreditSettings, debt int64) int64 {
	if !settings.Enabled {
		return settings.CreditLimit
	}

	limit := settings.CreditLimit
	if debt == 0 {
		step := roundHalfUp(decimal.NewFromInt(settings.OriginalCreditLimit).Mul(p.RecoveryRate))
		if step < 1 {
			step = 1
		}
		limit += step
		if ceiling := settings.Ceiling(); limit > ceiling {
			limit = ceiling
		}
		// A limit already above the ceiling is left where it is rather
		// than pulled down: the ceiling caps growth, not existing grants.
		if limit < settings.CreditLimit {
			limit = settings.CreditLimit
		}
		return limit
	}

	cut := roundHalfUp(decimal.NewFromInt(debt).Mul(p.PenaltyRate))
	if cut < 1 {
		cut = 1
	}
	limit -= cut
	if limit < 0 {
		limit = 0
	}
	return limit
}
