/*
interest.go - Progressive bracket interest calculator

PURPOSE:
  Computes interest owed on a debt by walking a family's tier table in
  order and charging each bracket's rate only on the units of debt that
  fall inside it - the same shape as tax-bracket computation.

BRACKET MATH:
  A bracket [a, b] covers the whole-point debt units u with a <= u <= b
  and u >= 1. For debt d the chargeable units are:

      min(d, b) - min(d, max(a-1, 0))

  so [0,19] covers 19 units, [20,49] covers 30, and contiguous brackets
  always sum to d. An unlimited bracket clamps b at d.

ROUNDING:
  The total is rounded ONCE, half-up, to whole points. Breakdown entries
  are rounded half-up per tier, then the discrepancy is absorbed from the
  last contributing tier backward (never below zero per tier) so the
  visible breakdown sums exactly to the total.

EDGE CASES:
  - debt == 0:      (0, nil) - nothing to settle, no breakdown
  - no tiers:       (0, nil) - family has opted out of interest
  - debt above the highest finite bracket with no unlimited bracket:
    the excess is NOT charged. UncoveredDebt exposes the excess so the
    processor can flag it instead of silently reproducing it.

SEE ALSO:
  - settle.go: runs the calculator and snapshots the breakdown
  - errors.go: TierConfigError for table violations
*/
package credit

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TIER TABLE VALIDATION
// =============================================================================

var (
	decimalZero = decimal.Zero
	decimalOne  = decimal.NewFromInt(1)
)

// ValidateTiers checks the bracket invariants: strictly increasing order,
// contiguous bounds (min of tier n+1 == max of tier n + 1), rates in
// [0, 1], and at most one unlimited tier placed last. Returns a
// TierConfigError naming the first violation.
func ValidateTiers(tiers []InterestTier) error {
	if len(tiers) == 0 {
		return nil // no table = interest opt-out, not an error
	}

	sorted := sortedTiers(tiers)

	for i, t := range sorted {
		if t.MinDebt < 0 {
			return &TierConfigError{Order: t.Order, Reason: "negative lower bound"}
		}
		if t.Rate.LessThan(decimalZero) || t.Rate.GreaterThan(decimalOne) {
			return &TierConfigError{Order: t.Order, Reason: "rate out of range [0,1]"}
		}
		if t.MaxDebt != nil && *t.MaxDebt < t.MinDebt {
			return &TierConfigError{Order: t.Order, Reason: "upper bound below lower bound"}
		}
		if t.Unlimited() && i != len(sorted)-1 {
			return &TierConfigError{Order: t.Order, Reason: "unlimited tier must be last"}
		}
		if i > 0 {
			prev := sorted[i-1]
			if prev.Order == t.Order {
				return &TierConfigError{Order: t.Order, Reason: "duplicate order"}
			}
			if prev.Unlimited() {
				return &TierConfigError{Order: t.Order, Reason: "tier after unlimited tier"}
			}
			if t.MinDebt != *prev.MaxDebt+1 {
				return &TierConfigError{Order: t.Order, Reason: "bracket not contiguous with previous tier"}
			}
		}
	}
	return nil
}

func sortedTiers(tiers []InterestTier) []InterestTier {
	sorted := make([]InterestTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	return sorted
}

// =============================================================================
// PROGRESSIVE CALCULATOR
// =============================================================================

// ComputeInterest walks the tier table and returns the total interest on
// debt plus the per-tier breakdown. The breakdown sums exactly to the
// total. Pure function: same inputs, same outputs.
func ComputeInterest(debt int64, tiers []InterestTier) (int64, []TierInterest, error) {
	if debt < 0 {
		return 0, nil, ErrNegativeDebt
	}
	if debt == 0 || len(tiers) == 0 {
		return 0, nil, nil
	}
	if err := ValidateTiers(tiers); err != nil {
		return 0, nil, err
	}

	sorted := sortedTiers(tiers)
	raw := decimal.Zero
	var breakdown []TierInterest

	for _, t := range sorted {
		units := unitsInTier(debt, t)
		if units == 0 {
			continue
		}
		tierRaw := decimal.NewFromInt(units).Mul(t.Rate)
		raw = raw.Add(tierRaw)

		breakdown = append(breakdown, TierInterest{
			TierOrder:  t.Order,
			MinDebt:    t.MinDebt,
			MaxDebt:    t.MaxDebt,
			DebtInTier: units,
			Rate:       t.Rate,
			Interest:   roundHalfUp(tierRaw),
		})
	}

	total := roundHalfUp(raw)
	reconcileBreakdown(total, breakdown)
	return total, breakdown, nil
}

// unitsInTier counts the whole-point debt units of debt that fall inside
// the tier's bracket.
func unitsInTier(debt int64, t InterestTier) int64 {
	upper := debt
	if !t.Unlimited() && *t.MaxDebt < debt {
		upper = *t.MaxDebt
	}
	lower := t.MinDebt - 1
	if lower < 0 {
		lower = 0
	}
	if lower > debt {
		lower = debt
	}
	if upper <= lower {
		return 0
	}
	return upper - lower
}

// reconcileBreakdown shifts any rounding discrepancy onto the last
// contributing tiers so the breakdown sums exactly to the reported
// total. A deficit larger than the last tier's share spills backward
// rather than driving any tier negative, which can happen when several
// tiers each round a .5 up while the total rounds once.
func reconcileBreakdown(total int64, breakdown []TierInterest) {
	if len(breakdown) == 0 {
		return
	}
	var sum int64
	for _, b := range breakdown {
		sum += b.Interest
	}
	diff := total - sum
	for i := len(breakdown) - 1; i >= 0 && diff != 0; i-- {
		adjusted := breakdown[i].Interest + diff
		if adjusted < 0 {
			diff = adjusted
			breakdown[i].Interest = 0
			continue
		}
		breakdown[i].Interest = adjusted
		diff = 0
	}
}

// UncoveredDebt returns the portion of debt above the highest finite
// bracket when the table has no unlimited tier. That excess is charged no
// interest; callers log it so the gap is visible rather than silent.
func UncoveredDebt(debt int64, tiers []InterestTier) int64 {
	if debt <= 0 || len(tiers) == 0 {
		return 0
	}
	top := int64(0)
	for _, t := range tiers {
		if t.Unlimited() {
			return 0
		}
		if *t.MaxDebt > top {
			top = *t.MaxDebt
		}
	}
	if debt > top {
		return debt - top
	}
	return 0
}

// roundHalfUp rounds a non-negative decimal to the nearest whole point,
// ties away from zero.
func roundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
