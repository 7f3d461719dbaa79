/*
Package notify renders settlement reports and delivers them.

PURPOSE:
  Turns a family's settlement batch into a human-readable summary and
  hands it to a credit.Dispatcher. Rendering and transport both live
  outside the engine: the orchestrator only sees the two small
  interfaces.

RENDERING RULES:
  - One report per family per period, covering all children settled.
  - No-op entries (zero interest AND zero limit movement) are omitted
    from the body; the underlying records are still persisted.
  - A period in which every child was a no-op still produces a short
    "nothing changed" report, so recipients can trust the cadence.

SEE ALSO:
  - dispatcher.go: delivery implementations
  - credit/batch.go: the caller
*/
package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hearth/credit-engine/credit"
)

var percent = decimal.NewFromInt(100)

// =============================================================================
// REPORT BUILDER
// =============================================================================

// Builder renders plain-text settlement reports. Implements
// credit.ReportBuilder.
type Builder struct{}

var _ credit.ReportBuilder = Builder{}

// Build renders the subject and body for one family's settlement.
func (Builder) Build(family credit.Family, period credit.Period, records []credit.SettlementRecord) (string, string) {
	subject := fmt.Sprintf("Settlement report for %s - %s", family.Name, period.Start.Format("January 2006"))

	var b strings.Builder
	fmt.Fprintf(&b, "Settlement for %s, period %s to %s\n\n",
		family.Name, period.Start.Format("2006-01-02"), period.End.Format("2006-01-02"))

	shown := 0
	for _, rec := range records {
		if rec.IsNoOp() {
			continue
		}
		shown++
		writeRecord(&b, rec)
	}

	if shown == 0 {
		b.WriteString("No interest was charged and no credit limits changed this period.\n")
	}
	fmt.Fprintf(&b, "\n%d of %d children had activity this period.\n", shown, len(records))

	return subject, b.String()
}

func writeRecord(b *strings.Builder, rec credit.SettlementRecord) {
	fmt.Fprintf(b, "Child %s\n", rec.ChildID)
	fmt.Fprintf(b, "  Balance before settlement: %d points\n", rec.BalanceBefore)
	if rec.DebtAmount > 0 {
		fmt.Fprintf(b, "  Outstanding debt: %d points\n", rec.DebtAmount)
	}
	if rec.InterestCalculated > 0 {
		fmt.Fprintf(b, "  Interest charged: %d points\n", rec.InterestCalculated)
		for _, tier := range rec.Breakdown {
			fmt.Fprintf(b, "    tier %d %s: %d points at %s%% = %d\n",
				tier.TierOrder, bracketLabel(tier), tier.DebtInTier,
				tier.Rate.Mul(percent).String(), tier.Interest)
		}
	}
	if rec.CreditLimitAdjustment != 0 {
		fmt.Fprintf(b, "  Credit limit: %d -> %d (%+d)\n",
			rec.CreditLimitBefore, rec.CreditLimitAfter, rec.CreditLimitAdjustment)
	}
	b.WriteString("\n")
}

func bracketLabel(t credit.TierInterest) string {
	if t.MaxDebt == nil {
		return fmt.Sprintf("[%d+]", t.MinDebt)
	}
	return fmt.Sprintf("[%d-%d]", t.MinDebt, *t.MaxDebt)
}
