/*
dto.go - Request/response data structures

PURPOSE:
  JSON shapes for the HTTP surface. Typed at this boundary once; the
  engine never sees loosely-typed maps. Decimal rates cross the wire as
  strings so precision survives the round trip.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hearth/credit-engine/credit"
)

// =============================================================================
// CRON TRIGGER
// =============================================================================

// TriggerResponse is the cron endpoint's 200 body. success is true even
// when individual families errored; partial failure is not a transport
// failure.
type TriggerResponse struct {
	Success   bool           `json:"success"`
	Timestamp time.Time      `json:"timestamp"`
	Results   TriggerResults `json:"results"`
}

type TriggerResults struct {
	Settlement *credit.BatchResult `json:"settlement"`
}

// =============================================================================
// FAMILIES & TIERS
// =============================================================================

type FamilyDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SettlementDay int    `json:"settlementDay"`
	Recipient     string `json:"recipient"`
}

func toFamilyDTO(f credit.Family) FamilyDTO {
	return FamilyDTO{ID: string(f.ID), Name: f.Name, SettlementDay: f.SettlementDay, Recipient: f.Recipient}
}

type TierDTO struct {
	Order   int    `json:"order"`
	MinDebt int64  `json:"minDebt"`
	MaxDebt *int64 `json:"maxDebt"` // null = unlimited
	Rate    string `json:"rate"`
}

func toTierDTO(t credit.InterestTier) TierDTO {
	return TierDTO{Order: t.Order, MinDebt: t.MinDebt, MaxDebt: t.MaxDebt, Rate: t.Rate.String()}
}

func (d TierDTO) toTier() (credit.InterestTier, error) {
	rate, err := decimal.NewFromString(d.Rate)
	if err != nil {
		return credit.InterestTier{}, err
	}
	return credit.InterestTier{Order: d.Order, MinDebt: d.MinDebt, MaxDebt: d.MaxDebt, Rate: rate}, nil
}

// =============================================================================
// CREDIT SETTINGS
// =============================================================================

type CreditSettingsDTO struct {
	FamilyID            string `json:"familyId"`
	ChildID             string `json:"childId"`
	Enabled             bool   `json:"enabled"`
	CreditLimit         int64  `json:"creditLimit"`
	OriginalCreditLimit int64  `json:"originalCreditLimit"`
	MaxCreditLimit      int64  `json:"maxCreditLimit"`
}

func toSettingsDTO(s credit.CreditSettings) CreditSettingsDTO {
	return CreditSettingsDTO{
		FamilyID: string(s.FamilyID), ChildID: string(s.ChildID), Enabled: s.Enabled,
		CreditLimit: s.CreditLimit, OriginalCreditLimit: s.OriginalCreditLimit,
		MaxCreditLimit: s.MaxCreditLimit,
	}
}

// =============================================================================
// SETTLEMENT HISTORY
// =============================================================================

type BreakdownDTO struct {
	TierOrder  int    `json:"tierOrder"`
	MinDebt    int64  `json:"minDebt"`
	MaxDebt    *int64 `json:"maxDebt"`
	DebtInTier int64  `json:"debtInTier"`
	Rate       string `json:"rate"`
	Interest   int64  `json:"interestAmount"`
}

type SettlementRecordDTO struct {
	ID                    string         `json:"id"`
	FamilyID              string         `json:"familyId"`
	ChildID               string         `json:"childId"`
	SettlementDate        string         `json:"settlementDate"`
	DebtAmount            int64          `json:"debtAmount"`
	InterestCalculated    int64          `json:"interestCalculated"`
	BalanceBefore         int64          `json:"balanceBefore"`
	CreditLimitBefore     int64          `json:"creditLimitBefore"`
	CreditLimitAfter      int64          `json:"creditLimitAfter"`
	CreditLimitAdjustment int64          `json:"creditLimitAdjustment"`
	Breakdown             []BreakdownDTO `json:"interestBreakdown"`
	SettledAt             time.Time      `json:"settledAt"`
}

func toRecordDTO(r credit.SettlementRecord) SettlementRecordDTO {
	dto := SettlementRecordDTO{
		ID: string(r.ID), FamilyID: string(r.FamilyID), ChildID: string(r.ChildID),
		SettlementDate: r.SettlementDate.Format("2006-01-02"),
		DebtAmount:     r.DebtAmount, InterestCalculated: r.InterestCalculated,
		BalanceBefore:     r.BalanceBefore,
		CreditLimitBefore: r.CreditLimitBefore, CreditLimitAfter: r.CreditLimitAfter,
		CreditLimitAdjustment: r.CreditLimitAdjustment,
		SettledAt:             r.SettledAt,
		Breakdown:             []BreakdownDTO{},
	}
	for _, b := range r.Breakdown {
		dto.Breakdown = append(dto.Breakdown, BreakdownDTO{
			TierOrder: b.TierOrder, MinDebt: b.MinDebt, MaxDebt: b.MaxDebt,
			DebtInTier: b.DebtInTier, Rate: b.Rate.String(), Interest: b.Interest,
		})
	}
	return dto
}

// =============================================================================
// REPORT LOG
// =============================================================================

type ReportEntryDTO struct {
	ID           string     `json:"id"`
	FamilyID     string     `json:"familyId"`
	Type         string     `json:"reportType"`
	PeriodStart  string     `json:"periodStart"`
	PeriodEnd    string     `json:"periodEnd"`
	Status       string     `json:"status"`
	Recipient    string     `json:"recipient"`
	SentAt       *time.Time `json:"sentAt"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

func toEntryDTO(e credit.ReportEntry) ReportEntryDTO {
	return ReportEntryDTO{
		ID: e.ID, FamilyID: string(e.FamilyID), Type: string(e.Type),
		PeriodStart: e.PeriodStart.Format("2006-01-02"),
		PeriodEnd:   e.PeriodEnd.Format("2006-01-02"),
		Status:      string(e.Status), Recipient: e.Recipient,
		SentAt: e.SentAt, ErrorMessage: e.ErrorMessage,
	}
}
